package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/response"
)

func sumDefinition() delegate.Definition[int] {
	return delegate.Definition[int]{
		Name: "sum",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			n := delegate.Parameter[int](b, "n")
			sum := 0
			return delegate.HandlerFunc[int](func(_ context.Context, in delegate.Input) (response.Action[int], error) {
				if in.State() == connection.End {
					return response.Final(sum), nil
				}
				sum += n.Value(in)
				return response.Send(sum), nil
			})
		},
	}
}

func greetDefinition() delegate.Definition[string] {
	return delegate.Definition[string]{
		Name: "greet",
		Build: func(b *delegate.Builder) delegate.Handler[string] {
			name := delegate.Parameter[string](b, "name")
			return delegate.HandlerFunc[string](func(_ context.Context, in delegate.Input) (response.Action[string], error) {
				return response.Automatic("hi " + name.Value(in)), nil
			})
		},
	}
}

func dial(t *testing.T, ep exporter.Endpoint) *websocket.Conn {
	t.Helper()
	exp := New(logging.NewWatermillServiceLogger(watermill.NopLogger{}))
	require.NoError(t, exp.Export(ep))
	srv := httptest.NewServer(exp.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ep.RoutePath()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

type received struct {
	Type    string       `json:"type"`
	Content any          `json:"content"`
	Error   *ErrorDetail `json:"error"`
}

func receive(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame received
	require.NoError(t, jsoncodec.Unmarshal(data, &frame))
	return frame
}

func TestBidirectionalSession(t *testing.T) {
	conn := dial(t, exporter.Define(sumDefinition(), evaluation.Bidirectional, metadata.Information{}))

	send(t, conn, `{"type":"message","parameters":{"n":1}}`)
	assert.Equal(t, received{Type: FrameMessage, Content: float64(1)}, receive(t, conn))

	send(t, conn, `{"type":"message","parameters":{}}`)
	frame := receive(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "bad_input", frame.Error.Kind)

	send(t, conn, `{"type":"message","parameters":{"n":2}}`)
	assert.Equal(t, received{Type: FrameMessage, Content: float64(3)}, receive(t, conn))

	send(t, conn, `{"type":"close"}`)
	assert.Equal(t, received{Type: FrameMessage, Content: float64(3)}, receive(t, conn))
	assert.Equal(t, FrameClose, receive(t, conn).Type)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestUnarySession(t *testing.T) {
	conn := dial(t, exporter.Define(greetDefinition(), evaluation.Unary, metadata.Information{}))

	send(t, conn, `{"type":"message","parameters":{"name":"ada"}}`)
	assert.Equal(t, received{Type: FrameMessage, Content: "hi ada"}, receive(t, conn))
	assert.Equal(t, FrameClose, receive(t, conn).Type)
}

func TestUnknownFrameType(t *testing.T) {
	conn := dial(t, exporter.Define(sumDefinition(), evaluation.Bidirectional, metadata.Information{}))

	send(t, conn, `{"type":"shout"}`)
	frame := receive(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Contains(t, frame.Error.Message, "Unknown frame type 'shout'.")

	send(t, conn, `not json`)
	assert.Equal(t, FrameError, receive(t, conn).Type)
}
