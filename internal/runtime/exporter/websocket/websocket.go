// Package websocket exports endpoints over WebSocket connections. Every
// connection owns one delegate instance for its whole lifetime.
//
// Clients send {"type":"message","parameters":{...}} for every request and
// {"type":"close"} once they are done. The server answers with message,
// error and close frames.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/event"
	"github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

const Type = "websocket"

const (
	FrameMessage = "message"
	FrameError   = "error"
	FrameClose   = "close"
)

// Frame is the JSON envelope exchanged in both directions.
type Frame struct {
	Type       string                     `json:"type"`
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
	Content    any                        `json:"content,omitempty"`
	Error      *ErrorDetail               `json:"error,omitempty"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorFrame(err error) Frame {
	typed := errspkg.As(err)
	return Frame{Type: FrameError, Error: &ErrorDetail{Kind: typed.Kind.String(), Message: typed.StandardMessage()}}
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithErrorForwarder(f evaluation.ErrorForwarder) Option {
	return func(e *Exporter) { e.forwarder = f }
}

func WithBufferSize(n int) Option {
	return func(e *Exporter) { e.bufferSize = n }
}

// WithDropReporter is told how many responses were evicted from a full
// buffer once a session ends.
func WithDropReporter(r exporter.DropReporter) Option {
	return func(e *Exporter) { e.dropped = r }
}

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(e *Exporter) { e.upgrader.CheckOrigin = check }
}

// Exporter upgrades HTTP requests and runs one evaluation per connection.
type Exporter struct {
	router     chi.Router
	upgrader   websocket.Upgrader
	logger     logging.ServiceLogger
	forwarder  evaluation.ErrorForwarder
	bufferSize int
	dropped    exporter.DropReporter
}

func New(logger logging.ServiceLogger, opts ...Option) *Exporter {
	if logger == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	e := &Exporter{
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With(logging.LogFields{logging.FieldExporter: Type}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) Type() string { return Type }

func (e *Exporter) Handler() http.Handler { return e.router }

func (e *Exporter) metadata() delegate.ExporterMetadata {
	return delegate.ExporterMetadata{Type: Type, ParameterNamespace: "parameters"}
}

func (e *Exporter) Export(ep exporter.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	path := ep.RoutePath()
	e.router.Get(path, e.serve(ep))
	e.logger.Info("Endpoint exported", logging.LogFields{
		"endpoint": ep.Name,
		"path":     path,
		"pattern":  ep.Pattern.String(),
	})
	return nil
}

func (e *Exporter) serve(ep exporter.Endpoint) http.HandlerFunc {
	forwarder := ep.ForwarderOr(e.forwarder)
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := ep.Instance(e.metadata())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		conn, err := e.upgrader.Upgrade(w, r, nil)
		if err != nil {
			e.logger.Debug("Upgrade failed", logging.EndpointFields(ep.Name, "").Merge(logging.LogFields{"error": err.Error()}))
			return
		}
		s := &session{
			conn:   conn,
			logger: logging.ForEndpoint(e.logger, ep.Name, "").With(logging.LogFields{"remote": r.RemoteAddr}),
			query:  r.URL.Query(),
			header: headers(r.Header),
			remote: r.RemoteAddr,
		}
		driver := evaluation.NewDriver[Frame](ev, transformer{},
			evaluation.WithErrorForwarder(forwarder),
			evaluation.WithBufferSize(e.bufferSize),
		)
		dropped := s.run(r.Context(), ep.Pattern, ev, driver)
		e.dropped.Report(ep.Name, Type, dropped)
	}
}

// transformer reports bad input back to the client and keeps the
// connection alive. Every other failure ends it.
type transformer struct{}

func (transformer) Transform(_ context.Context, r response.Response[response.Erased]) (Frame, error) {
	content, ok := r.Content()
	if !ok {
		return Frame{Type: FrameMessage}, nil
	}
	return Frame{Type: FrameMessage, Content: content}, nil
}

func (transformer) Handle(err error) evaluation.ErrorStrategy[Frame] {
	if errspkg.KindOf(err) == errspkg.KindBadInput {
		return evaluation.Graceful(errorFrame(err))
	}
	return evaluation.Abort[Frame](err)
}

type session struct {
	conn   *websocket.Conn
	logger logging.ServiceLogger
	query  map[string][]string
	header metadata.Metadata
	remote string

	writeMu sync.Mutex
}

// run serves the session until either side ends it and returns the number
// of responses evicted from the output buffer.
func (s *session) run(parent context.Context, pattern evaluation.Pattern, ev delegate.Evaluator, driver *evaluation.Driver[Frame]) (dropped uint64) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close()

	requests := make(chan request.Request)
	go s.read(ctx, cancel, requests)

	out := driver.Run(ctx, pattern, event.Subscribe(ctx, requests, ev))
	defer func() {
		out.Cancel()
		dropped = out.Dropped()
	}()

	for {
		frame, err := out.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.close()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if werr := s.write(errorFrame(err)); werr == nil {
				s.close()
			}
			return
		}
		if frame.Type == FrameMessage && frame.Content == nil {
			continue
		}
		if err := s.write(frame); err != nil {
			s.logger.Debug("Write failed", logging.LogFields{"error": err.Error()})
			return
		}
	}
}

// read feeds client messages into requests until the client sends a close
// frame. A broken connection cancels the whole session.
func (s *session) read(ctx context.Context, cancel context.CancelFunc, requests chan<- request.Request) {
	closed := false
	closeRequests := func() {
		if !closed {
			closed = true
			close(requests)
		}
	}
	defer closeRequests()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			cancel()
			return
		}
		if closed {
			continue
		}

		var frame Frame
		if err := jsoncodec.Unmarshal(data, &frame); err != nil {
			_ = s.write(errorFrame(errspkg.BadInput("Frames must be JSON objects.", err)))
			continue
		}
		switch frame.Type {
		case FrameMessage:
			payload := &request.Payload{Query: s.query, Headers: s.header, Fields: frame.Parameters}
			if payload.Fields == nil {
				payload.Fields = map[string]json.RawMessage{}
			}
			select {
			case requests <- request.NewDecoded(ctx, request.JSONStrategy{}, payload, s.remote):
			case <-ctx.Done():
				return
			}
		case FrameClose:
			closeRequests()
		default:
			_ = s.write(errorFrame(errspkg.Newf(errspkg.KindBadInput, "Unknown frame type '%s'.", frame.Type)))
		}
	}
}

func (s *session) write(frame Frame) error {
	payload, err := jsoncodec.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *session) close() {
	if err := s.write(Frame{Type: FrameClose}); err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func headers(h http.Header) metadata.Metadata {
	md := make(metadata.Metadata, len(h))
	for name, values := range h {
		if len(values) > 0 {
			md[name] = values[0]
		}
	}
	return md
}
