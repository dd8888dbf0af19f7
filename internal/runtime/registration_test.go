package runtime

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	exporterpkg "github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/exporter/rest"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// recordingExporter keeps the endpoints handed to it.
type recordingExporter struct {
	exported []exporterpkg.Endpoint
}

func (r *recordingExporter) Type() string { return "recording" }

func (r *recordingExporter) Export(ep exporterpkg.Endpoint) error {
	r.exported = append(r.exported, ep)
	return nil
}

func TestRegisterEndpointRequiresService(t *testing.T) {
	assert.ErrorIs(t, RegisterEndpoint(nil, greetDefinition(), evaluation.Unary), errspkg.ErrServiceRequired)
}

func TestRegisterEndpointAppliesOptions(t *testing.T) {
	recorder := &recordingExporter{}
	svc := newTestService(t, newTestConfig(), ServiceDependencies{Exporters: []exporterpkg.Exporter{recorder}})

	forwarder := evaluation.ErrorForwarderFunc(func(error) {})
	noop := evaluation.Intercept(func(ctx context.Context, _ evaluation.Call, next evaluation.Next) (response.Response[response.Erased], error) {
		return next(ctx)
	})
	require.NoError(t, RegisterEndpoint(svc, greetDefinition(), evaluation.Unary,
		WithPath("/hello"),
		WithMethod(http.MethodPost),
		WithTopic("people.greet"),
		WithMiddlewares(noop),
		WithErrorForwarder(forwarder),
		nil,
	))

	require.Len(t, recorder.exported, 1)
	ep := recorder.exported[0]
	assert.Equal(t, "/hello", ep.Path)
	assert.Equal(t, http.MethodPost, ep.Method)
	assert.Equal(t, "people.greet", ep.Topic)
	assert.NotNil(t, ep.Forwarder)
	assert.Len(t, ep.Middlewares, len(svc.instrument(&EndpointInfo{Stats: newEndpointStats(nil)}, "recording"))+1)

	info := requireRegistered(t, svc, "greet")
	assert.Equal(t, []string{rest.Type, "message", "recording"}, info.Exporters)
	assert.Equal(t, "/hello", info.Path)
	assert.Equal(t, http.MethodPost, info.Method)
	assert.Equal(t, "people.greet", info.Topic)
}
