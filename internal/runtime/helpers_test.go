package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/internal/runtime/connection"
	configpkg "github.com/drblury/evalflow/internal/runtime/config"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		ServiceName:    "test",
		PubSubSystem:   "channel",
		RESTEnabled:    true,
		RESTPort:       18080,
		MessageEnabled: true,
	}
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	deps.DisableDefaultMiddlewares = true
	svc := NewService(conf, newTestLogger(), context.Background(), deps)
	t.Cleanup(func() { _ = svc.transport.Close() })
	return svc
}

func greetDefinition() delegate.Definition[string] {
	return delegate.Definition[string]{
		Name: "greet",
		Build: func(b *delegate.Builder) delegate.Handler[string] {
			name := delegate.Parameter[string](b, "name")
			return delegate.HandlerFunc[string](func(_ context.Context, in delegate.Input) (response.Action[string], error) {
				if name.Value(in) == "nobody" {
					return response.Action[string]{}, errspkg.New(errspkg.KindNotFound, "Unknown person.")
				}
				return response.Automatic("hi " + name.Value(in)), nil
			})
		},
	}
}

func countdownDefinition() delegate.Definition[int] {
	return delegate.Definition[int]{
		Name: "countdown",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			return delegate.HandlerFunc[int](func(_ context.Context, _ delegate.Input) (response.Action[int], error) {
				return response.Final(0), nil
			})
		},
	}
}

// stubEvaluator answers every evaluation with resp and err.
type stubEvaluator struct {
	resp  response.Response[response.Erased]
	err   error
	calls int
}

func (s *stubEvaluator) Name() string                       { return "stub" }
func (s *stubEvaluator) Descriptors() []*request.Descriptor { return nil }

func (s *stubEvaluator) Evaluate(context.Context, request.Request, connection.State) (response.Response[response.Erased], error) {
	s.calls++
	return s.resp, s.err
}

func (s *stubEvaluator) EvaluateTrigger(context.Context, delegate.TriggerEvent, request.Request, connection.State) (response.Response[response.Erased], error) {
	s.calls++
	return s.resp, s.err
}

func (s *stubEvaluator) Register(func(delegate.TriggerEvent)) *delegate.Observation { return nil }

func requireRegistered(t *testing.T, svc *Service, name string) *EndpointInfo {
	t.Helper()
	info, ok := svc.Endpoint(name)
	require.True(t, ok, "endpoint %s not registered", name)
	return info
}
