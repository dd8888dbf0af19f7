package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/response"
)

const tracerName = "github.com/drblury/evalflow"

// TracingMiddleware records one span per evaluation.
func TracingMiddleware(exporter string) evaluation.Middleware {
	return evaluation.Intercept(func(ctx context.Context, call evaluation.Call, next evaluation.Next) (response.Response[response.Erased], error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "evalflow.evaluate",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("evalflow.endpoint", call.Endpoint),
				attribute.String("evalflow.exporter", exporter),
				attribute.Bool("evalflow.trigger", call.Trigger),
				attribute.String("evalflow.connection_state", call.State.String()),
			),
		)
		defer span.End()

		resp, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("evalflow.error_kind", errspkg.KindOf(err).String()))
			span.SetStatus(codes.Error, errspkg.As(err).StandardMessage())
			return resp, err
		}
		span.SetAttributes(
			attribute.Bool("evalflow.has_content", resp.HasContent()),
			attribute.String("evalflow.connection_effect", resp.ConnectionEffect.String()),
		)
		return resp, nil
	})
}

func statsMiddleware(stats *EndpointStats, exporter string) evaluation.Middleware {
	return evaluation.Intercept(func(ctx context.Context, call evaluation.Call, next evaluation.Next) (response.Response[response.Erased], error) {
		stats.onEvaluationStart()
		start := time.Now()
		resp, err := next(ctx)
		stats.onEvaluationFinish(call, exporter, time.Since(start), err)
		return resp, err
	})
}

func metricsMiddleware(m *EvaluationMetrics, exporter string) evaluation.Middleware {
	return evaluation.Intercept(func(ctx context.Context, call evaluation.Call, next evaluation.Next) (response.Response[response.Erased], error) {
		m.evaluationStarted(call.Endpoint)
		start := time.Now()
		resp, err := next(ctx)
		m.evaluationFinished(call.Endpoint, exporter, time.Since(start), err)
		return resp, err
	})
}

// instrument returns the evaluation middlewares the service wraps around
// every endpoint served by exporter.
func (s *Service) instrument(info *EndpointInfo, exporter string) []evaluation.Middleware {
	middlewares := []evaluation.Middleware{TracingMiddleware(exporter)}
	if !s.hooks.empty() {
		middlewares = append(middlewares, HooksMiddleware(s.hooks, exporter))
	}
	middlewares = append(middlewares, statsMiddleware(info.Stats, exporter))
	if s.metrics != nil {
		middlewares = append(middlewares, metricsMiddleware(s.metrics, exporter))
	}
	return middlewares
}
