package evaluation

import (
	"context"
	"time"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// Middleware decorates an evaluator.
type Middleware func(next delegate.Evaluator) delegate.Evaluator

// Chain applies middlewares so that the first one is the outermost.
func Chain(evaluator delegate.Evaluator, middlewares ...Middleware) delegate.Evaluator {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			evaluator = middlewares[i](evaluator)
		}
	}
	return evaluator
}

// Call describes one evaluation passing through an Interceptor.
type Call struct {
	Endpoint string
	Trigger  bool
	State    connection.State
	Request  request.Request
}

// Next continues an intercepted evaluation.
type Next func(ctx context.Context) (response.Response[response.Erased], error)

// Interceptor wraps request and trigger evaluations alike.
type Interceptor func(ctx context.Context, call Call, next Next) (response.Response[response.Erased], error)

// Intercept turns an Interceptor into a Middleware.
func Intercept(fn Interceptor) Middleware {
	return func(next delegate.Evaluator) delegate.Evaluator {
		return &intercepted{Evaluator: next, fn: fn}
	}
}

type intercepted struct {
	delegate.Evaluator
	fn Interceptor
}

func (i *intercepted) Evaluate(ctx context.Context, req request.Request, state connection.State) (response.Response[response.Erased], error) {
	call := Call{Endpoint: i.Name(), State: state, Request: req}
	return i.fn(ctx, call, func(ctx context.Context) (response.Response[response.Erased], error) {
		return i.Evaluator.Evaluate(ctx, req, state)
	})
}

func (i *intercepted) EvaluateTrigger(ctx context.Context, trigger delegate.TriggerEvent, req request.Request, state connection.State) (response.Response[response.Erased], error) {
	call := Call{Endpoint: i.Name(), Trigger: true, State: state, Request: req}
	return i.fn(ctx, call, func(ctx context.Context) (response.Response[response.Erased], error) {
		return i.Evaluator.EvaluateTrigger(ctx, trigger, req, state)
	})
}

// LoggingMiddleware logs every evaluation at debug level and failures at
// error level.
func LoggingMiddleware(logger logging.ServiceLogger) Middleware {
	return Intercept(func(ctx context.Context, call Call, next Next) (response.Response[response.Erased], error) {
		start := time.Now()
		resp, err := next(ctx)
		fields := logging.EndpointFields(call.Endpoint, "").Merge(logging.LogFields{
			"trigger":               call.Trigger,
			"state":                 call.State.String(),
			logging.FieldDurationMS: time.Since(start).Milliseconds(),
		})
		if err != nil {
			fields[logging.FieldErrorKind] = errspkg.KindOf(err).String()
			logger.Error("Evaluation failed", err, fields)
			return resp, err
		}
		fields["has_content"] = resp.HasContent()
		fields["effect"] = resp.ConnectionEffect.String()
		logger.Debug("Evaluation completed", fields)
		return resp, nil
	})
}
