package runtime

import (
	"context"
	"time"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	loggingpkg "github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// EvaluationContext describes one evaluation to hooks.
type EvaluationContext struct {
	// Endpoint is the name of the evaluated endpoint.
	Endpoint string
	// Exporter is the type of the exporter that received the request.
	Exporter string
	// Trigger is set when an observed object caused the evaluation.
	Trigger bool
	// State is the connection state the delegate was evaluated with.
	State connection.State
	// Context is the context of the evaluation.
	Context context.Context
	// StartedAt is when the evaluation started.
	StartedAt time.Time
	// Duration is only set in OnEvaluationDone and OnEvaluationError.
	Duration time.Duration
	// HasContent reports whether the response carried content. Only set in
	// OnEvaluationDone.
	HasContent bool
}

// EvaluationHooks defines callbacks around every evaluation. Nil hooks are
// skipped.
type EvaluationHooks struct {
	OnEvaluationStart func(ctx EvaluationContext)
	OnEvaluationDone  func(ctx EvaluationContext)
	OnEvaluationError func(ctx EvaluationContext, err error)
}

// Merge returns hooks calling h first and other second.
func (h EvaluationHooks) Merge(other EvaluationHooks) EvaluationHooks {
	return EvaluationHooks{
		OnEvaluationStart: chainHooks(h.OnEvaluationStart, other.OnEvaluationStart),
		OnEvaluationDone:  chainHooks(h.OnEvaluationDone, other.OnEvaluationDone),
		OnEvaluationError: chainErrorHooks(h.OnEvaluationError, other.OnEvaluationError),
	}
}

func (h EvaluationHooks) empty() bool {
	return h.OnEvaluationStart == nil && h.OnEvaluationDone == nil && h.OnEvaluationError == nil
}

func chainHooks(a, b func(EvaluationContext)) func(EvaluationContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EvaluationContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(EvaluationContext, error)) func(EvaluationContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EvaluationContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// HooksMiddleware invokes hooks around each evaluation of an endpoint served
// by the named exporter.
func HooksMiddleware(hooks EvaluationHooks, exporter string) evaluation.Middleware {
	return evaluation.Intercept(func(ctx context.Context, call evaluation.Call, next evaluation.Next) (response.Response[response.Erased], error) {
		evalCtx := EvaluationContext{
			Endpoint:  call.Endpoint,
			Exporter:  exporter,
			Trigger:   call.Trigger,
			State:     call.State,
			Context:   ctx,
			StartedAt: time.Now(),
		}
		if hooks.OnEvaluationStart != nil {
			hooks.OnEvaluationStart(evalCtx)
		}

		resp, err := next(ctx)
		evalCtx.Duration = time.Since(evalCtx.StartedAt)

		if err != nil {
			if hooks.OnEvaluationError != nil {
				hooks.OnEvaluationError(evalCtx, err)
			}
			return resp, err
		}
		evalCtx.HasContent = resp.HasContent()
		if hooks.OnEvaluationDone != nil {
			hooks.OnEvaluationDone(evalCtx)
		}
		return resp, nil
	})
}

// LoggingHooks returns hooks that log the evaluation lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) EvaluationHooks {
	fields := func(ctx EvaluationContext) loggingpkg.LogFields {
		return loggingpkg.EndpointFields(ctx.Endpoint, ctx.Exporter).Merge(loggingpkg.LogFields{
			"trigger": ctx.Trigger,
			"state":   ctx.State.String(),
		})
	}
	return EvaluationHooks{
		OnEvaluationStart: func(ctx EvaluationContext) {
			logger.Debug("Evaluation started", fields(ctx))
		},
		OnEvaluationDone: func(ctx EvaluationContext) {
			f := fields(ctx)
			f[loggingpkg.FieldDurationMS] = ctx.Duration.Milliseconds()
			f["has_content"] = ctx.HasContent
			logger.Debug("Evaluation completed", f)
		},
		OnEvaluationError: func(ctx EvaluationContext, err error) {
			f := fields(ctx)
			f[loggingpkg.FieldDurationMS] = ctx.Duration.Milliseconds()
			logger.Error("Evaluation failed", err, f)
		},
	}
}

// AlertingHooks calls alert for every failed evaluation.
func AlertingHooks(alert func(ctx EvaluationContext, err error)) EvaluationHooks {
	return EvaluationHooks{OnEvaluationError: alert}
}
