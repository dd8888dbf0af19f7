// Package delegate turns handler definitions into per-connection instances
// that bind request parameters, run guards and react to observed objects.
package delegate

import (
	"context"

	"github.com/google/uuid"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// Input is what guards and handlers see during one evaluation.
type Input struct {
	request  request.Request
	bindings request.Bindings
	state    connection.State
	env      metadata.Information
	trigger  *TriggerEvent
}

// Lookup implements request.Values so parameters read straight from Input.
func (in Input) Lookup(id uuid.UUID) (any, bool) {
	return in.bindings.Lookup(id)
}

func (in Input) Request() request.Request { return in.request }

func (in Input) State() connection.State { return in.state }

// Environment returns the values injected into the delegate.
func (in Input) Environment() metadata.Information { return in.env }

// Trigger returns the event that caused this evaluation, if any.
func (in Input) Trigger() (TriggerEvent, bool) {
	if in.trigger == nil {
		return TriggerEvent{}, false
	}
	return *in.trigger, true
}

// Handler produces the response action for one evaluation.
type Handler[O any] interface {
	Handle(ctx context.Context, in Input) (response.Action[O], error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[O any] func(ctx context.Context, in Input) (response.Action[O], error)

func (f HandlerFunc[O]) Handle(ctx context.Context, in Input) (response.Action[O], error) {
	return f(ctx, in)
}

// Guard rejects an evaluation before the handler runs.
type Guard interface {
	Check(ctx context.Context, in Input) error
}

type GuardFunc func(ctx context.Context, in Input) error

func (f GuardFunc) Check(ctx context.Context, in Input) error { return f(ctx, in) }
