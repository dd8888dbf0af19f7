package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/event"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// Source yields the events of one connection. event.Sequence and
// event.Static implement it.
type Source interface {
	Next(ctx context.Context) (event.Event, error)
	Cancel()
}

// Option configures a Driver.
type Option func(*settings)

type settings struct {
	forwarder  ErrorForwarder
	bufferSize int
}

// WithErrorForwarder sets the collaborator receiving every error.
func WithErrorForwarder(f ErrorForwarder) Option {
	return func(s *settings) {
		if f != nil {
			s.forwarder = f
		}
	}
}

// WithBufferSize bounds the output buffer of streaming patterns. When the
// consumer falls behind the oldest undelivered value is dropped.
func WithBufferSize(n int) Option {
	return func(s *settings) { s.bufferSize = n }
}

// Driver evaluates one delegate instance over the events of one connection
// and transforms the results into O.
type Driver[O any] struct {
	evaluator   delegate.Evaluator
	transformer ResultTransformer[O]
	forwarder   ErrorForwarder
	bufferSize  int
}

func NewDriver[O any](evaluator delegate.Evaluator, transformer ResultTransformer[O], opts ...Option) *Driver[O] {
	s := settings{forwarder: NopForwarder()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Driver[O]{
		evaluator:   evaluator,
		transformer: transformer,
		forwarder:   s.forwarder,
		bufferSize:  s.bufferSize,
	}
}

// Run drives src according to pattern. Single-response patterns produce a
// buffer holding at most one value.
func (d *Driver[O]) Run(ctx context.Context, pattern Pattern, src Source) *event.Buffer[O] {
	switch pattern {
	case ServiceStream, Bidirectional:
		return d.stream(ctx, pattern, src)
	}

	out := event.NewBuffer[O](0)
	go func() {
		var (
			v   O
			err error
		)
		if pattern == ClientStream {
			v, err = d.ClientStream(ctx, src)
		} else {
			v, err = d.Unary(ctx, src)
		}
		if err == nil {
			out.Push(v)
		}
		out.Complete(err)
	}()
	return out
}

// Unary evaluates the first request once with the connection already ended.
func (d *Driver[O]) Unary(ctx context.Context, src Source) (O, error) {
	defer src.Cancel()
	var zero O

	ev, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return zero, fmt.Errorf("%w: no request", errspkg.ErrInvalidEventSequence)
	}
	if err != nil {
		return zero, err
	}
	var tracker event.Tracker
	tracker.Accept(ev)

	resp, err := d.evaluator.Evaluate(ctx, request.NewCaching(ev.Request()), connection.End)
	if err != nil {
		return d.recover(err)
	}
	if !resp.HasContent() && !resp.Closes() {
		return d.recover(missingContent())
	}
	out, err := d.transformer.Transform(ctx, resp)
	if err != nil {
		return d.recover(err)
	}
	return out, nil
}

// ClientStream evaluates every request while the connection is open and
// once more with the latest request when the client ends. Contentless open
// responses are intermediate; more than one other response is an error.
func (d *Driver[O]) ClientStream(ctx context.Context, src Source) (O, error) {
	defer src.Cancel()
	var (
		zero    O
		result  O
		have    bool
		tracker event.Tracker
		latest  request.Request
		conn    = connection.New("", metadata.Information{})
	)

	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return zero, err
		}
		tracker.Accept(ev)

		var resp response.Response[response.Erased]
		switch ev.Kind() {
		case event.KindRequest:
			latest = request.NewCaching(ev.Request())
			resp, err = d.evaluator.Evaluate(ctx, latest, conn.State())
		case event.KindTrigger:
			resp, err = d.evaluator.EvaluateTrigger(ctx, ev.TriggerEvent(), latest, conn.State())
		case event.KindEnd:
			conn.End()
			resp, err = d.evaluator.Evaluate(ctx, latest, conn.State())
		}

		s := d.step(ctx, resp, err)
		if s.emit {
			if have {
				d.forwarder.Forward(errspkg.ErrMoreThanOneResponse)
				return zero, errspkg.ErrMoreThanOneResponse
			}
			result, have = s.value, true
		}
		if s.err != nil {
			return zero, s.err
		}
		if s.stop {
			break
		}
	}

	if !have {
		return d.recover(missingContent())
	}
	return result, nil
}

// ServiceStream evaluates the single request with the connection ended and
// keeps evaluating triggers until a response closes the exchange.
func (d *Driver[O]) ServiceStream(ctx context.Context, src Source) *event.Buffer[O] {
	return d.stream(ctx, ServiceStream, src)
}

// Bidirectional evaluates every event. The end event re-evaluates the latest
// request with the connection ended.
func (d *Driver[O]) Bidirectional(ctx context.Context, src Source) *event.Buffer[O] {
	return d.stream(ctx, Bidirectional, src)
}

func (d *Driver[O]) stream(ctx context.Context, pattern Pattern, src Source) *event.Buffer[O] {
	out := event.NewBuffer[O](d.bufferSize)
	go d.drive(ctx, pattern, src, out)
	return out
}

func (d *Driver[O]) drive(ctx context.Context, pattern Pattern, src Source, out *event.Buffer[O]) {
	finish := func(err error) {
		src.Cancel()
		out.Complete(err)
	}
	var (
		tracker event.Tracker
		latest  request.Request
		conn    = connection.New("", metadata.Information{})
	)

	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			finish(nil)
			return
		}
		if err != nil {
			finish(err)
			return
		}
		tracker.Accept(ev)

		var resp response.Response[response.Erased]
		switch ev.Kind() {
		case event.KindRequest:
			if pattern == ServiceStream && tracker.Requests() > 1 {
				d.forwarder.Forward(errspkg.ErrMoreThanOneRequest)
				finish(errspkg.ErrMoreThanOneRequest)
				return
			}
			latest = request.NewCaching(ev.Request())
			if pattern == ServiceStream {
				conn.End()
			}
			resp, err = d.evaluator.Evaluate(ctx, latest, conn.State())
		case event.KindTrigger:
			resp, err = d.evaluator.EvaluateTrigger(ctx, ev.TriggerEvent(), latest, conn.State())
		case event.KindEnd:
			if !conn.End() {
				continue
			}
			resp, err = d.evaluator.Evaluate(ctx, latest, conn.State())
		}

		s := d.step(ctx, resp, err)
		if s.emit && !out.Push(s.value) {
			src.Cancel()
			return
		}
		if s.err != nil || s.stop {
			finish(s.err)
			return
		}
	}
}

type stepResult[O any] struct {
	value O
	emit  bool
	stop  bool
	err   error
}

// step turns one evaluation result into at most one output. Contentless
// responses that keep the connection open are intermediate and skipped. A
// closing response stops the exchange after it was emitted.
func (d *Driver[O]) step(ctx context.Context, resp response.Response[response.Erased], err error) stepResult[O] {
	if err != nil {
		return d.handle(err)
	}
	if !resp.HasContent() && !resp.Closes() {
		return stepResult[O]{}
	}
	out, err := d.transformer.Transform(ctx, resp)
	if err != nil {
		return d.handle(err)
	}
	return stepResult[O]{value: out, emit: true, stop: resp.Closes()}
}

func (d *Driver[O]) handle(err error) stepResult[O] {
	d.forwarder.Forward(err)
	strategy := d.transformer.Handle(err)
	switch strategy.Kind {
	case StrategyGraceful:
		return stepResult[O]{value: strategy.Value, emit: true}
	case StrategyIgnore:
		return stepResult[O]{}
	case StrategyComplete:
		return stepResult[O]{stop: true}
	default:
		if strategy.Err != nil {
			err = strategy.Err
		}
		return stepResult[O]{stop: true, err: err}
	}
}

// recover applies the error strategy on the single-response path, where
// there is no later event to fall back to.
func (d *Driver[O]) recover(err error) (O, error) {
	var zero O
	d.forwarder.Forward(err)
	strategy := d.transformer.Handle(err)
	switch strategy.Kind {
	case StrategyGraceful:
		return strategy.Value, nil
	case StrategyIgnore:
		return zero, unhandled(err)
	case StrategyComplete:
		return zero, missingContent()
	default:
		if strategy.Err != nil {
			return zero, strategy.Err
		}
		return zero, err
	}
}
