package response

import (
	"context"
	"net/http"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/metadata"
)

// ConnectionEffect hints whether the exchange stays open after a response.
type ConnectionEffect uint8

const (
	EffectOpen ConnectionEffect = iota
	EffectClose
)

func (e ConnectionEffect) String() string {
	if e == EffectClose {
		return "close"
	}
	return "open"
}

// Status is an optional, protocol neutral status hint.
type Status uint8

const (
	StatusNone Status = iota
	StatusOK
	StatusCreated
	StatusNoContent
	StatusRedirect
)

// HTTPCode maps the status onto an HTTP status code. StatusNone resolves
// to 200 with content and 204 without.
func (s Status) HTTPCode(hasContent bool) int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusCreated:
		return http.StatusCreated
	case StatusNoContent:
		return http.StatusNoContent
	case StatusRedirect:
		return http.StatusSeeOther
	}
	if hasContent {
		return http.StatusOK
	}
	return http.StatusNoContent
}

// Erased carries content whose static type was dropped for transport across
// protocol boundaries.
type Erased struct {
	Value any
}

// Erase wraps v unless it already is Erased.
func Erase(v any) Erased {
	switch e := v.(type) {
	case Erased:
		return e
	case *Erased:
		if e != nil {
			return *e
		}
	}
	return Erased{Value: v}
}

// MarshalJSON encodes the wrapped value transparently.
func (e Erased) MarshalJSON() ([]byte, error) {
	return marshalJSON(e.Value)
}

func unerase[T any](e Erased) (T, bool) {
	if _, wantsErased := any((*T)(nil)).(*Erased); wantsErased {
		return any(e).(T), true
	}
	v, ok := e.Value.(T)
	return v, ok
}

func marshalJSON(v any) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

// Response is the envelope exporters serialize: an optional status, an
// information set, optional content and a connection effect.
type Response[T any] struct {
	Status           Status
	Information      metadata.Information
	ConnectionEffect ConnectionEffect
	content          T
	hasContent       bool
}

// New builds a response carrying content.
func New[T any](content T, effect ConnectionEffect) Response[T] {
	return Response[T]{content: content, hasContent: true, ConnectionEffect: effect}
}

// Empty builds a contentless response.
func Empty[T any](effect ConnectionEffect) Response[T] {
	return Response[T]{ConnectionEffect: effect}
}

// FromAction converts a handler Action. Automatic follows the connection:
// it keeps the exchange open while the client may still send and closes it
// once the client has ended.
func FromAction[T any](a Action[T], state connection.State) Response[T] {
	switch a.kind {
	case KindSend:
		return New(a.value, EffectOpen)
	case KindFinal:
		return New(a.value, EffectClose)
	case KindAutomatic:
		if state == connection.End {
			return New(a.value, EffectClose)
		}
		return New(a.value, EffectOpen)
	case KindEnd:
		return Empty[T](EffectClose)
	default:
		return Empty[T](EffectOpen)
	}
}

// Content returns the carried content, if any.
func (r Response[T]) Content() (T, bool) {
	return r.content, r.hasContent
}

func (r Response[T]) HasContent() bool { return r.hasContent }

// Closes reports whether the response ends the exchange.
func (r Response[T]) Closes() bool { return r.ConnectionEffect == EffectClose }

// WithStatus returns a copy with the status set.
func (r Response[T]) WithStatus(status Status) Response[T] {
	r.Status = status
	return r
}

// WithInformation returns a copy whose information is merged with info.
func (r Response[T]) WithInformation(info metadata.Information) Response[T] {
	r.Information = r.Information.Merge(info)
	return r
}

// Map transforms the content and keeps everything else.
func Map[T, U any](r Response[T], f func(T) U) Response[U] {
	out := Response[U]{
		Status:           r.Status,
		Information:      r.Information,
		ConnectionEffect: r.ConnectionEffect,
		hasContent:       r.hasContent,
	}
	if r.hasContent {
		out.content = f(r.content)
	}
	return out
}

// TypeErase drops the static content type. Erasing twice is a no-op.
func TypeErase[T any](r Response[T]) Response[Erased] {
	return Map(r, func(v T) Erased { return Erase(v) })
}

// Typed restores the content type, reporting false on a mismatch.
// Contentless responses always succeed.
func Typed[T any](r Response[Erased]) (Response[T], bool) {
	out := Response[T]{
		Status:           r.Status,
		Information:      r.Information,
		ConnectionEffect: r.ConnectionEffect,
	}
	if !r.hasContent {
		return out, true
	}
	v, ok := unerase[T](r.content)
	if !ok {
		return Response[T]{}, false
	}
	out.content = v
	out.hasContent = true
	return out, true
}

// Transformer rewrites response content, for example to localize or
// decorate a value before it reaches an exporter.
type Transformer[I, O any] interface {
	Transform(ctx context.Context, content I) (O, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc[I, O any] func(ctx context.Context, content I) (O, error)

func (f TransformerFunc[I, O]) Transform(ctx context.Context, content I) (O, error) {
	return f(ctx, content)
}

// Transform applies t and returns a new response; r is left untouched.
func Transform[I, O any](ctx context.Context, r Response[I], t Transformer[I, O]) (Response[O], error) {
	out := Response[O]{
		Status:           r.Status,
		Information:      r.Information,
		ConnectionEffect: r.ConnectionEffect,
	}
	if !r.hasContent {
		return out, nil
	}
	v, err := t.Transform(ctx, r.content)
	if err != nil {
		return Response[O]{}, err
	}
	out.content = v
	out.hasContent = true
	return out, nil
}
