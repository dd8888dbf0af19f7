package request

import (
	"reflect"

	"github.com/google/uuid"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

// Location tells a decoding strategy where a parameter lives on the wire.
type Location uint8

const (
	LocationQuery Location = iota
	LocationPath
	LocationHeader
	// LocationBody addresses one field of a structured body.
	LocationBody
	// LocationContent decodes the complete body.
	LocationContent
)

func (l Location) String() string {
	switch l {
	case LocationPath:
		return "path"
	case LocationHeader:
		return "header"
	case LocationBody:
		return "body"
	case LocationContent:
		return "content"
	default:
		return "query"
	}
}

// Descriptor is the static description of one handler input.
type Descriptor struct {
	ID       uuid.UUID
	Name     string
	Location Location
	Type     reflect.Type
	Optional bool
	// Constant parameters must keep their first value for the lifetime of
	// a streaming exchange.
	Constant     bool
	defaultValue func() any
}

// Default returns the declared default value.
func (d *Descriptor) Default() (any, bool) {
	if d.defaultValue == nil {
		return nil, false
	}
	return d.defaultValue(), true
}

func (d *Descriptor) HasDefault() bool { return d.defaultValue != nil }

func (d *Descriptor) String() string { return d.Name }

// Parameter is the typed handle a handler uses to read one bound input.
type Parameter[T any] struct {
	desc *Descriptor
}

// Option configures a Parameter.
type Option[T any] func(*Parameter[T])

// WithDefault supplies the value used when the request omits the parameter.
func WithDefault[T any](value T) Option[T] {
	return func(p *Parameter[T]) {
		p.desc.defaultValue = func() any { return value }
	}
}

// Optional resolves an absent parameter to the zero value instead of failing.
func Optional[T any]() Option[T] {
	return func(p *Parameter[T]) { p.desc.Optional = true }
}

// Constant rejects later messages of a stream that change the value.
func Constant[T any]() Option[T] {
	return func(p *Parameter[T]) { p.desc.Constant = true }
}

// In sets the wire location. Parameters default to LocationQuery.
func In[T any](location Location) Option[T] {
	return func(p *Parameter[T]) { p.desc.Location = location }
}

// NewParameter declares a parameter with a fresh identity.
func NewParameter[T any](name string, opts ...Option[T]) *Parameter[T] {
	p := &Parameter[T]{desc: &Descriptor{
		ID:   uuid.New(),
		Name: name,
		Type: reflect.TypeOf((*T)(nil)).Elem(),
	}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parameter[T]) Descriptor() *Descriptor { return p.desc }

// Values is the read side of bound parameters.
type Values interface {
	Lookup(id uuid.UUID) (any, bool)
}

// Lookup reads the bound value. Absent optional parameters report false.
func (p *Parameter[T]) Lookup(values Values) (T, bool) {
	var zero T
	if values == nil {
		return zero, false
	}
	raw, ok := values.Lookup(p.desc.ID)
	if !ok || raw == nil {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Value reads the bound value, returning the zero value when absent.
func (p *Parameter[T]) Value(values Values) T {
	v, _ := p.Lookup(values)
	return v
}

// MustValue panics when the parameter was not bound by an evaluation.
func (p *Parameter[T]) MustValue(values Values) T {
	v, ok := p.Lookup(values)
	if !ok && !p.desc.Optional {
		panic(errspkg.ErrParameterNotBound)
	}
	return v
}

// Bindings maps descriptor identities to resolved values.
type Bindings map[uuid.UUID]any

func (b Bindings) Lookup(id uuid.UUID) (any, bool) {
	v, ok := b[id]
	return v, ok
}
