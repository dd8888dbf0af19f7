package delegate

import (
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
)

// Definition is the static description of an endpoint. Build runs once per
// delegate instance and declares the parameters, guards, observed objects
// and nested delegates the returned handler uses.
type Definition[O any] struct {
	Name  string
	Build func(b *Builder) Handler[O]
}

// Builder collects declarations while a Definition is built.
type Builder struct {
	params   []*request.Descriptor
	guards   []Guard
	observed []AnyObservedObject
	children []child
}

// Guard appends guards. Guards run in declaration order.
func (b *Builder) Guard(guards ...Guard) {
	b.guards = append(b.guards, guards...)
}

// Parameter declares a handler input.
func Parameter[T any](b *Builder, name string, opts ...request.Option[T]) *request.Parameter[T] {
	p := request.NewParameter(name, opts...)
	b.params = append(b.params, p.Descriptor())
	return p
}

// Observe declares an observed object. init runs on activation and yields
// the element whose changes trigger evaluations.
func Observe[T Observable](b *Builder, init func() T) *ObservedObject[T] {
	o := &ObservedObject[T]{init: init}
	b.observed = append(b.observed, o)
	return o
}

// Nest declares a nested delegate. Its parameters are bound together with
// the parent's and its guards run when the parent calls it.
func Nest[O any](b *Builder, def Definition[O]) *Delegate[O] {
	d := New(def)
	b.children = append(b.children, d)
	return d
}

// child is the type erased view a parent keeps of a nested delegate.
type child interface {
	activate() error
	inject(env metadata.Information)
	descriptors() []*request.Descriptor
	observedObjects() []AnyObservedObject
}
