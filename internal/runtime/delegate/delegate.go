package delegate

import (
	"context"
	"sync"

	"github.com/drblury/evalflow/internal/runtime/connection"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// Delegate is one instance of a Definition. Every connection owns its own
// instance: an instance can only be activated once, and evaluations on it
// are serialized.
type Delegate[O any] struct {
	name  string
	build func(b *Builder) Handler[O]

	mu         sync.Mutex
	activated  bool
	env        metadata.Information
	handler    Handler[O]
	guards     []Guard
	params     []*request.Descriptor
	observed   []AnyObservedObject
	children   []child
	mutability *request.MutabilityValidator
}

// New creates an uninitialized delegate for def.
func New[O any](def Definition[O]) *Delegate[O] {
	return &Delegate[O]{
		name:       def.Name,
		build:      def.Build,
		mutability: request.NewMutabilityValidator(),
	}
}

func (d *Delegate[O]) Name() string { return d.name }

// Inject merges values into the delegate environment. Nested delegates
// receive the same values.
func (d *Delegate[O]) Inject(info metadata.Information) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injectLocked(info)
}

func (d *Delegate[O]) injectLocked(info metadata.Information) {
	d.env = d.env.Merge(info)
	for _, c := range d.children {
		c.inject(info)
	}
}

// Environment returns the injected values.
func (d *Delegate[O]) Environment() metadata.Information {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.env
}

// Activate builds the handler, activates nested delegates with the current
// environment and activates observed objects. A second activation fails with
// ErrDelegateShared.
func (d *Delegate[O]) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.activated {
		return errspkg.ErrDelegateShared
	}
	if d.build == nil {
		return errspkg.ErrHandlerRequired
	}

	b := &Builder{}
	handler := d.build(b)
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	d.handler = handler
	d.guards = b.guards
	d.children = b.children
	d.params = append([]*request.Descriptor(nil), b.params...)
	d.observed = append([]AnyObservedObject(nil), b.observed...)

	for _, c := range d.children {
		c.inject(d.env)
		if err := c.activate(); err != nil {
			return err
		}
		d.params = append(d.params, c.descriptors()...)
		d.observed = append(d.observed, c.observedObjects()...)
	}
	for _, o := range b.observed {
		o.activate()
	}
	d.activated = true
	return nil
}

// Descriptors lists every parameter the delegate binds, including those of
// nested delegates.
func (d *Delegate[O]) Descriptors() []*request.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*request.Descriptor(nil), d.params...)
}

// Register subscribes callback to every observed object of the delegate and
// its nested delegates.
func (d *Delegate[O]) Register(callback func(TriggerEvent)) *Observation {
	d.mu.Lock()
	observed := append([]AnyObservedObject(nil), d.observed...)
	d.mu.Unlock()

	obs := &Observation{}
	for _, o := range observed {
		obs.cancels = append(obs.cancels, o.register(callback))
	}
	return obs
}

// Evaluate runs guards, binds parameters, validates constants and calls the
// handler for req.
func (d *Delegate[O]) Evaluate(ctx context.Context, req request.Request, state connection.State) (response.Response[O], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evaluateLocked(ctx, req, state, nil)
}

// EvaluateTrigger re-evaluates the handler with the latest request because an
// observed object changed. The source object reports Changed while the
// handler runs. Cancelled triggers produce an empty response without calling
// the handler.
func (d *Delegate[O]) EvaluateTrigger(ctx context.Context, trigger TriggerEvent, req request.Request, state connection.State) (response.Response[O], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if trigger.source != nil {
		trigger.source.setChanged(true)
		defer trigger.source.setChanged(false)
	}
	if trigger.Cancelled() {
		return response.Empty[O](response.EffectOpen), nil
	}
	return d.evaluateLocked(ctx, req, state, &trigger)
}

func (d *Delegate[O]) evaluateLocked(ctx context.Context, req request.Request, state connection.State, trigger *TriggerEvent) (response.Response[O], error) {
	var zero response.Response[O]
	if !d.activated {
		return zero, errspkg.ErrDelegateNotActivated
	}

	cached := request.NewCaching(req)
	bindings, bindErr := d.bind(cached)
	in := Input{request: cached, bindings: bindings, state: state, env: d.env, trigger: trigger}

	for _, g := range d.guards {
		if err := g.Check(ctx, in); err != nil {
			return zero, err
		}
	}
	if bindErr != nil {
		return zero, bindErr
	}
	if err := d.mutability.Validate(d.params, bindings); err != nil {
		return zero, err
	}

	action, err := d.handler.Handle(ctx, in)
	if err != nil {
		return zero, err
	}
	return response.FromAction(action, state), nil
}

// bind resolves every parameter it can. Guards see the partial result; the
// first failure is reported once they passed.
func (d *Delegate[O]) bind(req request.Request) (request.Bindings, error) {
	bindings := make(request.Bindings, len(d.params))
	var first error
	for _, desc := range d.params {
		v, err := request.Resolve(req, desc)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		bindings[desc.ID] = v
	}
	return bindings, first
}

// Call evaluates a nested delegate from inside its parent's handler. The
// nested guards run first; parameters were already bound by the parent.
func (d *Delegate[O]) Call(ctx context.Context, in Input) (response.Action[O], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.activated {
		return response.Action[O]{}, errspkg.ErrDelegateNotActivated
	}
	in.env = d.env
	for _, g := range d.guards {
		if err := g.Check(ctx, in); err != nil {
			return response.Action[O]{}, err
		}
	}
	return d.handler.Handle(ctx, in)
}

func (d *Delegate[O]) activate() error { return d.Activate() }

func (d *Delegate[O]) inject(env metadata.Information) { d.Inject(env) }

func (d *Delegate[O]) descriptors() []*request.Descriptor { return d.Descriptors() }

func (d *Delegate[O]) observedObjects() []AnyObservedObject {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AnyObservedObject(nil), d.observed...)
}

// Observation is the live subscription created by Register.
type Observation struct {
	once    sync.Once
	cancels []func()
}

// Cancel removes every subscription. It is safe to call more than once.
func (o *Observation) Cancel() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		for _, cancel := range o.cancels {
			cancel()
		}
	})
}

// Active reports whether the observation watches at least one object.
func (o *Observation) Active() bool {
	return o != nil && len(o.cancels) > 0
}
