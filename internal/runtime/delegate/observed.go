package delegate

import (
	"sync"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

// Observable publishes change notifications. Observe registers fn and
// returns a function that removes it again.
type Observable interface {
	Observe(fn func()) (cancel func())
}

// Published is an Observable value. Every Set notifies all observers.
type Published[T any] struct {
	mu        sync.RWMutex
	value     T
	next      uint64
	observers map[uint64]func()
}

func NewPublished[T any](value T) *Published[T] {
	return &Published[T]{value: value, observers: make(map[uint64]func())}
}

func (p *Published[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set stores v and notifies observers outside of the lock.
func (p *Published[T]) Set(v T) {
	p.mu.Lock()
	p.value = v
	observers := make([]func(), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Update applies f to the current value and publishes the result.
func (p *Published[T]) Update(f func(T) T) {
	p.mu.Lock()
	v := f(p.value)
	p.mu.Unlock()
	p.Set(v)
}

func (p *Published[T]) Observe(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}
}

// TriggerEvent reports a change of an observed object. Cancelled is
// evaluated lazily: a trigger is cancelled when the observation was torn
// down or the observed element was replaced after the change fired.
type TriggerEvent struct {
	source    AnyObservedObject
	cancelled func() bool
}

// Cancelled reports whether the evaluation for this trigger must be skipped.
func (t TriggerEvent) Cancelled() bool {
	return t.cancelled != nil && t.cancelled()
}

// Source returns the observed object that changed.
func (t TriggerEvent) Source() AnyObservedObject { return t.source }

// AnyObservedObject is the type erased view the delegate uses to manage
// observed objects.
type AnyObservedObject interface {
	Changed() bool
	activate()
	register(callback func(TriggerEvent)) func()
	setChanged(bool)
}

// ObservedObject wraps an Observable for one delegate instance. The changed
// flag is owned by that instance and is only true while the delegate
// evaluates a trigger fired by this object.
type ObservedObject[T Observable] struct {
	init func() T

	mu          sync.Mutex
	element     T
	active      bool
	changed     bool
	generation  uint64
	callback    func(TriggerEvent)
	childCancel func()
}

// Value returns the observed element.
func (o *ObservedObject[T]) Value() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		panic(errspkg.ErrObservedNotActivated)
	}
	return o.element
}

// Set replaces the observed element. Triggers fired by the previous element
// that have not been evaluated yet become cancelled.
func (o *ObservedObject[T]) Set(v T) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		panic(errspkg.ErrObservedNotActivated)
	}
	o.element = v
	o.mu.Unlock()
	o.registerChild()
}

func (o *ObservedObject[T]) Changed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		panic(errspkg.ErrObservedNotActivated)
	}
	return o.changed
}

func (o *ObservedObject[T]) activate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.element = o.init()
	o.active = true
}

func (o *ObservedObject[T]) setChanged(v bool) {
	o.mu.Lock()
	o.changed = v
	o.mu.Unlock()
}

func (o *ObservedObject[T]) register(callback func(TriggerEvent)) func() {
	o.mu.Lock()
	o.callback = callback
	o.mu.Unlock()
	o.registerChild()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			o.callback = nil
			cancel := o.childCancel
			o.childCancel = nil
			o.generation++
			o.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		})
	}
}

func (o *ObservedObject[T]) registerChild() {
	o.mu.Lock()
	if o.callback == nil {
		o.mu.Unlock()
		return
	}
	o.generation++
	generation := o.generation
	previous := o.childCancel
	o.childCancel = nil
	element := o.element
	o.mu.Unlock()

	if previous != nil {
		previous()
	}

	cancel := element.Observe(func() {
		o.mu.Lock()
		callback := o.callback
		stale := o.generation != generation
		o.mu.Unlock()
		if callback == nil || stale {
			return
		}
		callback(TriggerEvent{
			source: o,
			cancelled: func() bool {
				o.mu.Lock()
				defer o.mu.Unlock()
				return o.generation != generation
			},
		})
	})

	o.mu.Lock()
	if o.generation == generation {
		o.childCancel = cancel
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	cancel()
}
