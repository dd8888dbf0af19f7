package event

import (
	"context"
	"sync"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	"github.com/drblury/evalflow/internal/runtime/request"
)

// Subscriber is the part of a delegate a Sequence needs: the ability to
// observe its declared objects.
type Subscriber interface {
	Register(callback func(delegate.TriggerEvent)) *delegate.Observation
}

// Sequence is the merged event stream of one connection. Requests keep
// their order, triggers keep theirs, and the two interleave in arrival
// order.
type Sequence struct {
	buffer *Buffer[Event]
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	observation *delegate.Observation
	started     bool
	cancelled   bool
	once        sync.Once
}

// Subscribe starts consuming requests. Observation of the subscriber starts
// with the first request; changes published before it are not delivered.
// Once requests is closed an end event is appended. The sequence completes
// right after it when nothing is observed, otherwise on Cancel.
func Subscribe(ctx context.Context, requests <-chan request.Request, subscriber Subscriber) *Sequence {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sequence{
		buffer: NewBuffer[Event](0),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, requests, subscriber)
	return s
}

func (s *Sequence) run(ctx context.Context, requests <-chan request.Request, subscriber Subscriber) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return
		case r, ok := <-requests:
			if !ok {
				s.finish()
				return
			}
			s.push(r, subscriber)
		}
	}
}

func (s *Sequence) push(r request.Request, subscriber Subscriber) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started && subscriber != nil {
		obs := subscriber.Register(s.trigger)
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			obs.Cancel()
			return
		}
		s.observation = obs
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Push(Request(r))
	s.started = true
}

func (s *Sequence) trigger(t delegate.TriggerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.buffer.Push(Trigger(t))
	}
}

func (s *Sequence) finish() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.buffer.Complete(nil)
		return
	}
	s.buffer.Push(End())
	if !s.observing() {
		s.buffer.Complete(nil)
	}
}

func (s *Sequence) observing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observation.Active()
}

// Next returns the next event, io.EOF once the sequence completed, or the
// context error.
func (s *Sequence) Next(ctx context.Context) (Event, error) {
	return s.buffer.Next(ctx)
}

// Cancel unsubscribes every observation, completes the sequence exactly once
// and releases undelivered events. Repeated calls are no-ops.
func (s *Sequence) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		obs := s.observation
		s.mu.Unlock()

		obs.Cancel()
		s.cancel()
		s.buffer.Cancel()
	})
}

// Done is closed once the request stream has been consumed or cancelled.
func (s *Sequence) Done() <-chan struct{} { return s.done }

// Pending returns the number of undelivered events.
func (s *Sequence) Pending() int { return s.buffer.Len() }
