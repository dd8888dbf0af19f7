// Package event merges client requests and observed-object triggers into one
// ordered sequence per connection.
package event

import (
	"context"
	"io"
	"sync"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/request"
)

// Kind tags the variant of an Event.
type Kind uint8

const (
	KindRequest Kind = iota
	KindTrigger
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindTrigger:
		return "trigger"
	case KindEnd:
		return "end"
	default:
		return "request"
	}
}

// Event is one input of the evaluation driver.
type Event struct {
	kind    Kind
	request request.Request
	trigger delegate.TriggerEvent
}

func Request(r request.Request) Event               { return Event{kind: KindRequest, request: r} }
func Trigger(t delegate.TriggerEvent) Event         { return Event{kind: KindTrigger, trigger: t} }
func End() Event                                    { return Event{kind: KindEnd} }
func (e Event) Kind() Kind                          { return e.kind }
func (e Event) Request() request.Request            { return e.request }
func (e Event) TriggerEvent() delegate.TriggerEvent { return e.trigger }

// Tracker enforces the shape of an event sequence: requests first, a single
// end, and only triggers after the end. A violation means the exporter
// feeding the sequence is broken, so Accept panics.
type Tracker struct {
	requests int
	ended    bool
}

// Accept records e or panics with ErrInvalidEventSequence.
func (t *Tracker) Accept(e Event) {
	switch e.kind {
	case KindRequest:
		if t.ended {
			errspkg.InvalidEventSequence("request after end")
		}
		t.requests++
	case KindTrigger:
		if t.requests == 0 {
			errspkg.InvalidEventSequence("trigger before the first request")
		}
	case KindEnd:
		if t.requests == 0 {
			errspkg.InvalidEventSequence("end before the first request")
		}
		if t.ended {
			errspkg.InvalidEventSequence("second end")
		}
		t.ended = true
	}
}

func (t *Tracker) Requests() int { return t.requests }
func (t *Tracker) Ended() bool   { return t.ended }

// Static is a Source over a fixed list of events, used by exporters whose
// wire request already carries the whole exchange.
type Static struct {
	mu     sync.Mutex
	events []Event
}

// Of returns a static source yielding events in order, then io.EOF.
func Of(events ...Event) *Static {
	return &Static{events: events}
}

func (s *Static) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, io.EOF
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, nil
}

// Cancel drops the remaining events.
func (s *Static) Cancel() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}
