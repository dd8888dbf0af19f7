package event

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

func TestBufferDeliversInOrder(t *testing.T) {
	b := NewBuffer[int](0)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.True(t, b.Push(i))
	}
	require.True(t, b.Complete(nil))
	assert.False(t, b.Complete(errors.New("late")), "only the first completion counts")
	assert.False(t, b.Push(4))

	for i := 1; i <= 3; i++ {
		v, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBufferEvictsValuesNeverCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("full buffer drops the oldest value", func(t *testing.T) {
		b := NewBuffer[int](2)
		b.Push(1)
		b.Push(2)
		b.Push(3)
		assert.Equal(t, uint64(1), b.Dropped())
		assert.Equal(t, 2, b.Len())

		b.Complete(nil)
		v, _ := b.Next(ctx)
		assert.Equal(t, 2, v)
		v, _ = b.Next(ctx)
		assert.Equal(t, 3, v)
		_, err := b.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("completion survives a full buffer", func(t *testing.T) {
		failure := errors.New("upstream failed")
		b := NewBuffer[int](1)
		b.Push(1)
		b.Complete(failure)
		assert.False(t, b.Push(2))
		assert.True(t, b.Completed())

		v, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		_, err = b.Next(ctx)
		assert.ErrorIs(t, err, failure)
	})
}

func TestBufferCancelReleasesValues(t *testing.T) {
	b := NewBuffer[string](0)
	b.Push("a")
	b.Push("b")
	b.Cancel()
	b.Cancel()
	assert.Zero(t, b.Len())

	_, err := b.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestBufferNextHonoursContext(t *testing.T) {
	b := NewBuffer[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBufferWakesBlockedConsumer(t *testing.T) {
	b := NewBuffer[int](0)
	got := make(chan int, 1)
	go func() {
		v, _ := b.Next(context.Background())
		got <- v
	}()
	time.Sleep(10 * time.Millisecond)
	b.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestTrackerRejectsInvalidSequences(t *testing.T) {
	req := Request(nil)
	tests := []struct {
		name   string
		events []Event
	}{
		{"trigger before request", []Event{Trigger(delegate.TriggerEvent{})}},
		{"end before request", []Event{End()}},
		{"request after end", []Event{req, End(), req}},
		{"second end", []Event{req, End(), End()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tracker Tracker
			defer func() {
				err, ok := recover().(error)
				require.True(t, ok)
				assert.ErrorIs(t, err, errspkg.ErrInvalidEventSequence)
			}()
			for _, e := range tt.events {
				tracker.Accept(e)
			}
		})
	}
}

func TestTrackerAcceptsTriggersAfterEnd(t *testing.T) {
	var tracker Tracker
	req := Request(nil)
	assert.NotPanics(t, func() {
		tracker.Accept(req)
		tracker.Accept(req)
		tracker.Accept(Trigger(delegate.TriggerEvent{}))
		tracker.Accept(End())
		tracker.Accept(Trigger(delegate.TriggerEvent{}))
	})
	assert.Equal(t, 2, tracker.Requests())
	assert.True(t, tracker.Ended())
}

func observing(source *delegate.Published[int]) *delegate.Delegate[int] {
	d := delegate.New(delegate.Definition[int]{
		Name: "counter",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			counter := delegate.Observe(b, func() *delegate.Published[int] { return source })
			return delegate.HandlerFunc[int](func(context.Context, delegate.Input) (response.Action[int], error) {
				return response.Send(counter.Value().Get()), nil
			})
		},
	})
	if err := d.Activate(); err != nil {
		panic(err)
	}
	return d
}

func nextEvent(t *testing.T, s *Sequence) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := s.Next(ctx)
	require.NoError(t, err)
	return e
}

func TestSequenceMergesRequestsAndTriggers(t *testing.T) {
	source := delegate.NewPublished(0)
	d := observing(source)
	requests := make(chan request.Request)
	seq := Subscribe(context.Background(), requests, d)
	defer seq.Cancel()

	source.Set(1)
	req := request.NewDecoded(context.Background(), request.JSONStrategy{}, nil, "test")
	requests <- req
	assert.Equal(t, KindRequest, nextEvent(t, seq).Kind())

	source.Set(2)
	trig := nextEvent(t, seq)
	assert.Equal(t, KindTrigger, trig.Kind())
	assert.False(t, trig.TriggerEvent().Cancelled())

	close(requests)
	assert.Equal(t, KindEnd, nextEvent(t, seq).Kind())

	source.Set(3)
	assert.Equal(t, KindTrigger, nextEvent(t, seq).Kind(), "triggers keep flowing after end")

	seq.Cancel()
	seq.Cancel()
	_, err := seq.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	source.Set(4)
	assert.Zero(t, seq.Pending())
}

func TestSequenceCompletesWithoutObservedObjects(t *testing.T) {
	requests := make(chan request.Request, 2)
	requests <- request.NewDecoded(context.Background(), request.JSONStrategy{}, nil, "")
	requests <- request.NewDecoded(context.Background(), request.JSONStrategy{}, nil, "")
	close(requests)

	seq := Subscribe(context.Background(), requests, nil)
	assert.Equal(t, KindRequest, nextEvent(t, seq).Kind())
	assert.Equal(t, KindRequest, nextEvent(t, seq).Kind())
	assert.Equal(t, KindEnd, nextEvent(t, seq).Kind())

	_, err := seq.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	<-seq.Done()
}

func TestSequenceWithoutRequestsIsEmpty(t *testing.T) {
	requests := make(chan request.Request)
	close(requests)
	seq := Subscribe(context.Background(), requests, nil)

	_, err := seq.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSequenceStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seq := Subscribe(ctx, make(chan request.Request), nil)
	cancel()

	select {
	case <-seq.Done():
	case <-time.After(time.Second):
		t.Fatal("sequence did not stop")
	}
	_, err := seq.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
