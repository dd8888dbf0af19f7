package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/event"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

func query(values url.Values) request.Request {
	return request.NewDecoded(context.Background(), request.JSONStrategy{}, &request.Payload{Query: values}, "test")
}

type recordingForwarder struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingForwarder) Forward(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingForwarder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func stringTransformer(handle func(error) ErrorStrategy[string]) ResultTransformer[string] {
	return TransformerFuncs[string]{
		TransformFunc: func(_ context.Context, r response.Response[response.Erased]) (string, error) {
			content, ok := r.Content()
			if !ok {
				return "<end>", nil
			}
			if r.Closes() {
				return fmt.Sprintf("final:%v", content.Value), nil
			}
			return fmt.Sprint(content.Value), nil
		},
		HandleFunc: handle,
	}
}

func instance[O any](t *testing.T, def delegate.Definition[O]) delegate.Evaluator {
	t.Helper()
	ev, err := delegate.NewFactory(def, delegate.ExporterMetadata{Type: "test"}, metadata.Information{}).Instance()
	require.NoError(t, err)
	return ev
}

func collect(t *testing.T, out *event.Buffer[string]) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var values []string
	for {
		v, err := out.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return values, nil
			}
			return values, err
		}
		values = append(values, v)
	}
}

func echoDefinition() delegate.Definition[string] {
	return delegate.Definition[string]{
		Name: "echo",
		Build: func(b *delegate.Builder) delegate.Handler[string] {
			name := delegate.Parameter[string](b, "name")
			return delegate.HandlerFunc[string](func(_ context.Context, in delegate.Input) (response.Action[string], error) {
				return response.Automatic("hi " + name.Value(in)), nil
			})
		},
	}
}

func TestUnaryMissingRequiredParameter(t *testing.T) {
	fw := &recordingForwarder{}
	d := NewDriver(instance(t, echoDefinition()), stringTransformer(nil), WithErrorForwarder(fw))

	_, err := d.Unary(context.Background(), event.Of(event.Request(query(nil)), event.End()))
	require.Error(t, err)
	assert.Equal(t, errspkg.KindBadInput, errspkg.KindOf(err))
	require.Len(t, fw.all(), 1)
}

func TestUnaryDefaultValue(t *testing.T) {
	var seen int
	def := delegate.Definition[int]{
		Name: "limit",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			limit := delegate.Parameter[int](b, "limit", request.Optional[int](), request.WithDefault(5))
			return delegate.HandlerFunc[int](func(_ context.Context, in delegate.Input) (response.Action[int], error) {
				seen = limit.Value(in)
				return response.Automatic(seen), nil
			})
		},
	}
	d := NewDriver(instance(t, def), stringTransformer(nil))

	out, err := d.Unary(context.Background(), event.Of(event.Request(query(nil))))
	require.NoError(t, err)
	assert.Equal(t, 5, seen)
	assert.Equal(t, "final:5", out, "automatic closes a unary exchange")
}

func TestUnaryWithoutContent(t *testing.T) {
	def := delegate.Definition[string]{
		Name: "silent",
		Build: func(*delegate.Builder) delegate.Handler[string] {
			return delegate.HandlerFunc[string](func(context.Context, delegate.Input) (response.Action[string], error) {
				return response.Nothing[string](), nil
			})
		},
	}

	t.Run("abort reports missing content", func(t *testing.T) {
		d := NewDriver(instance(t, def), stringTransformer(nil))
		_, err := d.Unary(context.Background(), event.Of(event.Request(query(nil))))
		require.Error(t, err)
		assert.Equal(t, errspkg.KindServerError, errspkg.KindOf(err))
		assert.Contains(t, err.Error(), "Missing Content")
	})

	t.Run("ignore is not possible without a later event", func(t *testing.T) {
		d := NewDriver(instance(t, def), stringTransformer(func(error) ErrorStrategy[string] { return Ignore[string]() }))
		_, err := d.Unary(context.Background(), event.Of(event.Request(query(nil))))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unhandled Error")
	})

	t.Run("graceful recovers with a value", func(t *testing.T) {
		d := NewDriver(instance(t, def), stringTransformer(func(err error) ErrorStrategy[string] {
			return Graceful(errspkg.As(err).StandardMessage())
		}))
		out, err := d.Unary(context.Background(), event.Of(event.Request(query(nil))))
		require.NoError(t, err)
		assert.Equal(t, "Unexpected Server Error: Missing Content", out)
	})

	t.Run("end is a valid unary result", func(t *testing.T) {
		ender := delegate.Definition[string]{
			Name: "ender",
			Build: func(*delegate.Builder) delegate.Handler[string] {
				return delegate.HandlerFunc[string](func(context.Context, delegate.Input) (response.Action[string], error) {
					return response.End[string](), nil
				})
			},
		}
		d := NewDriver(instance(t, ender), stringTransformer(nil))
		out, err := d.Unary(context.Background(), event.Of(event.Request(query(nil))))
		require.NoError(t, err)
		assert.Equal(t, "<end>", out)
	})
}

func TestUnaryWithoutRequest(t *testing.T) {
	d := NewDriver(instance(t, echoDefinition()), stringTransformer(nil))
	_, err := d.Unary(context.Background(), event.Of())
	assert.ErrorIs(t, err, errspkg.ErrInvalidEventSequence)
}

func countingDefinition(emitEach bool) delegate.Definition[int] {
	return delegate.Definition[int]{
		Name: "sum",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			n := delegate.Parameter[int](b, "n")
			sum := 0
			return delegate.HandlerFunc[int](func(_ context.Context, in delegate.Input) (response.Action[int], error) {
				if in.State() == connection.End {
					return response.Final(sum), nil
				}
				sum += n.Value(in)
				if emitEach {
					return response.Send(sum), nil
				}
				return response.Nothing[int](), nil
			})
		},
	}
}

func clientMessages(values ...string) *event.Static {
	events := make([]event.Event, 0, len(values)+1)
	for _, v := range values {
		events = append(events, event.Request(query(url.Values{"n": {v}})))
	}
	return event.Of(append(events, event.End())...)
}

func TestClientStreamSingleFinalResponse(t *testing.T) {
	d := NewDriver(instance(t, countingDefinition(false)), stringTransformer(nil))

	out, err := d.ClientStream(context.Background(), clientMessages("1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, "final:6", out, "end re-evaluates the latest request")
}

func TestClientStreamMoreThanOneResponse(t *testing.T) {
	fw := &recordingForwarder{}
	d := NewDriver(instance(t, countingDefinition(true)), stringTransformer(nil), WithErrorForwarder(fw))

	_, err := d.ClientStream(context.Background(), clientMessages("1", "2", "3"))
	assert.ErrorIs(t, err, errspkg.ErrMoreThanOneResponse)
	assert.Contains(t, fw.all(), error(errspkg.ErrMoreThanOneResponse))
}

func TestClientStreamRecoversFromBadMessage(t *testing.T) {
	fw := &recordingForwarder{}
	d := NewDriver(instance(t, countingDefinition(false)), stringTransformer(func(error) ErrorStrategy[string] {
		return Ignore[string]()
	}), WithErrorForwarder(fw))

	out, err := d.ClientStream(context.Background(), clientMessages("1", "oops", "4"))
	require.NoError(t, err)
	assert.Equal(t, "final:5", out)
	require.Len(t, fw.all(), 1)
	assert.Equal(t, errspkg.KindBadInput, errspkg.KindOf(fw.all()[0]))
}

func counterDefinition(source *delegate.Published[int], limit int) delegate.Definition[int] {
	return delegate.Definition[int]{
		Name: "counter",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			counter := delegate.Observe(b, func() *delegate.Published[int] { return source })
			return delegate.HandlerFunc[int](func(_ context.Context, in delegate.Input) (response.Action[int], error) {
				v := counter.Value().Get()
				if limit > 0 && v >= limit {
					return response.Final(v), nil
				}
				return response.Automatic(v), nil
			})
		},
	}
}

func TestBidirectionalRequestsAndTriggers(t *testing.T) {
	source := delegate.NewPublished(0)
	ev := instance(t, counterDefinition(source, 0))
	requests := make(chan request.Request)
	seq := event.Subscribe(context.Background(), requests, ev)

	out := NewDriver(ev, stringTransformer(nil)).Bidirectional(context.Background(), seq)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	requests <- query(nil)
	first, err := out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", first)

	source.Set(1)
	second, err := out.Next(ctx)
	require.NoError(t, err)
	source.Set(2)
	third, err := out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, []string{second, third})

	close(requests)
	rest, err := collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"final:2"}, rest)

	source.Set(3)
	assert.Zero(t, seq.Pending(), "closing response cancelled the observation")
}

func TestBidirectionalGuardRerunsForTriggers(t *testing.T) {
	source := delegate.NewPublished(0)
	guardCalls := 0
	var mu sync.Mutex
	handled := false

	def := delegate.Definition[int]{
		Name: "locked",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			counter := delegate.Observe(b, func() *delegate.Published[int] { return source })
			b.Guard(delegate.GuardFunc(func(context.Context, delegate.Input) error {
				mu.Lock()
				guardCalls++
				mu.Unlock()
				return errspkg.New(errspkg.KindForbidden, "locked")
			}))
			return delegate.HandlerFunc[int](func(context.Context, delegate.Input) (response.Action[int], error) {
				handled = true
				return response.Send(counter.Value().Get()), nil
			})
		},
	}
	ev := instance(t, def)
	fw := &recordingForwarder{}
	requests := make(chan request.Request)
	seq := event.Subscribe(context.Background(), requests, ev)
	out := NewDriver(ev, stringTransformer(func(error) ErrorStrategy[string] { return Ignore[string]() }),
		WithErrorForwarder(fw)).Bidirectional(context.Background(), seq)

	requests <- query(nil)
	require.Eventually(t, func() bool { return len(fw.all()) == 1 }, time.Second, 5*time.Millisecond)
	source.Set(1)
	require.Eventually(t, func() bool { return len(fw.all()) == 2 }, time.Second, 5*time.Millisecond)

	seq.Cancel()
	values, err := collect(t, out)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.False(t, handled)
	mu.Lock()
	assert.Equal(t, 2, guardCalls)
	mu.Unlock()
	for _, err := range fw.all() {
		assert.Equal(t, errspkg.KindForbidden, errspkg.KindOf(err))
	}
}

func TestServiceStream(t *testing.T) {
	source := delegate.NewPublished(0)
	ev := instance(t, counterDefinition(source, 2))
	requests := make(chan request.Request, 1)
	requests <- query(nil)
	close(requests)
	seq := event.Subscribe(context.Background(), requests, ev)

	d := NewDriver(ev, TransformerFuncs[string]{
		TransformFunc: func(_ context.Context, r response.Response[response.Erased]) (string, error) {
			c, _ := r.Content()
			return fmt.Sprintf("%v/%s", c.Value, r.ConnectionEffect), nil
		},
	})
	out := d.ServiceStream(context.Background(), seq)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0/close", first, "automatic closes once the single request was received")
}

func TestServiceStreamWithSend(t *testing.T) {
	source := delegate.NewPublished(0)
	def := delegate.Definition[int]{
		Name: "ticker",
		Build: func(b *delegate.Builder) delegate.Handler[int] {
			counter := delegate.Observe(b, func() *delegate.Published[int] { return source })
			return delegate.HandlerFunc[int](func(context.Context, delegate.Input) (response.Action[int], error) {
				v := counter.Value().Get()
				if v >= 2 {
					return response.Final(v), nil
				}
				return response.Send(v), nil
			})
		},
	}
	ev := instance(t, def)
	requests := make(chan request.Request, 1)
	requests <- query(nil)
	close(requests)
	seq := event.Subscribe(context.Background(), requests, ev)
	out := NewDriver(ev, stringTransformer(nil)).ServiceStream(context.Background(), seq)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", first)

	source.Set(1)
	source.Set(2)
	rest, err := collect(t, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "final:2"}, rest)
}

func TestServiceStreamRejectsSecondRequest(t *testing.T) {
	def := delegate.Definition[string]{
		Name: "sender",
		Build: func(b *delegate.Builder) delegate.Handler[string] {
			name := delegate.Parameter[string](b, "name")
			return delegate.HandlerFunc[string](func(_ context.Context, in delegate.Input) (response.Action[string], error) {
				return response.Send("hi " + name.Value(in)), nil
			})
		},
	}
	fw := &recordingForwarder{}
	d := NewDriver(instance(t, def), stringTransformer(nil), WithErrorForwarder(fw))
	out := d.ServiceStream(context.Background(), event.Of(
		event.Request(query(url.Values{"name": {"a"}})),
		event.Request(query(url.Values{"name": {"b"}})),
	))

	values, err := collect(t, out)
	assert.ErrorIs(t, err, errspkg.ErrMoreThanOneRequest)
	assert.Equal(t, []string{"hi a"}, values)
	assert.Equal(t, []error{errspkg.ErrMoreThanOneRequest}, fw.all())
}

func TestStreamAbortStrategy(t *testing.T) {
	failure := errors.New("boom")
	def := delegate.Definition[string]{
		Name: "fails",
		Build: func(*delegate.Builder) delegate.Handler[string] {
			return delegate.HandlerFunc[string](func(context.Context, delegate.Input) (response.Action[string], error) {
				return response.Action[string]{}, failure
			})
		},
	}
	d := NewDriver(instance(t, def), stringTransformer(nil))
	_, err := collect(t, d.Bidirectional(context.Background(), event.Of(event.Request(query(nil)), event.End())))
	assert.ErrorIs(t, err, failure)
}

func TestStreamCompleteStrategy(t *testing.T) {
	def := delegate.Definition[string]{
		Name: "fails",
		Build: func(*delegate.Builder) delegate.Handler[string] {
			return delegate.HandlerFunc[string](func(context.Context, delegate.Input) (response.Action[string], error) {
				return response.Action[string]{}, errors.New("stop here")
			})
		},
	}
	d := NewDriver(instance(t, def), stringTransformer(func(error) ErrorStrategy[string] { return Complete[string]() }))
	values, err := collect(t, d.Bidirectional(context.Background(), event.Of(event.Request(query(nil)), event.End())))
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestRunSingleResponsePatterns(t *testing.T) {
	d := NewDriver(instance(t, echoDefinition()), stringTransformer(nil))
	values, err := collect(t, d.Run(context.Background(), Unary, event.Of(event.Request(query(url.Values{"name": {"go"}})))))
	require.NoError(t, err)
	assert.Equal(t, []string{"final:hi go"}, values)

	failing := NewDriver(instance(t, echoDefinition()), stringTransformer(nil))
	_, err = collect(t, failing.Run(context.Background(), ClientStream, event.Of(event.Request(query(nil)), event.End())))
	assert.Equal(t, errspkg.KindBadInput, errspkg.KindOf(err))
}

func TestPatternStrings(t *testing.T) {
	for _, p := range []Pattern{Unary, ClientStream, ServiceStream, Bidirectional} {
		parsed, ok := ParsePattern(p.String())
		require.True(t, ok)
		assert.Equal(t, p, parsed)
	}
	p, ok := ParsePattern("client-stream")
	assert.True(t, ok)
	assert.Equal(t, ClientStream, p)
	_, ok = ParsePattern("broadcast")
	assert.False(t, ok)
	assert.True(t, Bidirectional.ClientStreams())
	assert.False(t, ServiceStream.ClientStreams())
	assert.True(t, ServiceStream.ServiceStreams())
}
