package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/evalflow"
)

// statusTopic carries status updates, either on the service transport or on
// Redis pub/sub when a Redis URL is configured.
const statusTopic = "evalflow.status"

type statusFeed interface {
	evalflow.Observable
	Get() string
	Ready() <-chan struct{}
	Run(ctx context.Context) error
}

func newStatusFeed(svc *evalflow.Service, conf *evalflow.Config) (statusFeed, error) {
	if conf.RedisURL == "" {
		topic, err := evalflow.ObserveTopic(svc, statusTopic, "idle")
		if err != nil {
			return nil, err
		}
		return topic, nil
	}
	opts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	channel, err := evalflow.ObserveRedis(redis.NewClient(opts), statusTopic, "idle", svc.Logger)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func registerDemo(svc *evalflow.Service, feed statusFeed) error {
	if err := evalflow.RegisterEndpoint(svc, greet(), evalflow.Unary,
		evalflow.WithPath("/greet"), evalflow.WithTopic("greet")); err != nil {
		return err
	}
	if err := evalflow.RegisterEndpoint(svc, sum(), evalflow.ClientStream); err != nil {
		return err
	}
	if err := evalflow.RegisterEndpoint(svc, countdown(), evalflow.ServiceStream); err != nil {
		return err
	}
	return evalflow.RegisterEndpoint(svc, status(feed), evalflow.Bidirectional)
}

func greet() evalflow.Definition[string] {
	return evalflow.Definition[string]{
		Name: "greet",
		Build: func(b *evalflow.Builder) evalflow.Handler[string] {
			name := evalflow.Parameter(b, "name", evalflow.WithDefault("world"))
			return evalflow.HandlerFunc[string](func(_ context.Context, in evalflow.Input) (evalflow.Action[string], error) {
				if name.Value(in) == "" {
					return evalflow.Action[string]{}, evalflow.NewError(evalflow.KindBadInput, "name must not be empty")
				}
				return evalflow.Automatic("hello " + name.Value(in)), nil
			})
		},
	}
}

func sum() evalflow.Definition[int] {
	return evalflow.Definition[int]{
		Name: "sum",
		Build: func(b *evalflow.Builder) evalflow.Handler[int] {
			n := evalflow.Parameter(b, "n", evalflow.In[int](evalflow.LocationBody))
			total := 0
			return evalflow.HandlerFunc[int](func(_ context.Context, in evalflow.Input) (evalflow.Action[int], error) {
				if in.State() == evalflow.End {
					return evalflow.Final(total), nil
				}
				total += n.Value(in)
				return evalflow.Nothing[int](), nil
			})
		},
	}
}

// countdown sends from, from-1, ..., 0 and closes the stream.
func countdown() evalflow.Definition[int] {
	return evalflow.Definition[int]{
		Name: "countdown",
		Build: func(b *evalflow.Builder) evalflow.Handler[int] {
			from := evalflow.Parameter(b, "from", evalflow.WithDefault(3))
			ticks := evalflow.Observe(b, func() *evalflow.Published[int] { return evalflow.NewPublished(-1) })
			return evalflow.HandlerFunc[int](func(_ context.Context, in evalflow.Input) (evalflow.Action[int], error) {
				source := ticks.Value()
				if _, triggered := in.Trigger(); !triggered {
					start := from.Value(in)
					if start < 0 {
						return evalflow.Action[int]{}, evalflow.NewErrorf(evalflow.KindBadInput, "from must not be negative, got %d", start)
					}
					go func() {
						for i := start; i >= 0; i-- {
							source.Set(i)
						}
					}()
					return evalflow.Nothing[int](), nil
				}
				v := source.Get()
				if v == 0 {
					return evalflow.Final(0), nil
				}
				return evalflow.Send(v), nil
			})
		},
	}
}

// status pushes the current status on every change of feed until the
// client ends the connection.
func status(feed statusFeed) evalflow.Definition[string] {
	return evalflow.Definition[string]{
		Name: "status",
		Build: func(b *evalflow.Builder) evalflow.Handler[string] {
			current := evalflow.Observe(b, func() statusFeed { return feed })
			return evalflow.HandlerFunc[string](func(_ context.Context, in evalflow.Input) (evalflow.Action[string], error) {
				if in.State() == evalflow.End {
					return evalflow.EndAction[string](), nil
				}
				return evalflow.Send(current.Value().Get()), nil
			})
		},
	}
}
