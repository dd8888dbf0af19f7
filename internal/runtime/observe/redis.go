package observe

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
)

// Redis keeps the latest JSON value published on a Redis pub/sub channel.
type Redis[T any] struct {
	*delegate.Published[T]

	client  redis.UniversalClient
	channel string
	logger  logging.ServiceLogger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedis[T any](client redis.UniversalClient, channel string, initial T, logger logging.ServiceLogger) (*Redis[T], error) {
	if client == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if channel == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Redis[T]{
		Published: delegate.NewPublished(initial),
		client:    client,
		channel:   channel,
		logger:    logger.With(logging.LogFields{"observable": "redis", "channel": channel}),
		ready:     make(chan struct{}),
	}, nil
}

// Ready is closed once the subscription is confirmed by the server.
func (r *Redis[T]) Ready() <-chan struct{} { return r.ready }

// Run listens on the channel until ctx is done.
func (r *Redis[T]) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var value T
			if err := jsoncodec.Unmarshal([]byte(msg.Payload), &value); err != nil {
				r.logger.Error("Dropping undecodable change", err, nil)
				continue
			}
			r.Set(value)
		}
	}
}

// Publish broadcasts v to every observer of the channel, this process
// included.
func (r *Redis[T]) Publish(ctx context.Context, v T) error {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}
