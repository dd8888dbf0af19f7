// Package observe bridges external change feeds into observable values that
// delegates can watch.
package observe

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
)

// Topic keeps the latest JSON payload received on a watermill topic. Every
// decoded message publishes a change.
type Topic[T any] struct {
	*delegate.Published[T]

	subscriber message.Subscriber
	topic      string
	logger     logging.ServiceLogger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewTopic[T any](subscriber message.Subscriber, topic string, initial T, logger logging.ServiceLogger) (*Topic[T], error) {
	if subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Topic[T]{
		Published:  delegate.NewPublished(initial),
		subscriber: subscriber,
		topic:      topic,
		logger:     logger.With(logging.LogFields{"observable": "topic", logging.FieldTopic: topic}),
		ready:      make(chan struct{}),
	}, nil
}

// Ready is closed once the subscription is established.
func (t *Topic[T]) Ready() <-chan struct{} { return t.ready }

// Run consumes the topic until ctx is done or the subscriber closes.
// Undecodable messages are logged and acked so they are not redelivered.
func (t *Topic[T]) Run(ctx context.Context) error {
	messages, err := t.subscriber.Subscribe(ctx, t.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", t.topic, err)
	}
	t.readyOnce.Do(func() { close(t.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var value T
			if err := jsoncodec.Unmarshal(msg.Payload, &value); err != nil {
				t.logger.Error("Dropping undecodable change", err, logging.LogFields{"message_uuid": msg.UUID})
				msg.Ack()
				continue
			}
			t.Set(value)
			msg.Ack()
			t.logger.Trace("Change observed", logging.LogFields{"message_uuid": msg.UUID})
		}
	}
}
