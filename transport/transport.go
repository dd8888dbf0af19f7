// Package transport builds the watermill publisher and subscriber pairs that
// carry message endpoints and observed topics. Each backend lives in its own
// sub-package and registers itself with the registry from an init function.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a Builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Start is optional. It is called once the router has subscribed every
	// handler and blocks while the backend serves.
	Start func() error
}

// Close closes both halves. A pub/sub that serves as both is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && !sameInstance(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

func sameInstance(pub message.Publisher, sub message.Subscriber) bool {
	other, ok := sub.(message.Publisher)
	return ok && pub != nil && other == pub
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read, so that backends don't
// depend on the full configuration package.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
