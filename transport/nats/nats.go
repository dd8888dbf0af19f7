// Package nats carries message endpoints over core NATS. Subscribers join a
// queue group so that replicas of a service share the requests of one topic.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/evalflow/transport"
)

const (
	TransportName = "nats"

	// QueueGroupPrefix prefixes the queue group of every subscription.
	QueueGroupPrefix = "evalflow"
)

// PublisherFactory and SubscriberFactory are replaced in tests.
var (
	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

func init() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := []natsgo.Option{natsgo.Name(QueueGroupPrefix)}
	core := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		NatsOptions: options,
		Marshaler:   marshaler,
		JetStream:   core,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:              url,
		NatsOptions:      options,
		Unmarshaler:      marshaler,
		QueueGroupPrefix: QueueGroupPrefix,
		JetStream:        core,
	}, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}
	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
