// Package rabbitmq carries message endpoints over AMQP. Every topic maps to a
// durable queue so that replicas of a service compete for requests.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/evalflow/transport"
)

const TransportName = "rabbitmq"

// ConnectionFactory, PublisherFactory and SubscriberFactory are replaced in tests.
var (
	ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

func init() {
	transport.Register(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build shares one reconnecting connection between publisher and subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("rabbitmq: URL is required")
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	queues := amqp.NewDurableQueueConfig(url)
	publisher, err := PublisherFactory(queues, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}
	subscriber, err := SubscriberFactory(queues, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}
	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
