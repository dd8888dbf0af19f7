// Package kafka carries message endpoints over Apache Kafka.
package kafka

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/evalflow/transport"
)

const TransportName = "kafka"

// PublisherFactory and SubscriberFactory are replaced in tests.
var (
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

func init() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build connects a publisher and a consumer group subscriber to the
// configured brokers.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errors.New("kafka: no brokers configured")
	}

	pubCfg := kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}
	subCfg := kafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}
	if id := cfg.GetKafkaClientID(); id != "" {
		pubCfg.OverwriteSaramaConfig = kafka.DefaultSaramaSyncPublisherConfig()
		pubCfg.OverwriteSaramaConfig.ClientID = id
		subCfg.OverwriteSaramaConfig = kafka.DefaultSaramaSubscriberConfig()
		subCfg.OverwriteSaramaConfig.ClientID = id
	}

	publisher, err := PublisherFactory(pubCfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	subscriber, err := SubscriberFactory(subCfg, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}
	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
