// Package transporttest provides fixtures for testing transport backends.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c Config) GetNATSURL() string            { return c.NATSURL }
func (c Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c Config) GetAWSRegion() string          { return c.AWSRegion }
func (c Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// PubSub records published messages and counts Close calls.
type PubSub struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Closed    int
}

func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

func (p *PubSub) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}
