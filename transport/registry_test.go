package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

type stubConfig struct {
	system string
}

func (c stubConfig) GetPubSubSystem() string     { return c.system }
func (stubConfig) GetKafkaBrokers() []string     { return nil }
func (stubConfig) GetKafkaClientID() string      { return "" }
func (stubConfig) GetKafkaConsumerGroup() string { return "" }
func (stubConfig) GetRabbitMQURL() string        { return "" }
func (stubConfig) GetNATSURL() string            { return "" }
func (stubConfig) GetHTTPServerAddress() string  { return "" }
func (stubConfig) GetHTTPPublisherURL() string   { return "" }
func (stubConfig) GetAWSRegion() string          { return "" }
func (stubConfig) GetAWSAccountID() string       { return "" }
func (stubConfig) GetAWSAccessKeyID() string     { return "" }
func (stubConfig) GetAWSSecretAccessKey() string { return "" }
func (stubConfig) GetAWSEndpoint() string        { return "" }

type countingCloser struct {
	closed int
	err    error
}

func (c *countingCloser) Publish(string, ...*message.Message) error { return nil }

func (c *countingCloser) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}

func (c *countingCloser) Close() error {
	c.closed++
	return c.err
}

func channelBuilder(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	return Transport{Publisher: ps, Subscriber: ps}, nil
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memory", channelBuilder, Capabilities{Ordered: true})

	tr, err := reg.Build(context.Background(), stubConfig{system: "Memory"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	require.NoError(t, tr.Close())
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	}, Capabilities{})

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = reg.Build(context.Background(), stubConfig{system: "missing"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTransport)
	assert.Contains(t, err.Error(), "failing")

	_, err = reg.Build(context.Background(), stubConfig{system: "failing"}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.Register("queue", channelBuilder, Capabilities{Acknowledged: true, Redelivery: true})

	caps := reg.Capabilities("QUEUE")
	assert.Equal(t, "queue", caps.Name)
	assert.True(t, caps.ReliableDelivery())

	unknown := reg.Capabilities("nope")
	assert.Equal(t, Capabilities{Name: "nope"}, unknown)
	assert.False(t, unknown.ReliableDelivery())
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"nats", "aws", "kafka"} {
		reg.Register(name, channelBuilder, Capabilities{})
	}
	assert.Equal(t, []string{"aws", "kafka", "nats"}, reg.Names())
	assert.True(t, reg.Has("kafka"))
	assert.False(t, reg.Has("rabbitmq"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("memory", channelBuilder, Capabilities{})
				reg.Has("memory")
				reg.Names()
				reg.Capabilities("memory")
			}
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("memory"))
}

func TestCapabilitiesFits(t *testing.T) {
	assert.True(t, HTTPCapabilities.Fits(10<<20))
	assert.True(t, AWSCapabilities.Fits(256<<10))
	assert.False(t, AWSCapabilities.Fits(256<<10+1))
}

func TestTransportCloseSharedInstance(t *testing.T) {
	shared := &countingCloser{}
	require.NoError(t, Transport{Publisher: shared, Subscriber: shared}.Close())
	assert.Equal(t, 1, shared.closed)

	pub, sub := &countingCloser{}, &countingCloser{err: errors.New("sub")}
	err := Transport{Publisher: pub, Subscriber: sub}.Close()
	assert.EqualError(t, err, "sub")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}
