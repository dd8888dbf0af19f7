package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/transport"
	"github.com/drblury/evalflow/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.False(t, transport.CapabilitiesOf(TransportName).Ordered)
}

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	pub := &transporttest.PubSub{}
	PublisherFactory = func(cfg nats.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.True(t, cfg.JetStream.Disabled)
		assert.Len(t, cfg.NatsOptions, 1)
		return pub, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, QueueGroupPrefix, cfg.QueueGroupPrefix)
		return &transporttest.PubSub{}, nil
	}

	tr, err := Build(context.Background(), transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)

	SubscriberFactory = func(nats.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.Equal(t, 1, pub.Closed)
}

func TestBuildRequiresURL(t *testing.T) {
	_, err := Build(context.Background(), transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "URL is required")
}
