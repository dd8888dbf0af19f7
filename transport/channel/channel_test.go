package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/transport"
	"github.com/drblury/evalflow/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.ChannelCapabilities, transport.CapabilitiesOf(TransportName))
}

func TestBuildDeliversMessages(t *testing.T) {
	tr, err := Build(context.Background(), transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := tr.Subscriber.Subscribe(ctx, "greetings")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("greetings", message.NewMessage("1", []byte(`{"name":"ada"}`))))

	select {
	case msg := <-messages:
		assert.JSONEq(t, `{"name":"ada"}`, string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	t.Cleanup(func() { Factory = original })

	stub := &transporttest.PubSub{}
	var buffer int64
	Factory = func(cfg gochannel.Config, _ watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		buffer = cfg.OutputChannelBuffer
		return stub, stub
	}

	tr, err := Build(context.Background(), transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, stub, tr.Publisher)
	assert.Equal(t, int64(OutputBuffer), buffer)

	require.NoError(t, tr.Close())
	assert.Equal(t, 1, stub.Closed)
}
