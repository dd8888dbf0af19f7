package transport

// Capabilities describes the delivery guarantees of a backend. Message
// endpoints are only unary, so the interesting questions are whether a
// failed evaluation can be redelivered and how large a reply may grow.
type Capabilities struct {
	Name string

	// Ordered reports that messages of one topic arrive in publish order.
	Ordered bool
	// Acknowledged reports that consumers acknowledge messages explicitly.
	Acknowledged bool
	// Redelivery reports that a nacked message is delivered again.
	Redelivery bool
	// Durable reports that messages survive a restart of the consumer.
	Durable bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// ReliableDelivery reports at-least-once delivery.
func (c Capabilities) ReliableDelivery() bool {
	return c.Acknowledged && c.Redelivery
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Capability sets of the built-in backends.
var (
	ChannelCapabilities = Capabilities{
		Name:         "channel",
		Ordered:      true,
		Acknowledged: true,
		Redelivery:   true,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Ordered:        true,
		Acknowledged:   true,
		Durable:        true,
		MaxMessageSize: 1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Ordered:      true,
		Acknowledged: true,
		Redelivery:   true,
		Durable:      true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1 << 20,
	}

	JetStreamCapabilities = Capabilities{
		Name:           "nats-jetstream",
		Ordered:        true,
		Acknowledged:   true,
		Redelivery:     true,
		Durable:        true,
		MaxMessageSize: 1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Acknowledged:   true,
		Redelivery:     true,
		Durable:        true,
		MaxMessageSize: 256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// CapabilitiesOf returns the capabilities registered for name with the
// default registry.
func CapabilitiesOf(name string) Capabilities {
	return DefaultRegistry.Capabilities(name)
}
