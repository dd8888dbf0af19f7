// Package channel provides the in-memory transport used for local
// development and tests.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/evalflow/transport"
)

const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer of the in-memory pub/sub.
const OutputBuffer = 64

// Factory is replaced in tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := gochannel.NewGoChannel(cfg, logger)
	return ps, ps
}

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates one pub/sub shared by both halves of the transport.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}
