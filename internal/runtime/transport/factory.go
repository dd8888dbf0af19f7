// Package transport selects the message backend named by the service
// configuration.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/evalflow/internal/runtime/config"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/transport"
	_ "github.com/drblury/evalflow/transport/transports"
)

type Transport = transport.Transport

// Factory builds the transport for a service.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory builds transports from the default registry.
func DefaultFactory() Factory {
	return FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		if conf == nil {
			return Transport{}, errspkg.ErrConfigRequired
		}
		return transport.Build(ctx, conf, logger)
	})
}

// Capabilities of the backend the configuration selects.
func Capabilities(conf *config.Config) transport.Capabilities {
	if conf == nil {
		return transport.Capabilities{}
	}
	return transport.CapabilitiesOf(conf.PubSubSystem)
}
