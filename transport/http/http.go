// Package http carries message endpoints as HTTP POST requests. Each topic is
// served below HTTPServerAddress and published to HTTPPublisherURL + topic.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/evalflow/transport"
)

const TransportName = "http"

// PublisherFactory and SubscriberFactory are replaced in tests.
var (
	PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return http.NewSubscriber(addr, cfg, logger)
	}
)

func init() {
	transport.Register(TransportName, Build, transport.HTTPCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetHTTPServerAddress()
	if addr == "" {
		return transport.Transport{}, errors.New("http: server address is required")
	}
	base := cfg.GetHTTPPublisherURL()
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(base+topic, msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(addr, http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}

	t := transport.Transport{Publisher: publisher, Subscriber: subscriber}
	if server, ok := subscriber.(*http.Subscriber); ok {
		t.Start = func() error {
			if err := server.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
	return t, nil
}
