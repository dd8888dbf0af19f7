// Package exporter defines the contract between endpoints and the protocol
// exporters that serve them.
package exporter

import (
	"strings"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
)

// Exporter serves endpoints over one protocol.
type Exporter interface {
	// Type names the protocol, for example "rest".
	Type() string
	Export(ep Endpoint) error
}

// Endpoint is a handler definition bound to a communication pattern. The
// same endpoint may be exported by several exporters, each one receiving
// its own delegate instances.
type Endpoint struct {
	Name    string
	Pattern evaluation.Pattern
	// Path is the REST route, "/<name>" when empty.
	Path string
	// Method is the REST method. Unary and service streaming endpoints
	// default to GET, client streaming ones to POST.
	Method string
	// Topic is consumed by the message exporter, the endpoint name when
	// empty.
	Topic string

	Middlewares []evaluation.Middleware
	Forwarder   evaluation.ErrorForwarder

	instances func(meta delegate.ExporterMetadata) delegate.InstanceFactory
}

// Define builds an endpoint for def. env is injected into every instance.
func Define[O any](def delegate.Definition[O], pattern evaluation.Pattern, env metadata.Information) Endpoint {
	return Endpoint{
		Name:    def.Name,
		Pattern: pattern,
		instances: func(meta delegate.ExporterMetadata) delegate.InstanceFactory {
			return delegate.NewFactory(def, meta, env)
		},
	}
}

// Validate reports configuration mistakes before an endpoint is exported.
func (ep Endpoint) Validate() error {
	if ep.Name == "" {
		return errspkg.ErrEndpointNameRequired
	}
	if ep.instances == nil {
		return errspkg.ErrHandlerRequired
	}
	return nil
}

// With returns a copy of ep with middlewares appended after the existing
// ones.
func (ep Endpoint) With(middlewares ...evaluation.Middleware) Endpoint {
	chained := make([]evaluation.Middleware, 0, len(ep.Middlewares)+len(middlewares))
	chained = append(chained, ep.Middlewares...)
	ep.Middlewares = append(chained, middlewares...)
	return ep
}

// Instance returns a fresh, activated evaluator for one connection of the
// exporter described by meta, decorated with the endpoint middlewares.
func (ep Endpoint) Instance(meta delegate.ExporterMetadata) (delegate.Evaluator, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	ev, err := ep.instances(meta).Instance()
	if err != nil {
		return nil, err
	}
	return evaluation.Chain(ev, ep.Middlewares...), nil
}

// Descriptors returns the parameters the endpoint's handler declares. It
// builds a throwaway instance.
func (ep Endpoint) Descriptors(meta delegate.ExporterMetadata) ([]*request.Descriptor, error) {
	ev, err := ep.Instance(meta)
	if err != nil {
		return nil, err
	}
	return ev.Descriptors(), nil
}

func (ep Endpoint) RoutePath() string {
	if ep.Path != "" {
		return ep.Path
	}
	return "/" + strings.Trim(ep.Name, "/")
}

func (ep Endpoint) RouteMethod() string {
	if ep.Method != "" {
		return strings.ToUpper(ep.Method)
	}
	if ep.Pattern.ClientStreams() {
		return "POST"
	}
	return "GET"
}

func (ep Endpoint) TopicName() string {
	if ep.Topic != "" {
		return ep.Topic
	}
	return ep.Name
}

// ForwarderOr returns the endpoint forwarder or fallback when none is set.
func (ep Endpoint) ForwarderOr(fallback evaluation.ErrorForwarder) evaluation.ErrorForwarder {
	if ep.Forwarder == nil {
		return fallback
	}
	if fallback == nil {
		return ep.Forwarder
	}
	return evaluation.MultiForwarder(ep.Forwarder, fallback)
}

// DropReporter receives the number of streamed responses an exporter had to
// evict because a client did not keep up.
type DropReporter func(endpoint, exporterType string, dropped uint64)

// Report calls r for non-zero counts. A nil reporter ignores them.
func (r DropReporter) Report(endpoint, exporterType string, dropped uint64) {
	if r == nil || dropped == 0 {
		return
	}
	r(endpoint, exporterType, dropped)
}
