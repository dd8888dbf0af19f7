package runtime

import (
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	exporterpkg "github.com/drblury/evalflow/internal/runtime/exporter"
)

// EndpointOption customises an endpoint before it is exported.
type EndpointOption func(*exporterpkg.Endpoint)

// WithPath overrides the REST route, "/<name>" by default.
func WithPath(path string) EndpointOption {
	return func(ep *exporterpkg.Endpoint) { ep.Path = path }
}

// WithMethod overrides the REST method.
func WithMethod(method string) EndpointOption {
	return func(ep *exporterpkg.Endpoint) { ep.Method = method }
}

// WithTopic overrides the topic consumed by the message exporter.
func WithTopic(topic string) EndpointOption {
	return func(ep *exporterpkg.Endpoint) { ep.Topic = topic }
}

// WithMiddlewares wraps every evaluation of the endpoint. They run inside
// the service instrumentation.
func WithMiddlewares(middlewares ...evaluation.Middleware) EndpointOption {
	return func(ep *exporterpkg.Endpoint) {
		ep.Middlewares = append(ep.Middlewares, middlewares...)
	}
}

// WithErrorForwarder receives the endpoint's evaluation errors next to the
// service forwarder.
func WithErrorForwarder(f evaluation.ErrorForwarder) EndpointOption {
	return func(ep *exporterpkg.Endpoint) { ep.Forwarder = f }
}

// RegisterEndpoint defines an endpoint for def and exports it through every
// exporter of svc that supports pattern.
func RegisterEndpoint[O any](svc *Service, def delegate.Definition[O], pattern evaluation.Pattern, opts ...EndpointOption) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	ep := exporterpkg.Define(def, pattern, svc.Environment())
	for _, opt := range opts {
		if opt != nil {
			opt(&ep)
		}
	}
	return svc.Register(ep)
}
