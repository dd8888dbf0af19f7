package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/evalflow/internal/runtime/config"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	exporterpkg "github.com/drblury/evalflow/internal/runtime/exporter"
	msgexporter "github.com/drblury/evalflow/internal/runtime/exporter/message"
	"github.com/drblury/evalflow/internal/runtime/exporter/rest"
	"github.com/drblury/evalflow/internal/runtime/exporter/websocket"
	loggingpkg "github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/evalflow/internal/runtime/transport"
)

const shutdownTimeout = 5 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default router middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default router middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Hooks run around every evaluation of every endpoint.
	Hooks EvaluationHooks
	// ErrorForwarder receives every evaluation error next to the service logger.
	ErrorForwarder evaluation.ErrorForwarder
	// Registerer receives the Prometheus collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Environment is injected into every delegate instance.
	Environment metadata.Information
	// Exporters are served next to the configured REST, WebSocket and message exporters.
	Exporters []exporterpkg.Exporter
}

// Service owns the endpoint registry and the exporters serving it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps ServiceDependencies

	transport  transportpkg.Transport
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	exporters []exporterpkg.Exporter
	rest      *rest.Exporter
	websocket *websocket.Exporter
	messages  *msgexporter.Exporter

	hooks     EvaluationHooks
	metrics   *EvaluationMetrics
	forwarder evaluation.ErrorForwarder

	endpoints     []*EndpointInfo
	endpointIndex map[string]*EndpointInfo
	endpointsMu   sync.RWMutex

	httpServers   map[int]chi.Router
	httpServersMu sync.Mutex

	resourceTracker *resourceTracker
}

// NewService constructs a Service for the supplied configuration. Register
// endpoints on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if conf == nil {
		panic(errspkg.ErrConfigRequired)
	}
	if log == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating evalflow service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		deps:            deps,
		hooks:           deps.Hooks,
		endpointIndex:   make(map[string]*EndpointInfo),
		resourceTracker: newResourceTracker(),
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}
	s.transport = transport
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	log.Info("Transport ready", loggingpkg.LogFields{
		"capabilities": transportpkg.Capabilities(conf),
	})

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	s.registerConfiguredMiddlewares(deps)
	s.setupMetrics()
	s.forwarder = s.buildForwarder()
	if err := s.setupExporters(); err != nil {
		panic(err)
	}

	return s
}

// Start serves every HTTP port and runs the router until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.StartWebUIServer()
	stop := s.startHTTPServers()
	defer stop()
	if s.transport.Start != nil {
		go s.startTransport()
	}

	err := routerRun(s.router, ctx)
	if closeErr := s.transport.Close(); closeErr != nil {
		s.Logger.Error("Failed to close transport", closeErr, nil)
	}
	return err
}

// Close releases the transport of a Service that was never started. Start
// closes it on its own.
func (s *Service) Close() error {
	return s.transport.Close()
}

func (s *Service) startTransport() {
	<-s.router.Running()
	if err := s.transport.Start(); err != nil {
		s.Logger.Error("Transport stopped", err, loggingpkg.LogFields{"pubsub_system": s.Conf.PubSubSystem})
	}
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) setupMetrics() {
	if !s.Conf.MetricsEnabled {
		return
	}
	s.metrics = NewEvaluationMetrics(s.registerer())
	if err := s.metrics.Register(); err != nil {
		panic(err)
	}
	if s.Conf.MetricsPort > 0 {
		handler := promhttp.Handler()
		if gatherer, ok := s.registerer().(prometheus.Gatherer); ok {
			handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", handler)
	}
}

func (s *Service) buildForwarder() evaluation.ErrorForwarder {
	forwarders := []evaluation.ErrorForwarder{
		evaluation.LoggingForwarder(s.Logger, loggingpkg.LogFields{"component": "evaluation"}),
	}
	if s.metrics != nil {
		forwarders = append(forwarders, evaluation.ErrorForwarderFunc(s.metrics.RecordForwarded))
	}
	forwarders = append(forwarders, s.deps.ErrorForwarder)
	return evaluation.MultiForwarder(forwarders...)
}

func (s *Service) setupExporters() error {
	conf := s.Conf
	if conf.RESTEnabled {
		s.rest = rest.New(s.Logger,
			rest.WithErrorForwarder(s.forwarder),
			rest.WithBufferSize(conf.StreamBufferSize),
			rest.WithMaxBodyBytes(conf.RESTMaxBodyBytes),
			rest.WithDropReporter(s.recordDropped),
			rest.WithInfo(s.serviceName(), "1.0.0"),
		)
		s.exporters = append(s.exporters, s.rest)
		s.RegisterHTTPHandler(s.restPort(), "/", s.rest.Handler())
	}
	if conf.WebSocketEnabled {
		s.websocket = websocket.New(s.Logger,
			websocket.WithErrorForwarder(s.forwarder),
			websocket.WithBufferSize(conf.StreamBufferSize),
			websocket.WithDropReporter(s.recordDropped),
		)
		s.exporters = append(s.exporters, s.websocket)
		port, prefix := conf.WebSocketPort, "/"
		if port == 0 {
			port, prefix = s.restPort(), "/ws/"
		}
		s.RegisterHTTPHandler(port, prefix, s.websocket.Handler())
	}
	if conf.MessageEnabled {
		messages, err := msgexporter.New(s.router, s.subscriber, s.publisher, s.Logger,
			msgexporter.WithErrorForwarder(s.forwarder),
			msgexporter.WithReplySuffix(conf.MessageReplySuffix),
		)
		if err != nil {
			return err
		}
		s.messages = messages
		s.exporters = append(s.exporters, messages)
	}
	for _, exp := range s.deps.Exporters {
		if exp == nil {
			return errspkg.ErrExporterRequired
		}
		s.exporters = append(s.exporters, exp)
	}
	return nil
}

// Register exports ep through every exporter supporting its pattern.
func (s *Service) Register(ep exporterpkg.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	s.endpointsMu.Lock()
	defer s.endpointsMu.Unlock()

	if _, exists := s.endpointIndex[ep.Name]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrEndpointExists, ep.Name)
	}

	info := &EndpointInfo{
		Name:    ep.Name,
		Pattern: ep.Pattern.String(),
		Stats:   newEndpointStats(s.resourceTracker),
	}
	for _, exp := range s.exporters {
		instrumented := ep
		instrumented.Middlewares = append(s.instrument(info, exp.Type()), ep.Middlewares...)
		err := exp.Export(instrumented)
		if errors.Is(err, errspkg.ErrUnsupportedPattern) {
			s.Logger.Debug("Exporter skipped endpoint", loggingpkg.EndpointFields(ep.Name, exp.Type()).Merge(
				loggingpkg.LogFields{loggingpkg.FieldPattern: ep.Pattern.String()},
			))
			continue
		}
		if err != nil {
			return fmt.Errorf("export %s via %s: %w", ep.Name, exp.Type(), err)
		}
		info.Exporters = append(info.Exporters, exp.Type())
		switch exp.Type() {
		case rest.Type:
			info.Path, info.Method = ep.RoutePath(), ep.RouteMethod()
		case msgexporter.Type:
			info.Topic = ep.TopicName()
		}
	}

	s.endpoints = append(s.endpoints, info)
	s.endpointIndex[ep.Name] = info
	return nil
}

// Endpoints lists the registered endpoints in registration order.
func (s *Service) Endpoints() []*EndpointInfo {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	return append([]*EndpointInfo(nil), s.endpoints...)
}

// Endpoint looks up a registered endpoint by name.
func (s *Service) Endpoint(name string) (*EndpointInfo, bool) {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	info, ok := s.endpointIndex[name]
	return info, ok
}

func (s *Service) recordDropped(endpoint, exporter string, dropped uint64) {
	if info, ok := s.Endpoint(endpoint); ok {
		info.Stats.onDropped(dropped)
	}
	if s.metrics != nil {
		s.metrics.RecordDropped(endpoint, exporter, dropped)
	}
	s.Logger.Info("Stream values dropped", loggingpkg.EndpointFields(endpoint, exporter).Merge(
		loggingpkg.LogFields{"dropped": dropped},
	))
}

// Publisher exposes the transport publisher, for example to feed observed topics.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Subscriber exposes the transport subscriber.
func (s *Service) Subscriber() message.Subscriber { return s.subscriber }

// Environment is the information injected into every delegate instance.
func (s *Service) Environment() metadata.Information { return s.deps.Environment }

func (s *Service) serviceName() string {
	if s.Conf.ServiceName != "" {
		return s.Conf.ServiceName
	}
	return configpkg.DefaultServiceName
}

func (s *Service) restPort() int {
	if s.Conf.RESTPort > 0 {
		return s.Conf.RESTPort
	}
	return configpkg.DefaultRESTPort
}

// RegisterHTTPHandler serves handler on port. Patterns ending in a slash
// mount handler below that prefix.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]chi.Router)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = chi.NewRouter()
		s.httpServers[port] = mux
	}

	if strings.HasSuffix(pattern, "/") {
		prefix := strings.TrimSuffix(pattern, "/")
		if prefix == "" {
			prefix = "/"
		}
		mux.Mount(prefix, handler)
		return
	}
	mux.Handle(pattern, handler)
}

// startHTTPServers listens on every registered port. The returned function
// shuts the servers down.
func (s *Service) startHTTPServers() func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}
	}
}
