package evalflow

import (
	"context"

	"github.com/redis/go-redis/v9"

	runtimepkg "github.com/drblury/evalflow/internal/runtime"
	configpkg "github.com/drblury/evalflow/internal/runtime/config"
	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	exporterpkg "github.com/drblury/evalflow/internal/runtime/exporter"
	msgexporter "github.com/drblury/evalflow/internal/runtime/exporter/message"
	idspkg "github.com/drblury/evalflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/evalflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/evalflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/observe"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
	transportpkg "github.com/drblury/evalflow/internal/runtime/transport"
	"github.com/drblury/evalflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	// Delegates
	Definition[O any]                     = delegate.Definition[O]
	Builder                               = delegate.Builder
	Handler[O any]                        = delegate.Handler[O]
	HandlerFunc[O any]                    = delegate.HandlerFunc[O]
	Input                                 = delegate.Input
	Guard                                 = delegate.Guard
	GuardFunc                             = delegate.GuardFunc
	Observable                            = delegate.Observable
	Published[T any]                      = delegate.Published[T]
	ObservedObject[T delegate.Observable] = delegate.ObservedObject[T]
	TriggerEvent                          = delegate.TriggerEvent
	Evaluator                             = delegate.Evaluator

	// Parameters
	ParameterValue[T any]  = request.Parameter[T]
	ParameterOption[T any] = request.Option[T]
	Location               = request.Location

	// Responses
	Action[T any]      = response.Action[T]
	Response[T any]    = response.Response[T]
	Erased             = response.Erased
	ConnectionState    = connection.State
	Pattern            = evaluation.Pattern
	Middleware         = evaluation.Middleware
	Call               = evaluation.Call
	Next               = evaluation.Next
	ErrorForwarder     = evaluation.ErrorForwarder
	ErrorForwarderFunc = evaluation.ErrorForwarderFunc

	Endpoint       = exporterpkg.Endpoint
	Exporter       = exporterpkg.Exporter
	EndpointOption = runtimepkg.EndpointOption
	EndpointInfo   = runtimepkg.EndpointInfo
	EndpointStats  = runtimepkg.EndpointStats

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	EvaluationContext = runtimepkg.EvaluationContext
	EvaluationHooks   = runtimepkg.EvaluationHooks

	Producer = runtimepkg.Producer

	Metadata    = metadatapkg.Metadata
	Information = metadatapkg.Information

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	Error                 = errspkg.Error
	ErrorKind             = errspkg.Kind
	ConfigValidationError = errspkg.ConfigValidationError

	TopicObservable[T any] = observe.Topic[T]
	RedisObservable[T any] = observe.Redis[T]

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

// Communication patterns.
const (
	Unary         = evaluation.Unary
	ClientStream  = evaluation.ClientStream
	ServiceStream = evaluation.ServiceStream
	Bidirectional = evaluation.Bidirectional
)

// Connection states.
const (
	Open = connection.Open
	End  = connection.End
)

// Parameter locations.
const (
	LocationQuery   = request.LocationQuery
	LocationPath    = request.LocationPath
	LocationHeader  = request.LocationHeader
	LocationBody    = request.LocationBody
	LocationContent = request.LocationContent
)

// Error kinds.
const (
	KindOther           = errspkg.KindOther
	KindBadInput        = errspkg.KindBadInput
	KindNotFound        = errspkg.KindNotFound
	KindUnauthenticated = errspkg.KindUnauthenticated
	KindForbidden       = errspkg.KindForbidden
	KindServerError     = errspkg.KindServerError
	KindNotAvailable    = errspkg.KindNotAvailable
)

// Metadata keys of message requests and replies.
const (
	MetadataKeyCorrelationID = msgexporter.MetadataCorrelationID
	MetadataKeyEncoding      = msgexporter.MetadataEncoding
	MetadataKeyEndpoint      = msgexporter.MetadataEndpoint
	MetadataKeyStatus        = msgexporter.MetadataStatus
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	WithPath           = runtimepkg.WithPath
	WithMethod         = runtimepkg.WithMethod
	WithTopic          = runtimepkg.WithTopic
	WithMiddlewares    = runtimepkg.WithMiddlewares
	WithErrorForwarder = runtimepkg.WithErrorForwarder

	Intercept         = evaluation.Intercept
	LoggingMiddleware = evaluation.LoggingMiddleware
	LoggingForwarder  = evaluation.LoggingForwarder
	MultiForwarder    = evaluation.MultiForwarder
	ParsePattern      = evaluation.ParsePattern

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	TimeoutMiddleware       = runtimepkg.TimeoutMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	Retryable               = runtimepkg.Retryable

	HooksMiddleware   = runtimepkg.HooksMiddleware
	TracingMiddleware = runtimepkg.TracingMiddleware
	LoggingHooks      = runtimepkg.LoggingHooks
	AlertingHooks     = runtimepkg.AlertingHooks

	NewError    = errspkg.New
	NewErrorf   = errspkg.Newf
	WrapError   = errspkg.Wrap
	ErrorKindOf = errspkg.KindOf

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	TransportCapabilitiesOf  = transport.CapabilitiesOf

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Decode        = jsoncodec.Decode

	ErrServiceRequired        = errspkg.ErrServiceRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrEndpointNameRequired   = errspkg.ErrEndpointNameRequired
	ErrEndpointExists         = errspkg.ErrEndpointExists
	ErrPublisherRequired      = errspkg.ErrPublisherRequired
	ErrSubscriberRequired     = errspkg.ErrSubscriberRequired
	ErrExporterRequired       = errspkg.ErrExporterRequired
	ErrTopicRequired          = errspkg.ErrTopicRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrUnsupportedPattern     = errspkg.ErrUnsupportedPattern
	ErrMessagePayloadRequired = errspkg.ErrMessagePayloadRequired
	ErrUnknownTransport       = errspkg.ErrUnknownTransport

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// RegisterEndpoint defines an endpoint for def and exports it through every
// exporter of svc that supports pattern.
func RegisterEndpoint[O any](svc *Service, def Definition[O], pattern Pattern, opts ...EndpointOption) error {
	return runtimepkg.RegisterEndpoint(svc, def, pattern, opts...)
}

// DefineEndpoint creates an endpoint for a custom Exporter.
func DefineEndpoint[O any](def Definition[O], pattern Pattern, env Information) Endpoint {
	return exporterpkg.Define(def, pattern, env)
}

// Parameter declares a parameter of the delegate being built.
func Parameter[T any](b *Builder, name string, opts ...ParameterOption[T]) *ParameterValue[T] {
	return delegate.Parameter(b, name, opts...)
}

// Observe declares an observed object whose changes trigger evaluations.
func Observe[T Observable](b *Builder, init func() T) *ObservedObject[T] {
	return delegate.Observe(b, init)
}

func NewPublished[T any](value T) *Published[T] {
	return delegate.NewPublished(value)
}

func WithDefault[T any](value T) ParameterOption[T]  { return request.WithDefault(value) }
func Optional[T any]() ParameterOption[T]            { return request.Optional[T]() }
func Constant[T any]() ParameterOption[T]            { return request.Constant[T]() }
func In[T any](location Location) ParameterOption[T] { return request.In[T](location) }

func Nothing[T any]() Action[T]      { return response.Nothing[T]() }
func Send[T any](v T) Action[T]      { return response.Send(v) }
func Final[T any](v T) Action[T]     { return response.Final(v) }
func Automatic[T any](v T) Action[T] { return response.Automatic(v) }
func EndAction[T any]() Action[T]    { return response.End[T]() }

// ObserveTopic returns an observable holding the latest value published to
// topic on the service transport. Run must be started before the value changes.
func ObserveTopic[T any](svc *Service, topic string, initial T) (*TopicObservable[T], error) {
	if svc == nil {
		return nil, ErrServiceRequired
	}
	return observe.NewTopic(svc.Subscriber(), topic, initial, svc.Logger)
}

// ObserveRedis returns an observable holding the latest JSON value published
// on a Redis pub/sub channel.
func ObserveRedis[T any](client redis.UniversalClient, channel string, initial T, logger ServiceLogger) (*RedisObservable[T], error) {
	return observe.NewRedis(client, channel, initial, logger)
}

// PublishTopic sends value to an observed topic through the service publisher.
func PublishTopic(ctx context.Context, svc *Service, topic string, value any) error {
	if svc == nil {
		return ErrServiceRequired
	}
	return svc.PublishJSON(ctx, topic, value, nil)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
