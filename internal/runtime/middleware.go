package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	msgexporter "github.com/drblury/evalflow/internal/runtime/exporter/message"
	idspkg "github.com/drblury/evalflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/evalflow/internal/runtime/logging"
)

// MiddlewareBuilder constructs a router middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on
// the router serving message endpoints.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = Retryable
	}
	return cfg
}

// Retryable reports whether redelivering a message could change the outcome
// of the evaluation that failed with err.
func Retryable(err error) bool {
	switch errspkg.KindOf(err) {
	case errspkg.KindBadInput, errspkg.KindNotFound, errspkg.KindUnauthenticated, errspkg.KindForbidden:
		return false
	}
	return true
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		TimeoutMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds watermill's Prometheus router metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer(),
				"evalflow",
				s.Conf.PubSubSystem,
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if msg.Metadata.Get(msgexporter.MetadataCorrelationID) == "" {
					msg.Metadata.Set(msgexporter.MetadataCorrelationID, idspkg.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					l.Debug("Processing message", loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"payload":      string(msg.Payload),
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps message handling in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "evalflow.message")
				defer span.End()
				msg.SetContext(ctx)

				span.SetAttributes(
					attribute.String("message.uuid", msg.UUID),
					attribute.String("message.handler", message.HandlerNameFromCtx(ctx)),
					attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
				)
				msgs, err := h(msg)
				if err != nil {
					span.RecordError(err)
				}
				return msgs, err
			}
		},
	}
}

// TimeoutMiddleware cancels the message context after Config.MessageTimeout.
func TimeoutMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf.MessageTimeout <= 0 {
				return nil, nil
			}
			return middleware.Timeout(s.Conf.MessageTimeout), nil
		},
	}
}

// RetryMiddleware retries handler execution using the provided configuration.
// Zero values fall back to the service configuration and then to defaults.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf != nil {
				if cfg.MaxRetries == 0 {
					cfg.MaxRetries = s.Conf.RetryMaxRetries
				}
				if cfg.InitialInterval == 0 {
					cfg.InitialInterval = s.Conf.RetryInitialInterval
				}
				if cfg.MaxInterval == 0 {
					cfg.MaxInterval = s.Conf.RetryMaxInterval
				}
			}
			return retryMiddleware(cfg, s.Logger), nil
		},
	}
}

// PoisonQueueMiddleware publishes messages whose error matches filter to
// Config.PoisonQueue. Without a filter every error that is not retryable is
// moved. Nothing is registered when no poison queue is configured.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf == nil || s.Conf.PoisonQueue == "" {
				return nil, nil
			}
			if s.publisher == nil {
				return nil, errspkg.ErrPublisherRequired
			}
			f := filter
			if f == nil {
				f = func(err error) bool { return !Retryable(err) }
			}
			return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonQueue, f)
		},
	}
}

// RecovererMiddleware converts panics into handler errors so they can be retried or sent to the poison queue.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func retryMiddleware(cfg RetryMiddlewareConfig, logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	retry := middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return normalized.RetryIf(params.Err)
		},
	}
	if logger != nil {
		retry.Logger = loggingpkg.NewWatermillAdapter(logger)
	}
	return retry.Middleware
}

func (s *Service) registerer() prometheus.Registerer {
	if s.deps.Registerer != nil {
		return s.deps.Registerer
	}
	return prometheus.DefaultRegisterer
}
