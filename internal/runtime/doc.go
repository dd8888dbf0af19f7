/*
Package runtime hosts evalflow endpoints and serves them over several
protocols at once.

# Architecture Overview

An endpoint is a delegate definition bound to a communication pattern. The
Service hands every registered endpoint to each configured exporter; an
exporter that cannot serve the pattern skips it. Each exporter creates one
delegate instance per connection and drives it through the event sequence of
that connection with the evaluation package.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - The transport publisher and subscriber
  - The Watermill router serving message endpoints
  - REST, WebSocket and message exporters
  - HTTP servers for exporters, metrics and the WebUI
  - The endpoint registry and its statistics

## Endpoint Registration (registration.go)

RegisterEndpoint defines an endpoint from a typed delegate definition and
exports it. Options override the REST route, the consumed topic, add
evaluation middlewares or an endpoint specific error forwarder.

## Instrumentation (instrumentation.go, hooks.go, metrics.go)

Every evaluation, whichever exporter received it, passes through:
  - Tracing: one OpenTelemetry span per evaluation
  - Hooks: user callbacks for start, completion and failure
  - Stats: the counters shown by the WebUI
  - Metrics: Prometheus collectors when metrics are enabled

## Router Middleware (middleware.go)

Message endpoints additionally run behind router middlewares:
  - CorrelationID: Ensures every request carries a correlation id
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry span per consumed message
  - Metrics: Watermill router metrics
  - Timeout: Cancels slow evaluations
  - Retry: Exponential backoff for retryable failures
  - PoisonQueue: Moves permanently failing messages aside
  - Recoverer: Panic recovery

## Stats & Monitoring (models.go, resources.go)

Per endpoint statistics:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error counts per error kind
  - Evaluations per exporter and triggered evaluations
  - Stream values dropped by full buffers
  - Resource usage sampling

## Publishing (publisher.go)

Helpers for sending requests to message endpoints from JSON values or
protobuf messages.

## WebUI (webui.go)

HTTP API for introspecting endpoints, their statistics and the transport.

# Sub-packages

  - config/: Service configuration with validation
  - connection/: Connection state of one exchange
  - delegate/: Delegates, parameters, guards and observed objects
  - errors/: Sentinel errors and the kind based API error
  - evaluation/: Drivers for the four communication patterns
  - event/: Event sequences fed into drivers
  - exporter/: REST, WebSocket and message exporters
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Typed information and message metadata
  - observe/: Observable sources backed by topics and Redis
  - request/: Requests, parameter descriptors and decoding strategies
  - response/: Actions, responses and transformers
  - transport/: Transport selection from configuration

# Usage Example

	cfg := &evalflow.Config{
		PubSubSystem:   "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		RESTEnabled:    true,
		MessageEnabled: true,
	}

	svc := evalflow.NewService(cfg, logger, ctx, evalflow.ServiceDependencies{})

	err := evalflow.RegisterEndpoint(svc, evalflow.Definition[string]{
		Name: "greet",
		Build: func(b *evalflow.Builder) evalflow.Handler[string] {
			name := evalflow.Parameter[string](b, "name")
			return evalflow.HandlerFunc[string](func(ctx context.Context, in evalflow.Input) (evalflow.Action[string], error) {
				return evalflow.Automatic("hello " + name.Value(in)), nil
			})
		},
	}, evalflow.Unary)

	svc.Start(ctx)
*/
package runtime
