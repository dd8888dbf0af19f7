// Package evalflow serves delegate based endpoints over several protocols at
// once. A delegate declares its parameters, guards and observed objects while
// it is built; the runtime resolves the parameters from each incoming request,
// evaluates the delegate for every event of a connection and shapes the
// results according to the endpoint's communication pattern (unary, client
// stream, service stream or bidirectional).
//
// Service hosts the endpoint registry and the exporters that serve it: REST
// (with an OpenAPI document), WebSocket and message endpoints on a Watermill
// router. The transport carrying message endpoints and observed topics is read
// from Config (Kafka, RabbitMQ, AWS SNS/SQS, NATS, NATS JetStream, HTTP or Go
// Channels). A minimal setup involves filling Config, creating a Service,
// registering endpoints with RegisterEndpoint and calling Start.
//
// # Transports
//
// evalflow supports 7 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: Core NATS messaging
//   - nats-jetstream: Durable NATS streams with explicit acknowledgement
//   - http: Request/response messaging
//
// # Instrumentation
//
// Every evaluation passes through OpenTelemetry tracing, the EvaluationHooks
// of ServiceDependencies, the per endpoint statistics shown by the WebUI and,
// when enabled, Prometheus collectors. Message endpoints additionally run
// behind the default router middleware chain: correlation IDs, logging,
// tracing, metrics, timeouts, retries with exponential backoff, poison queue
// forwarding and panic recovery.
//
// ServiceDependencies also accepts custom exporters, an error forwarder, a
// Prometheus registerer and an entire TransportFactory to plug in other
// brokers.
package evalflow
