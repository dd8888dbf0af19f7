// Package logging defines the logger every evalflow component writes to and
// adapters from slog, Watermill and entry style loggers.
package logging

// LogFields are structured key/value pairs attached to a log line.
type LogFields map[string]any

// Field keys shared by components logging about endpoints.
const (
	FieldEndpoint   = "endpoint"
	FieldExporter   = "exporter"
	FieldPattern    = "pattern"
	FieldTopic      = "topic"
	FieldDurationMS = "duration_ms"
	FieldErrorKind  = "error_kind"
)

// Merge returns a new set holding f overlaid with extra. Neither input is
// modified.
func (f LogFields) Merge(extra LogFields) LogFields {
	if len(f) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(LogFields, len(f)+len(extra))
	for k, v := range f {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// ServiceLogger is the logging contract of the service, its exporters and
// the evaluation drivers. Its levels match Watermill's so the router logs
// through the same logger.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// EndpointFields identifies an endpoint and, when not empty, the exporter
// serving it.
func EndpointFields(endpoint, exporter string) LogFields {
	fields := LogFields{FieldEndpoint: endpoint}
	if exporter != "" {
		fields[FieldExporter] = exporter
	}
	return fields
}

// ForEndpoint scopes log to one endpoint served by exporter.
func ForEndpoint(log ServiceLogger, endpoint, exporter string) ServiceLogger {
	return log.With(EndpointFields(endpoint, exporter))
}
