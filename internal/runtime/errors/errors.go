package errors

import sterrors "errors"

var (
	ErrServiceRequired        = sterrors.New("evalflow: service is required")
	ErrHandlerRequired        = sterrors.New("evalflow: handler builder is required")
	ErrEndpointNameRequired   = sterrors.New("evalflow: endpoint name is required")
	ErrEndpointExists         = sterrors.New("evalflow: endpoint already registered")
	ErrPublisherRequired      = sterrors.New("evalflow: publisher is required")
	ErrSubscriberRequired     = sterrors.New("evalflow: subscriber is required")
	ErrExporterRequired       = sterrors.New("evalflow: exporter is required")
	ErrTopicRequired          = sterrors.New("evalflow: topic is required")
	ErrConfigRequired         = sterrors.New("evalflow: configuration is required")
	ErrLoggerRequired         = sterrors.New("evalflow: logger is required")
	ErrDelegateNotActivated   = sterrors.New("evalflow: delegate evaluated before activation")
	ErrDelegateShared         = sterrors.New("evalflow: delegate instance is already owned by a connection")
	ErrObservedNotActivated   = sterrors.New("evalflow: observed object accessed before activation")
	ErrParameterNotBound      = sterrors.New("evalflow: parameter read outside of an evaluation")
	ErrUnsupportedPattern     = sterrors.New("evalflow: communication pattern not supported by exporter")
	ErrInvalidEventSequence   = sterrors.New("evalflow: invalid event sequence")
	ErrMessagePayloadRequired = sterrors.New("evalflow: message payload is required")
	ErrUnknownTransport       = sterrors.New("evalflow: unknown transport")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "evalflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
