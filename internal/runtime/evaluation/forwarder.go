package evaluation

import (
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/logging"
)

// ErrorForwarder receives every decoding and evaluation error so exporters
// can map it onto their wire representation.
type ErrorForwarder interface {
	Forward(err error)
}

// ErrorForwarderFunc adapts a function to ErrorForwarder.
type ErrorForwarderFunc func(err error)

func (f ErrorForwarderFunc) Forward(err error) { f(err) }

type nopForwarder struct{}

func (nopForwarder) Forward(error) {}

// NopForwarder discards errors.
func NopForwarder() ErrorForwarder { return nopForwarder{} }

// LoggingForwarder logs forwarded errors with their kind.
func LoggingForwarder(logger logging.ServiceLogger, fields logging.LogFields) ErrorForwarder {
	return ErrorForwarderFunc(func(err error) {
		f := logging.LogFields{logging.FieldErrorKind: errspkg.KindOf(err).String()}
		for k, v := range fields {
			f[k] = v
		}
		logger.Error("Evaluation error forwarded", err, f)
	})
}

// MultiForwarder forwards to each non-nil forwarder in order.
func MultiForwarder(forwarders ...ErrorForwarder) ErrorForwarder {
	var active []ErrorForwarder
	for _, f := range forwarders {
		if f != nil {
			active = append(active, f)
		}
	}
	return ErrorForwarderFunc(func(err error) {
		for _, f := range active {
			f.Forward(err)
		}
	})
}
