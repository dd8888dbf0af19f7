// Package request resolves handler parameters from protocol agnostic requests.
package request

import (
	"context"
	sterrors "errors"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/metadata"
)

// ErrNoValuePresent is returned by RetrieveParameter when the wire request
// does not carry the parameter at all. Any other error means the value is
// present but malformed.
var ErrNoValuePresent = sterrors.New("evalflow: no value present")

// Request is what exporters adapt their wire requests into.
type Request interface {
	RetrieveParameter(desc *Descriptor) (any, error)
	Information() metadata.Information
	RemoteAddress() string
	Context() context.Context
}

// Resolve retrieves one parameter. An absent value falls back to the
// default, then to nil for optional parameters, and otherwise fails with a
// bad input error. Malformed values always fail.
func Resolve(r Request, desc *Descriptor) (any, error) {
	value, err := r.RetrieveParameter(desc)
	switch {
	case err == nil:
		return value, nil
	case sterrors.Is(err, ErrNoValuePresent):
		if v, ok := desc.Default(); ok {
			return v, nil
		}
		if desc.Optional {
			return nil, nil
		}
		return nil, errspkg.New(errspkg.KindBadInput,
			fmt.Sprintf("Didn't retrieve any parameters for a required parameter '%s'.", desc.Name))
	default:
		return nil, malformed(desc, err)
	}
}

// Bind resolves every descriptor and stops at the first failure.
func Bind(r Request, descs []*Descriptor) (Bindings, error) {
	bindings := make(Bindings, len(descs))
	for _, desc := range descs {
		v, err := Resolve(r, desc)
		if err != nil {
			return nil, err
		}
		bindings[desc.ID] = v
	}
	return bindings, nil
}

func malformed(desc *Descriptor, err error) error {
	var typed *errspkg.Error
	if sterrors.As(err, &typed) {
		return typed
	}
	return errspkg.BadInput(fmt.Sprintf("Malformed value for parameter '%s'.", desc.Name), err)
}

// checkType verifies that a decoded value matches the declared type.
func checkType(desc *Descriptor, value any) error {
	if value == nil || desc.Type == nil {
		return nil
	}
	if !reflect.TypeOf(value).AssignableTo(desc.Type) {
		return fmt.Errorf("decoded %T, want %s", value, desc.Type)
	}
	return nil
}
