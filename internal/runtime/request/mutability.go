package request

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

// MutabilityValidator enforces constant parameters across the messages of
// one streaming exchange. Values are compared structurally with
// reflect.DeepEqual. A value is only remembered once a whole message bound
// successfully, so a rejected message never pins a constant.
type MutabilityValidator struct {
	mu        sync.Mutex
	committed map[uuid.UUID]any
}

func NewMutabilityValidator() *MutabilityValidator {
	return &MutabilityValidator{committed: make(map[uuid.UUID]any)}
}

// Validate checks bindings against previously committed constants and
// commits new ones when every parameter passed.
func (v *MutabilityValidator) Validate(descs []*Descriptor, bindings Bindings) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending := make(map[uuid.UUID]any)
	for _, desc := range descs {
		if !desc.Constant {
			continue
		}
		value := bindings[desc.ID]
		if previous, ok := v.committed[desc.ID]; ok {
			if !reflect.DeepEqual(previous, value) {
				return errspkg.New(errspkg.KindBadInput, fmt.Sprintf(
					"Parameter retrieval returned value for constant '%s' even though its value has already been defined.",
					desc.Name))
			}
			continue
		}
		pending[desc.ID] = value
	}
	for id, value := range pending {
		v.committed[id] = value
	}
	return nil
}
