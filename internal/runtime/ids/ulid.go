// Package ids creates the time ordered identifiers of connections, messages
// and correlation metadata.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewAt returns a ULID stamped with t. Identifiers sharing a millisecond
// still sort in creation order.
func NewAt(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// CreateULID returns a ULID for the current time as a 26 character string.
func CreateULID() string {
	return NewAt(time.Now()).String()
}

// Time returns the millisecond timestamp embedded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}
