// Package connection tracks the lifecycle of one logical client exchange.
package connection

import (
	"sync/atomic"
	"time"

	"github.com/drblury/evalflow/internal/runtime/ids"
	"github.com/drblury/evalflow/internal/runtime/metadata"
)

// State is either Open or End. End is absorbing.
type State uint8

const (
	Open State = iota
	End
)

func (s State) String() string {
	if s == End {
		return "end"
	}
	return "open"
}

// Connection is the per-exchange state machine. The only transition is
// Open -> End and it happens at most once.
type Connection struct {
	id          string
	remote      string
	information metadata.Information
	ended       atomic.Bool
}

// New opens a connection with a fresh ULID identifier.
func New(remote string, info metadata.Information) *Connection {
	return &Connection{
		id:          ids.CreateULID(),
		remote:      remote,
		information: info,
	}
}

func (c *Connection) ID() string                        { return c.id }
func (c *Connection) RemoteAddress() string             { return c.remote }
func (c *Connection) Information() metadata.Information { return c.information }

// OpenedAt reports when the connection was opened, in milliseconds.
func (c *Connection) OpenedAt() time.Time {
	t, _ := ids.Time(c.id)
	return t
}

// State reports the current state.
func (c *Connection) State() State {
	if c.ended.Load() {
		return End
	}
	return Open
}

// End moves the connection to End. It reports false when the connection had
// already ended.
func (c *Connection) End() bool {
	return c.ended.CompareAndSwap(false, true)
}
