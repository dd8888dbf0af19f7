package request

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/drblury/evalflow/internal/runtime/metadata"
)

type cachedResult struct {
	value any
	err   error
}

// Caching memoizes parameter retrieval so a request is decoded at most once
// per descriptor, no matter how often guards, handlers, triggers or
// observers ask for it.
type Caching struct {
	inner Request

	mu    sync.Mutex
	cache map[uuid.UUID]cachedResult
}

// NewCaching wraps r. Wrapping an already caching request returns it as is.
func NewCaching(r Request) *Caching {
	if c, ok := r.(*Caching); ok {
		return c
	}
	return &Caching{inner: r, cache: make(map[uuid.UUID]cachedResult)}
}

func (c *Caching) RetrieveParameter(desc *Descriptor) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res, ok := c.cache[desc.ID]; ok {
		return res.value, res.err
	}
	v, err := c.inner.RetrieveParameter(desc)
	c.cache[desc.ID] = cachedResult{value: v, err: err}
	return v, err
}

// Peek returns a previously retrieved value without decoding.
func (c *Caching) Peek(desc *Descriptor) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.cache[desc.ID]
	if !ok || res.err != nil {
		return nil, false
	}
	return res.value, true
}

func (c *Caching) Information() metadata.Information { return c.inner.Information() }
func (c *Caching) RemoteAddress() string             { return c.inner.RemoteAddress() }
func (c *Caching) Context() context.Context          { return c.inner.Context() }

// Unwrap returns the decoded request underneath the cache.
func (c *Caching) Unwrap() Request { return c.inner }
