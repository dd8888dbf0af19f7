package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/evalflow/internal/runtime/metadata"
)

func TestConnectionEndsExactlyOnce(t *testing.T) {
	c := New("127.0.0.1:9000", metadata.Information{})
	assert.Equal(t, Open, c.State())
	assert.Len(t, c.ID(), 26)
	assert.Equal(t, "127.0.0.1:9000", c.RemoteAddress())
	assert.WithinDuration(t, time.Now(), c.OpenedAt(), time.Second)

	var (
		wg          sync.WaitGroup
		transitions int32
		mu          sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.End() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions)
	assert.Equal(t, End, c.State())
	assert.False(t, c.End(), "end is absorbing")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "end", End.String())
}
