package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// After an outage every per-pair streamer goroutine hits ensureConnection at
// once. The redial is serialized under the client lock, so concurrent callers
// must neither race on the connection fields nor each dial their own
// connection. Run with -race.
func TestClient_ConcurrentReconnectAttempts(t *testing.T) {
	c := &Client{
		opts: Options{
			URL:        "nats://127.0.0.1:1",
			Name:       "test",
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		},
		streams: make(map[string]bool),
	}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.ensureConnection(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
	}

	nc, js := c.current()
	assert.Nil(t, nc)
	assert.Nil(t, js)
}
