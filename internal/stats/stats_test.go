package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	c := New(true)
	c.Received(100)
	c.Received(28)
	c.Sent(50)
	c.FrameRejected()
	c.MessageRejected()
	c.ConnectionAccepted()

	s := c.Snapshot()
	assert.True(t, s.Enabled)
	assert.Equal(t, uint64(128), s.BytesIn)
	assert.Equal(t, uint64(2), s.PacketsIn)
	assert.Equal(t, uint64(50), s.BytesOut)
	assert.Equal(t, uint64(1), s.PacketsOut)
	assert.Equal(t, uint64(1), s.FramesRejected)
	assert.Equal(t, uint64(1), s.MessagesRejected)
	assert.Equal(t, uint64(1), s.Connections)
}

func TestCollectorDisabled(t *testing.T) {
	t.Parallel()

	c := New(false)
	c.Received(10)
	c.Processed(time.Millisecond)

	s := c.Snapshot()
	assert.Zero(t, s.BytesIn)
	assert.Zero(t, s.Messages)

	c.SetEnabled(true)
	c.Received(10)
	assert.Equal(t, uint64(10), c.Snapshot().BytesIn)
}

func TestCollectorLatencyAverage(t *testing.T) {
	t.Parallel()

	c := New(true)
	c.Processed(100 * time.Microsecond)
	assert.Equal(t, 100*time.Microsecond, c.Snapshot().ProcessingLatency)

	c.Processed(200 * time.Microsecond)
	assert.Equal(t, 110*time.Microsecond, c.Snapshot().ProcessingLatency)
	assert.Equal(t, uint64(2), c.Snapshot().Messages)
}

func TestCollectorConcurrent(t *testing.T) {
	t.Parallel()

	c := New(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Received(1)
				c.Processed(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, uint64(8000), s.BytesIn)
	assert.Equal(t, uint64(8000), s.Messages)
	assert.Equal(t, time.Microsecond, s.ProcessingLatency)
}
