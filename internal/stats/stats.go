// Package stats collects lobby traffic counters.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

// latencyAlpha is the EWMA smoothing factor for processing latency.
const latencyAlpha = 0.1

// Collector holds process-wide traffic counters. All methods are safe for
// concurrent use and do nothing while the collector is disabled.
type Collector struct {
	enabled atomic.Bool
	started time.Time

	bytesIn          atomic.Uint64
	bytesOut         atomic.Uint64
	packetsIn        atomic.Uint64
	packetsOut       atomic.Uint64
	messages         atomic.Uint64
	framesRejected   atomic.Uint64
	messagesRejected atomic.Uint64
	connections      atomic.Uint64

	// latencyBits stores the float64 EWMA in nanoseconds.
	latencyBits atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Enabled           bool          `json:"enabled"`
	StartedAt         time.Time     `json:"started_at"`
	Uptime            time.Duration `json:"uptime"`
	BytesIn           uint64        `json:"bytes_in"`
	BytesOut          uint64        `json:"bytes_out"`
	PacketsIn         uint64        `json:"packets_in"`
	PacketsOut        uint64        `json:"packets_out"`
	Messages          uint64        `json:"messages"`
	FramesRejected    uint64        `json:"frames_rejected"`
	MessagesRejected  uint64        `json:"messages_rejected"`
	Connections       uint64        `json:"connections"`
	ProcessingLatency time.Duration `json:"processing_latency"`
}

// New creates a Collector.
func New(enabled bool) *Collector {
	c := &Collector{started: time.Now()}
	c.enabled.Store(enabled)
	return c
}

// SetEnabled toggles collection.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether collection is on.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled.Load()
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.started)
}

// Received records an inbound frame of n bytes.
func (c *Collector) Received(n int) {
	if !c.Enabled() {
		return
	}
	c.packetsIn.Add(1)
	c.bytesIn.Add(uint64(n))
}

// Sent records an outbound frame of n bytes.
func (c *Collector) Sent(n int) {
	if !c.Enabled() {
		return
	}
	c.packetsOut.Add(1)
	c.bytesOut.Add(uint64(n))
}

// FrameRejected records a dropped transport frame.
func (c *Collector) FrameRejected() {
	if c.Enabled() {
		c.framesRejected.Add(1)
	}
}

// MessageRejected records an application message that failed validation.
func (c *Collector) MessageRejected() {
	if c.Enabled() {
		c.messagesRejected.Add(1)
	}
}

// ConnectionAccepted records a new connection.
func (c *Collector) ConnectionAccepted() {
	if c.Enabled() {
		c.connections.Add(1)
	}
}

// Processed records a dispatched message and folds its handling time into
// the latency average.
func (c *Collector) Processed(d time.Duration) {
	if !c.Enabled() {
		return
	}
	c.messages.Add(1)
	for {
		old := c.latencyBits.Load()
		prev := math.Float64frombits(old)
		next := float64(d)
		if old != 0 {
			next = prev + latencyAlpha*(float64(d)-prev)
		}
		if c.latencyBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Enabled:           c.Enabled(),
		StartedAt:         c.started,
		Uptime:            c.Uptime(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		PacketsIn:         c.packetsIn.Load(),
		PacketsOut:        c.packetsOut.Load(),
		Messages:          c.messages.Load(),
		FramesRejected:    c.framesRejected.Load(),
		MessagesRejected:  c.messagesRejected.Load(),
		Connections:       c.connections.Load(),
		ProcessingLatency: time.Duration(math.Float64frombits(c.latencyBits.Load())),
	}
}
