// Package health runs the lobby's periodic background checks: the
// heartbeat that reports traffic counters and the public address refresh.
package health

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/lobby"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
	"github.com/sacredlobby/sacredlobby/internal/util"
)

// Counter reports the live session totals.
type Counter interface {
	Count() int
	Users() []lobby.ClientInfo
	Servers() []protocol.ServerInfo
}

// AddressResolver refreshes the public address of the host.
type AddressResolver interface {
	PublicIP() net.IP
	Refresh(ctx context.Context) error
}

// HeartbeatPayload is the payload of a heartbeat event.
type HeartbeatPayload struct {
	Sessions int            `json:"sessions"`
	Users    int            `json:"users"`
	Servers  int            `json:"servers"`
	PublicIP string         `json:"public_ip,omitempty"`
	MemoryMB uint64         `json:"memory_mb,omitempty"`
	Stats    stats.Snapshot `json:"stats"`
}

// Manager runs the periodic checks.
type Manager struct {
	timers   config.TimerConfig
	eventBus *events.EventBus
	counter  Counter
	resolver AddressResolver
	stats    *stats.Collector
}

// NewManager creates a manager. eventBus and resolver may be nil.
func NewManager(timers config.TimerConfig, eventBus *events.EventBus, counter Counter, resolver AddressResolver, collector *stats.Collector) *Manager {
	return &Manager{
		timers:   timers,
		eventBus: eventBus,
		counter:  counter,
		resolver: resolver,
		stats:    collector,
	}
}

// Start runs the checks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"public_ip", m.timers.PublicIPCheckInterval, m.checkPublicIP},
		{"heartbeat", m.timers.HeartbeatInterval, m.heartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkPublicIP refreshes the advertised public address and logs changes.
func (m *Manager) checkPublicIP(ctx context.Context) {
	if m.resolver == nil {
		return
	}

	before := m.resolver.PublicIP()
	if err := m.resolver.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("public IP check failed")
		return
	}

	after := m.resolver.PublicIP()
	if before != nil && after != nil && !before.Equal(after) {
		log.Warn().
			Str("old_ip", before.String()).
			Str("new_ip", after.String()).
			Msg("public IP changed")
		m.emit(ctx, events.EventConfigChanged, events.ConfigChangedPayload{
			Section: "lobby",
			Key:     "public_ip",
			Value:   after.String(),
		})
	}
}

func (m *Manager) snapshot() HeartbeatPayload {
	p := HeartbeatPayload{
		Sessions: m.counter.Count(),
		Users:    len(m.counter.Users()),
		Servers:  len(m.counter.Servers()),
		Stats:    m.stats.Snapshot(),
	}
	if m.resolver != nil {
		if ip := m.resolver.PublicIP(); ip != nil {
			p.PublicIP = ip.String()
		}
	}
	if mem, err := util.GetProcessUsage(); err == nil {
		p.MemoryMB = mem.RSS
	}
	return p
}

// heartbeat logs and publishes the current totals.
func (m *Manager) heartbeat(ctx context.Context) {
	p := m.snapshot()

	log.Info().
		Int("sessions", p.Sessions).
		Int("users", p.Users).
		Int("servers", p.Servers).
		Uint64("packets_in", p.Stats.PacketsIn).
		Uint64("packets_out", p.Stats.PacketsOut).
		Uint64("rejected", p.Stats.FramesRejected+p.Stats.MessagesRejected).
		Msg("heartbeat")

	m.emit(ctx, events.EventHeartbeat, p)
}

func (m *Manager) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:    t,
		Source:  "health_check",
		Payload: payload,
	})
}
