package connection

import (
	"time"

	"github.com/ryandielhenn/zephyrnet/pkg/config"
)

// Liveness tracks traffic in both directions and turns silence into
// heartbeat and timeout decisions.
type Liveness struct {
	heartbeat time.Duration
	timeout   time.Duration
	lastSent  time.Time
	lastHeard time.Time
}

// NewLiveness starts both clocks at now, so a peer that never answers times
// out one DisconnectionTimeout after creation.
func NewLiveness(cfg config.Config, now time.Time) *Liveness {
	return &Liveness{
		heartbeat: cfg.HeartbeatInterval,
		timeout:   cfg.DisconnectionTimeout,
		lastSent:  now,
		lastHeard: now,
	}
}

func (l *Liveness) MarkSent(now time.Time) { l.lastSent = now }

func (l *Liveness) MarkHeard(now time.Time) { l.lastHeard = now }

func (l *Liveness) LastHeard() time.Time { return l.lastHeard }

// ShouldHeartbeat reports whether nothing has been sent for a heartbeat
// interval.
func (l *Liveness) ShouldHeartbeat(now time.Time) bool {
	return now.Sub(l.lastSent) >= l.heartbeat
}

func (l *Liveness) TimedOut(now time.Time) bool {
	return now.Sub(l.lastHeard) >= l.timeout
}
