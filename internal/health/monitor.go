// Package health runs the periodic self-check that keeps the alert pipeline
// recoverable: connection staleness, suspended audio output, and popup
// permission. It drives reconnection and resource warm-up only; it never
// touches notification records.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/feed"
	"github.com/bloomline/backoffice/internal/platform"
)

// Subscription is the slice of the feed manager the monitor drives.
type Subscription interface {
	Snapshot() feed.Snapshot
	MarkDegraded(reason string)
	Restart()
}

// Config tunes the monitor.
type Config struct {
	// Interval between probes.
	Interval time.Duration
	// DegradeAfter is how long without feed activity before the
	// subscription is flagged degraded.
	DegradeAfter time.Duration
	// RestartAfter is how long without activity before a forced restart.
	RestartAfter time.Duration
}

// Monitor runs the fixed-period probe.
type Monitor struct {
	sub    Subscription
	player platform.TonePlayer
	perms  platform.Permissions
	config Config
	logger *zap.Logger
}

// New creates a health monitor. Zero config fields get defaults.
func New(sub Subscription, player platform.TonePlayer, perms platform.Permissions, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 45 * time.Second
	}
	if cfg.DegradeAfter <= 0 {
		cfg.DegradeAfter = 60 * time.Second
	}
	if cfg.RestartAfter <= 0 {
		cfg.RestartAfter = 3 * cfg.DegradeAfter
	}

	return &Monitor{
		sub:    sub,
		player: player,
		perms:  perms,
		config: cfg,
		logger: logger,
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one self-check pass. Exposed for tests and for an on-demand
// diagnostics endpoint.
func (m *Monitor) Probe(ctx context.Context) {
	m.checkSubscription()
	m.checkAudio(ctx)
	m.checkPermission(ctx)
}

func (m *Monitor) checkSubscription() {
	snap := m.sub.Snapshot()
	if snap.LastActivityAt.IsZero() {
		return
	}

	idle := time.Since(snap.LastActivityAt)

	switch snap.State {
	case "connected":
		if idle > m.config.DegradeAfter {
			m.sub.MarkDegraded(fmt.Sprintf("no feed activity for %s", idle.Round(time.Second)))
		}
	case "degraded":
		if idle > m.config.RestartAfter {
			m.logger.Warn("subscription stale beyond restart threshold, restarting",
				zap.Duration("idle", idle),
			)
			m.sub.Restart()
		}
	}
}

func (m *Monitor) checkAudio(ctx context.Context) {
	if m.player == nil || !m.player.Suspended() {
		return
	}
	if err := m.player.Resume(ctx); err != nil {
		// Resumption may be gated on a user gesture; the UI surfaces it.
		m.logger.Warn("audio output suspended and could not be resumed", zap.Error(err))
		return
	}
	m.logger.Info("audio output resumed")
}

func (m *Monitor) checkPermission(ctx context.Context) {
	if m.perms == nil {
		return
	}
	if state := m.perms.Query(ctx); state == platform.PermissionDenied {
		// Degrade to sound/vibration-only alerting; not fatal.
		m.logger.Warn("popup permission denied, alerting continues without popups")
	}
}
