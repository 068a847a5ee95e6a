// Package sweeper runs the periodic maintenance pass over sessions and
// content: it expires idle sessions, notifies their members, and enforces
// the per-session retention cap for the sessions that survive.
package sweeper

import (
	"context"
	"time"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/metrics"
	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// Config holds the sweeper's tunables.
type Config struct {
	// Interval is how often the sweep runs.
	// Default: 1h
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// IdleThreshold is how long a session may go without events before it
	// expires. Defaults to Interval when unset.
	IdleThreshold time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`

	// MaxItemsPerSession caps non-pinned content per session.
	// Default: 20
	MaxItemsPerSession int `mapstructure:"max_items_per_session" yaml:"max_items_per_session"`
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.IdleThreshold == 0 {
		c.IdleThreshold = c.Interval
	}
	if c.MaxItemsPerSession == 0 {
		c.MaxItemsPerSession = 20
	}
}

// Notifier delivers session-expired signals to connected members.
// Implemented by the hub.
type Notifier interface {
	NotifySessionExpired(sessionID, message string)
}

// Sweeper expires idle sessions and trims session content on a timer.
type Sweeper struct {
	registry *session.Registry
	store    store.ChunkStore
	notifier Notifier
	config   Config
}

// New creates a sweeper. notifier may be nil, in which case members are not
// signalled (tokens are still revoked through the registry).
func New(registry *session.Registry, chunks store.ChunkStore, notifier Notifier, config Config) *Sweeper {
	config.applyDefaults()
	return &Sweeper{
		registry: registry,
		store:    chunks,
		notifier: notifier,
		config:   config,
	}
}

// Run executes sweeps on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("Sweeper started",
		"interval", s.config.Interval.String(),
		"idle_threshold", s.config.IdleThreshold.String(),
		"max_items_per_session", s.config.MaxItemsPerSession)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass. The candidate list is a snapshot; each
// candidate is then re-checked under its own session lock, so a session
// that saw activity after the snapshot survives.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()

	expired := s.expireIdleSessions(ctx)
	trimmed := s.enforceRetention(ctx)

	if expired > 0 || trimmed > 0 {
		logger.Info("Sweep completed",
			"expired_sessions", expired,
			"evicted_items", trimmed,
			"duration", time.Since(start).String())
	}
}

func (s *Sweeper) expireIdleSessions(ctx context.Context) int {
	expired := 0
	for _, sessionID := range s.registry.IdleSessions(s.config.IdleThreshold) {
		members, ok := s.registry.Expire(sessionID, s.config.IdleThreshold)
		if !ok {
			// Revived between snapshot and lock.
			continue
		}
		expired++
		metrics.SessionsExpired.Inc()

		if s.notifier != nil && len(members) > 0 {
			s.notifier.NotifySessionExpired(sessionID, "session expired due to inactivity")
		}

		// An expired session with no content left can go away entirely;
		// one with content lingers so a matching fingerprint can revive it.
		s.registry.Purge(ctx, sessionID)
	}
	return expired
}

func (s *Sweeper) enforceRetention(ctx context.Context) int {
	trimmed := 0
	for _, sessionID := range s.registry.ActiveSessions() {
		removed, err := s.store.CleanupOldContent(ctx, sessionID, s.config.MaxItemsPerSession)
		if err != nil {
			logger.Warn("Retention cleanup failed", "session_id", sessionID, "error", err)
			continue
		}
		if len(removed) > 0 {
			trimmed += len(removed)
			metrics.ContentEvicted.Add(float64(len(removed)))
			logger.Debug("Retention cleanup removed content",
				"session_id", sessionID, "removed", len(removed))
		}
	}
	return trimmed
}
