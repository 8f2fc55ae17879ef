// Package tabsync keeps the "notifications seen" state consistent across the
// tabs of one session through the shared storage.
package tabsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/kv"
	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
	"github.com/tOgg1/chatsync/internal/prefs"
)

// Origin tells where a reset came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Options configures a Synchronizer.
type Options struct {
	Prefs *prefs.Prefs

	// Hidden is the tab's visibility at startup.
	Hidden bool

	// OnReset performs the local notification reset. It is called without
	// any synchronizer lock held.
	OnReset func(origin Origin)
}

// Synchronizer tracks tab visibility and the shared seen flag.
type Synchronizer struct {
	prefs   *prefs.Prefs
	onReset func(Origin)
	logger  zerolog.Logger

	mu     sync.Mutex
	hidden bool
	seen   bool
	cancel func()
}

// New reads the persisted flag and starts watching for other tabs' writes.
// A stored "false" or an unreadable flag starts the tab as not seen.
func New(ctx context.Context, opts Options) *Synchronizer {
	s := &Synchronizer{
		prefs:   opts.Prefs,
		onReset: opts.OnReset,
		logger:  logging.Component("tabsync"),
		hidden:  opts.Hidden,
	}
	if s.onReset == nil {
		s.onReset = func(Origin) {}
	}

	seen, err := s.prefs.NotificationsSeen(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("seen flag unavailable; starting as not seen")
		seen = false
	}
	s.seen = seen

	s.cancel = s.prefs.Storage().Watch(s.handleChange)
	return s
}

func (s *Synchronizer) handleChange(c kv.Change) {
	if c.Key != prefs.KeyNotificationsSeen || c.Deleted {
		return
	}
	seen := prefs.ParseSeen(c.Value)

	s.mu.Lock()
	s.seen = seen
	s.mu.Unlock()

	if !seen {
		return
	}
	s.logger.Debug().Str("writer", c.Writer).Msg("notifications seen in another tab")
	metrics.CrossTabResets.WithLabelValues(string(OriginRemote)).Inc()
	s.onReset(OriginRemote)
}

// OnVisibilityChange records visibility. Becoming visible resets the local
// notification state and persists the seen flag for the other tabs.
func (s *Synchronizer) OnVisibilityChange(ctx context.Context, hidden bool) {
	s.mu.Lock()
	s.hidden = hidden
	s.mu.Unlock()
	if hidden {
		return
	}

	metrics.CrossTabResets.WithLabelValues(string(OriginLocal)).Inc()
	s.onReset(OriginLocal)

	s.mu.Lock()
	s.seen = true
	s.mu.Unlock()
	if err := s.prefs.SetNotificationsSeen(ctx, true); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist seen flag; other tabs keep their state")
	}
}

// MarkUnseen records that a new notification is pending and persists it.
func (s *Synchronizer) MarkUnseen(ctx context.Context) {
	s.mu.Lock()
	s.seen = false
	s.mu.Unlock()
	if err := s.prefs.SetNotificationsSeen(ctx, false); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist seen flag")
	}
}

// Hidden reports whether the tab is hidden.
func (s *Synchronizer) Hidden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden
}

// Seen reports the in-memory seen flag.
func (s *Synchronizer) Seen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

// Close stops watching storage.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
