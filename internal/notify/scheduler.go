// Package notify owns the tab's notification side effects: the flashing
// title state machine and desktop notifications.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/clock"
	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
)

// State is the title state.
type State int

const (
	// StateIdle shows the original title.
	StateIdle State = iota
	// StateFlashing alternates between the alert and the original title.
	StateFlashing
)

func (s State) String() string {
	if s == StateFlashing {
		return "flashing"
	}
	return "idle"
}

// Default timings.
const (
	DefaultFlashInterval = 1000 * time.Millisecond
	DefaultReassertDelay = 50 * time.Millisecond
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Clock         clock.Clock
	Title         TitleSink
	OriginalTitle string
	FlashInterval time.Duration
	ReassertDelay time.Duration
}

// Scheduler drives the title between Idle and Flashing and remembers which
// message ids were already charged in this tab's lifetime.
//
// Title writes happen under the scheduler lock so a stale tick can never
// overwrite a restore; sinks must not call back into the scheduler.
type Scheduler struct {
	opts   SchedulerOptions
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	alert      string
	showAlert  bool
	counted    map[string]struct{}
	flash      clock.Timer
	reassert   clock.Timer
	generation uint64
	closed     bool
}

// NewScheduler creates an idle scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Title == nil {
		opts.Title = NewMemoryTitle(opts.OriginalTitle)
	}
	if opts.FlashInterval <= 0 {
		opts.FlashInterval = DefaultFlashInterval
	}
	if opts.ReassertDelay <= 0 {
		opts.ReassertDelay = DefaultReassertDelay
	}
	return &Scheduler{
		opts:    opts,
		logger:  logging.Component("notify"),
		counted: make(map[string]struct{}),
	}
}

// MarkCounted adds a message id to the counted set. It returns false if the
// id was already counted.
func (s *Scheduler) MarkCounted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counted[id]; ok {
		return false
	}
	s.counted[id] = struct{}{}
	return true
}

// Counted reports whether a message id was already charged.
func (s *Scheduler) Counted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.counted[id]
	return ok
}

// CountedIDs returns the counted ids, sorted.
func (s *Scheduler) CountedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.counted))
	for id := range s.counted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flash shows alert immediately and keeps alternating it with the original
// title. Flashing again replaces the alert and restarts the interval.
func (s *Scheduler) Flash(alert string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.stopTimersLocked()
	if s.state == StateIdle {
		metrics.TitleFlashes.Inc()
		s.logger.Debug().Msg("title flashing")
	}
	s.state = StateFlashing
	s.alert = alert
	s.showAlert = true
	s.opts.Title.SetTitle(alert)
	s.scheduleTickLocked()
}

func (s *Scheduler) scheduleTickLocked() {
	gen := s.generation
	s.flash = s.opts.Clock.AfterFunc(s.opts.FlashInterval, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.state != StateFlashing || s.closed {
		return
	}
	s.showAlert = !s.showAlert
	if s.showAlert {
		s.opts.Title.SetTitle(s.alert)
	} else {
		s.opts.Title.SetTitle(s.opts.OriginalTitle)
	}
	s.scheduleTickLocked()
}

// Stop returns to Idle: the interval is cleared and the original title
// restored at once and again shortly after.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.closed {
		return
	}
	wasFlashing := s.state == StateFlashing
	s.stopTimersLocked()
	s.state = StateIdle
	s.alert = ""
	s.showAlert = false
	s.opts.Title.SetTitle(s.opts.OriginalTitle)

	gen := s.generation
	s.reassert = s.opts.Clock.AfterFunc(s.opts.ReassertDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation && s.state == StateIdle && !s.closed {
			s.opts.Title.SetTitle(s.opts.OriginalTitle)
		}
	})
	if wasFlashing {
		s.logger.Debug().Msg("title restored")
	}
}

func (s *Scheduler) stopTimersLocked() {
	s.generation++
	if s.flash != nil {
		s.flash.Stop()
		s.flash = nil
	}
	if s.reassert != nil {
		s.reassert.Stop()
		s.reassert = nil
	}
}

// Reset forgets counted ids and stops flashing.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counted = make(map[string]struct{})
	s.stopLocked()
}

// Close stops every timer and restores the original title. The scheduler
// ignores further calls.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopTimersLocked()
	s.state = StateIdle
	s.opts.Title.SetTitle(s.opts.OriginalTitle)
	s.closed = true
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alert returns the alert being flashed, or "" when idle.
func (s *Scheduler) Alert() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alert
}

// OriginalTitle returns the title restored when idle.
func (s *Scheduler) OriginalTitle() string {
	return s.opts.OriginalTitle
}
