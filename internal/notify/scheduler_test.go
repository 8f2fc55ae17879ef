package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chatsync/internal/clock"
)

const original = "Chat"

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Manual, *MemoryTitle) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC))
	title := NewMemoryTitle(original)
	s := NewScheduler(SchedulerOptions{Clock: clk, Title: title, OriginalTitle: original})
	t.Cleanup(s.Close)
	return s, clk, title
}

func TestFlashAlternatesEverySecond(t *testing.T) {
	s, clk, title := newTestScheduler(t)

	s.Flash("(1) alert")
	require.Equal(t, StateFlashing, s.State())
	require.Equal(t, "(1) alert", title.Title())

	clk.Advance(999 * time.Millisecond)
	require.Equal(t, "(1) alert", title.Title())

	clk.Advance(time.Millisecond)
	require.Equal(t, original, title.Title())

	clk.Advance(time.Second)
	require.Equal(t, "(1) alert", title.Title())

	clk.Advance(2 * time.Second)
	require.Equal(t, "(1) alert", title.Title())
	require.Equal(t, 1, clk.Pending(), "exactly one interval is armed")
}

func TestFlashAgainRestartsInterval(t *testing.T) {
	s, clk, title := newTestScheduler(t)

	s.Flash("(1) a")
	clk.Advance(600 * time.Millisecond)
	s.Flash("(2) b")
	require.Equal(t, "(2) b", title.Title())
	require.Equal(t, 1, clk.Pending())

	clk.Advance(600 * time.Millisecond)
	require.Equal(t, "(2) b", title.Title(), "old interval tick is gone")

	clk.Advance(400 * time.Millisecond)
	require.Equal(t, original, title.Title())
}

func TestStopRestoresAndReasserts(t *testing.T) {
	s, clk, title := newTestScheduler(t)

	s.Flash("(1) alert")
	clk.Advance(1500 * time.Millisecond)
	s.Stop()
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, original, title.Title())
	require.Equal(t, "", s.Alert())

	before := len(title.History())
	clk.Advance(DefaultReassertDelay)
	history := title.History()
	require.Len(t, history, before+1)
	require.Equal(t, original, history[len(history)-1])

	clk.Advance(10 * time.Second)
	require.Equal(t, original, title.Title())
	require.Equal(t, 0, clk.Pending())
}

func TestStaleTickIsIgnored(t *testing.T) {
	s, _, title := newTestScheduler(t)

	s.Flash("(1) alert")
	stale := s.generation
	s.Stop()

	s.tick(stale)
	require.Equal(t, original, title.Title())
	require.Equal(t, StateIdle, s.State())
}

func TestFlashCancelsPendingReassert(t *testing.T) {
	s, clk, title := newTestScheduler(t)

	s.Flash("(1) a")
	s.Stop()
	s.Flash("(1) b")

	clk.Advance(DefaultReassertDelay)
	require.Equal(t, "(1) b", title.Title())
}

func TestCountedIDs(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	require.True(t, s.MarkCounted("m2"))
	require.True(t, s.MarkCounted("m1"))
	require.False(t, s.MarkCounted("m1"))
	require.True(t, s.Counted("m1"))
	require.Equal(t, []string{"m1", "m2"}, s.CountedIDs())

	s.Flash("(2) alert")
	s.Reset()
	require.Empty(t, s.CountedIDs())
	require.Equal(t, StateIdle, s.State())
}

func TestCloseStopsEverything(t *testing.T) {
	s, clk, title := newTestScheduler(t)

	s.Flash("(1) alert")
	s.Close()
	require.Equal(t, original, title.Title())
	require.Equal(t, 0, clk.Pending())

	s.Flash("(2) alert")
	require.Equal(t, original, title.Title())
	require.Equal(t, StateIdle, s.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "flashing", StateFlashing.String())
}
