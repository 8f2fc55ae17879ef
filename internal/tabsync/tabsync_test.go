package tabsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chatsync/internal/kv"
	"github.com/tOgg1/chatsync/internal/prefs"
)

type resets struct {
	origins []Origin
}

func (r *resets) record(o Origin) { r.origins = append(r.origins, o) }

func newTab(t *testing.T, hub *kv.MemoryHub, writer string, hidden bool) (*Synchronizer, *resets) {
	t.Helper()
	ctx := context.Background()
	p := prefs.New(ctx, hub.Open(writer))
	r := &resets{}
	s := New(ctx, Options{Prefs: p, Hidden: hidden, OnReset: r.record})
	t.Cleanup(func() {
		s.Close()
		p.Close()
	})
	return s, r
}

func TestStartupReadsSeenFlag(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()

	fresh, _ := newTab(t, hub, "tab-a", true)
	require.True(t, fresh.Seen(), "missing key means seen")
	require.True(t, fresh.Hidden())

	require.NoError(t, hub.Open("writer").Set(ctx, prefs.KeyNotificationsSeen, "false"))
	late, _ := newTab(t, hub, "tab-b", true)
	require.False(t, late.Seen(), "late tab keeps the pending notification")
}

func TestVisibleTabResetsAndPersists(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()
	a, resetsA := newTab(t, hub, "tab-a", true)
	b, resetsB := newTab(t, hub, "tab-b", true)

	a.MarkUnseen(ctx)
	require.False(t, a.Seen())
	require.False(t, b.Seen(), "false propagates as a flag update only")
	require.Empty(t, resetsB.origins)

	b.OnVisibilityChange(ctx, false)
	require.False(t, b.Hidden())
	require.True(t, b.Seen())
	require.Equal(t, []Origin{OriginLocal}, resetsB.origins)

	require.True(t, a.Seen())
	require.Equal(t, []Origin{OriginRemote}, resetsA.origins, "background tab resets without focus")
}

func TestHidingDoesNotReset(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()
	a, resetsA := newTab(t, hub, "tab-a", false)

	a.OnVisibilityChange(ctx, true)
	require.True(t, a.Hidden())
	require.Empty(t, resetsA.origins)
}

func TestRemoteTrueDoesNotWriteBack(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()
	_, resetsB := newTab(t, hub, "tab-b", true)

	var writes []kv.Change
	observer := hub.Open("observer")
	observer.Watch(func(c kv.Change) { writes = append(writes, c) })

	require.NoError(t, hub.Open("tab-a").Set(ctx, prefs.KeyNotificationsSeen, "true"))
	require.Equal(t, []Origin{OriginRemote}, resetsB.origins)
	require.Len(t, writes, 1, "only tab-a's write is observed")
}

func TestIgnoresOtherKeysAndDeletes(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()
	_, resetsB := newTab(t, hub, "tab-b", true)
	a := hub.Open("tab-a")

	require.NoError(t, a.Set(ctx, "unread_u1", "true"))
	require.NoError(t, a.Set(ctx, prefs.KeyNotificationsSeen, "true"))
	require.NoError(t, a.Delete(ctx, prefs.KeyNotificationsSeen))
	require.Len(t, resetsB.origins, 1)
}

var errQuota = errors.New("quota exceeded")

type failingStorage struct{ kv.Storage }

func (failingStorage) Get(context.Context, string) (string, bool, error) { return "", false, errQuota }
func (failingStorage) Set(context.Context, string, string) error { return errQuota }

func TestStorageFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	hub := kv.NewMemoryHub()
	p := prefs.New(ctx, failingStorage{Storage: hub.Open("tab-a")})
	defer p.Close()

	r := &resets{}
	s := New(ctx, Options{Prefs: p, Hidden: true, OnReset: r.record})
	defer s.Close()
	require.False(t, s.Seen())

	s.OnVisibilityChange(ctx, false)
	require.Equal(t, []Origin{OriginLocal}, r.origins)
	require.True(t, s.Seen())

	s.MarkUnseen(ctx)
	require.False(t, s.Seen())
}
