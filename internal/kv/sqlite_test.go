package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openSQLitePair(t *testing.T) (*SQLiteStorage, *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session", "kv.db")

	// A long poll interval keeps the background poller out of the way;
	// tests drive PollOnce directly.
	opts := SQLiteOptions{Namespace: "s1", PollInterval: time.Hour}

	opts.Writer = "tab-a"
	a, err := OpenSQLite(ctx, path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	opts.Writer = "tab-b"
	b, err := OpenSQLite(ctx, path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return a, b
}

func TestOpenSQLiteRequiresWriter(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"), SQLiteOptions{})
	require.Error(t, err)

	_, err = OpenSQLite(context.Background(), "", SQLiteOptions{Writer: "tab-a"})
	require.Error(t, err)
}

func TestSQLiteGetSetDelete(t *testing.T) {
	ctx := context.Background()
	a, b := openSQLitePair(t)

	_, ok, err := a.Get(ctx, "notificationsSeen")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.Set(ctx, "notificationsSeen", "false"))
	require.NoError(t, a.Set(ctx, "notificationsSeen", "true"))

	value, ok, err := b.Get(ctx, "notificationsSeen")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", value)

	require.NoError(t, b.Delete(ctx, "notificationsSeen"))
	_, ok, err = a.Get(ctx, "notificationsSeen")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLitePollDispatchesOtherWriters(t *testing.T) {
	ctx := context.Background()
	a, b := openSQLitePair(t)

	var seenA, seenB []Change
	a.Watch(func(c Change) { seenA = append(seenA, c) })
	b.Watch(func(c Change) { seenB = append(seenB, c) })

	require.NoError(t, a.Set(ctx, "notificationsSeen", "true"))
	require.NoError(t, a.Delete(ctx, "unread_u1"))

	require.NoError(t, a.PollOnce(ctx))
	require.NoError(t, b.PollOnce(ctx))

	require.Empty(t, seenA)
	require.Equal(t, []Change{
		{Key: "notificationsSeen", Value: "true", Writer: "tab-a"},
		{Key: "unread_u1", Deleted: true, Writer: "tab-a"},
	}, seenB)

	// Already-seen versions are not dispatched twice.
	require.NoError(t, b.PollOnce(ctx))
	require.Len(t, seenB, 2)
}

func TestSQLitePollSeesEveryWriteBetweenPolls(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	open := func(writer string) *SQLiteStorage {
		s, err := OpenSQLite(ctx, path, SQLiteOptions{Namespace: "s1", Writer: writer, PollInterval: time.Hour})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b, c := open("tab-a"), open("tab-b"), open("tab-c")

	var seenB []Change
	b.Watch(func(ch Change) { seenB = append(seenB, ch) })

	require.NoError(t, a.Set(ctx, "notificationsSeen", "true"))
	require.NoError(t, c.Set(ctx, "notificationsSeen", "false"))
	require.NoError(t, b.PollOnce(ctx))

	require.Equal(t, []Change{
		{Key: "notificationsSeen", Value: "true", Writer: "tab-a"},
		{Key: "notificationsSeen", Value: "false", Writer: "tab-c"},
	}, seenB)

	value, ok, err := b.Get(ctx, "notificationsSeen")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "false", value)
}

func TestSQLiteChangeLogIsPruned(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	a, err := OpenSQLite(ctx, path, SQLiteOptions{Namespace: "s1", Writer: "tab-a", PollInterval: time.Hour, ChangeRetention: time.Millisecond})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Set(ctx, "k1", "v1"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.Set(ctx, "k2", "v2"))

	var logged int
	require.NoError(t, a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_changes`).Scan(&logged))
	require.Equal(t, 1, logged)

	value, ok, err := a.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok, "pruning drops log entries, not values")
	require.Equal(t, "v1", value)
}

func TestSQLiteNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	a, err := OpenSQLite(ctx, path, SQLiteOptions{Namespace: "s1", Writer: "tab-a", PollInterval: time.Hour})
	require.NoError(t, err)
	defer a.Close()
	other, err := OpenSQLite(ctx, path, SQLiteOptions{Namespace: "s2", Writer: "tab-b", PollInterval: time.Hour})
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, a.Set(ctx, "mutedContacts", `["u1"]`))

	_, ok, err := other.Get(ctx, "mutedContacts")
	require.NoError(t, err)
	require.False(t, ok)

	calls := 0
	other.Watch(func(Change) { calls++ })
	require.NoError(t, other.PollOnce(ctx))
	require.Equal(t, 0, calls)
}

func TestSQLiteKeys(t *testing.T) {
	ctx := context.Background()
	a, _ := openSQLitePair(t)

	require.NoError(t, a.Set(ctx, "unread_u2", "2"))
	require.NoError(t, a.Set(ctx, "unread_u1", "1"))
	require.NoError(t, a.Set(ctx, "unread_u3", "5"))
	require.NoError(t, a.Delete(ctx, "unread_u3"))
	require.NoError(t, a.Set(ctx, "mutedGroups", "[]"))

	keys, err := a.Keys(ctx, "unread_")
	require.NoError(t, err)
	require.Equal(t, []string{"unread_u1", "unread_u2"}, keys)
}

func TestSQLiteClosed(t *testing.T) {
	ctx := context.Background()
	a, _ := openSQLitePair(t)
	a.Watch(func(Change) {})

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Set(ctx, "k", "v"), ErrClosed)
	_, _, err := a.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
}
