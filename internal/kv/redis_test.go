package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisKeyLayout(t *testing.T) {
	require.Equal(t, "s1:kv:notificationsSeen", dataKey("s1", "notificationsSeen"))
	require.Equal(t, "s1:kv:changes", changesChannel("s1"))
}

func TestChangeEncoding(t *testing.T) {
	payload, err := encodeChange(Change{Key: "mutedGroups", Value: `["g1"]`, Writer: "tab-a"})
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"mutedGroups","value":"[\"g1\"]","writer":"tab-a"}`, payload)

	c, err := decodeChange(`{"key":"unread_u1","deleted":true,"writer":"tab-b"}`)
	require.NoError(t, err)
	require.Equal(t, Change{Key: "unread_u1", Deleted: true, Writer: "tab-b"}, c)

	_, err = decodeChange(`not json`)
	require.Error(t, err)
	_, err = decodeChange(`{"value":"x"}`)
	require.Error(t, err)
}

func TestOpenRedisValidation(t *testing.T) {
	_, err := OpenRedis(context.Background(), "redis://localhost:6379/0", RedisOptions{})
	require.Error(t, err)

	_, err = OpenRedis(context.Background(), "://bad", RedisOptions{Writer: "tab-a"})
	require.Error(t, err)
}
