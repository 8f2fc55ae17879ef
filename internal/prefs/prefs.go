// Package prefs provides typed access to the session-shared notification
// preferences: the seen flag, mute lists and persisted direct unread counts.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/kv"
	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
	"github.com/tOgg1/chatsync/internal/models"
)

// Persisted keys.
const (
	KeyNotificationsSeen = "notificationsSeen"
	KeyMutedContacts     = "mutedContacts"
	KeyMutedGroups       = "mutedGroups"

	unreadPrefix = "unread_"
)

// UnreadKey returns the key holding the persisted unread count of a contact.
func UnreadKey(contactID string) string {
	return unreadPrefix + contactID
}

// Prefs wraps a kv.Storage with typed accessors and keeps the mute lists
// cached, refreshing them when another tab rewrites them.
type Prefs struct {
	storage kv.Storage
	logger  zerolog.Logger

	mu       sync.RWMutex
	contacts map[string]bool
	groups   map[string]bool

	cancel func()
}

// New loads the mute lists and starts watching storage for changes to them.
// Unreadable mute lists are logged and treated as empty.
func New(ctx context.Context, storage kv.Storage) *Prefs {
	p := &Prefs{
		storage:  storage,
		logger:   logging.Component("prefs"),
		contacts: make(map[string]bool),
		groups:   make(map[string]bool),
	}
	if err := p.Reload(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("mute lists unavailable; treating as empty")
	}
	p.cancel = storage.Watch(p.handleChange)
	return p
}

// Storage returns the underlying storage.
func (p *Prefs) Storage() kv.Storage {
	return p.storage
}

// Close stops watching storage. It does not close the storage.
func (p *Prefs) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Reload re-reads both mute lists from storage.
func (p *Prefs) Reload(ctx context.Context) error {
	var firstErr error
	for _, key := range []string{KeyMutedContacts, KeyMutedGroups} {
		raw, ok, err := p.storage.Get(ctx, key)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("read").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("read %s: %w", key, err)
			}
			continue
		}
		if !ok {
			raw = ""
		}
		p.applyMuteList(key, raw)
	}
	return firstErr
}

func (p *Prefs) handleChange(c kv.Change) {
	switch c.Key {
	case KeyMutedContacts, KeyMutedGroups:
		value := c.Value
		if c.Deleted {
			value = ""
		}
		p.applyMuteList(c.Key, value)
		p.logger.Debug().Str("key", c.Key).Str("writer", c.Writer).Msg("mute list refreshed")
	}
}

func (p *Prefs) applyMuteList(key, raw string) {
	ids, err := decodeIDs(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("ignoring malformed mute list")
		ids = nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if key == KeyMutedGroups {
		p.groups = set
	} else {
		p.contacts = set
	}
}

// IsMuted reports whether a source key belongs to a muted conversation.
func (p *Prefs) IsMuted(key models.SourceKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if key.Kind == models.ConversationGroup {
		return p.groups[key.ConversationID]
	}
	return p.contacts[key.ConversationID]
}

// Muted returns the sorted mute list for a conversation kind.
func (p *Prefs) Muted(kind models.ConversationKind) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.contacts
	if kind == models.ConversationGroup {
		set = p.groups
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetMuted adds or removes a conversation from its mute list and persists it.
func (p *Prefs) SetMuted(ctx context.Context, kind models.ConversationKind, id string, muted bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.ErrMissingConversationID
	}
	key := KeyMutedContacts
	if kind == models.ConversationGroup {
		key = KeyMutedGroups
	}

	raw, _, err := p.storage.Get(ctx, key)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return fmt.Errorf("read %s: %w", key, err)
	}
	ids, err := decodeIDs(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("overwriting malformed mute list")
		ids = nil
	}

	next := make([]string, 0, len(ids)+1)
	for _, existing := range ids {
		if existing != id {
			next = append(next, existing)
		}
	}
	if muted {
		next = append(next, id)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.storage.Set(ctx, key, string(data)); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", key, err)
	}
	p.applyMuteList(key, string(data))
	return nil
}

// NotificationsSeen reads the shared seen flag. A missing key means seen.
// On a read error it returns false with the error, so callers fail open.
func (p *Prefs) NotificationsSeen(ctx context.Context) (bool, error) {
	raw, ok, err := p.storage.Get(ctx, KeyNotificationsSeen)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return false, fmt.Errorf("read %s: %w", KeyNotificationsSeen, err)
	}
	if !ok {
		return true, nil
	}
	return ParseSeen(raw), nil
}

// SetNotificationsSeen persists the shared seen flag.
func (p *Prefs) SetNotificationsSeen(ctx context.Context, seen bool) error {
	if err := p.storage.Set(ctx, KeyNotificationsSeen, strconv.FormatBool(seen)); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", KeyNotificationsSeen, err)
	}
	return nil
}

// ParseSeen interprets a stored seen value. Only "true" means seen.
func ParseSeen(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}

// Unread returns the persisted unread count for a direct contact.
func (p *Prefs) Unread(ctx context.Context, contactID string) (int, error) {
	raw, ok, err := p.storage.Get(ctx, UnreadKey(contactID))
	if err != nil {
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return 0, fmt.Errorf("read unread count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return parseCount(raw), nil
}

// SetUnread persists the unread count for a direct contact.
func (p *Prefs) SetUnread(ctx context.Context, contactID string, n int) error {
	if n < 0 {
		n = 0
	}
	if err := p.storage.Set(ctx, UnreadKey(contactID), strconv.Itoa(n)); err != nil {
		metrics.StorageErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("write unread count: %w", err)
	}
	return nil
}

// UnreadCounts returns every persisted direct unread count keyed by contact id.
func (p *Prefs) UnreadCounts(ctx context.Context) (map[string]int, error) {
	keys, err := p.storage.Keys(ctx, unreadPrefix)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("list unread counts: %w", err)
	}
	counts := make(map[string]int, len(keys))
	for _, key := range keys {
		raw, ok, err := p.storage.Get(ctx, key)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("read").Inc()
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		counts[strings.TrimPrefix(key, unreadPrefix)] = parseCount(raw)
	}
	return counts, nil
}

func parseCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decodeIDs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return ids, nil
}
