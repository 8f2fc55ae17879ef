// Package unread derives per-conversation and total unread counts from the
// reconciled message stream.
package unread

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/models"
)

// CountStore persists direct-conversation unread counts.
type CountStore interface {
	Unread(ctx context.Context, contactID string) (int, error)
	SetUnread(ctx context.Context, contactID string, n int) error
}

// Options wires the aggregator to the host view.
type Options struct {
	SelfID    func() string
	IsFocused func(conversationID string) bool
	IsMuted   func(key models.SourceKey) bool

	// Store is optional; without it direct counts live in memory only.
	Store CountStore
}

// Aggregator tracks conversation badges and the per-source tally that
// drives the title. Badges follow focus and the server; the tally follows
// the tab's notification lifetime.
type Aggregator struct {
	opts   Options
	logger zerolog.Logger

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	bySource      map[models.SourceKey]int
}

// New creates an aggregator. Nil callbacks mean nobody is self, nothing is
// focused and nothing is muted.
func New(opts Options) *Aggregator {
	if opts.SelfID == nil {
		opts.SelfID = func() string { return "" }
	}
	if opts.IsFocused == nil {
		opts.IsFocused = func(string) bool { return false }
	}
	if opts.IsMuted == nil {
		opts.IsMuted = func(models.SourceKey) bool { return false }
	}
	return &Aggregator{
		opts:          opts,
		logger:        logging.Component("unread"),
		conversations: make(map[string]*models.Conversation),
		bySource:      make(map[models.SourceKey]int),
	}
}

// Register makes a conversation known, loading its persisted count when it
// is direct. Registering a known conversation returns it unchanged.
func (a *Aggregator) Register(ctx context.Context, id string, kind models.ConversationKind) models.Conversation {
	a.mu.Lock()
	if conv, ok := a.conversations[id]; ok {
		out := a.snapshotLocked(conv)
		a.mu.Unlock()
		return out
	}
	a.mu.Unlock()

	count := 0
	if kind == models.ConversationDirect && a.opts.Store != nil {
		n, err := a.opts.Store.Unread(ctx, id)
		if err != nil {
			a.logger.Warn().Err(err).Str("conversation_id", id).Msg("persisted unread count unavailable")
		} else {
			count = n
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	conv := a.ensureLocked(id, kind)
	if conv.UnreadCount == 0 {
		conv.UnreadCount = count
	}
	return a.snapshotLocked(conv)
}

func (a *Aggregator) ensureLocked(id string, kind models.ConversationKind) *models.Conversation {
	conv, ok := a.conversations[id]
	if !ok {
		conv = &models.Conversation{ID: id, Kind: kind}
		a.conversations[id] = conv
	}
	return conv
}

func (a *Aggregator) snapshotLocked(conv *models.Conversation) models.Conversation {
	out := *conv
	out.IsFocused = a.opts.IsFocused(conv.ID)
	out.IsMuted = a.opts.IsMuted(models.SourceKey{Kind: conv.Kind, ConversationID: conv.ID})
	return out
}

// Qualifies reports whether a message counts as unread: it comes from
// another sender and its conversation is neither focused nor muted.
func (a *Aggregator) Qualifies(m models.Message, kind models.ConversationKind) bool {
	if m.SenderID == a.opts.SelfID() {
		return false
	}
	if a.opts.IsFocused(m.ConversationID) {
		return false
	}
	return !a.opts.IsMuted(models.SourceKeyFor(kind, m))
}

// OnMessageApplied records a message that reconciliation stored. Only an
// appended, qualifying message increments the conversation badge; every
// message moves LastMessageTime. It reports whether the badge changed.
func (a *Aggregator) OnMessageApplied(ctx context.Context, m models.Message, kind models.ConversationKind, appended bool) bool {
	qualifies := appended && a.Qualifies(m, kind)

	a.mu.Lock()
	conv := a.ensureLocked(m.ConversationID, kind)
	if m.Timestamp.After(conv.LastMessageTime) {
		conv.LastMessageTime = m.Timestamp
	}
	if !qualifies {
		a.mu.Unlock()
		return false
	}
	conv.UnreadCount++
	count := conv.UnreadCount
	a.mu.Unlock()

	if kind == models.ConversationDirect {
		a.persist(ctx, m.ConversationID, count)
	}
	return true
}

func (a *Aggregator) persist(ctx context.Context, contactID string, n int) {
	if a.opts.Store == nil {
		return
	}
	if err := a.opts.Store.SetUnread(ctx, contactID, n); err != nil {
		a.logger.Warn().Err(err).Str("conversation_id", contactID).Msg("failed to persist unread count")
	}
}

// OnConversationFocused resets a conversation's badge and its tally entries.
// Direct conversations persist the zero. It returns the new total.
func (a *Aggregator) OnConversationFocused(ctx context.Context, id string) int {
	a.mu.Lock()
	conv, known := a.conversations[id]
	direct := known && conv.Kind == models.ConversationDirect
	if known {
		conv.UnreadCount = 0
	}
	for key := range a.bySource {
		if key.ConversationID == id {
			delete(a.bySource, key)
		}
	}
	total := a.totalLocked()
	a.mu.Unlock()

	if direct {
		a.persist(ctx, id, 0)
	}
	return total
}

// Mirror sets a group badge from the server's authoritative count.
func (a *Aggregator) Mirror(id string, n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLocked(id, models.ConversationGroup).UnreadCount = n
}

// Charge adds one to the tally of a source key and returns the new total.
func (a *Aggregator) Charge(key models.SourceKey) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bySource[key]++
	return a.totalLocked()
}

// Total sums the tally over all source keys.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLocked()
}

func (a *Aggregator) totalLocked() int {
	total := 0
	for _, n := range a.bySource {
		total += n
	}
	return total
}

// BySource returns the tally keyed by the source key string.
func (a *Aggregator) BySource() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.bySource))
	for key, n := range a.bySource {
		out[key.String()] = n
	}
	return out
}

// Reset clears the tally. Conversation badges are left alone.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bySource = make(map[models.SourceKey]int)
}

// ForConversation returns a conversation's badge count.
func (a *Aggregator) ForConversation(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if conv, ok := a.conversations[id]; ok {
		return conv.UnreadCount
	}
	return 0
}

// Conversation returns a snapshot of one conversation.
func (a *Aggregator) Conversation(id string) (models.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return a.snapshotLocked(conv), true
}

// Conversations returns snapshots ordered by most recent message first.
func (a *Aggregator) Conversations() []models.Conversation {
	a.mu.Lock()
	out := make([]models.Conversation, 0, len(a.conversations))
	for _, conv := range a.conversations {
		out = append(out, a.snapshotLocked(conv))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
