// Package store holds the per-conversation ordered message logs.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/tOgg1/chatsync/internal/models"
)

// Store is a set of conversation-scoped message logs. Operations preserve
// order; messages are never physically removed.
type Store struct {
	mu    sync.RWMutex
	logs  map[string][]models.Message
	index map[string]string // message id -> conversation id
}

// New returns an empty store.
func New() *Store {
	return &Store{
		logs:  make(map[string][]models.Message),
		index: make(map[string]string),
	}
}

// Append adds msg at the end of the conversation log and returns its index.
func (s *Store) Append(conversationID string, msg models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(conversationID, msg)
}

func (s *Store) appendLocked(conversationID string, msg models.Message) int {
	msg = msg.Clone()
	msg.ConversationID = conversationID
	s.logs[conversationID] = append(s.logs[conversationID], msg)
	if msg.ID != "" {
		s.index[msg.ID] = conversationID
	}
	return len(s.logs[conversationID]) - 1
}

// ReplaceOptimistic substitutes the first optimistic message matching match
// with incoming, at the same index. The confirmed message keeps the
// placeholder id when incoming has none. It never appends.
func (s *Store) ReplaceOptimistic(conversationID string, match func(models.Message) bool, incoming models.Message) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	for i := range log {
		if !log[i].IsOptimistic || !match(log[i]) {
			continue
		}
		old := log[i]
		confirmed := incoming.Clone()
		confirmed.ConversationID = conversationID
		confirmed.IsOptimistic = false
		if strings.TrimSpace(confirmed.ID) == "" {
			confirmed.ID = old.ID
		}
		log[i] = confirmed
		if old.ID != confirmed.ID {
			delete(s.index, old.ID)
		}
		s.index[confirmed.ID] = conversationID
		return i, true
	}
	return -1, false
}

// MarkEdited replaces the text of a message and flags it edited.
// Deleted messages are left untouched.
func (s *Store) MarkEdited(conversationID, id string, newText *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(conversationID, id)
	if i < 0 || s.logs[conversationID][i].IsDeleted {
		return false
	}
	msg := &s.logs[conversationID][i]
	if newText != nil {
		msg.Text = models.StringPtr(*newText)
	} else {
		msg.Text = nil
	}
	msg.IsEdited = true
	return true
}

// MarkDeleted soft-deletes a message, keeping its slot.
func (s *Store) MarkDeleted(conversationID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(conversationID, id)
	if i < 0 {
		return false
	}
	msg := &s.logs[conversationID][i]
	if msg.IsDeleted {
		return false
	}
	msg.IsDeleted = true
	msg.Text = nil
	return true
}

// Seed appends history messages in order, skipping ids already present.
// It returns the number of messages added.
func (s *Store) Seed(conversationID string, msgs []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, msg := range msgs {
		if msg.ID != "" && s.findLocked(conversationID, msg.ID) >= 0 {
			continue
		}
		s.appendLocked(conversationID, msg)
		added++
	}
	return added
}

// Messages returns a copy of the conversation log.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.logs[conversationID])
}

// Len returns the number of messages in a conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}

// Locate finds the conversation and index holding a message id.
func (s *Store) Locate(id string) (string, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversationID, ok := s.index[id]
	if !ok {
		return "", -1, false
	}
	i := s.findLocked(conversationID, id)
	if i < 0 {
		return "", -1, false
	}
	return conversationID, i, true
}

// PendingOptimistic lists messages still awaiting server confirmation.
func (s *Store) PendingOptimistic(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, msg := range s.logs[conversationID] {
		if msg.IsOptimistic {
			out = append(out, msg.Clone())
		}
	}
	return out
}

// Conversations returns the ids of all conversations with a log, sorted.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) findLocked(conversationID, id string) int {
	if id == "" {
		return -1
	}
	for i, msg := range s.logs[conversationID] {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(in []models.Message) []models.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Message, len(in))
	for i, msg := range in {
		out[i] = msg.Clone()
	}
	return out
}
