// Package models defines the core data types shared across chatsync.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Urgency is a message priority tag.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyLow    Urgency = "low"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// ParseUrgency normalizes a wire urgency value. Unknown or empty values map to normal.
func ParseUrgency(s string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case UrgencyLow:
		return UrgencyLow
	case UrgencyHigh:
		return UrgencyHigh
	case UrgencyUrgent:
		return UrgencyUrgent
	default:
		return UrgencyNormal
	}
}

// Rank orders urgency levels for sorting; higher is more urgent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyUrgent:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyNormal:
		return 1
	default:
		return 0
	}
}

// ConversationKind distinguishes direct conversations from group chats.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// ParseConversationKind parses a wire kind. Empty input returns ok=false.
func ParseConversationKind(s string) (ConversationKind, bool) {
	switch ConversationKind(strings.ToLower(strings.TrimSpace(s))) {
	case ConversationDirect:
		return ConversationDirect, true
	case ConversationGroup:
		return ConversationGroup, true
	default:
		return "", false
	}
}

// Message is a single chat message as held by the message store.
type Message struct {
	// ID is server-assigned once confirmed, a temporary id while optimistic.
	ID string `json:"id"`

	// ConversationID is a contact id (direct) or a group id (group).
	ConversationID string `json:"conversationId"`

	SenderID string `json:"senderId"`

	// Text is nil for attachment-only and deleted messages.
	Text *string `json:"text,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Urgency   Urgency   `json:"urgencyLevel"`

	IsOptimistic bool `json:"isOptimistic,omitempty"`
	IsEdited     bool `json:"isEdited,omitempty"`
	IsDeleted    bool `json:"isDeleted,omitempty"`
}

// TextValue returns the message text or "" when absent.
func (m Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// SameText reports whether two messages carry identical text (nil equals nil only).
func (m Message) SameText(other Message) bool {
	if m.Text == nil || other.Text == nil {
		return m.Text == nil && other.Text == nil
	}
	return *m.Text == *other.Text
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Text != nil {
		text := *m.Text
		out.Text = &text
	}
	return out
}

// StringPtr is a small helper for building messages with text.
func StringPtr(s string) *string {
	return &s
}

// Conversation holds per-conversation unread bookkeeping.
type Conversation struct {
	ID              string           `json:"id"`
	Kind            ConversationKind `json:"kind"`
	LastMessageTime time.Time        `json:"lastMessageTime"`
	UnreadCount     int              `json:"unreadCount"`
	IsMuted         bool             `json:"isMuted"`
	IsFocused       bool             `json:"isFocused"`
}

// SourceKey is the aggregation key for unread counting.
// Direct keys ignore the sender; group keys are per (group, sender).
type SourceKey struct {
	Kind           ConversationKind
	ConversationID string
	SenderID       string
}

// SourceKeyFor derives the source key of a message in a conversation of the given kind.
func SourceKeyFor(kind ConversationKind, m Message) SourceKey {
	if kind == ConversationGroup {
		return SourceKey{Kind: kind, ConversationID: m.ConversationID, SenderID: m.SenderID}
	}
	return SourceKey{Kind: ConversationDirect, ConversationID: m.ConversationID}
}

func (k SourceKey) String() string {
	if k.Kind == ConversationGroup {
		return fmt.Sprintf("group-%s-%s", k.ConversationID, k.SenderID)
	}
	return fmt.Sprintf("direct-%s", k.ConversationID)
}
