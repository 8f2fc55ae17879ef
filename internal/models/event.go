package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes engine events published to subscribers.
type EventType string

const (
	// Message events
	EventTypeMessageAppended EventType = "message.appended"
	EventTypeMessageReplaced EventType = "message.replaced"
	EventTypeMessageDropped  EventType = "message.dropped"
	EventTypeMessageEdited   EventType = "message.edited"
	EventTypeMessageDeleted  EventType = "message.deleted"

	// Unread events
	EventTypeUnreadChanged EventType = "unread.changed"

	// Notification events
	EventTypeTitleChanged         EventType = "title.changed"
	EventTypeNotificationRaised   EventType = "notification.raised"
	EventTypeNotificationsSeen    EventType = "notifications.seen"
	EventTypeNotificationsUnseen  EventType = "notifications.unseen"
	EventTypeConversationSelected EventType = "conversation.selected"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeMessage      EntityType = "message"
	EntityTypeConversation EntityType = "conversation"
	EntityTypeTab          EntityType = "tab"
)

// Event is a typed notification emitted by the engine.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Metadata keys set on engine events.
const (
	MetaTab          = "tab_id"
	MetaConversation = "conversation_id"
)

// MessagePayload is the payload for message.* events.
type MessagePayload struct {
	ConversationID string  `json:"conversation_id"`
	Index          int     `json:"index"`
	Message        Message `json:"message"`
	Reason         string  `json:"reason,omitempty"`
}

// Conversation returns the conversation the payload belongs to.
func (p MessagePayload) Conversation() string { return p.ConversationID }

// UnreadChangedPayload is the payload for unread.changed events.
type UnreadChangedPayload struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
	Total          int    `json:"total"`
}

// Conversation returns the conversation the payload belongs to.
func (p UnreadChangedPayload) Conversation() string { return p.ConversationID }

// TitlePayload is the payload for title.changed events.
type TitlePayload struct {
	Title    string `json:"title"`
	Flashing bool   `json:"flashing"`
}

// NotificationPayload is the payload for notification.raised events.
type NotificationPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// Conversation returns the conversation the payload belongs to.
func (p NotificationPayload) Conversation() string { return p.ConversationID }

// SeenPayload is the payload for notifications.seen / notifications.unseen events.
type SeenPayload struct {
	// Origin is "local" for this tab's own transition, "remote" for another tab's.
	Origin string `json:"origin"`
}
