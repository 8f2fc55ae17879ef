package models

import (
	"strings"
	"time"
)

// InboundEventType is the push-transport event name.
type InboundEventType string

const (
	InboundMessageNew     InboundEventType = "message.new"
	InboundMessageEdited  InboundEventType = "message.edited"
	InboundMessageDeleted InboundEventType = "message.deleted"
)

// InboundEvent is a message event delivered by the push transport.
// Edited events carry only ID and Text; deleted events carry only ID.
type InboundEvent struct {
	Type           InboundEventType `json:"type"`
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId,omitempty"`
	Kind           string           `json:"kind,omitempty"`
	SenderID       string           `json:"senderId,omitempty"`
	Text           *string          `json:"text,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	UrgencyLevel   string           `json:"urgencyLevel,omitempty"`
}

// Validate checks the fields each event type requires.
func (e InboundEvent) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(e.ID) == "" {
		errs.Add("id", ErrMissingID)
	}
	switch e.Type {
	case InboundMessageNew:
		if strings.TrimSpace(e.ConversationID) == "" {
			errs.Add("conversationId", ErrMissingConversationID)
		}
	case InboundMessageEdited, InboundMessageDeleted:
	default:
		errs.Add("type", ErrUnknownEventType)
	}
	return errs.Err()
}

// Message converts a message.new event into a store message.
func (e InboundEvent) Message() Message {
	m := Message{
		ID:             strings.TrimSpace(e.ID),
		ConversationID: strings.TrimSpace(e.ConversationID),
		SenderID:       strings.TrimSpace(e.SenderID),
		Timestamp:      e.Timestamp,
		Urgency:        ParseUrgency(e.UrgencyLevel),
	}
	if e.Text != nil {
		m.Text = StringPtr(*e.Text)
	}
	return m
}
