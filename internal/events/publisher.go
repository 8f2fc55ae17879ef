// Package events provides typed publish/subscribe for engine events.
package events

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/chatsync/internal/models"
)

// EventHandler is invoked for each event matching a subscription.
type EventHandler func(event *models.Event)

// Filter selects events. Zero fields match everything.
type Filter struct {
	EventTypes  []models.EventType
	EntityTypes []models.EntityType
	EntityID    string

	// ConversationID matches events whose metadata names the conversation.
	ConversationID string

	// TabID matches events emitted by one tab.
	TabID string
}

// Matches reports whether the event passes the filter.
func (f *Filter) Matches(event *models.Event) bool {
	switch {
	case event == nil:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, event.Type):
		return false
	case len(f.EntityTypes) > 0 && !slices.Contains(f.EntityTypes, event.EntityType):
		return false
	case f.EntityID != "" && event.EntityID != f.EntityID:
		return false
	case f.ConversationID != "" && event.Metadata[models.MetaConversation] != f.ConversationID:
		return false
	case f.TabID != "" && event.Metadata[models.MetaTab] != f.TabID:
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// Publisher is the engine's outbound event bus.
type Publisher interface {
	// Publish delivers an event to every matching subscriber.
	Publish(ctx context.Context, event *models.Event)

	// Subscribe registers a handler under a unique id.
	Subscribe(id string, filter Filter, handler EventHandler) error

	// Unsubscribe removes a subscription.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryPublisher delivers events in process. Handlers run synchronously
// on the publishing goroutine, in subscription order, outside the lock.
type InMemoryPublisher struct {
	mu   sync.RWMutex
	subs []*subscription

	historyMu sync.Mutex
	history   []*models.Event
	keep      int
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithHistory keeps the last n published events for Recent.
func WithHistory(n int) PublisherOption {
	return func(p *InMemoryPublisher) {
		if n > 0 {
			p.keep = n
		}
	}
}

// NewInMemoryPublisher creates a publisher with no subscribers.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers event to the subscribers whose filter matches.
func (p *InMemoryPublisher) Publish(_ context.Context, event *models.Event) {
	if event == nil {
		return
	}
	p.record(event)

	p.mu.RLock()
	matched := make([]EventHandler, 0, len(p.subs))
	for _, sub := range p.subs {
		if sub.filter.Matches(event) {
			matched = append(matched, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range matched {
		handler(event)
	}
}

func (p *InMemoryPublisher) record(event *models.Event) {
	if p.keep == 0 {
		return
	}
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	p.history = append(p.history, event)
	if over := len(p.history) - p.keep; over > 0 {
		p.history = slices.Clone(p.history[over:])
	}
}

// Recent returns the retained events, oldest first.
func (p *InMemoryPublisher) Recent() []*models.Event {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	return slices.Clone(p.history)
}

// Subscribe registers handler under id.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(id) >= 0 {
		return ErrSubscriptionExists
	}
	p.subs = append(p.subs, &subscription{id: id, filter: filter, handler: handler})
	return nil
}

// Unsubscribe removes the subscription registered under id.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.indexLocked(id)
	if idx < 0 {
		return ErrSubscriptionNotFound
	}
	p.subs = slices.Delete(p.subs, idx, idx+1)
	return nil
}

func (p *InMemoryPublisher) indexLocked(id string) int {
	return slices.IndexFunc(p.subs, func(s *subscription) bool { return s.id == id })
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close removes all subscriptions. Retained history is kept.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = nil
}

type conversationScoped interface {
	Conversation() string
}

// NewEvent builds an event with a fresh id, encoding payload as JSON.
// A payload that cannot be encoded is left out. Conversation-scoped payloads
// and conversation entities get the conversation id in metadata.
func NewEvent(now time.Time, eventType models.EventType, entityType models.EntityType, entityID string, payload any) *models.Event {
	event := &models.Event{
		ID:         uuid.NewString(),
		Timestamp:  now.UTC(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   map[string]string{},
	}
	if entityType == models.EntityTypeConversation {
		event.Metadata[models.MetaConversation] = entityID
	}
	if scoped, ok := payload.(conversationScoped); ok && scoped.Conversation() != "" {
		event.Metadata[models.MetaConversation] = scoped.Conversation()
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	return event
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
