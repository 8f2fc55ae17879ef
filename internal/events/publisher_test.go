package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tOgg1/chatsync/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	appended := &models.Event{
		Type:       models.EventTypeMessageAppended,
		EntityType: models.EntityTypeMessage,
		EntityID:   "m1",
		Metadata:   map[string]string{models.MetaConversation: "C1", models.MetaTab: "tab-a"},
	}

	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  appended,
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "event type filter matches",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeMessageAppended}},
			event:  appended,
			want:   true,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeMessageDropped}},
			event:  appended,
			want:   false,
		},
		{
			name: "multiple event types - matches any",
			filter: Filter{EventTypes: []models.EventType{
				models.EventTypeMessageDropped,
				models.EventTypeMessageAppended,
			}},
			event: appended,
			want:  true,
		},
		{
			name:   "entity type filter rejects non-matching",
			filter: Filter{EntityTypes: []models.EntityType{models.EntityTypeTab}},
			event:  appended,
			want:   false,
		},
		{
			name:   "entity ID filter rejects non-matching",
			filter: Filter{EntityID: "m2"},
			event:  appended,
			want:   false,
		},
		{
			name: "combined filters - all must match",
			filter: Filter{
				EventTypes:  []models.EventType{models.EventTypeMessageAppended},
				EntityTypes: []models.EntityType{models.EntityTypeMessage},
				EntityID:    "m1",
			},
			event: appended,
			want:  true,
		},
		{
			name:   "conversation filter matches metadata",
			filter: Filter{ConversationID: "C1"},
			event:  appended,
			want:   true,
		},
		{
			name:   "conversation filter rejects other conversation",
			filter: Filter{ConversationID: "C2"},
			event:  appended,
			want:   false,
		},
		{
			name:   "tab filter rejects other tab",
			filter: Filter{TabID: "tab-b"},
			event:  appended,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Matches(tt.event)
			if got != tt.want {
				t.Errorf("Filter.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_Subscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	handler := func(event *models.Event) {}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != nil {
		t.Errorf("Subscribe() error = %v, want nil", err)
	}
	if pub.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", pub.SubscriberCount())
	}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != ErrSubscriptionExists {
		t.Errorf("Subscribe() duplicate error = %v, want %v", err, ErrSubscriptionExists)
	}
	if err := pub.Subscribe("", Filter{}, handler); err != ErrInvalidSubscriptionID {
		t.Errorf("Subscribe() empty ID error = %v, want %v", err, ErrInvalidSubscriptionID)
	}
	if err := pub.Subscribe("sub-2", Filter{}, nil); err != ErrNilHandler {
		t.Errorf("Subscribe() nil handler error = %v, want %v", err, ErrNilHandler)
	}
}

func TestInMemoryPublisher_Unsubscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	_ = pub.Subscribe("sub-1", Filter{}, func(event *models.Event) {})

	if err := pub.Unsubscribe("sub-1"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil", err)
	}
	if pub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", pub.SubscriberCount())
	}
	if err := pub.Unsubscribe("sub-1"); err != ErrSubscriptionNotFound {
		t.Errorf("Unsubscribe() non-existent error = %v, want %v", err, ErrSubscriptionNotFound)
	}
}

func TestInMemoryPublisher_PublishInSubscriptionOrder(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var order []string
	for _, id := range []string{"c", "a", "b"} {
		id := id
		_ = pub.Subscribe(id, Filter{}, func(*models.Event) { order = append(order, id) })
	}

	pub.Publish(ctx, &models.Event{ID: "event-1", Type: models.EventTypeTitleChanged})

	want := []string{"c", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("handlers called = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handlers called = %v, want %v", order, want)
		}
	}
}

func TestInMemoryPublisher_PublishWithFilter(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var messageEvents, tabEvents int
	_ = pub.Subscribe("messages", Filter{EntityTypes: []models.EntityType{models.EntityTypeMessage}}, func(*models.Event) {
		messageEvents++
	})
	_ = pub.Subscribe("tabs", Filter{EntityTypes: []models.EntityType{models.EntityTypeTab}}, func(*models.Event) {
		tabEvents++
	})

	pub.Publish(ctx, &models.Event{Type: models.EventTypeMessageAppended, EntityType: models.EntityTypeMessage})
	pub.Publish(ctx, &models.Event{Type: models.EventTypeMessageReplaced, EntityType: models.EntityTypeMessage})
	pub.Publish(ctx, &models.Event{Type: models.EventTypeNotificationsSeen, EntityType: models.EntityTypeTab})
	pub.Publish(ctx, nil)

	if messageEvents != 2 {
		t.Errorf("message events = %d, want 2", messageEvents)
	}
	if tabEvents != 1 {
		t.Errorf("tab events = %d, want 1", tabEvents)
	}
}

func TestInMemoryPublisher_History(t *testing.T) {
	pub := NewInMemoryPublisher(WithHistory(2))
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		pub.Publish(ctx, &models.Event{ID: id})
	}

	recent := pub.Recent()
	if len(recent) != 2 || recent[0].ID != "e2" || recent[1].ID != "e3" {
		t.Fatalf("Recent() = %v, want [e2 e3]", recent)
	}

	if got := NewInMemoryPublisher().Recent(); len(got) != 0 {
		t.Errorf("Recent() without history = %d events, want 0", len(got))
	}
}

func TestInMemoryPublisher_UnsubscribeKeepsOrder(t *testing.T) {
	pub := NewInMemoryPublisher()
	var order []string
	for _, id := range []string{"a", "b", "c"} {
		id := id
		_ = pub.Subscribe(id, Filter{}, func(*models.Event) { order = append(order, id) })
	}
	_ = pub.Unsubscribe("b")
	pub.Publish(context.Background(), &models.Event{ID: "e1"})
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("handlers called = %v, want [a c]", order)
	}
}

func TestInMemoryPublisher_Close(t *testing.T) {
	pub := NewInMemoryPublisher()
	_ = pub.Subscribe("sub-1", Filter{}, func(*models.Event) {})
	pub.Close()
	if pub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after Close = %d, want 0", pub.SubscriberCount())
	}
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	event := NewEvent(now, models.EventTypeUnreadChanged, models.EntityTypeConversation, "C42",
		models.UnreadChangedPayload{ConversationID: "C42", Count: 1, Total: 1})

	if event.ID == "" {
		t.Error("NewEvent() left ID empty")
	}
	if !event.Timestamp.Equal(now) || event.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v, want %v in UTC", event.Timestamp, now)
	}

	var payload models.UnreadChangedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Count != 1 || payload.ConversationID != "C42" {
		t.Errorf("payload = %+v", payload)
	}
	if got := event.Metadata[models.MetaConversation]; got != "C42" {
		t.Errorf("conversation metadata = %q, want C42", got)
	}

	msg := NewEvent(now, models.EventTypeMessageAppended, models.EntityTypeMessage, "m1",
		models.MessagePayload{ConversationID: "C7"})
	if got := msg.Metadata[models.MetaConversation]; got != "C7" {
		t.Errorf("message event conversation metadata = %q, want C7", got)
	}

	seen := NewEvent(now, models.EventTypeNotificationsSeen, models.EntityTypeTab, "tab-1", nil)
	if seen.Payload != nil {
		t.Errorf("nil payload encoded as %s", seen.Payload)
	}
	if _, ok := seen.Metadata[models.MetaConversation]; ok {
		t.Error("tab event carries conversation metadata")
	}
}
