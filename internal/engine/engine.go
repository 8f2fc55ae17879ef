// Package engine ties reconciliation, unread counting, title notifications
// and cross-tab sync into one instance per tab.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/clock"
	"github.com/tOgg1/chatsync/internal/events"
	"github.com/tOgg1/chatsync/internal/kv"
	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
	"github.com/tOgg1/chatsync/internal/models"
	"github.com/tOgg1/chatsync/internal/notify"
	"github.com/tOgg1/chatsync/internal/prefs"
	"github.com/tOgg1/chatsync/internal/reconcile"
	"github.com/tOgg1/chatsync/internal/store"
	"github.com/tOgg1/chatsync/internal/tabsync"
	"github.com/tOgg1/chatsync/internal/unread"
)

// Engine errors.
var (
	ErrClosed         = errors.New("engine closed")
	ErrUnknownMessage = errors.New("message not found")
)

// TempIDPrefix marks ids assigned to optimistic messages.
const TempIDPrefix = "temp-"

// Options configures an Engine. Only CurrentUserID is required.
type Options struct {
	// TabID identifies this tab as a storage writer. Generated when empty.
	TabID string

	CurrentUserID func() string

	// IsFocused overrides focus tracking. By default the conversation
	// passed to FocusConversation is focused while the tab is visible.
	IsFocused func(conversationID string) bool

	// IsMuted overrides the shared mute lists. IsFocused and IsMuted run
	// with the engine locked and must not call back into it.
	IsMuted func(key models.SourceKey) bool

	// DisplayName resolves sender and group names for alerts.
	DisplayName func(kind models.ConversationKind, id string) string

	// SelectConversation and FocusWindow are invoked on notification click.
	SelectConversation func(conversationID string)
	FocusWindow        func()

	// Storage is the session-shared storage. A private in-memory storage is
	// used when nil.
	Storage kv.Storage

	Publisher events.Publisher
	Clock     clock.Clock
	Title     notify.TitleSink
	Notifier  notify.DesktopNotifier

	Windows       reconcile.Windows
	OriginalTitle string
	FlashInterval time.Duration
	ReassertDelay time.Duration
	PreviewRunes  int

	// Hidden is the tab's visibility at startup.
	Hidden bool
}

// Outcome reports what HandleEvent did with an inbound event.
type Outcome struct {
	Action  string                  `json:"action"`
	Reason  string                  `json:"reason,omitempty"`
	Index   int                     `json:"index"`
	Counted bool                    `json:"counted"`
	Message *models.Message         `json:"message,omitempty"`
	Kind    models.ConversationKind `json:"kind,omitempty"`
}

// Engine is the per-tab notification and reconciliation state.
type Engine struct {
	opts   Options
	logger zerolog.Logger
	clock  clock.Clock
	pub    events.Publisher

	store     *store.Store
	unread    *unread.Aggregator
	scheduler *notify.Scheduler
	desktop   *notify.Desktop
	prefs     *prefs.Prefs
	sync      *tabsync.Synchronizer

	ownsStorage bool

	mu      sync.Mutex
	kinds   map[string]models.ConversationKind
	focused string
	closed  bool

	// urgency and base text of the message behind the current alert,
	// kept so the alert can be redrawn when the total changes.
	alertUrgency models.Urgency
	alertBase    string
}

// New builds an engine, reading the shared seen flag and mute lists.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.CurrentUserID == nil {
		return nil, fmt.Errorf("current user resolver required")
	}
	if strings.TrimSpace(opts.TabID) == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NewInMemoryPublisher()
	}
	if opts.DisplayName == nil {
		opts.DisplayName = func(_ models.ConversationKind, id string) string { return id }
	}
	if opts.PreviewRunes <= 0 {
		opts.PreviewRunes = notify.DefaultPreviewRunes
	}

	e := &Engine{
		opts:   opts,
		logger: logging.WithTab(opts.TabID),
		clock:  opts.Clock,
		pub:    opts.Publisher,
		store:  store.New(),
		kinds:  make(map[string]models.ConversationKind),
	}

	storage := opts.Storage
	if storage == nil {
		storage = kv.NewMemoryHub().Open(opts.TabID)
		e.ownsStorage = true
	}
	e.prefs = prefs.New(ctx, storage)

	isMuted := opts.IsMuted
	if isMuted == nil {
		isMuted = e.prefs.IsMuted
	}
	isFocused := opts.IsFocused
	if isFocused == nil {
		isFocused = e.focusedLocked
	}
	e.unread = unread.New(unread.Options{
		SelfID:    opts.CurrentUserID,
		IsFocused: isFocused,
		IsMuted:   isMuted,
		Store:     e.prefs,
	})
	e.scheduler = notify.NewScheduler(notify.SchedulerOptions{
		Clock:         opts.Clock,
		Title:         opts.Title,
		OriginalTitle: opts.OriginalTitle,
		FlashInterval: opts.FlashInterval,
		ReassertDelay: opts.ReassertDelay,
	})
	e.desktop = notify.NewDesktop(opts.Notifier)
	e.sync = tabsync.New(ctx, tabsync.Options{
		Prefs:   e.prefs,
		Hidden:  opts.Hidden,
		OnReset: e.reset,
	})

	e.logger.Info().Bool("hidden", opts.Hidden).Bool("seen", e.sync.Seen()).Msg("engine started")
	return e, nil
}

// focusedLocked is the default focus rule. It is only called from
// aggregator methods, which run with e.mu held.
func (e *Engine) focusedLocked(conversationID string) bool {
	return conversationID != "" && conversationID == e.focused && !e.sync.Hidden()
}

// TabID returns the tab's writer id.
func (e *Engine) TabID() string {
	return e.opts.TabID
}

// Publisher returns the engine's event publisher.
func (e *Engine) Publisher() events.Publisher {
	return e.pub
}

// Prefs returns the shared preferences.
func (e *Engine) Prefs() *prefs.Prefs {
	return e.prefs
}

func (e *Engine) kindLocked(conversationID string, hint string) models.ConversationKind {
	if kind, ok := models.ParseConversationKind(hint); ok {
		if _, known := e.kinds[conversationID]; !known {
			e.kinds[conversationID] = kind
		}
		return e.kinds[conversationID]
	}
	if kind, ok := e.kinds[conversationID]; ok {
		return kind
	}
	e.kinds[conversationID] = models.ConversationDirect
	return models.ConversationDirect
}

func (e *Engine) event(eventType models.EventType, entityType models.EntityType, entityID string, payload any) *models.Event {
	ev := events.NewEvent(e.clock.Now(), eventType, entityType, entityID, payload)
	ev.Metadata[models.MetaTab] = e.opts.TabID
	return ev
}

func (e *Engine) publish(ctx context.Context, evs []*models.Event) {
	for _, ev := range evs {
		e.pub.Publish(ctx, ev)
	}
}

// HandleEvent applies one transport event. Malformed events are dropped,
// logged and returned as an error; state is left untouched.
func (e *Engine) HandleEvent(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		metrics.EventsTotal.WithLabelValues(string(ev.Type), "invalid").Inc()
		e.logger.Warn().Err(err).Str("type", string(ev.Type)).Str("message_id", ev.ID).Msg("dropping malformed event")
		return Outcome{Action: "invalid", Index: -1}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	var (
		out  Outcome
		evs  []*models.Event
		note *notify.Notification
		err  error
	)
	switch ev.Type {
	case models.InboundMessageNew:
		out, evs, note = e.applyNewLocked(ctx, ev)
	case models.InboundMessageEdited:
		out, evs, err = e.applyEditLocked(ev)
	case models.InboundMessageDeleted:
		out, evs, err = e.applyDeleteLocked(ev)
	}
	e.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(ev.Type), out.Action).Inc()
	e.publish(ctx, evs)
	if note != nil {
		e.raise(ctx, *note)
	}
	return out, err
}

// raise shows a desktop notification. It runs without the engine lock: the
// notifier may prompt for permission or invoke OnClick synchronously.
func (e *Engine) raise(ctx context.Context, note notify.Notification) {
	if !e.desktop.Notify(ctx, note) {
		return
	}
	e.publish(ctx, []*models.Event{e.event(models.EventTypeNotificationRaised, models.EntityTypeMessage, note.MessageID,
		models.NotificationPayload{ConversationID: note.ConversationID, MessageID: note.MessageID, Title: note.Title, Body: note.Body})})
}

func (e *Engine) applyNewLocked(ctx context.Context, ev models.InboundEvent) (Outcome, []*models.Event, *notify.Notification) {
	m := ev.Message()
	if m.Timestamp.IsZero() {
		m.Timestamp = e.clock.Now()
	}
	kind := e.kindLocked(m.ConversationID, ev.Kind)
	logger := logging.WithConversation(e.logger, m.ConversationID)

	existing := e.store.Messages(m.ConversationID)
	decision := reconcile.Decide(existing, m, kind, e.opts.CurrentUserID(), e.opts.Windows)
	out := Outcome{Action: decision.Action.String(), Reason: string(decision.Reason), Index: decision.Index, Kind: kind}

	var evs []*models.Event
	switch decision.Action {
	case reconcile.ActionDrop:
		logger.Debug().Str("message_id", m.ID).Str("reason", string(decision.Reason)).Msg("message dropped")
		evs = append(evs, e.event(models.EventTypeMessageDropped, models.EntityTypeMessage, m.ID,
			models.MessagePayload{ConversationID: m.ConversationID, Index: -1, Message: m, Reason: string(decision.Reason)}))
		return out, evs, nil

	case reconcile.ActionReplaceOptimistic:
		placeholder := existing[decision.Index].ID
		index, ok := e.store.ReplaceOptimistic(m.ConversationID, func(x models.Message) bool { return x.ID == placeholder }, m)
		if !ok {
			logger.Warn().Str("message_id", m.ID).Msg("optimistic entry vanished before confirmation")
			out.Action = reconcile.ActionDrop.String()
			return out, nil, nil
		}
		e.unread.OnMessageApplied(ctx, m, kind, false)
		stored := e.store.Messages(m.ConversationID)[index]
		out.Index = index
		out.Message = &stored
		logger.Debug().Str("message_id", m.ID).Str("placeholder", placeholder).Int("index", index).Msg("optimistic message confirmed")
		evs = append(evs, e.event(models.EventTypeMessageReplaced, models.EntityTypeMessage, m.ID,
			models.MessagePayload{ConversationID: m.ConversationID, Index: index, Message: stored, Reason: placeholder}))
		return out, evs, nil
	}

	index := e.store.Append(m.ConversationID, m)
	out.Index = index
	stored := m.Clone()
	out.Message = &stored
	evs = append(evs, e.event(models.EventTypeMessageAppended, models.EntityTypeMessage, m.ID,
		models.MessagePayload{ConversationID: m.ConversationID, Index: index, Message: stored}))

	if e.unread.OnMessageApplied(ctx, m, kind, true) {
		evs = append(evs, e.unreadEventLocked(m.ConversationID))
	}
	counted, note, more := e.notifyLocked(ctx, m, kind)
	out.Counted = counted
	evs = append(evs, more...)
	return out, evs, note
}

func (e *Engine) unreadEventLocked(conversationID string) *models.Event {
	total := e.unread.Total()
	metrics.UnreadTotal.Set(float64(total))
	return e.event(models.EventTypeUnreadChanged, models.EntityTypeConversation, conversationID,
		models.UnreadChangedPayload{
			ConversationID: conversationID,
			Count:          e.unread.ForConversation(conversationID),
			Total:          total,
		})
}

// notifyLocked builds the desktop notification for a just-appended message
// and, while hidden, charges the title. It reports whether the message was
// charged. The caller raises the notification after unlocking.
func (e *Engine) notifyLocked(ctx context.Context, m models.Message, kind models.ConversationKind) (bool, *notify.Notification, []*models.Event) {
	if !e.unread.Qualifies(m, kind) {
		return false, nil, nil
	}

	sender := e.opts.DisplayName(models.ConversationDirect, m.SenderID)
	group := ""
	if kind == models.ConversationGroup {
		group = e.opts.DisplayName(models.ConversationGroup, m.ConversationID)
	}

	note := &notify.Notification{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Kind:           kind,
		Urgency:        m.Urgency,
		Title:          notify.Heading(kind, group, sender),
		Body:           notify.DesktopBody(kind, m.Text, e.opts.PreviewRunes),
		OnClick:        e.clickHandler(m.ConversationID),
	}

	if !e.sync.Hidden() || !e.scheduler.MarkCounted(m.ID) {
		return false, note, nil
	}

	total := e.unread.Charge(models.SourceKeyFor(kind, m))
	metrics.UnreadTotal.Set(float64(total))
	e.sync.MarkUnseen(ctx)

	base := notify.BaseMessage(kind, group, sender, notify.Preview(m.Text, e.opts.PreviewRunes))
	alert := notify.AlertTitle(total, m.Urgency, base)
	e.alertUrgency, e.alertBase = m.Urgency, base
	e.scheduler.Flash(alert)

	logger := logging.WithConversation(e.logger, m.ConversationID)
	logger.Info().
		Str("message_id", m.ID).
		Str("urgency", string(m.Urgency)).
		Int("total", total).
		Str("preview", logging.RedactText(m.Text)).
		Msg("title flashing for new message")

	evs := []*models.Event{
		e.event(models.EventTypeNotificationsUnseen, models.EntityTypeTab, e.opts.TabID, models.SeenPayload{Origin: string(tabsync.OriginLocal)}),
		e.event(models.EventTypeTitleChanged, models.EntityTypeTab, e.opts.TabID, models.TitlePayload{Title: alert, Flashing: true}),
	}
	return true, note, evs
}

func (e *Engine) clickHandler(conversationID string) func() {
	return func() {
		e.ActivateConversation(context.Background(), conversationID)
	}
}

func (e *Engine) resolveLocked(ev models.InboundEvent) (string, bool) {
	id := strings.TrimSpace(ev.ID)
	if conv := strings.TrimSpace(ev.ConversationID); conv != "" {
		return conv, true
	}
	conv, _, ok := e.store.Locate(id)
	return conv, ok
}

func (e *Engine) applyEditLocked(ev models.InboundEvent) (Outcome, []*models.Event, error) {
	id := strings.TrimSpace(ev.ID)
	conv, ok := e.resolveLocked(ev)
	if !ok || !e.store.MarkEdited(conv, id, ev.Text) {
		e.logger.Debug().Str("message_id", id).Msg("edit for unknown or deleted message")
		return Outcome{Action: "ignored", Index: -1}, nil, ErrUnknownMessage
	}
	return e.mutationOutcomeLocked(models.EventTypeMessageEdited, conv, id)
}

func (e *Engine) applyDeleteLocked(ev models.InboundEvent) (Outcome, []*models.Event, error) {
	id := strings.TrimSpace(ev.ID)
	conv, ok := e.resolveLocked(ev)
	if !ok || !e.store.MarkDeleted(conv, id) {
		e.logger.Debug().Str("message_id", id).Msg("delete for unknown or deleted message")
		return Outcome{Action: "ignored", Index: -1}, nil, ErrUnknownMessage
	}
	return e.mutationOutcomeLocked(models.EventTypeMessageDeleted, conv, id)
}

func (e *Engine) mutationOutcomeLocked(eventType models.EventType, conv, id string) (Outcome, []*models.Event, error) {
	out := Outcome{Action: "updated", Index: -1, Kind: e.kindLocked(conv, "")}
	for i, m := range e.store.Messages(conv) {
		if m.ID == id {
			stored := m
			out.Index = i
			out.Message = &stored
			break
		}
	}
	payload := models.MessagePayload{ConversationID: conv, Index: out.Index}
	if out.Message != nil {
		payload.Message = *out.Message
	}
	return out, []*models.Event{e.event(eventType, models.EntityTypeMessage, id, payload)}, nil
}

// SendOptimistic appends a locally-sent message with a temporary id. The
// server echo later confirms it in place.
func (e *Engine) SendOptimistic(ctx context.Context, conversationID string, kind models.ConversationKind, text *string, urgency models.Urgency) (models.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return models.Message{}, models.ErrMissingConversationID
	}
	if urgency == "" {
		urgency = models.UrgencyNormal
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	kind = e.kindLocked(conversationID, string(kind))
	m := models.Message{
		ID:             TempIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       e.opts.CurrentUserID(),
		Timestamp:      e.clock.Now(),
		Urgency:        urgency,
		IsOptimistic:   true,
	}
	if text != nil {
		m.Text = models.StringPtr(*text)
	}
	index := e.store.Append(conversationID, m)
	e.unread.OnMessageApplied(ctx, m, kind, true)
	ev := e.event(models.EventTypeMessageAppended, models.EntityTypeMessage, m.ID,
		models.MessagePayload{ConversationID: conversationID, Index: index, Message: m, Reason: "optimistic"})
	e.mu.Unlock()

	metrics.EventsTotal.WithLabelValues("message.send", "optimistic").Inc()
	e.publish(ctx, []*models.Event{ev})
	return m.Clone(), nil
}

// SeedHistory loads a conversation's history, skipping messages already
// present. Seeded messages never count as unread.
func (e *Engine) SeedHistory(ctx context.Context, conversationID string, kind models.ConversationKind, msgs []models.Message) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	kind = e.kindLocked(conversationID, string(kind))
	added := e.store.Seed(conversationID, msgs)
	for _, m := range msgs {
		m.ConversationID = conversationID
		e.unread.OnMessageApplied(ctx, m, kind, false)
	}
	logger := logging.WithConversation(e.logger, conversationID)
	logger.Debug().Int("added", added).Int("received", len(msgs)).Msg("history seeded")
	return added, nil
}

// RegisterConversation makes a conversation known, loading its persisted
// direct unread count.
func (e *Engine) RegisterConversation(ctx context.Context, conversationID string, kind models.ConversationKind) (models.Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return models.Conversation{}, ErrClosed
	}
	kind = e.kindLocked(conversationID, string(kind))
	return e.unread.Register(ctx, conversationID, kind), nil
}

// MirrorGroupUnread sets a group badge from the server's count.
func (e *Engine) MirrorGroupUnread(conversationID string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kindLocked(conversationID, string(models.ConversationGroup))
	e.unread.Mirror(conversationID, n)
}

// FocusConversation opens a conversation: its badge and tally reset, and the
// title stops flashing once nothing is left unread. An empty id clears focus.
func (e *Engine) FocusConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.focused = conversationID
	var evs []*models.Event
	if conversationID != "" {
		total := e.unread.OnConversationFocused(ctx, conversationID)
		if e.scheduler.State() == notify.StateFlashing {
			if total == 0 {
				e.scheduler.Stop()
				evs = append(evs, e.event(models.EventTypeTitleChanged, models.EntityTypeTab, e.opts.TabID,
					models.TitlePayload{Title: e.scheduler.OriginalTitle()}))
			} else if alert := notify.AlertTitle(total, e.alertUrgency, e.alertBase); alert != e.scheduler.Alert() {
				e.scheduler.Flash(alert)
				evs = append(evs, e.event(models.EventTypeTitleChanged, models.EntityTypeTab, e.opts.TabID,
					models.TitlePayload{Title: alert, Flashing: true}))
			}
		}
		evs = append(evs,
			e.unreadEventLocked(conversationID),
			e.event(models.EventTypeConversationSelected, models.EntityTypeConversation, conversationID, nil),
		)
	}
	e.mu.Unlock()

	e.publish(ctx, evs)
	return nil
}

// ActivateConversation handles a notification click: the window is
// focused and the originating conversation selected.
func (e *Engine) ActivateConversation(ctx context.Context, conversationID string) {
	if e.opts.FocusWindow != nil {
		e.opts.FocusWindow()
	}
	if e.opts.SelectConversation != nil {
		e.opts.SelectConversation(conversationID)
	}
	if err := e.FocusConversation(ctx, conversationID); err != nil {
		e.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("activation ignored")
	}
}

// OnVisibilityChange records a visibility transition. Becoming visible
// resets notification state here and, through storage, in every other tab.
func (e *Engine) OnVisibilityChange(ctx context.Context, hidden bool) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.sync.OnVisibilityChange(ctx, hidden)
	return nil
}

// reset clears the tally and counted ids and restores the title.
func (e *Engine) reset(origin tabsync.Origin) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.unread.Reset()
	e.scheduler.Reset()
	metrics.UnreadTotal.Set(0)
	evs := []*models.Event{
		e.event(models.EventTypeNotificationsSeen, models.EntityTypeTab, e.opts.TabID, models.SeenPayload{Origin: string(origin)}),
		e.event(models.EventTypeTitleChanged, models.EntityTypeTab, e.opts.TabID, models.TitlePayload{Title: e.scheduler.OriginalTitle()}),
	}
	e.mu.Unlock()

	e.logger.Debug().Str("origin", string(origin)).Msg("notification state reset")
	e.publish(context.Background(), evs)
}

// SetMuted updates the shared mute list.
func (e *Engine) SetMuted(ctx context.Context, kind models.ConversationKind, conversationID string, muted bool) error {
	return e.prefs.SetMuted(ctx, kind, conversationID, muted)
}

// Messages returns a copy of a conversation log.
func (e *Engine) Messages(conversationID string) []models.Message {
	return e.store.Messages(conversationID)
}

// PendingOptimistic lists a conversation's unconfirmed sends.
func (e *Engine) PendingOptimistic(conversationID string) []models.Message {
	return e.store.PendingOptimistic(conversationID)
}

// ForConversation returns a conversation's unread badge.
func (e *Engine) ForConversation(conversationID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread.ForConversation(conversationID)
}

// Total returns the unread tally driving the title.
func (e *Engine) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread.Total()
}

// Snapshot is a point-in-time view of a tab's notification state.
type Snapshot struct {
	TabID         string                `json:"tabId"`
	Hidden        bool                  `json:"hidden"`
	Seen          bool                  `json:"notificationsSeen"`
	State         string                `json:"state"`
	Alert         string                `json:"alert,omitempty"`
	Focused       string                `json:"focused,omitempty"`
	Total         int                   `json:"total"`
	BySource      map[string]int        `json:"unreadBySourceKey"`
	Counted       []string              `json:"countedMessageIds"`
	Conversations []models.Conversation `json:"conversations"`
}

// Snapshot captures the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		TabID:         e.opts.TabID,
		Hidden:        e.sync.Hidden(),
		Seen:          e.sync.Seen(),
		State:         e.scheduler.State().String(),
		Alert:         e.scheduler.Alert(),
		Focused:       e.focused,
		Total:         e.unread.Total(),
		BySource:      e.unread.BySource(),
		Counted:       e.scheduler.CountedIDs(),
		Conversations: e.unread.Conversations(),
	}
}

// Close stops timers, restores the title and detaches from storage.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.scheduler.Close()
	e.mu.Unlock()

	e.sync.Close()
	e.prefs.Close()
	e.logger.Info().Msg("engine closed")
	if e.ownsStorage {
		return e.prefs.Storage().Close()
	}
	return nil
}
