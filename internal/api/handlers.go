package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tOgg1/chatsync/internal/engine"
	"github.com/tOgg1/chatsync/internal/events"
	"github.com/tOgg1/chatsync/internal/models"
)

// Handler serves the control API for one engine.
type Handler struct {
	eng *engine.Engine
}

// NewHandler creates a Handler.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) engineError(w http.ResponseWriter, err error) {
	var verr *models.ValidationErrors
	switch {
	case errors.Is(err, engine.ErrClosed):
		h.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, engine.ErrUnknownMessage):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr), errors.Is(err, models.ErrMissingConversationID):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Error(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"tabId":  h.eng.TabID(),
	})
}

// State returns the full notification snapshot.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.eng.Snapshot())
}

// UnreadResponse summarizes unread state.
type UnreadResponse struct {
	Total         int                   `json:"total"`
	BySource      map[string]int        `json:"unreadBySourceKey"`
	Conversations []models.Conversation `json:"conversations"`
}

// Unread returns the title tally and per-conversation badges.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Snapshot()
	h.JSON(w, http.StatusOK, UnreadResponse{
		Total:         snap.Total,
		BySource:      snap.BySource,
		Conversations: snap.Conversations,
	})
}

// Messages returns a conversation log.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs := h.eng.Messages(id)
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"conversationId": id,
		"messages":       msgs,
	})
}

// Focus opens a conversation.
func (h *Handler) Focus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.eng.FocusConversation(r.Context(), id); err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"conversationId": id,
		"unread":         h.eng.ForConversation(id),
		"total":          h.eng.Total(),
	})
}

// VisibilityRequest is the body of POST /v1/visibility.
type VisibilityRequest struct {
	Hidden *bool `json:"hidden"`
}

// Visibility records a tab visibility change.
func (h *Handler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Hidden == nil {
		h.Error(w, http.StatusBadRequest, "hidden is required")
		return
	}
	if err := h.eng.OnVisibilityChange(r.Context(), *req.Hidden); err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.eng.Snapshot())
}

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	ConversationID string  `json:"conversationId"`
	Kind           string  `json:"kind"`
	Text           *string `json:"text"`
	Urgency        string  `json:"urgency"`
}

// Send appends an optimistic message and returns it.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := models.ConversationKind("")
	if k, ok := models.ParseConversationKind(req.Kind); ok {
		kind = k
	} else if strings.TrimSpace(req.Kind) != "" {
		h.Error(w, http.StatusUnprocessableEntity, "kind must be direct or group")
		return
	}

	msg, err := h.eng.SendOptimistic(r.Context(), req.ConversationID, kind, req.Text, models.ParseUrgency(req.Urgency))
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// Inject applies an inbound event, for views that own the transport.
func (h *Handler) Inject(w http.ResponseWriter, r *http.Request) {
	var ev models.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.eng.HandleEvent(r.Context(), ev)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, out)
}

type recentSource interface {
	Recent() []*models.Event
}

// Recent replays the engine events the publisher retained, oldest first.
// The conversation and type query parameters narrow the result.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	filter := events.Filter{ConversationID: r.URL.Query().Get("conversation")}
	for _, t := range r.URL.Query()["type"] {
		filter.EventTypes = append(filter.EventTypes, models.EventType(t))
	}

	evs := []*models.Event{}
	if src, ok := h.eng.Publisher().(recentSource); ok {
		for _, ev := range src.Recent() {
			if filter.Matches(ev) {
				evs = append(evs, ev)
			}
		}
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}
