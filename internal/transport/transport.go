// Package transport consumes push-transport frames and turns them into
// inbound message events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/metrics"
	"github.com/tOgg1/chatsync/internal/models"
)

// ErrEmptyFrame is returned by Decode for an empty payload.
var ErrEmptyFrame = errors.New("empty frame")

// Handler receives each decoded event.
type Handler func(ctx context.Context, ev models.InboundEvent)

// Source is a push transport. Run blocks until ctx is done or the source
// fails permanently.
type Source interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

// legacyTypes maps socket event names used by older servers.
var legacyTypes = map[string]struct {
	typ  models.InboundEventType
	kind models.ConversationKind
}{
	"receive_message":       {models.InboundMessageNew, models.ConversationDirect},
	"receive_group_message": {models.InboundMessageNew, models.ConversationGroup},
	"message_edited":        {models.InboundMessageEdited, ""},
	"message_deleted":       {models.InboundMessageDeleted, ""},
}

// Decode parses one JSON frame. It does not validate required fields; the
// engine does that.
func Decode(data []byte) (models.InboundEvent, error) {
	var ev models.InboundEvent
	if len(strings.TrimSpace(string(data))) == 0 {
		return ev, ErrEmptyFrame
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.InboundEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	if legacy, ok := legacyTypes[string(ev.Type)]; ok {
		ev.Type = legacy.typ
		if ev.Kind == "" && legacy.kind != "" {
			ev.Kind = string(legacy.kind)
		}
	}
	return ev, nil
}

// dispatch decodes a frame and hands it to handle. Malformed frames are
// logged and dropped.
func dispatch(ctx context.Context, logger zerolog.Logger, source string, data []byte, handle Handler) bool {
	ev, err := Decode(data)
	if err != nil {
		metrics.TransportMessages.WithLabelValues(source, "malformed").Inc()
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return false
	}
	metrics.TransportMessages.WithLabelValues(source, "delivered").Inc()
	handle(ctx, ev)
	return true
}
