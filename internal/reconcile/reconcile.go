// Package reconcile decides how an inbound message merges into a
// conversation log: dropped as a duplicate, confirming a pending optimistic
// send, or appended as new.
package reconcile

import (
	"time"

	"github.com/tOgg1/chatsync/internal/models"
)

// Action is the outcome of reconciling one inbound message.
type Action int

const (
	ActionAppend Action = iota
	ActionDrop
	ActionReplaceOptimistic
)

func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionReplaceOptimistic:
		return "replace_optimistic"
	default:
		return "append"
	}
}

// Reason names the rule that produced a decision.
type Reason string

const (
	ReasonDuplicateID      Reason = "duplicate_id"
	ReasonDuplicateContent Reason = "duplicate_content"
	ReasonOptimisticMatch  Reason = "optimistic_match"
	ReasonOwnUnmatched     Reason = "own_unmatched"
	ReasonNew              Reason = "new"
)

// Decision is the reconciliation verdict. Index is the position of the
// optimistic entry to replace, or -1.
type Decision struct {
	Action Action
	Index  int
	Reason Reason
}

// Default heuristic windows.
const (
	DefaultDirectDuplicateWindow = 1000 * time.Millisecond
	DefaultGroupDuplicateWindow  = 2000 * time.Millisecond
	DefaultOptimisticWindow      = 5000 * time.Millisecond
)

// Windows holds the time tolerances used by the content heuristics.
type Windows struct {
	DirectDuplicate time.Duration
	GroupDuplicate  time.Duration
	Optimistic      time.Duration
}

// DefaultWindows returns the standard tolerances.
func DefaultWindows() Windows {
	return Windows{
		DirectDuplicate: DefaultDirectDuplicateWindow,
		GroupDuplicate:  DefaultGroupDuplicateWindow,
		Optimistic:      DefaultOptimisticWindow,
	}
}

func (w Windows) withDefaults() Windows {
	d := DefaultWindows()
	if w.DirectDuplicate <= 0 {
		w.DirectDuplicate = d.DirectDuplicate
	}
	if w.GroupDuplicate <= 0 {
		w.GroupDuplicate = d.GroupDuplicate
	}
	if w.Optimistic <= 0 {
		w.Optimistic = d.Optimistic
	}
	return w
}

func (w Windows) duplicate(kind models.ConversationKind) time.Duration {
	if kind == models.ConversationGroup {
		return w.GroupDuplicate
	}
	return w.DirectDuplicate
}

// Decide applies the reconciliation rules in order; the first match wins.
//
//  1. an existing message has the same id: drop
//  2. same text and sender within the duplicate window: drop
//  3. own message matching an optimistic entry by text within the optimistic window: replace it
//  4. own message without an optimistic match: drop
//  5. otherwise: append
//
// Rule 2 can drop a genuine repeat of identical text sent inside the window.
func Decide(existing []models.Message, m models.Message, kind models.ConversationKind, selfID string, w Windows) Decision {
	w = w.withDefaults()

	for _, e := range existing {
		if e.ID != "" && e.ID == m.ID {
			return Decision{Action: ActionDrop, Index: -1, Reason: ReasonDuplicateID}
		}
	}

	window := w.duplicate(kind)
	for _, e := range existing {
		// Pending optimistic entries are left for rule 3, otherwise a fast
		// echo would be dropped and the placeholder never confirmed.
		if e.IsOptimistic {
			continue
		}
		if e.SenderID == m.SenderID && e.SameText(m) && within(e.Timestamp, m.Timestamp, window) {
			return Decision{Action: ActionDrop, Index: -1, Reason: ReasonDuplicateContent}
		}
	}

	if selfID != "" && m.SenderID == selfID {
		for i, e := range existing {
			if e.IsOptimistic && e.SameText(m) && within(e.Timestamp, m.Timestamp, w.Optimistic) {
				return Decision{Action: ActionReplaceOptimistic, Index: i, Reason: ReasonOptimisticMatch}
			}
		}
		return Decision{Action: ActionDrop, Index: -1, Reason: ReasonOwnUnmatched}
	}

	return Decision{Action: ActionAppend, Index: -1, Reason: ReasonNew}
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
