package notify

import (
	"fmt"

	"github.com/tOgg1/chatsync/internal/models"
)

// DefaultPreviewRunes is how much message text an alert quotes.
const DefaultPreviewRunes = 60

// Placeholders for messages without text.
const (
	AttachmentPreview = "Sent an attachment"
	DirectFileBody    = "Sent you a file"
)

// UrgencyPrefix returns the title prefix for an urgency level.
// Low and normal render no prefix.
func UrgencyPrefix(u models.Urgency) string {
	switch u {
	case models.UrgencyUrgent:
		return "URGENT: "
	case models.UrgencyHigh:
		return "HIGH PRIORITY: "
	default:
		return ""
	}
}

// Preview quotes message text, truncated to limit runes.
func Preview(text *string, limit int) string {
	if text == nil {
		return AttachmentPreview
	}
	if limit <= 0 {
		limit = DefaultPreviewRunes
	}
	runes := []rune(*text)
	if len(runes) <= limit {
		return *text
	}
	return string(runes[:limit])
}

// Heading names the sender, and the group for group conversations.
func Heading(kind models.ConversationKind, groupName, senderName string) string {
	if kind == models.ConversationGroup {
		return fmt.Sprintf("New message in %s from %s", groupName, senderName)
	}
	return fmt.Sprintf("New message from %s", senderName)
}

// BaseMessage is the heading followed by the preview.
func BaseMessage(kind models.ConversationKind, groupName, senderName, preview string) string {
	return Heading(kind, groupName, senderName) + ": " + preview
}

// AlertTitle composes "(<total>) <prefix><base>".
func AlertTitle(total int, urgency models.Urgency, base string) string {
	return fmt.Sprintf("(%d) %s%s", total, UrgencyPrefix(urgency), base)
}

// DesktopBody is the notification body: the preview, or a per-kind
// placeholder for attachments.
func DesktopBody(kind models.ConversationKind, text *string, limit int) string {
	if text == nil && kind == models.ConversationDirect {
		return DirectFileBody
	}
	return Preview(text, limit)
}
