package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chatsync/internal/models"
)

func TestUrgencyPrefix(t *testing.T) {
	tests := []struct {
		urgency models.Urgency
		want    string
	}{
		{models.UrgencyUrgent, "URGENT: "},
		{models.UrgencyHigh, "HIGH PRIORITY: "},
		{models.UrgencyNormal, ""},
		{models.UrgencyLow, ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, UrgencyPrefix(tt.urgency), string(tt.urgency))
	}
}

func TestPreview(t *testing.T) {
	require.Equal(t, "ping", Preview(models.StringPtr("ping"), 60))
	require.Equal(t, AttachmentPreview, Preview(nil, 60))

	long := strings.Repeat("é", 70)
	require.Equal(t, strings.Repeat("é", 60), Preview(&long, 60))
	require.Equal(t, strings.Repeat("é", 60), Preview(&long, 0))
	require.Equal(t, "éé", Preview(&long, 2))
}

func TestAlertTitle(t *testing.T) {
	base := BaseMessage(models.ConversationDirect, "", "u7", "ping")
	require.Equal(t, "New message from u7: ping", base)
	require.Equal(t, "(1) URGENT: New message from u7: ping", AlertTitle(1, models.UrgencyUrgent, base))

	base = BaseMessage(models.ConversationGroup, "Ops", "Ana", AttachmentPreview)
	require.Equal(t, "(3) HIGH PRIORITY: New message in Ops from Ana: Sent an attachment", AlertTitle(3, models.UrgencyHigh, base))
	require.Equal(t, "(2) New message in Ops from Ana: Sent an attachment", AlertTitle(2, models.UrgencyLow, base))
}

func TestDesktopBody(t *testing.T) {
	require.Equal(t, DirectFileBody, DesktopBody(models.ConversationDirect, nil, 60))
	require.Equal(t, AttachmentPreview, DesktopBody(models.ConversationGroup, nil, 60))
	require.Equal(t, "ping", DesktopBody(models.ConversationGroup, models.StringPtr("ping"), 60))
}
