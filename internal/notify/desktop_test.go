package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/chatsync/internal/models"
)

type fakeNotifier struct {
	perm      Permission
	grant     Permission
	requested int
	showErr   error
	shown     []Notification
}

func (f *fakeNotifier) Permission() Permission { return f.perm }

func (f *fakeNotifier) RequestPermission(context.Context) (Permission, error) {
	f.requested++
	f.perm = f.grant
	return f.grant, nil
}

func (f *fakeNotifier) Show(_ context.Context, n Notification) error {
	if f.showErr != nil {
		return f.showErr
	}
	f.shown = append(f.shown, n)
	return nil
}

func TestDesktopOncePerMessage(t *testing.T) {
	ctx := context.Background()
	fake := &fakeNotifier{perm: PermissionGranted}
	d := NewDesktop(fake)

	require.True(t, d.Notify(ctx, Notification{MessageID: "m1", Title: "New message from u7"}))
	require.False(t, d.Notify(ctx, Notification{MessageID: "m1", Title: "New message from u7"}))
	require.True(t, d.Notify(ctx, Notification{MessageID: "m2"}))
	require.Len(t, fake.shown, 2)

	d.Reset()
	require.True(t, d.Notify(ctx, Notification{MessageID: "m1"}))
}

func TestDesktopRequestsPermissionOnce(t *testing.T) {
	ctx := context.Background()
	fake := &fakeNotifier{perm: PermissionDefault, grant: PermissionGranted}
	d := NewDesktop(fake)

	require.True(t, d.Notify(ctx, Notification{MessageID: "m1"}))
	require.True(t, d.Notify(ctx, Notification{MessageID: "m2"}))
	require.Equal(t, 1, fake.requested)
}

func TestDesktopDegrades(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		d    *Desktop
	}{
		{"nil notifier", NewDesktop(nil)},
		{"denied", NewDesktop(&fakeNotifier{perm: PermissionDenied})},
		{"request denied", NewDesktop(&fakeNotifier{perm: PermissionDefault, grant: PermissionDenied})},
		{"unsupported", NewDesktop(&fakeNotifier{perm: PermissionUnsupported})},
		{"show fails", NewDesktop(&fakeNotifier{perm: PermissionGranted, showErr: errors.New("dbus gone")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.d.Notify(ctx, Notification{MessageID: "m1"}))
		})
	}
}

func TestTerminalTitleEscapes(t *testing.T) {
	var buf bytes.Buffer
	NewTerminalTitle(&buf).SetTitle("(1) hi\x07there")
	require.Equal(t, "\x1b]0;(1) hi there\x07", buf.String())
}

func TestTerminalNotifierWithoutTerminal(t *testing.T) {
	n := NewTerminalNotifier(nil)
	require.Equal(t, PermissionUnsupported, n.Permission())
	require.Error(t, n.Show(context.Background(), Notification{MessageID: "m1"}))
}

func TestRenderLineIncludesPrefix(t *testing.T) {
	line := renderLine(Notification{Title: "New message from u7", Body: "ping", Urgency: models.UrgencyUrgent})
	require.True(t, strings.Contains(line, "URGENT: New message from u7"))
	require.True(t, strings.Contains(line, "ping"))
}
