package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/tOgg1/chatsync/internal/logging"
	"github.com/tOgg1/chatsync/internal/metrics"
	"github.com/tOgg1/chatsync/internal/models"
)

// Permission is the state of desktop notification permission.
type Permission string

const (
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionUnsupported Permission = "unsupported"
)

// Notification is one desktop notification.
type Notification struct {
	MessageID      string
	ConversationID string
	Kind           models.ConversationKind
	Urgency        models.Urgency
	Title          string
	Body           string

	// OnClick is invoked by notifiers that support activation.
	OnClick func()
}

// DesktopNotifier shows OS-level notifications.
type DesktopNotifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, n Notification) error
}

// Desktop raises at most one notification per message id and degrades to
// doing nothing when permission is denied or unsupported.
type Desktop struct {
	notifier DesktopNotifier
	logger   zerolog.Logger

	mu    sync.Mutex
	shown map[string]struct{}
}

// NewDesktop wraps notifier, which may be nil.
func NewDesktop(notifier DesktopNotifier) *Desktop {
	return &Desktop{
		notifier: notifier,
		logger:   logging.Component("desktop"),
		shown:    make(map[string]struct{}),
	}
}

// Notify shows n unless its message was already notified or permission is
// unavailable. It reports whether the notification was shown and never
// returns an error.
func (d *Desktop) Notify(ctx context.Context, n Notification) bool {
	d.mu.Lock()
	if _, ok := d.shown[n.MessageID]; ok {
		d.mu.Unlock()
		return false
	}
	d.shown[n.MessageID] = struct{}{}
	d.mu.Unlock()

	if d.notifier == nil {
		metrics.DesktopNotifications.WithLabelValues("unsupported").Inc()
		return false
	}

	perm := d.notifier.Permission()
	if perm == PermissionDefault {
		requested, err := d.notifier.RequestPermission(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("notification permission request failed")
			requested = PermissionDenied
		}
		perm = requested
	}

	switch perm {
	case PermissionGranted:
	case PermissionUnsupported:
		metrics.DesktopNotifications.WithLabelValues("unsupported").Inc()
		return false
	default:
		metrics.DesktopNotifications.WithLabelValues("denied").Inc()
		return false
	}

	if err := d.notifier.Show(ctx, n); err != nil {
		metrics.DesktopNotifications.WithLabelValues("error").Inc()
		d.logger.Warn().Err(err).Str("message_id", n.MessageID).Msg("desktop notification failed")
		return false
	}
	metrics.DesktopNotifications.WithLabelValues("shown").Inc()
	return true
}

// Reset forgets which messages were notified.
func (d *Desktop) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = make(map[string]struct{})
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	urgentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// TerminalNotifier posts notifications through the terminal: an OSC 9
// escape, which several emulators turn into an OS notification, plus a
// styled line for terminals that do not.
type TerminalNotifier struct {
	mu       sync.Mutex
	out      io.Writer
	terminal bool
}

// NewTerminalNotifier writes to f. Permission is unsupported when f is not
// a terminal.
func NewTerminalNotifier(f *os.File) *TerminalNotifier {
	return &TerminalNotifier{
		out:      f,
		terminal: f != nil && term.IsTerminal(int(f.Fd())),
	}
}

func (t *TerminalNotifier) Permission() Permission {
	if !t.terminal {
		return PermissionUnsupported
	}
	return PermissionGranted
}

func (t *TerminalNotifier) RequestPermission(context.Context) (Permission, error) {
	return t.Permission(), nil
}

func (t *TerminalNotifier) Show(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.terminal {
		return fmt.Errorf("terminal notifications unsupported")
	}
	_, err := fmt.Fprintf(t.out, "\x1b]9;%s: %s\x07%s\n", sanitize(n.Title), sanitize(n.Body), renderLine(n))
	return err
}

func renderLine(n Notification) string {
	heading := headingStyle
	if n.Urgency == models.UrgencyUrgent || n.Urgency == models.UrgencyHigh {
		heading = urgentStyle
	}
	return heading.Render(UrgencyPrefix(n.Urgency)+n.Title) + " " + bodyStyle.Render(n.Body)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// LogNotifier logs notifications instead of showing them.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (LogNotifier) Permission() Permission { return PermissionGranted }

func (LogNotifier) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (l LogNotifier) Show(_ context.Context, n Notification) error {
	l.Logger.Info().
		Str("message_id", n.MessageID).
		Str("conversation_id", n.ConversationID).
		Str("urgency", string(n.Urgency)).
		Str("title", n.Title).
		Str("body", logging.RedactText(&n.Body)).
		Msg("desktop notification")
	return nil
}
