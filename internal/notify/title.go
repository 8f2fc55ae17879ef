package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/tOgg1/chatsync/internal/logging"
)

// TitleSink receives title changes.
type TitleSink interface {
	SetTitle(title string)
}

// MemoryTitle records the current title and its history.
type MemoryTitle struct {
	mu      sync.Mutex
	title   string
	history []string
}

// NewMemoryTitle returns a sink showing initial.
func NewMemoryTitle(initial string) *MemoryTitle {
	return &MemoryTitle{title: initial}
}

func (m *MemoryTitle) SetTitle(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.title = title
	m.history = append(m.history, title)
}

// Title returns the current title.
func (m *MemoryTitle) Title() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.title
}

// History returns every title set, oldest first.
func (m *MemoryTitle) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// TerminalTitle sets the window title of the controlling terminal with an
// OSC 0 escape sequence.
type TerminalTitle struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalTitle writes title escapes to out.
func NewTerminalTitle(out io.Writer) *TerminalTitle {
	return &TerminalTitle{out: out}
}

func (t *TerminalTitle) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Control characters would end the escape early.
	_, _ = fmt.Fprintf(t.out, "\x1b]0;%s\x07", sanitize(title))
}

// LogTitle logs title changes; used when no terminal is attached.
type LogTitle struct{}

func (LogTitle) SetTitle(title string) {
	logger := logging.Component("title")
	logger.Info().Str("title", title).Msg("title changed")
}

// DetectTitleSink returns a TerminalTitle when f is a terminal and a
// LogTitle otherwise.
func DetectTitleSink(f *os.File) TitleSink {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		return NewTerminalTitle(f)
	}
	return LogTitle{}
}
