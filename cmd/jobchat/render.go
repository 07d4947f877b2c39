// ABOUTME: Terminal rendering of the conversation buffer and notices
// ABOUTME: Own messages right-aligned, pending and unsent ones marked

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/store"
)

const (
	pendingMark = " …"
	failedMark  = " ✗ not sent"
)

// screen redraws the conversation whenever the view changes.
type screen struct {
	mu       sync.Mutex
	out      io.Writer
	width    int
	viewerID string

	conversationID string
	counterpartID  string
	failed         map[string]bool
	blocking       *chatview.Notice
	transient      []string
	last           []*store.Message
}

func newScreen(out io.Writer, width int, viewerID string) *screen {
	if width < 20 {
		width = 80
	}
	return &screen{out: out, width: width, viewerID: viewerID, failed: make(map[string]bool)}
}

// SetConversation records what is open and clears per-conversation marks.
func (s *screen) SetConversation(conversationID, counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.counterpartID = counterpartID
	s.failed = make(map[string]bool)
	s.last = nil
}

// Update is the view's OnChange callback.
func (s *screen) Update(msgs []*store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = msgs
	s.draw()
}

// MarkFailed flags a placeholder whose send failed.
func (s *screen) MarkFailed(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[correlationID] = true
	s.draw()
}

// Notify implements chatview.Notifier.
func (s *screen) Notify(n chatview.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Kind == chatview.NoticeBlocking {
		s.blocking = &n
	} else {
		s.transient = append(s.transient, n.Text)
	}
	s.draw()
}

// Acknowledge dismisses the blocking alert and the shown transient notices.
// It reports whether a blocking alert was showing.
func (s *screen) Acknowledge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.blocking != nil
	s.blocking = nil
	s.transient = nil
	return had
}

// Redraw repaints the last snapshot.
func (s *screen) Redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draw()
}

func (s *screen) draw() {
	var b strings.Builder
	b.WriteString("\033[2J\033[H")
	s.writeFrame(&b)
	_, _ = io.WriteString(s.out, b.String())
}

// writeFrame renders the header, messages, notices and prompt without any
// terminal control sequences.
func (s *screen) writeFrame(b *strings.Builder) {
	if s.conversationID == "" {
		b.WriteString(color.HiBlackString("No conversation open. Use /open <conversation> <counterpart>.\n"))
	} else {
		b.WriteString(color.New(color.Bold).Sprintf("%s with %s\n", s.conversationID, s.counterpartID))
		b.WriteString(color.HiBlackString(strings.Repeat("─", s.width)) + "\n")
		if len(s.last) == 0 {
			b.WriteString(color.HiBlackString("No messages yet.\n"))
		}
		for _, m := range s.last {
			b.WriteString(s.formatMessage(m))
			b.WriteString("\n")
		}
	}

	for _, t := range s.transient {
		b.WriteString(color.YellowString("• "+t) + "\n")
	}
	if s.blocking != nil {
		b.WriteString(color.New(color.FgRed, color.Bold).Sprintf("! %s", s.blocking.Text))
		b.WriteString(color.RedString(" (press Enter)") + "\n")
	}
	b.WriteString("> ")
}

func (s *screen) formatMessage(m *store.Message) string {
	stamp := m.SentAt.Local().Format("15:04")
	if m.SenderID != s.viewerID {
		return fmt.Sprintf("%s %s", color.HiBlackString(stamp), m.Body)
	}

	mark := ""
	switch {
	case m.Optimistic && s.failed[m.CorrelationID]:
		mark = color.RedString(failedMark)
	case m.Optimistic:
		mark = color.HiBlackString(pendingMark)
	}
	line := m.Body + " " + color.HiBlackString(stamp) + mark
	plain := m.Body + " " + stamp
	if m.Optimistic {
		if s.failed[m.CorrelationID] {
			plain += failedMark
		} else {
			plain += pendingMark
		}
	}
	pad := s.width - utf8.RuneCountInString(plain)
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + line
}
