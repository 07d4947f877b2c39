// ABOUTME: Renders a conversation as a standalone HTML transcript
// ABOUTME: Message bodies are Markdown converted with goldmark; raw HTML in bodies is not passed through

package transcript

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/jobchat/internal/store"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))

// markdown has the default renderer settings, which omit raw HTML.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))

type entry struct {
	ID        string
	SenderID  string
	Role      store.Role
	RoleClass string
	SentAt    string
	SentAtISO string
	Body      template.HTML
}

// Render writes the HTML transcript of msgs to w.
func Render(w io.Writer, conversationID string, msgs []*store.Message) error {
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		body, err := RenderBody(m.Body)
		if err != nil {
			return fmt.Errorf("rendering message %s: %w", m.ID, err)
		}
		entries = append(entries, entry{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Role:      m.SenderRole,
			RoleClass: strings.ToLower(string(m.SenderRole)),
			SentAt:    m.SentAt.UTC().Format("2006-01-02 15:04 MST"),
			SentAtISO: m.SentAt.UTC().Format(time.RFC3339),
			Body:      body,
		})
	}

	data := struct {
		ConversationID string
		Messages       []entry
	}{
		ConversationID: conversationID,
		Messages:       entries,
	}
	return page.Execute(w, data)
}

// RenderBody converts one message body from Markdown to HTML.
func RenderBody(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
