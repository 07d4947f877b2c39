// ABOUTME: Conversation buffer and the Apply reducer that folds events into it
// ABOUTME: Buffers are immutable values; Apply returns a new buffer when anything changes

package chatview

import (
	"fmt"
	"maps"
	"strings"

	"github.com/2389/jobchat/internal/store"
)

// MatchMode selects the duplicate predicate used when merging messages.
type MatchMode int

const (
	// MatchCorrelation treats two messages as the same when they share a
	// correlation key. A delivery matching a still-optimistic placeholder
	// confirms it in place.
	MatchCorrelation MatchMode = iota
	// MatchContent treats two messages as the same when they have the same
	// sender and the same trimmed body, and confirms the first optimistic
	// entry whose body equals the submitted text.
	MatchContent
)

func (m MatchMode) String() string {
	switch m {
	case MatchCorrelation:
		return "correlation"
	case MatchContent:
		return "content"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// ParseMatchMode accepts "correlation" (or "") and "content".
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "correlation":
		return MatchCorrelation, nil
	case "content":
		return MatchContent, nil
	default:
		return 0, fmt.Errorf("unknown match mode %q", s)
	}
}

// Buffer is an ordered snapshot of a conversation as shown to the viewer.
// Order is arrival order, not timestamp order. Entries are never mutated in
// place; replacing one produces a new Buffer.
type Buffer struct {
	scope   Scope
	entries []*store.Message
	index   map[string]int // correlation key -> position
}

// NewBuffer returns an empty buffer for scope.
func NewBuffer(scope Scope) *Buffer {
	return &Buffer{scope: scope, index: map[string]int{}}
}

// Scope returns the conversation open this buffer belongs to.
func (b *Buffer) Scope() Scope { return b.scope }

// Len returns the number of entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Messages returns copies of the entries in order.
func (b *Buffer) Messages() []*store.Message {
	out := make([]*store.Message, len(b.entries))
	for i, m := range b.entries {
		out[i] = m.Clone()
	}
	return out
}

// Apply folds ev into the buffer under mode. It returns the resulting buffer
// and whether it differs from b. Events from another scope are ignored.
func (b *Buffer) Apply(ev Event, mode MatchMode) (*Buffer, bool) {
	if ev == nil || ev.scope() != b.scope {
		return b, false
	}

	switch e := ev.(type) {
	case HistoryLoaded:
		return b.applyHistory(e.Messages, mode), true
	case MessageReceived:
		return b.merge(e.Message, mode)
	case SendStarted:
		return b.applySendStarted(e.Placeholder, mode)
	case SendConfirmed:
		return b.applySendConfirmed(e, mode)
	case SendFailed:
		return b, false
	default:
		return b, false
	}
}

// applyHistory replaces the buffer with history, then re-appends entries that
// arrived while the fetch was in flight and are not already part of it.
func (b *Buffer) applyHistory(history []*store.Message, mode MatchMode) *Buffer {
	next := &Buffer{
		scope:   b.scope,
		entries: make([]*store.Message, 0, len(history)+len(b.entries)),
		index:   make(map[string]int, len(history)+len(b.entries)),
	}
	for _, m := range history {
		if m == nil {
			continue
		}
		next.push(m.Clone())
	}
	for _, m := range b.entries {
		if next.find(m, mode) < 0 {
			next.push(m)
		}
	}
	return next
}

// merge appends m unless the buffer already holds a duplicate. Under
// MatchCorrelation a non-optimistic m replaces a placeholder with its key.
func (b *Buffer) merge(m *store.Message, mode MatchMode) (*Buffer, bool) {
	if m == nil {
		return b, false
	}

	i := b.find(m, mode)
	if i < 0 {
		return b.appended(m.Clone()), true
	}

	if mode == MatchCorrelation && b.entries[i].Optimistic && !m.Optimistic {
		confirmed := m.Clone()
		confirmed.Optimistic = false
		return b.replaced(i, confirmed), true
	}
	return b, false
}

func (b *Buffer) applySendStarted(p *store.Message, mode MatchMode) (*Buffer, bool) {
	if p == nil {
		return b, false
	}
	placeholder := p.Clone()
	placeholder.Optimistic = true

	if mode == MatchCorrelation {
		if key := placeholder.CorrelationKey(); key != "" {
			if _, exists := b.index[key]; exists {
				return b, false
			}
		}
	}
	return b.appended(placeholder), true
}

func (b *Buffer) applySendConfirmed(e SendConfirmed, mode MatchMode) (*Buffer, bool) {
	if e.Message == nil {
		return b, false
	}
	confirmed := e.Message.Clone()
	confirmed.Optimistic = false

	i := -1
	switch mode {
	case MatchCorrelation:
		key := e.CorrelationID
		if key == "" {
			key = confirmed.CorrelationKey()
		}
		if pos, ok := b.index[key]; ok {
			if !b.entries[pos].Optimistic {
				// Already confirmed by a push delivery
				return b, false
			}
			i = pos
		}
	case MatchContent:
		for pos, m := range b.entries {
			if m.Optimistic && m.SenderID == e.ViewerID && m.Body == e.Submitted {
				i = pos
				break
			}
		}
	}

	if i < 0 {
		return b.merge(confirmed, mode)
	}

	next := b.replaced(i, confirmed)

	// A delivery without the client's correlation id may already have been
	// appended under the record's own key; keep the placeholder's position.
	if mode == MatchCorrelation {
		if key := confirmed.CorrelationKey(); key != "" {
			for pos, m := range next.entries {
				if pos != i && m.CorrelationKey() == key {
					next = next.removed(pos)
					break
				}
			}
		}
	}
	return next, true
}

// find returns the position of the first entry m duplicates, or -1.
func (b *Buffer) find(m *store.Message, mode MatchMode) int {
	if mode == MatchCorrelation {
		if key := m.CorrelationKey(); key != "" {
			if pos, ok := b.index[key]; ok {
				return pos
			}
			return -1
		}
		// Keyless messages fall back to the content predicate
	}

	body := strings.TrimSpace(m.Body)
	for pos, e := range b.entries {
		if e.SenderID == m.SenderID && strings.TrimSpace(e.Body) == body {
			return pos
		}
	}
	return -1
}

// push appends to a buffer under construction.
func (b *Buffer) push(m *store.Message) {
	if key := m.CorrelationKey(); key != "" {
		if _, exists := b.index[key]; !exists {
			b.index[key] = len(b.entries)
		}
	}
	b.entries = append(b.entries, m)
}

func (b *Buffer) appended(m *store.Message) *Buffer {
	next := &Buffer{
		scope:   b.scope,
		entries: make([]*store.Message, len(b.entries), len(b.entries)+1),
		index:   maps.Clone(b.index),
	}
	copy(next.entries, b.entries)
	next.push(m)
	return next
}

func (b *Buffer) replaced(i int, m *store.Message) *Buffer {
	next := &Buffer{
		scope:   b.scope,
		entries: make([]*store.Message, len(b.entries)),
		index:   maps.Clone(b.index),
	}
	copy(next.entries, b.entries)

	if old := b.entries[i].CorrelationKey(); old != "" && next.index[old] == i {
		delete(next.index, old)
	}
	next.entries[i] = m
	if key := m.CorrelationKey(); key != "" {
		next.index[key] = i
	}
	return next
}

func (b *Buffer) removed(i int) *Buffer {
	next := &Buffer{
		scope:   b.scope,
		entries: make([]*store.Message, 0, len(b.entries)-1),
		index:   make(map[string]int, len(b.index)),
	}
	for pos, m := range b.entries {
		if pos != i {
			next.push(m)
		}
	}
	return next
}
