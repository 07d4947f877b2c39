// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID, insertion order
	byID          map[string]*Message

	// SaveErr, when set, is returned by SaveMessage before anything is stored.
	SaveErr error
	// ListErr, when set, is returned by ListMessages.
	ListErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		byID:          make(map[string]*Message),
	}
}

// EnsureConversation registers conv unless its ID is already known.
func (m *MockStore) EnsureConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.conversations[conv.ID]; ok {
		c := *existing
		return &c, nil
	}

	c := *conv
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.conversations[c.ID] = &c

	out := c
	return &out, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// SaveMessage stores a copy of msg.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return errors.New("FOREIGN KEY constraint failed")
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}
	if _, ok := m.byID[msg.ID]; ok {
		return fmt.Errorf("saving message %s: %w", msg.ID, ErrDuplicateMessage)
	}
	for _, existing := range m.messages[msg.ConversationID] {
		if existing.CorrelationID == msg.CorrelationID {
			return fmt.Errorf("saving message %s: %w", msg.ID, ErrDuplicateMessage)
		}
	}

	stored := msg.Clone()
	m.byID[stored.ID] = stored
	m.messages[stored.ConversationID] = append(m.messages[stored.ConversationID], stored)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// GetMessageByCorrelation retrieves a message by conversation and correlation id.
func (m *MockStore) GetMessageByCorrelation(ctx context.Context, conversationID, correlationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages[conversationID] {
		if msg.CorrelationID == correlationID {
			return msg.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListMessages returns copies of a conversation's messages ordered like the
// SQLite store: by SentAt, then insertion.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		out = append(out, msg.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
