// ABOUTME: Store interface and data types for jobchat persistence
// ABOUTME: Defines Message, Draft, Conversation and the participant Role

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message with the same id or the same
// (conversation, correlation id) pair has already been saved
var ErrDuplicateMessage = errors.New("message already exists")

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleWorker Role = "WORKER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleWorker
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleOwner {
		return RoleWorker
	}
	return RoleOwner
}

// Message is a single chat entry exchanged between the two participants of a
// conversation. Optimistic is only ever true on client-side placeholders that
// the store has not acknowledged yet.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
	SenderRole     Role      `json:"sender_role,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Optimistic     bool      `json:"optimistic,omitempty"`
}

// CorrelationKey returns the identifier used to reconcile a message with its
// optimistic placeholder: the correlation id, falling back to the message id.
func (m *Message) CorrelationKey() string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.ID
}

// Clone returns a shallow copy of m.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// Draft is the input to a persist call. The store assigns the id and the
// authoritative timestamp.
type Draft struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Body           string `json:"body"`
	SenderRole     Role   `json:"sender_role"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// Conversation pins the two participants of a thread. It is registered by the
// first persisted message and consulted for every later one.
type Conversation struct {
	ID        string
	OwnerID   string
	WorkerID  string
	CreatedAt time.Time
}

// HasParticipant reports whether id is the owner or the worker.
func (c *Conversation) HasParticipant(id string) bool {
	return id != "" && (id == c.OwnerID || id == c.WorkerID)
}

// Store defines the persistence operations for conversations and messages.
type Store interface {
	// EnsureConversation registers conv if no conversation with its ID exists
	// and returns the stored record either way.
	EnsureConversation(ctx context.Context, conv *Conversation) (*Conversation, error)

	// GetConversation returns ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// SaveMessage persists msg. An empty CorrelationID is set to msg.ID.
	// Returns ErrDuplicateMessage when the id or correlation id is taken.
	SaveMessage(ctx context.Context, msg *Message) error

	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetMessageByCorrelation looks up the message a client sent with the
	// given correlation id.
	GetMessageByCorrelation(ctx context.Context, conversationID, correlationID string) (*Message, error)

	// ListMessages returns every message of a conversation in send order.
	// An unknown conversation yields an empty slice.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	Ping(ctx context.Context) error
	Close() error
}
