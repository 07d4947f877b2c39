// ABOUTME: Service is the gateway's conversation layer: validate, persist, then publish
// ABOUTME: Persist is idempotent per (conversation, correlation id); history is read from the store

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/jobchat/internal/dedupe"
	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

var (
	// ErrInvalidDraft is returned for drafts that fail validation.
	ErrInvalidDraft = errors.New("invalid draft")
	// ErrNotParticipant is returned when a participant is not one of the
	// conversation's registered pair.
	ErrNotParticipant = errors.New("not a participant of this conversation")
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	EnsureConversation(ctx context.Context, conv *store.Conversation) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	GetMessageByCorrelation(ctx context.Context, conversationID, correlationID string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Dedupe remembers correlation key -> message id for recent sends.
	Dedupe  *dedupe.Cache[string]
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Service records messages and fans them out to topic subscribers.
type Service struct {
	store       ConversationStore
	broadcaster Broadcaster
	dedupe      *dedupe.Cache[string]
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a conversation service.
func New(st ConversationStore, b Broadcaster, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       st,
		broadcaster: b,
		dedupe:      opts.Dedupe,
		metrics:     opts.Metrics,
		now:         now,
		logger:      logger.With("component", "conversation"),
	}
}

// FetchHistory returns the conversation's messages in send order.
func (s *Service) FetchHistory(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidDraft)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// Persist records a draft and publishes the stored message on the
// conversation's topic.
//
// Record first, then publish: a publish failure is logged and the stored
// message is still returned. A draft whose correlation id was already saved
// returns the earlier record without publishing again.
func (s *Service) Persist(ctx context.Context, draft *store.Draft) (*store.Message, error) {
	if err := validateDraft(draft); err != nil {
		s.metrics.PersistRejected("invalid")
		return nil, err
	}

	if _, err := s.ensureParticipants(ctx, draft); err != nil {
		if errors.Is(err, ErrNotParticipant) {
			s.metrics.PersistRejected("forbidden")
		} else {
			s.metrics.PersistRejected("store")
		}
		return nil, err
	}

	key := ""
	if draft.CorrelationID != "" {
		key = dedupe.Key(draft.ConversationID, draft.CorrelationID)
		if existing := s.recent(ctx, key, draft); existing != nil {
			s.metrics.DuplicateSend()
			return existing, nil
		}
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: draft.ConversationID,
		SenderID:       draft.SenderID,
		ReceiverID:     draft.ReceiverID,
		Body:           draft.Body,
		SentAt:         s.now().UTC(),
		SenderRole:     draft.SenderRole,
		CorrelationID:  draft.CorrelationID,
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) && draft.CorrelationID != "" {
			return s.existingByCorrelation(ctx, key, draft)
		}
		s.metrics.PersistRejected("store")
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.metrics.MessagePersisted()

	if key != "" && s.dedupe != nil {
		s.dedupe.Remember(key, msg.ID)
	}

	s.logger.Debug("message recorded",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"correlation_id", msg.CorrelationID,
		"sender_id", msg.SenderID)

	s.publish(msg)
	return msg, nil
}

// recent returns the message a recent identical send produced, if the dedupe
// cache still knows it.
func (s *Service) recent(ctx context.Context, key string, draft *store.Draft) *store.Message {
	if s.dedupe == nil {
		return nil
	}
	id, ok := s.dedupe.Lookup(key)
	if !ok {
		return nil
	}
	existing, err := s.store.GetMessage(ctx, id)
	if err != nil || existing.SenderID != draft.SenderID {
		return nil
	}
	s.logger.Debug("duplicate send answered from cache",
		"conversation_id", draft.ConversationID,
		"correlation_id", draft.CorrelationID,
		"message_id", id)
	return existing
}

func (s *Service) existingByCorrelation(ctx context.Context, key string, draft *store.Draft) (*store.Message, error) {
	existing, err := s.store.GetMessageByCorrelation(ctx, draft.ConversationID, draft.CorrelationID)
	if err != nil {
		s.metrics.PersistRejected("store")
		return nil, fmt.Errorf("looking up duplicate send: %w", err)
	}
	if existing.SenderID != draft.SenderID {
		s.metrics.PersistRejected("invalid")
		return nil, fmt.Errorf("%w: correlation_id already used by another sender", ErrInvalidDraft)
	}
	if s.dedupe != nil {
		s.dedupe.Remember(key, existing.ID)
	}
	s.metrics.DuplicateSend()
	s.logger.Debug("duplicate send answered from store",
		"conversation_id", draft.ConversationID,
		"correlation_id", draft.CorrelationID,
		"message_id", existing.ID)
	return existing, nil
}

func (s *Service) publish(msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := store.TopicFor(msg.ConversationID)
	if err := s.broadcaster.Publish(ctx, topic, msg); err != nil {
		s.logger.Warn("failed to publish message", "topic", topic, "message_id", msg.ID, "error", err)
		return
	}
	s.metrics.Published()
}

// ensureParticipants registers the conversation on its first message and
// checks that the draft is exchanged between the registered pair.
func (s *Service) ensureParticipants(ctx context.Context, draft *store.Draft) (*store.Conversation, error) {
	want := &store.Conversation{ID: draft.ConversationID, CreatedAt: s.now()}
	if draft.SenderRole == store.RoleOwner {
		want.OwnerID, want.WorkerID = draft.SenderID, draft.ReceiverID
	} else {
		want.OwnerID, want.WorkerID = draft.ReceiverID, draft.SenderID
	}

	conv, err := s.store.EnsureConversation(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("registering conversation: %w", err)
	}
	if conv.OwnerID != want.OwnerID || conv.WorkerID != want.WorkerID {
		return nil, fmt.Errorf("%w: %s as %s", ErrNotParticipant, draft.SenderID, draft.SenderRole)
	}
	return conv, nil
}

// CheckParticipant reports whether participantID may read a conversation.
// Conversations with no messages yet are readable by anyone.
func (s *Service) CheckParticipant(ctx context.Context, conversationID, participantID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}
	if !conv.HasParticipant(participantID) {
		return ErrNotParticipant
	}
	return nil
}

// Subscribe streams messages published on the conversation's topic until ctx
// ends or cancel is called.
func (s *Service) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, func(), error) {
	topic := store.TopicFor(conversationID)
	ch, subID, err := s.broadcaster.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return ch, func() { s.broadcaster.Unsubscribe(topic, subID) }, nil
}

func validateDraft(d *store.Draft) error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: draft is required", ErrInvalidDraft)
	case d.ConversationID == "":
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidDraft)
	case d.SenderID == "" || d.ReceiverID == "":
		return fmt.Errorf("%w: sender_id and receiver_id are required", ErrInvalidDraft)
	case d.SenderID == d.ReceiverID:
		return fmt.Errorf("%w: sender and receiver must differ", ErrInvalidDraft)
	case strings.TrimSpace(d.Body) == "":
		return fmt.Errorf("%w: body is empty", ErrInvalidDraft)
	case !d.SenderRole.Valid():
		return fmt.Errorf("%w: sender_role must be OWNER or WORKER", ErrInvalidDraft)
	}
	return nil
}
