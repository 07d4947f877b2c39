// ABOUTME: gRPC MessageService implementation over the conversation service
// ABOUTME: Enforces caller identity and maps domain errors to gRPC status codes

package chatrpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/conversation"
	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
)

// Backend is what the MessageService needs from the conversation layer.
type Backend interface {
	FetchHistory(ctx context.Context, conversationID string) ([]*store.Message, error)
	Persist(ctx context.Context, draft *store.Draft) (*store.Message, error)
	Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, func(), error)
	CheckParticipant(ctx context.Context, conversationID, participantID string) error
}

// Server implements MessageServiceServer.
type Server struct {
	backend Backend
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ MessageServiceServer = (*Server)(nil)

// NewServer creates a MessageService backed by b.
func NewServer(b Backend, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: b, metrics: m, logger: logger.With("component", "grpc")}
}

// FetchHistory returns the conversation's messages.
func (s *Server) FetchHistory(ctx context.Context, req *FetchHistoryRequest) (*FetchHistoryResponse, error) {
	if req.ConversationID == "" {
		return nil, status.Error(codes.InvalidArgument, "conversation_id is required")
	}
	if err := s.authorizeRead(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	msgs, err := s.backend.FetchHistory(ctx, req.ConversationID)
	if err != nil {
		return nil, s.toStatus("fetch history", err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return &FetchHistoryResponse{ConversationID: req.ConversationID, Messages: msgs}, nil
}

// Persist records a draft sent by the caller.
func (s *Server) Persist(ctx context.Context, req *PersistRequest) (*PersistResponse, error) {
	if req.Draft == nil {
		return nil, status.Error(codes.InvalidArgument, "draft is required")
	}
	if err := auth.CheckSender(auth.FromContext(ctx), req.Draft); err != nil {
		return nil, status.Error(codes.PermissionDenied, "cannot send as another participant")
	}

	msg, err := s.backend.Persist(ctx, req.Draft)
	if err != nil {
		return nil, s.toStatus("persist", err)
	}
	return &PersistResponse{Message: msg}, nil
}

// Subscribe streams messages published on the requested topic until the
// client goes away.
func (s *Server) Subscribe(req *SubscribeRequest, stream SubscribeStream) error {
	ctx := stream.Context()
	convID, ok := store.ConversationFromTopic(req.Topic)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "invalid topic %q", req.Topic)
	}
	if err := s.authorizeRead(ctx, convID); err != nil {
		return err
	}

	ch, cancel, err := s.backend.Subscribe(ctx, convID)
	if err != nil {
		return s.toStatus("subscribe", err)
	}
	defer cancel()

	s.metrics.SubscriberAdded("grpc")
	defer s.metrics.SubscriberRemoved("grpc")

	if err := stream.Send(&SubscribeEvent{Ready: true}); err != nil {
		return err
	}
	s.logger.Debug("subscriber attached", "topic", req.Topic)

	for msg := range ch {
		if err := stream.Send(&SubscribeEvent{Message: msg}); err != nil {
			s.logger.Debug("subscriber send failed", "topic", req.Topic, "error", err)
			return err
		}
	}
	return nil
}

func (s *Server) authorizeRead(ctx context.Context, conversationID string) error {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil
	}
	if err := s.backend.CheckParticipant(ctx, conversationID, id.ParticipantID); err != nil {
		return s.toStatus("authorize", err)
	}
	return nil
}

func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, conversation.ErrInvalidDraft):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, conversation.ErrNotParticipant), errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error(op+" failed", "error", err)
	return status.Errorf(codes.Internal, "%s failed", op)
}
