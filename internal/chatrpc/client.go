// ABOUTME: gRPC client for the MessageService implementing the view model's store and channel
// ABOUTME: Subscribe returns once the server reports the subscription live

package chatrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/store"
)

// Client talks to a jobchat gateway over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	owned  bool
	logger *slog.Logger
}

var (
	_ chatview.MessageStore = (*Client)(nil)
	_ chatview.Channel      = (*Client)(nil)
)

// Dial connects to target without TLS, attaching token to every call when
// it is set. Extra options are appended.
func Dial(target, token string, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != "" {
		base = append(base, grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: token, AllowInsecure: true}))
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	c := NewClient(conn, logger)
	c.owned = true
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn *grpc.ClientConn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, logger: logger.With("component", "grpc_client")}
}

// Close closes the connection if Dial opened it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// FetchHistory implements chatview.MessageStore.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]*store.Message, error) {
	resp := new(FetchHistoryResponse)
	err := c.conn.Invoke(ctx, fetchHistoryMethod, &FetchHistoryRequest{ConversationID: conversationID}, resp,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return []*store.Message{}, nil
	}
	return resp.Messages, nil
}

// Persist implements chatview.MessageStore.
func (c *Client) Persist(ctx context.Context, draft *store.Draft) (*store.Message, error) {
	resp := new(PersistResponse)
	err := c.conn.Invoke(ctx, persistMethod, &PersistRequest{Draft: draft}, resp,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, errors.New("persist returned no message")
	}
	return resp.Message, nil
}

// Subscribe implements chatview.Channel.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(*store.Message)) (chatview.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(subCtx, &ServiceDesc.Streams[0], subscribeMethod,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(&SubscribeRequest{Topic: topic}); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	first := new(SubscribeEvent)
	if err := stream.RecvMsg(first); err != nil {
		cancel()
		return nil, err
	}
	if !first.Ready {
		cancel()
		return nil, fmt.Errorf("subscribe %s: unexpected first frame", topic)
	}

	sub := &streamSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			ev := new(SubscribeEvent)
			if err := stream.RecvMsg(ev); err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					c.logger.Warn("subscription ended", "topic", topic, "error", err)
				}
				return
			}
			if ev.Message == nil || sub.cancelled() {
				continue
			}
			handler(ev.Message)
		}
	}()
	return sub, nil
}

type streamSubscription struct {
	mu      sync.Mutex
	stopped bool
	once    sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *streamSubscription) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Cancel ends the stream and waits for the receive loop to exit. It must not
// be called from inside the handler.
func (s *streamSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()
	})
	<-s.done
}
