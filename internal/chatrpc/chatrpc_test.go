// ABOUTME: End-to-end tests of the MessageService over an in-memory bufconn listener
// ABOUTME: Real conversation service, auth interceptors, and views driving the gRPC client

package chatrpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/conversation"
	"github.com/2389/jobchat/internal/dedupe"
	"github.com/2389/jobchat/internal/store"
)

var testSecret = []byte("chatrpc-test-secret-of-32-bytes!")

type testEnv struct {
	lis      *bufconn.Listener
	verifier *auth.JWTVerifier
	svc      *conversation.Service
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()

	b := conversation.NewEventBroadcaster(nil, nil)
	cache := dedupe.New[string](time.Minute, 100)
	svc := conversation.New(store.NewMockStore(), b, nil, conversation.Options{Dedupe: cache})

	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	var opts []grpc.ServerOption
	if withAuth {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(verifier, nil)),
			grpc.ChainStreamInterceptor(auth.StreamInterceptor(verifier, nil)),
		)
	}
	srv := grpc.NewServer(opts...)
	RegisterMessageServiceServer(srv, NewServer(svc, nil, nil))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	t.Cleanup(func() {
		srv.Stop()
		b.Close()
		cache.Close()
	})
	return &testEnv{lis: lis, verifier: verifier, svc: svc}
}

func (e *testEnv) client(t *testing.T, token string) *Client {
	t.Helper()
	c, err := Dial("passthrough:///bufnet", token, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (e *testEnv) token(t *testing.T, participant string, role store.Role) string {
	t.Helper()
	tok, err := e.verifier.Generate(participant, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func draft(sender, receiver string, role store.Role, body, corr string) *store.Draft {
	return &store.Draft{
		ConversationID: "app-1",
		SenderID:       sender,
		ReceiverID:     receiver,
		Body:           body,
		SenderRole:     role,
		CorrelationID:  corr,
	}
}

func TestClient_PersistAndFetch(t *testing.T) {
	env := newTestEnv(t, true)
	c := env.client(t, env.token(t, "owner-1", store.RoleOwner))

	empty, err := c.FetchHistory(t.Context(), "app-1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	msg, err := c.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "hi", "c-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "c-1", msg.CorrelationID)

	again, err := c.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "hi", "c-1"))
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)

	history, err := c.FetchHistory(t.Context(), "app-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.True(t, msg.SentAt.Equal(history[0].SentAt))
}

func TestServer_StatusMapping(t *testing.T) {
	env := newTestEnv(t, true)
	owner := env.client(t, env.token(t, "owner-1", store.RoleOwner))
	stranger := env.client(t, env.token(t, "worker-9", store.RoleWorker))
	nobody := env.client(t, "")

	_, err := owner.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "   ", "c-1"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = owner.Persist(t.Context(), draft("worker-1", "owner-1", store.RoleWorker, "spoof", "c-2"))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = owner.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "hi", "c-3"))
	require.NoError(t, err)

	_, err = stranger.FetchHistory(t.Context(), "app-1")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = stranger.Persist(t.Context(), draft("worker-9", "owner-1", store.RoleWorker, "me too", "c-4"))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = nobody.FetchHistory(t.Context(), "app-1")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = owner.FetchHistory(t.Context(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClient_SubscribeDeliversAndCancelWaits(t *testing.T) {
	env := newTestEnv(t, false)
	c := env.client(t, "")

	var mu sync.Mutex
	var got []string
	sub, err := c.Subscribe(t.Context(), "chat/app-1", func(m *store.Message) {
		mu.Lock()
		got = append(got, m.Body)
		mu.Unlock()
	})
	require.NoError(t, err)

	// Subscribe has returned, so this publish cannot be missed
	_, err = c.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "first", "c-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()

	_, err = c.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "second", "c-2"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, got)
}

func TestClient_SubscribeBadTopic(t *testing.T) {
	env := newTestEnv(t, false)
	c := env.client(t, "")

	_, err := c.Subscribe(t.Context(), "news/app-1", func(*store.Message) {})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClient_SubscribeRequiresParticipant(t *testing.T) {
	env := newTestEnv(t, true)
	owner := env.client(t, env.token(t, "owner-1", store.RoleOwner))
	_, err := owner.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "hi", "c-1"))
	require.NoError(t, err)

	stranger := env.client(t, env.token(t, "worker-9", store.RoleWorker))
	_, err = stranger.Subscribe(t.Context(), "chat/app-1", func(*store.Message) {})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestViewsOverGRPC(t *testing.T) {
	env := newTestEnv(t, true)

	newView := func(viewer, counterpart string, role store.Role) (*chatview.View, *[]chatview.Notice) {
		c := env.client(t, env.token(t, viewer, role))
		var notices []chatview.Notice
		v, err := chatview.New(chatview.Config{
			ViewerID:    viewer,
			Role:        role,
			Store:       c,
			Channel:     c,
			SendTimeout: 2 * time.Second,
			Notifier:    chatview.NotifierFunc(func(n chatview.Notice) { notices = append(notices, n) }),
		})
		require.NoError(t, err)
		t.Cleanup(v.Close)
		require.NoError(t, v.Open(t.Context(), "app-1", counterpart))
		return v, &notices
	}

	owner, ownerNotices := newView("owner-1", "worker-1", store.RoleOwner)
	worker, _ := newView("worker-1", "owner-1", store.RoleWorker)

	out, err := owner.Send(t.Context(), "Are you free Saturday?")
	require.NoError(t, err)
	assert.Equal(t, chatview.StateConfirmed, out.State)

	require.Eventually(t, func() bool {
		return len(worker.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = worker.Send(t.Context(), "Yes")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(owner.Messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	msgs := owner.Messages()
	assert.Equal(t, "Are you free Saturday?", msgs[0].Body)
	assert.Equal(t, "Yes", msgs[1].Body)
	for _, m := range msgs {
		assert.False(t, m.Optimistic)
	}
	assert.Empty(t, *ownerNotices)
}
