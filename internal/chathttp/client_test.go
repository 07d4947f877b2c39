// ABOUTME: Tests for the HTTP/WebSocket client against a real gateway behind httptest
// ABOUTME: Covers history, sends, error mapping, push subscriptions and two views chatting

package chathttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/config"
	"github.com/2389/jobchat/internal/gateway"
	"github.com/2389/jobchat/internal/store"
)

const testSecret = "chathttp-test-secret-of-32-bytes"

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
server:
  grpc_addr: "localhost:0"
  http_addr: "localhost:0"
database:
  path: %q
auth:
  jwt_secret: %q
`, filepath.Join(t.TempDir(), "jobchat.db"), testSecret)))
	require.NoError(t, err)

	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, participant string, role store.Role) *Client {
	t.Helper()
	token := ""
	if participant != "" {
		v, err := auth.NewJWTVerifier([]byte(testSecret))
		require.NoError(t, err)
		token, err = v.Generate(participant, role, time.Hour)
		require.NoError(t, err)
	}
	c, err := New(srv.URL, token, nil)
	require.NoError(t, err)
	return c
}

func draft(sender, receiver string, role store.Role, body, corr string) *store.Draft {
	return &store.Draft{
		ConversationID: "app-3",
		SenderID:       sender,
		ReceiverID:     receiver,
		Body:           body,
		SenderRole:     role,
		CorrelationID:  corr,
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", "", nil)
	assert.Error(t, err)
	_, err = New("://", "", nil)
	assert.Error(t, err)
}

func TestClient_PersistAndFetch(t *testing.T) {
	srv := newGatewayServer(t)
	c := newClient(t, srv, "owner-1", store.RoleOwner)

	empty, err := c.FetchHistory(t.Context(), "app-3")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	msg, err := c.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "Gate code is 4411", "c-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "c-1", msg.CorrelationID)

	history, err := c.FetchHistory(t.Context(), "app-3")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestClient_APIErrors(t *testing.T) {
	srv := newGatewayServer(t)
	owner := newClient(t, srv, "owner-1", store.RoleOwner)
	anonymous := newClient(t, srv, "", "")

	var apiErr *APIError

	_, err := anonymous.FetchHistory(t.Context(), "app-3")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = owner.Persist(t.Context(), draft("owner-1", "worker-1", store.RoleOwner, "", "c-1"))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "body is empty")

	_, err = owner.Persist(t.Context(), draft("worker-1", "owner-1", store.RoleWorker, "spoof", "c-2"))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = anonymous.Subscribe(t.Context(), "chat/app-3", func(*store.Message) {})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_SubscribeDeliversUntilCancel(t *testing.T) {
	srv := newGatewayServer(t)
	c := newClient(t, srv, "owner-1", store.RoleOwner)

	var mu sync.Mutex
	var got []string
	sub, err := c.Subscribe(t.Context(), "chat/app-3", func(m *store.Message) {
		mu.Lock()
		got = append(got, m.Body)
		mu.Unlock()
	})
	require.NoError(t, err)

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

func TestClient_SubscribeEndsWithContext(t *testing.T) {
	srv := newGatewayServer(t)
	c := newClient(t, srv, "owner-1", store.RoleOwner)

	ctx, cancel := context.WithCancel(t.Context())
	sub, err := c.Subscribe(ctx, "chat/app-3", func(*store.Message) {})
	require.NoError(t, err)

	cancel()
	ws := sub.(*wsSubscription)
	select {
	case <-ws.done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end with its context")
	}
	sub.Cancel()
}

func TestViewsOverHTTP(t *testing.T) {
	srv := newGatewayServer(t)

	newView := func(viewer, counterpart string, role store.Role) (*chatview.View, *[]chatview.Notice) {
		c := newClient(t, srv, viewer, role)
		var mu sync.Mutex
		var notices []chatview.Notice
		v, err := chatview.New(chatview.Config{
			ViewerID:    viewer,
			Role:        role,
			Store:       c,
			Channel:     c,
			SendTimeout: 2 * time.Second,
			Notifier: chatview.NotifierFunc(func(n chatview.Notice) {
				mu.Lock()
				notices = append(notices, n)
				mu.Unlock()
			}),
		})
		require.NoError(t, err)
		t.Cleanup(v.Close)
		require.NoError(t, v.Open(t.Context(), "app-3", counterpart))
		return v, &notices
	}

	owner, ownerNotices := newView("owner-1", "worker-1", store.RoleOwner)
	worker, _ := newView("worker-1", "owner-1", store.RoleWorker)

	out, err := owner.Send(t.Context(), "Tarp is in the shed")
	require.NoError(t, err)
	assert.Equal(t, chatview.StateConfirmed, out.State)

	require.Eventually(t, func() bool {
		return len(worker.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = worker.Send(t.Context(), "Found it")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(owner.Messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	msgs := owner.Messages()
	assert.Equal(t, "Tarp is in the shed", msgs[0].Body)
	assert.Equal(t, "Found it", msgs[1].Body)
	for _, m := range msgs {
		assert.False(t, m.Optimistic)
	}
	assert.Empty(t, *ownerNotices)
}
