// ABOUTME: HTTP and WebSocket client for the gateway implementing the view model's store and channel
// ABOUTME: JSON API for history and sends, one WebSocket per subscription for pushes

// Package chathttp is the HTTP and WebSocket transport for chat views.
package chathttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/store"
)

const (
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a jobchat gateway over HTTP.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

var (
	_ chatview.MessageStore = (*Client)(nil)
	_ chatview.Channel      = (*Client)(nil)
)

// New creates a client for the gateway at baseURL (http or https). token is
// sent as a bearer token when set.
func New(baseURL, token string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway URL must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "http_client"),
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.authHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// FetchHistory implements chatview.MessageStore.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]*store.Message, error) {
	var out struct {
		Messages []*store.Message `json:"messages"`
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		return []*store.Message{}, nil
	}
	return out.Messages, nil
}

// Persist implements chatview.MessageStore.
func (c *Client) Persist(ctx context.Context, draft *store.Draft) (*store.Message, error) {
	var msg store.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", draft, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) wsURL(topic string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"topic": {topic}}.Encode()
	return u.String()
}

// Subscribe implements chatview.Channel. The gateway registers the
// subscription before completing the handshake, so deliveries start with
// the first publish after Subscribe returns.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(*store.Message)) (chatview.Subscription, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(topic), c.authHeader())
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			defer resp.Body.Close()
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()

	go func() {
		defer close(sub.done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !sub.cancelled() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("subscription ended", "topic", topic, "error", err)
				}
				return
			}
			var msg store.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn("dropping undecodable push", "topic", topic, "error", err)
				continue
			}
			if sub.cancelled() {
				return
			}
			handler(&msg)
		}
	}()

	return sub, nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	stopped bool
	once    sync.Once
	done    chan struct{}
}

func (s *wsSubscription) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Cancel closes the socket and waits for the read loop to exit. It must not
// be called from inside the handler.
func (s *wsSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
	<-s.done
}
