// ABOUTME: WebSocket push endpoint streaming a conversation topic to one client
// ABOUTME: Subscribes before upgrading so a completed handshake means a live subscription

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/jobchat/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Bearer tokens authenticate the socket, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket handles GET /ws?topic=chat/{id}. Each published message
// is written as one JSON text frame.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	convID, ok := store.ConversationFromTopic(topic)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid topic")
		return
	}
	if err := g.authorizeRead(r.Context(), convID); err != nil {
		g.writeServiceError(w, "authorize", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, unsubscribe, err := g.conversation.Subscribe(ctx, convID)
	if err != nil {
		g.writeServiceError(w, "subscribe", err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Warn("websocket upgrade failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	g.metrics.SubscriberAdded("websocket")
	defer g.metrics.SubscriberRemoved("websocket")
	g.logger.Debug("websocket subscriber attached", "topic", topic)

	go g.wsReadPump(conn, cancel)
	g.wsWritePump(ctx, conn, ch, topic)
}

// wsReadPump discards client frames and keeps the read deadline fresh. It
// cancels the stream when the client goes away.
func (g *Gateway) wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// wsWritePump is the only writer on conn.
func (g *Gateway) wsWritePump(ctx context.Context, conn *websocket.Conn, ch <-chan *store.Message, topic string) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.writeClose(conn, websocket.CloseNormalClosure)
			return
		case msg, ok := <-ch:
			if !ok {
				g.writeClose(conn, websocket.CloseGoingAway)
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				g.logger.Error("failed to encode message", "message_id", msg.ID, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.logger.Debug("websocket write failed", "topic", topic, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeClose(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(wsWriteWait))
}
