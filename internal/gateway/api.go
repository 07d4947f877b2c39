// ABOUTME: HTTP JSON API for conversation history, sends and transcripts
// ABOUTME: Manual routing, JSON error bodies, and per-route request metrics

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/conversation"
	"github.com/2389/jobchat/internal/metrics"
	"github.com/2389/jobchat/internal/store"
	"github.com/2389/jobchat/internal/transcript"
)

// maxDraftBytes bounds the POST /api/messages body.
const maxDraftBytes = 64 << 10

// HistoryResponse is the JSON response for GET /api/conversations/{id}/messages.
type HistoryResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
}

// routes builds the HTTP handler. API and WebSocket routes sit behind the
// JWT middleware when a verifier is configured.
func (g *Gateway) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("/api/conversations/", g.handleConversation)
	api.HandleFunc("/api/messages", g.handleSend)
	api.HandleFunc("/ws", g.handleWebSocket)

	if g.verifier != nil {
		protected := auth.HTTPAuthMiddleware(g.verifier, logger.With("component", "auth"))(api)
		mux.Handle("/api/", protected)
		mux.Handle("/ws", protected)
	} else {
		g.logger.Warn("HTTP API auth disabled - no jwt_secret configured")
		mux.Handle("/api/", api)
		mux.Handle("/ws", api)
	}

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, metrics.Handler(g.registry))
	}

	return instrument(mux, g.metrics)
}

// handleConversation dispatches /api/conversations/{id}/{messages|transcript}.
func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	convID, action, ok := strings.Cut(rest, "/")
	if !ok || convID == "" || strings.Contains(action, "/") {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "messages":
		g.handleHistory(w, r, convID)
	case "transcript":
		g.handleTranscript(w, r, convID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// authorizeRead rejects authenticated callers that are not participants.
func (g *Gateway) authorizeRead(ctx context.Context, conversationID string) error {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil
	}
	return g.conversation.CheckParticipant(ctx, conversationID, id.ParticipantID)
}

// handleHistory handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request, convID string) {
	if err := g.authorizeRead(r.Context(), convID); err != nil {
		g.writeServiceError(w, "authorize", err)
		return
	}

	msgs, err := g.conversation.FetchHistory(r.Context(), convID)
	if err != nil {
		g.writeServiceError(w, "fetch history", err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HistoryResponse{ConversationID: convID, Messages: msgs})
}

// handleTranscript handles GET /api/conversations/{id}/transcript.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request, convID string) {
	if err := g.authorizeRead(r.Context(), convID); err != nil {
		g.writeServiceError(w, "authorize", err)
		return
	}

	msgs, err := g.conversation.FetchHistory(r.Context(), convID)
	if err != nil {
		g.writeServiceError(w, "fetch history", err)
		return
	}

	var buf bytes.Buffer
	if err := transcript.Render(&buf, convID, msgs); err != nil {
		g.logger.Error("failed to render transcript", "conversation_id", convID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleSend handles POST /api/messages. The body is a store.Draft; the
// response is the confirmed message.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	draft, err := parseDraft(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := auth.CheckSender(auth.FromContext(r.Context()), draft); err != nil {
		g.sendJSONError(w, http.StatusForbidden, "cannot send as another participant")
		return
	}

	msg, err := g.conversation.Persist(r.Context(), draft)
	if err != nil {
		g.writeServiceError(w, "persist", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// parseDraft decodes a draft from the request body.
func parseDraft(w http.ResponseWriter, r *http.Request) (*store.Draft, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDraftBytes))
	dec.DisallowUnknownFields()

	var draft store.Draft
	if err := dec.Decode(&draft); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &draft, nil
}

// writeServiceError maps conversation errors onto HTTP statuses.
func (g *Gateway) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidDraft):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrNotParticipant), errors.Is(err, auth.ErrForbidden):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		g.sendJSONError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		g.logger.Error(op+" failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// routeLabel collapses request paths into a bounded set of metric labels.
func routeLabel(path string) string {
	switch {
	case path == "/health", path == "/health/ready", path == "/ws", path == "/api/messages":
		return path
	case strings.HasPrefix(path, "/api/conversations/") && strings.HasSuffix(path, "/messages"):
		return "/api/conversations/{id}/messages"
	case strings.HasPrefix(path, "/api/conversations/") && strings.HasSuffix(path, "/transcript"):
		return "/api/conversations/{id}/transcript"
	case strings.HasPrefix(path, "/api/"):
		return "/api/other"
	default:
		return "other"
	}
}

// instrument counts every request by route and status code.
func instrument(next http.Handler, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequest(routeLabel(r.URL.Path), strconv.Itoa(rec.status))
	})
}

// statusRecorder captures the response status. It forwards Hijack so the
// WebSocket upgrade still works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
