// ABOUTME: View model for one participant's side of a conversation
// ABOUTME: Runs the history loader, live merger and send pipeline against a single buffer

package chatview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/jobchat/internal/store"
)

const (
	sendFailedText  = "Failed to send message."
	fetchFailedText = "Could not load conversation history."
	liveFailedText  = "Live updates are unavailable for this conversation."
)

// SendState is the lifecycle of one outgoing message.
type SendState int

const (
	StateDrafted SendState = iota
	StateOptimistic
	StateConfirmed
	StateFailed
)

func (s SendState) String() string {
	switch s {
	case StateDrafted:
		return "drafted"
	case StateOptimistic:
		return "optimistic"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SendState(%d)", int(s))
	}
}

// Outgoing describes the outcome of a Send.
type Outgoing struct {
	CorrelationID string
	State         SendState
	// Message is the confirmed record, or the placeholder when the send failed.
	Message *store.Message
}

// Config configures a View.
type Config struct {
	ViewerID string
	Role     store.Role
	Store    MessageStore
	Channel  Channel

	// Mode defaults to MatchCorrelation.
	Mode MatchMode

	// SendTimeout bounds each persist call. Zero leaves a slow persist
	// pending until it returns or the caller's context ends.
	SendTimeout time.Duration

	// OnChange receives a snapshot after every buffer change, in order. It
	// may read from the View but must not call Send, Submit, Open or Close.
	OnChange func([]*store.Message)

	Notifier         Notifier
	Logger           *slog.Logger
	Now              func() time.Time
	NewCorrelationID func() string
}

// View holds the buffer of the currently open conversation. All buffer
// mutations go through dispatch, which serializes them.
type View struct {
	viewerID    string
	role        store.Role
	store       MessageStore
	channel     Channel
	mode        MatchMode
	sendTimeout time.Duration
	onChange    func([]*store.Message)
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	newCorrID   func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	emitMu      sync.Mutex
	buf         *Buffer
	epoch       uint64
	counterpart string
	lease       *lease
	draft       string
	closed      bool
}

// New creates a View with no conversation open.
func New(cfg Config) (*View, error) {
	if cfg.ViewerID == "" {
		return nil, errors.New("viewer id is required")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.Store == nil {
		return nil, errors.New("message store is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("push channel is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newCorrID := cfg.NewCorrelationID
	if newCorrID == nil {
		newCorrID = func() string { return uuid.New().String() }
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &View{
		viewerID:    cfg.ViewerID,
		role:        cfg.Role,
		store:       cfg.Store,
		channel:     cfg.Channel,
		mode:        cfg.Mode,
		sendTimeout: cfg.SendTimeout,
		onChange:    cfg.OnChange,
		notifier:    notifier,
		logger:      logger.With("component", "chatview", "viewer_id", cfg.ViewerID),
		now:         now,
		newCorrID:   newCorrID,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		buf:         NewBuffer(Scope{}),
	}, nil
}

// ViewerID returns the participant this view belongs to.
func (v *View) ViewerID() string { return v.viewerID }

// IsOwn reports whether m was sent by the viewer.
func (v *View) IsOwn(m *store.Message) bool { return m.SenderID == v.viewerID }

// Conversation returns the open conversation id and counterpart, empty when
// none is open.
func (v *View) Conversation() (conversationID, counterpartID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buf.Scope().ConversationID, v.counterpart
}

// Messages returns a snapshot of the buffer.
func (v *View) Messages() []*store.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buf.Messages()
}

// Open switches the view to a conversation. The previous subscription, if
// any, is cancelled before the new buffer receives anything. History is
// fetched first and the push subscription is established while the fetch is
// in flight; Open returns once the history result has been applied.
//
// A failed fetch leaves the (empty) buffer in place and raises a transient
// notice. A failed subscription is logged and the view continues without
// live updates. Neither is returned as an error.
func (v *View) Open(ctx context.Context, conversationID, counterpartID string) error {
	if conversationID == "" || counterpartID == "" {
		return errors.New("conversation id and counterpart id are required")
	}
	if counterpartID == v.viewerID {
		return errors.New("counterpart must differ from viewer")
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.epoch++
	scope := Scope{ConversationID: conversationID, Epoch: v.epoch}
	old := v.lease
	v.lease = nil
	v.buf = NewBuffer(scope)
	v.counterpart = counterpartID
	v.mu.Unlock()

	// Released outside mu: Cancel waits for in-flight deliveries, which
	// dispatch and would otherwise block on mu.
	old.Release()
	v.emitSnapshot()

	logger := v.logger.With("conversation_id", conversationID, "epoch", scope.Epoch)
	logger.Info("opening conversation", "counterpart_id", counterpartID)

	type fetchResult struct {
		messages []*store.Message
		err      error
	}
	fetched := make(chan fetchResult, 1)
	go func() {
		msgs, err := v.store.FetchHistory(ctx, conversationID)
		fetched <- fetchResult{messages: msgs, err: err}
	}()

	v.subscribe(scope, logger)

	var res fetchResult
	select {
	case res = <-fetched:
	case <-ctx.Done():
		res = fetchResult{err: ctx.Err()}
	}

	if res.err != nil {
		err := fmt.Errorf("%w: %w", ErrFetchFailed, res.err)
		logger.Error("failed to load history", "error", res.err)
		v.notify(Notice{Kind: NoticeTransient, Text: fetchFailedText, Err: err})
		return nil
	}

	v.dispatch(HistoryLoaded{Scope: scope, Messages: res.messages})
	logger.Debug("history loaded", "count", len(res.messages))
	return nil
}

func (v *View) subscribe(scope Scope, logger *slog.Logger) {
	subCtx, subCancel := context.WithCancel(v.baseCtx)
	topic := store.TopicFor(scope.ConversationID)

	sub, err := v.channel.Subscribe(subCtx, topic, func(m *store.Message) {
		if m == nil {
			return
		}
		v.dispatch(MessageReceived{Scope: scope, Message: m.Clone()})
	})
	if err != nil {
		subCancel()
		logger.Warn("subscription failed, continuing without live updates", "topic", topic, "error", err)
		v.notify(Notice{Kind: NoticeTransient, Text: liveFailedText, Err: err})
		return
	}

	l := newLease(topic, sub, subCancel)

	v.mu.Lock()
	if v.closed || v.buf.Scope() != scope {
		// Superseded while subscribing
		v.mu.Unlock()
		l.Release()
		return
	}
	v.lease = l
	v.mu.Unlock()

	logger.Debug("subscribed", "topic", topic)
}

// Send runs the send pipeline for text: append an optimistic placeholder,
// persist, then confirm the placeholder in place or leave it and raise one
// blocking notice. The returned Outgoing is non-nil whenever the placeholder
// was displayed.
func (v *View) Send(ctx context.Context, text string) (*Outgoing, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDraft
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	scope := v.buf.Scope()
	counterpart := v.counterpart
	v.mu.Unlock()

	if scope.ConversationID == "" {
		return nil, ErrNoConversation
	}

	corrID := v.newCorrID()
	placeholder := &store.Message{
		ConversationID: scope.ConversationID,
		SenderID:       v.viewerID,
		ReceiverID:     counterpart,
		Body:           text,
		SentAt:         v.now(),
		SenderRole:     v.role,
		CorrelationID:  corrID,
		Optimistic:     true,
	}
	v.dispatch(SendStarted{Scope: scope, Placeholder: placeholder})

	out := &Outgoing{CorrelationID: corrID, State: StateOptimistic, Message: placeholder.Clone()}

	persistCtx := ctx
	if v.sendTimeout > 0 {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(ctx, v.sendTimeout)
		defer cancel()
	}

	confirmed, err := v.store.Persist(persistCtx, &store.Draft{
		ConversationID: scope.ConversationID,
		SenderID:       v.viewerID,
		ReceiverID:     counterpart,
		Body:           text,
		SenderRole:     v.role,
		CorrelationID:  corrID,
	})
	if err == nil && confirmed == nil {
		err = errors.New("store returned no message")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
		v.logger.Error("failed to send message",
			"conversation_id", scope.ConversationID,
			"correlation_id", corrID,
			"error", err)
		v.dispatch(SendFailed{Scope: scope, CorrelationID: corrID, Err: err})
		v.notify(Notice{Kind: NoticeBlocking, Text: sendFailedText, Err: err})
		out.State = StateFailed
		return out, err
	}

	v.dispatch(SendConfirmed{
		Scope:         scope,
		CorrelationID: corrID,
		ViewerID:      v.viewerID,
		Submitted:     text,
		Message:       confirmed,
	})
	out.State = StateConfirmed
	out.Message = confirmed.Clone()
	return out, nil
}

// SetDraft replaces the composer text.
func (v *View) SetDraft(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.draft = text
}

// Draft returns the composer text.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Submit sends the current draft. The draft is cleared after every attempt,
// successful or not; an empty draft is rejected and left alone.
func (v *View) Submit(ctx context.Context) (*Outgoing, error) {
	text := v.Draft()
	out, err := v.Send(ctx, text)
	if errors.Is(err, ErrEmptyDraft) {
		return nil, err
	}

	v.mu.Lock()
	if v.draft == text {
		v.draft = ""
	}
	v.mu.Unlock()
	return out, err
}

// Close cancels the subscription and discards the buffer. Later calls to
// Open or Send return ErrClosed.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.epoch++
	old := v.lease
	v.lease = nil
	v.buf = NewBuffer(Scope{Epoch: v.epoch})
	v.mu.Unlock()

	old.Release()
	v.baseCancel()
	v.logger.Debug("view closed")
}

// dispatch applies ev to the latest buffer. emitMu is taken first so change
// notifications are delivered in the order the changes were made while
// OnChange is still free to read the View.
func (v *View) dispatch(ev Event) bool {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	next, changed := v.buf.Apply(ev, v.mode)
	if changed {
		v.buf = next
	}
	v.mu.Unlock()

	if changed && v.onChange != nil {
		v.onChange(next.Messages())
	}
	return changed
}

// emitSnapshot reports the current buffer, used after a reset.
func (v *View) emitSnapshot() {
	if v.onChange == nil {
		return
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.onChange(v.Messages())
}

func (v *View) notify(n Notice) {
	v.notifier.Notify(n)
}

// lease owns a subscription and releases it exactly once.
type lease struct {
	topic  string
	sub    Subscription
	cancel context.CancelFunc
	once   sync.Once
}

func newLease(topic string, sub Subscription, cancel context.CancelFunc) *lease {
	return &lease{topic: topic, sub: sub, cancel: cancel}
}

// Release cancels the subscription. Safe on a nil lease and on repeat calls.
func (l *lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.sub.Cancel()
		l.cancel()
	})
}
