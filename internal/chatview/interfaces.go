// ABOUTME: Collaborator interfaces of the view model: message store, push channel, notifier
// ABOUTME: Transports implement MessageStore and Channel; UIs implement Notifier

package chatview

import (
	"context"
	"errors"

	"github.com/2389/jobchat/internal/store"
)

var (
	// ErrEmptyDraft is returned when the text to send is empty after trimming.
	ErrEmptyDraft = errors.New("message is empty")
	// ErrNoConversation is returned by Send before any conversation is open.
	ErrNoConversation = errors.New("no conversation open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("view closed")
	// ErrFetchFailed wraps history load failures.
	ErrFetchFailed = errors.New("fetching history failed")
	// ErrSendFailed wraps persist failures.
	ErrSendFailed = errors.New("sending message failed")
)

// MessageStore is the persisted message service.
type MessageStore interface {
	// FetchHistory returns the conversation's messages in order, or an empty
	// slice when there are none.
	FetchHistory(ctx context.Context, conversationID string) ([]*store.Message, error)

	// Persist stores a draft and returns the confirmed record.
	Persist(ctx context.Context, draft *store.Draft) (*store.Message, error)
}

// Channel is the real-time push channel.
type Channel interface {
	// Subscribe invokes handler once per message delivered on topic until the
	// returned subscription is cancelled or ctx ends. Handler calls for one
	// subscription never overlap.
	Subscribe(ctx context.Context, topic string, handler func(*store.Message)) (Subscription, error)
}

// Subscription is a live registration on a Channel. Cancel must stop
// deliveries before it returns and must tolerate repeated calls.
type Subscription interface {
	Cancel()
}

// NoticeKind distinguishes how a notice should be presented.
type NoticeKind int

const (
	// NoticeTransient is informational and should not interrupt the user.
	NoticeTransient NoticeKind = iota
	// NoticeBlocking interrupts the user until acknowledged.
	NoticeBlocking
)

func (k NoticeKind) String() string {
	if k == NoticeBlocking {
		return "blocking"
	}
	return "transient"
}

// Notice is a user-facing message raised by the view.
type Notice struct {
	Kind NoticeKind
	Text string
	Err  error
}

// Notifier presents notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }
