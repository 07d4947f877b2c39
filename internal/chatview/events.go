// ABOUTME: Tagged buffer events produced by the loader, live merger and send pipeline
// ABOUTME: Every event is stamped with the Scope of the conversation open it belongs to

package chatview

import (
	"fmt"

	"github.com/2389/jobchat/internal/store"
)

// Scope identifies one open of one conversation. Epoch increases on every
// Open so that results of an earlier open of the same conversation are
// distinguishable from the current one.
type Scope struct {
	ConversationID string
	Epoch          uint64
}

func (s Scope) scope() Scope { return s }

func (s Scope) String() string {
	return fmt.Sprintf("%s#%d", s.ConversationID, s.Epoch)
}

// Event is a buffer mutation request. The set of events is closed: only the
// types in this file implement it.
type Event interface {
	scope() Scope
}

// HistoryLoaded carries the result of a history fetch.
type HistoryLoaded struct {
	Scope
	Messages []*store.Message
}

// MessageReceived carries one push delivery.
type MessageReceived struct {
	Scope
	Message *store.Message
}

// SendStarted appends an optimistic placeholder.
type SendStarted struct {
	Scope
	Placeholder *store.Message
}

// SendConfirmed carries the store's record for a placeholder. Submitted and
// ViewerID are only consulted by MatchContent.
type SendConfirmed struct {
	Scope
	CorrelationID string
	ViewerID      string
	Submitted     string
	Message       *store.Message
}

// SendFailed records a rejected persist. The placeholder stays as it is.
type SendFailed struct {
	Scope
	CorrelationID string
	Err           error
}
