// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating the caller via context

package auth

import (
	"context"
	"errors"

	"github.com/2389/jobchat/internal/store"
)

// ErrForbidden is returned when the caller may not send as a draft's sender.
var ErrForbidden = errors.New("forbidden")

// Identity is the authenticated participant behind a request.
type Identity struct {
	ParticipantID string
	Role          store.Role
}

type identityKey struct{}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

// CheckSender reports whether id may submit d. A nil id is the anonymous
// caller of a gateway running without auth and may send as anyone.
func CheckSender(id *Identity, d *store.Draft) error {
	if id == nil || d == nil {
		return nil
	}
	if d.SenderID != id.ParticipantID || d.SenderRole != id.Role {
		return ErrForbidden
	}
	return nil
}
