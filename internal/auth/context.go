// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/FromContext for propagating the viewer via context

package auth

import (
	"context"

	"github.com/restitch/restitch-server/internal/store"
)

// Viewer holds the authenticated identity extracted from a request. It is
// populated by the HTTP middleware and retrieved from context in handlers.
type Viewer struct {
	UserID   string
	Username string
	Verified bool
}

// viewerKey is the key type for storing a Viewer in context.Context.
type viewerKey struct{}

// WithUser returns a new context with the Viewer attached.
func WithUser(ctx context.Context, v *Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// FromContext retrieves the Viewer from the context, returning nil if not present.
func FromContext(ctx context.Context) *Viewer {
	val := ctx.Value(viewerKey{})
	if val == nil {
		return nil
	}
	v, ok := val.(*Viewer)
	if !ok {
		return nil
	}
	return v
}

// MustFromContext retrieves the Viewer from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Viewer {
	v := FromContext(ctx)
	if v == nil {
		panic("auth: Viewer not found in context")
	}
	return v
}

// viewerFromUser builds a Viewer from a stored user record.
func viewerFromUser(u *store.User) *Viewer {
	return &Viewer{
		UserID:   u.ID,
		Username: u.Username,
		Verified: u.Verified,
	}
}
