package remote

import (
	"context"

	"github.com/jrsteele09/go-listings-client/sessions"
)

// AuthEventType identifies a remote session change.
type AuthEventType string

const (
	SignedIn       AuthEventType = "SIGNED_IN"
	SignedOut      AuthEventType = "SIGNED_OUT"
	TokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	UserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil for SignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *sessions.Session
}

// Store is the narrow boundary over the backend. Implementations carry no business logic.
type Store interface {
	// Read returns every row of collection matching filter
	Read(ctx context.Context, collection string, filter Filter) ([]Resource, error)

	// Insert creates a row and returns it as stored, including server-computed fields
	Insert(ctx context.Context, collection string, resource Resource) (Resource, error)

	// Update patches the row with the given id and returns it as stored
	Update(ctx context.Context, collection, id string, patch Fields) (Resource, error)

	// Remove deletes the row with the given id
	Remove(ctx context.Context, collection, id string) error

	// GetSession returns the live session, or nil when signed out
	GetSession(ctx context.Context) (*sessions.Session, error)

	// SignInWithPassword authenticates and returns the new session
	SignInWithPassword(ctx context.Context, credentials Credentials) (*sessions.Session, error)

	// SignOut ends the remote session
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers listener for session changes and returns its disposer
	OnAuthStateChange(listener func(AuthEvent)) (unsubscribe func())
}
