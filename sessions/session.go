package sessions

import "time"

// Session is the authenticated identity issued by the backend.
// A Session is never patched: a refresh or new sign-in replaces it wholesale.
type Session struct {
	ID        string    `json:"id"`         // Backend session identifier
	UserID    string    `json:"user_id"`    // Profile ID of the signed-in user
	IssuedAt  time.Time `json:"issued_at"`  // When the backend issued the session
	ExpiresAt time.Time `json:"expires_at"` // When the session stops being valid
}

// IsExpired reports whether the session has expired at now.
// A zero ExpiresAt never expires.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// IsLive reports whether the session can be trusted at now.
func (s *Session) IsLive(now time.Time) bool {
	return s != nil && s.UserID != "" && !s.IsExpired(now)
}
