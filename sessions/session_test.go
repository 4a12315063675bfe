package sessions_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-listings-client/sessions"
	"github.com/stretchr/testify/require"
)

func TestSession_IsLive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		session *sessions.Session
		live    bool
	}{
		{"nil session", nil, false},
		{"missing user", &sessions.Session{ID: "s1", ExpiresAt: now.Add(time.Hour)}, false},
		{"expired", &sessions.Session{ID: "s1", UserID: "u1", ExpiresAt: now}, false},
		{"no expiry", &sessions.Session{ID: "s1", UserID: "u1"}, true},
		{"valid", &sessions.Session{ID: "s1", UserID: "u1", ExpiresAt: now.Add(time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.live, tt.session.IsLive(now))
		})
	}
}
