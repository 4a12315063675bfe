package auth_test

import (
	"testing"

	"github.com/jrsteele09/go-listings-client/auth"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/stretchr/testify/require"
)

func TestValidateCredentials(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		err := auth.ValidateCredentials(remote.Credentials{Email: "user@example.com", Password: "password123"})
		require.NoError(t, err)
	})

	t.Run("empty email", func(t *testing.T) {
		err := auth.ValidateCredentials(remote.Credentials{Email: "  ", Password: "password123"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "email is required")
	})

	t.Run("invalid email format", func(t *testing.T) {
		for _, email := range []string{"userexample.com", "@example.com", "user@example"} {
			err := auth.ValidateCredentials(remote.Credentials{Email: email, Password: "password123"})
			require.Error(t, err, email)
			require.Contains(t, err.Error(), "invalid email format")
		}
	})

	t.Run("empty password", func(t *testing.T) {
		err := auth.ValidateCredentials(remote.Credentials{Email: "user@example.com"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "password is required")
	})
}

func TestValidateProfilePatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   remote.Fields
		wantErr bool
	}{
		{"display name", remote.Fields{"display_name": "Ann"}, false},
		{"phone and avatar", remote.Fields{"phone": "+44 20 7946 0000", "avatar_url": "https://cdn/a.png"}, false},
		{"empty", remote.Fields{}, true},
		{"role escalation", remote.Fields{"role": "admin"}, true},
		{"id change", remote.Fields{"id": "u2"}, true},
		{"blank name", remote.Fields{"display_name": " "}, true},
		{"non string name", remote.Fields{"display_name": 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateProfilePatch(tt.patch)
			if tt.wantErr {
				require.ErrorIs(t, err, auth.ErrInvalidProfileOp)
				return
			}
			require.NoError(t, err)
		})
	}
}
