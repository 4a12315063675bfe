package auth

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/users"
	"github.com/pkg/errors"
)

// profileFields lists the profile columns a user may change on their own row.
var profileFields = map[string]bool{
	"display_name": true,
	"phone":        true,
	"avatar_url":   true,
}

// ValidateCredentials checks sign-in input before it is sent to the backend.
func ValidateCredentials(credentials remote.Credentials) error {
	email := strings.TrimSpace(credentials.Email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	// Basic email format validation
	at := strings.Index(email, "@")
	if at < 1 || !strings.Contains(email[at:], ".") {
		return fmt.Errorf("invalid email format")
	}

	if credentials.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// ValidateProfilePatch rejects patches touching columns the owner may not change.
func ValidateProfilePatch(patch remote.Fields) error {
	if len(patch) == 0 {
		return errors.Wrap(ErrInvalidProfileOp, "empty patch")
	}
	for k, v := range patch {
		if !profileFields[k] {
			return errors.Wrapf(ErrInvalidProfileOp, "field %q is read only", k)
		}
		if k == "display_name" {
			name, ok := v.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return errors.Wrap(ErrInvalidProfileOp, "display_name must be a non-empty string")
			}
		}
	}
	return nil
}

// validateProfile checks a fetched profile against the session it was fetched for.
func validateProfile(profile *users.Profile, userID string) error {
	if profile == nil {
		return ErrProfileNotFound
	}
	if profile.ID != userID {
		return errors.Wrapf(ErrProfileMismatch, "profile %s, session user %s", profile.ID, userID)
	}
	return nil
}
