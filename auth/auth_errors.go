package auth

import "errors"

var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrSuperseded       = errors.New("session change superseded")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrProfileMismatch  = errors.New("profile does not belong to session")
	ErrInvalidProfileOp = errors.New("invalid profile update")
)
