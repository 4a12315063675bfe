package remote

import (
	"context"
	"errors"
	"fmt"
)

// AuthError reports invalid credentials or an expired session.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "auth error"
	}
	return "auth error: " + e.Reason
}

// ConflictError reports a write rejected by the backend because the caller is
// not authorized or the target is stale or missing.
type ConflictError struct {
	Collection string
	ID         string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s: %s", e.Collection, e.ID, e.Reason)
}

// RemoteError reports a network, timeout or server fault. The underlying
// transport error is kept for logging only and is not unwrapped.
type RemoteError struct {
	Op      string
	Timeout bool
	cause   error
}

// NewRemoteError builds a RemoteError for op.
func NewRemoteError(op string, cause error) *RemoteError {
	return &RemoteError{
		Op:      op,
		Timeout: errors.Is(cause, context.DeadlineExceeded),
		cause:   cause,
	}
}

func (e *RemoteError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("remote %s timed out", e.Op)
	}
	return fmt.Sprintf("remote %s failed", e.Op)
}

// Cause returns the transport error for logging.
func (e *RemoteError) Cause() error {
	return e.cause
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsRemote reports whether err is a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// normalize maps err into the taxonomy. Auth and conflict errors pass through.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsAuth(err) || IsConflict(err) || IsRemote(err) {
		return err
	}
	return NewRemoteError(op, err)
}
