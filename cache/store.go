package cache

import "errors"

// Keys are the only values the client core persists across restarts.
const (
	ProfileKey         = "listings.auth.profile"
	RememberSessionKey = "listings.auth.remember_session"
)

var ErrNotFound = errors.New("cache key not found")

// Store is a synchronous key to string blob store that survives process restarts.
type Store interface {
	// Get returns the value stored under key or ErrNotFound
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error
	Remove(key string) error
}
