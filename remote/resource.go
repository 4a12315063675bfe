package remote

import (
	"github.com/jrsteele09/go-listings-client/internal/utils"
)

// Collection names understood by the backend.
const (
	Listings        = "listings"
	Brokers         = "brokers"
	Favorites       = "favorites"
	Reports         = "reports"
	SupportMessages = "support_messages"
	Profiles        = "profiles"
)

// Fields is a JSON-like column map. Values are decoded JSON scalars, maps or slices.
type Fields map[string]any

// Clone deep copies the fields.
func (f Fields) Clone() Fields {
	return Fields(utils.CloneMap(f))
}

// Resource is a single row of a backend collection.
type Resource struct {
	ID     string // Opaque backend identifier
	Fields Fields // Server-authoritative columns
	Local  Fields // Local-only presentation data, never sent to the backend
}

// Clone returns a deep copy of r.
func (r Resource) Clone() Resource {
	return Resource{
		ID:     r.ID,
		Fields: r.Fields.Clone(),
		Local:  r.Local.Clone(),
	}
}

// String returns the string value of a field, or "".
func (r Resource) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Filter restricts a Read to rows whose columns equal the given values.
type Filter map[string]string

// Matches reports whether the fields satisfy every filter condition.
// The "id" key matches against id.
func (f Filter) Matches(id string, fields Fields) bool {
	for k, want := range f {
		if k == "id" {
			if id != want {
				return false
			}
			continue
		}
		got, ok := fields[k]
		if !ok {
			return false
		}
		if s, ok := got.(string); !ok || s != want {
			return false
		}
	}
	return true
}

// Credentials used for password sign in.
type Credentials struct {
	Email    string
	Password string
}
