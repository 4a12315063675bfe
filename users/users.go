package users

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// RoleType is the marketplace role attached to a profile.
type RoleType string

const (
	RoleAdmin  RoleType = "admin"  // Moderates listings and brokers
	RoleDealer RoleType = "dealer" // Broker listing on behalf of sellers
	RoleBuyer  RoleType = "buyer"  // Browses and favorites listings
	RoleSeller RoleType = "seller" // Lists their own business
)

// Valid reports whether r is one of the known roles.
func (r RoleType) Valid() bool {
	switch r {
	case RoleAdmin, RoleDealer, RoleBuyer, RoleSeller:
		return true
	}
	return false
}

// Profile is the user record shown by the UI. One Profile exists per Session.UserID.
type Profile struct {
	ID          string    `json:"id"`                   // Matches sessions.Session.UserID
	Email       string    `json:"email"`                // Sign-in email
	DisplayName string    `json:"display_name"`         // Name shown on listings and messages
	Role        RoleType  `json:"role"`                 // Marketplace role
	Phone       *string   `json:"phone,omitempty"`      // Optional contact number
	AvatarURL   string    `json:"avatar_url,omitempty"` // Profile picture location
	UpdatedAt   time.Time `json:"updated_at"`           // Last server-side modification
}

// Clone returns a copy that shares no pointers with p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Phone != nil {
		phone := *p.Phone
		c.Phone = &phone
	}
	return &c
}

// IsAdmin returns true for administrator profiles.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// CanList reports whether the profile may create listings.
func (p *Profile) CanList() bool {
	if p == nil {
		return false
	}
	return p.Role == RoleAdmin || p.Role == RoleDealer || p.Role == RoleSeller
}

// Marshal serializes the profile into the blob stored in the persistent cache.
func (p *Profile) Marshal() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "[Profile Marshal]")
	}
	return string(b), nil
}

// Unmarshal parses a cached profile blob. Blobs without an id are rejected.
func Unmarshal(blob string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, errors.Wrap(err, "[Unmarshal] invalid profile blob")
	}
	if p.ID == "" {
		return nil, errors.New("[Unmarshal] profile blob has no id")
	}
	return &p, nil
}

// ToFields encodes the profile as a backend row.
func (p *Profile) ToFields() (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "[Profile ToFields] encode")
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, errors.Wrap(err, "[Profile ToFields] decode")
	}
	return fields, nil
}

// FromFields decodes a backend row into a Profile.
func FromFields(fields map[string]any) (*Profile, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "[FromFields] encode row")
	}
	p, err := Unmarshal(string(b))
	if err != nil {
		return nil, err
	}
	if p.Role != "" && !p.Role.Valid() {
		return nil, fmt.Errorf("[FromFields] unknown role %q", p.Role)
	}
	return p, nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
