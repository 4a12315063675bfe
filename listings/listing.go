package listings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

// StatusType is the sale state of a listing.
type StatusType string

const (
	StatusDraft      StatusType = "draft"       // Visible to the owner only
	StatusActive     StatusType = "active"      // Published
	StatusUnderOffer StatusType = "under_offer" // Offer accepted, not completed
	StatusSold       StatusType = "sold"        // Completed sale
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusUnderOffer, StatusSold:
		return true
	}
	return false
}

// localTitleKey holds the translated title in Resource.Local.
const localTitleKey = "title_localized"

// Listing is a business offered for sale.
type Listing struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id,omitempty"`  // Profile that created the listing
	BrokerID    *string    `json:"broker_id,omitempty"` // Broker handling the sale, if any
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Industry    string     `json:"industry,omitempty"`
	Location    string     `json:"location,omitempty"`
	Price       float64    `json:"price"`             // Asking price
	Revenue     float64    `json:"revenue,omitempty"` // Annual revenue
	Status      StatusType `json:"status,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"` // Set by the backend
	UpdatedAt   *time.Time `json:"updated_at,omitempty"` // Set by the backend

	LocalizedTitle string `json:"-"` // Presentation only, never sent to the backend
}

// NewID returns a client-generated listing id.
func NewID() string {
	return uuid.New().String()
}

// Validate checks the fields a listing needs before it is created.
func (l Listing) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if l.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	if l.Revenue < 0 {
		return fmt.Errorf("revenue must not be negative")
	}
	if l.Status != "" && !l.Status.Valid() {
		return fmt.Errorf("unknown status %q", l.Status)
	}
	return nil
}

// ToResource encodes the listing as a collection row.
func (l Listing) ToResource() (remote.Resource, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return remote.Resource{}, errors.Wrap(err, "[Listing ToResource] encode")
	}
	var fields remote.Fields
	if err := json.Unmarshal(b, &fields); err != nil {
		return remote.Resource{}, errors.Wrap(err, "[Listing ToResource] decode")
	}

	r := remote.Resource{ID: l.ID, Fields: fields}
	if l.LocalizedTitle != "" {
		r.Local = remote.Fields{localTitleKey: l.LocalizedTitle}
	}
	return r, nil
}

// FromResource decodes a collection row. Numeric columns may arrive as any
// JSON number representation.
func FromResource(r remote.Resource) (Listing, error) {
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return Listing{}, errors.Wrap(err, "[FromResource] encode row")
	}
	var l Listing
	if err := json.Unmarshal(b, &l); err != nil {
		return Listing{}, errors.Wrapf(err, "[FromResource] invalid listing %s", r.ID)
	}
	if l.ID == "" {
		l.ID = r.ID
	}
	if title, ok := r.Local[localTitleKey].(string); ok {
		l.LocalizedTitle = title
	}
	return l, nil
}

// DisplayTitle returns the localized title when one is available.
func (l Listing) DisplayTitle() string {
	if l.LocalizedTitle != "" {
		return l.LocalizedTitle
	}
	return l.Title
}

// FromResources decodes rows, skipping and reporting any that are malformed.
func FromResources(rows []remote.Resource) ([]Listing, error) {
	out := make([]Listing, 0, len(rows))
	var bad []string
	for _, r := range rows {
		l, err := FromResource(r)
		if err != nil {
			bad = append(bad, r.ID)
			continue
		}
		out = append(out, l)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("[FromResources] malformed listings: %s", strings.Join(bad, ", "))
	}
	return out, nil
}
