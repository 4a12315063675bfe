package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-listings-client/collections"
	"github.com/jrsteele09/go-listings-client/listings"
	"github.com/jrsteele09/go-listings-client/mutation"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

// Activity actions recorded for confirmed writes.
const (
	ActionFavoriteAdded   = "favorite.added"
	ActionFavoriteRemoved = "favorite.removed"
	ActionListingCreated  = "listing.created"
	ActionListingUpdated  = "listing.updated"
	ActionListingDeleted  = "listing.deleted"
	ActionSupportSent     = "support.sent"
)

// favoriteNamespace derives stable favorite row ids, so the same user and
// listing always map to the same backend row.
var favoriteNamespace = uuid.MustParse("6f1c9a52-3d4e-4b8a-9c71-2a5e8f0d4b13")

func favoriteRowID(userID, listingID string) string {
	return uuid.NewSHA1(favoriteNamespace, []byte(userID+"/"+listingID)).String()
}

// ToggleFavorite flips the signed in user's favorite on listingID. The store
// changes immediately; the returned handle settles when the backend answers.
// Intents on the same listing are sent in order, so a burst of toggles ends
// on the state of the last one the backend accepted.
func (c *Client) ToggleFavorite(ctx context.Context, listingID string) (*mutation.Pending, error) {
	user, err := c.verifiedUser()
	if err != nil {
		return nil, err
	}
	if listingID == "" {
		return nil, errors.New("[Client ToggleFavorite] listing id is required")
	}

	add := !c.store.IsFavorite(listingID)
	rowID := favoriteRowID(user.ID, listingID)
	if existing, ok := c.store.Get(remote.Favorites, listingID); ok {
		if id := existing.String("id"); id != "" {
			rowID = id
		}
	}

	intent := mutation.Intent{
		Collection: remote.Favorites,
		TargetID:   listingID,
		Actor:      user.ID,
		Forward:    setFavorite(listingID, user.ID, rowID, add),
	}
	if add {
		intent.Action = ActionFavoriteAdded
		intent.RemoteWrite = func(ctx context.Context, _ string) (*remote.Resource, error) {
			row, err := c.remote.Insert(ctx, remote.Favorites, remote.Resource{
				ID:     rowID,
				Fields: remote.Fields{"user_id": user.ID, "listing_id": listingID},
			})
			if err != nil {
				return nil, err
			}
			// The store keys favorites by listing, not by row.
			return &remote.Resource{ID: listingID, Fields: row.Fields}, nil
		}
	} else {
		intent.Action = ActionFavoriteRemoved
		intent.RemoteWrite = func(ctx context.Context, _ string) (*remote.Resource, error) {
			return nil, c.remote.Remove(ctx, remote.Favorites, rowID)
		}
	}
	return c.engine.Apply(ctx, intent)
}

// setFavorite returns an idempotent op putting the edge into the wanted state.
func setFavorite(listingID, userID, rowID string, on bool) mutation.Op {
	return func(s *collections.Store) error {
		if s.IsFavorite(listingID) == on {
			return nil
		}
		if !on {
			return s.ApplyRemove(remote.Favorites, listingID)
		}
		return s.ApplyInsert(remote.Favorites, remote.Resource{
			ID:     listingID,
			Fields: remote.Fields{"id": rowID, "user_id": userID, "listing_id": listingID},
		})
	}
}

// CreateListing adds l to the listings collection and creates it on the
// backend. A missing id is generated; the owner is the signed in user.
func (c *Client) CreateListing(ctx context.Context, l listings.Listing) (*mutation.Pending, error) {
	user, err := c.verifiedUser()
	if err != nil {
		return nil, err
	}
	if !user.CanList() {
		return nil, errors.Wrapf(ErrNotAllowed, "role %s cannot create listings", user.Role)
	}
	if err := l.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Client CreateListing] invalid listing")
	}

	if l.ID == "" {
		l.ID = listings.NewID()
	}
	l.OwnerID = user.ID
	if l.Status == "" {
		l.Status = listings.StatusDraft
	}
	l.CreatedAt, l.UpdatedAt = nil, nil

	resource, err := l.ToResource()
	if err != nil {
		return nil, err
	}

	return c.engine.Apply(ctx, mutation.Intent{
		Collection: remote.Listings,
		TargetID:   l.ID,
		Action:     ActionListingCreated,
		Actor:      user.ID,
		Forward: func(s *collections.Store) error {
			return s.ApplyInsert(remote.Listings, resource)
		},
		RemoteWrite: func(ctx context.Context, _ string) (*remote.Resource, error) {
			row, err := c.remote.Insert(ctx, remote.Listings, remote.Resource{ID: resource.ID, Fields: resource.Fields})
			if err != nil {
				return nil, err
			}
			return &row, nil
		},
	})
}

// UpdateListing patches the server fields of listing id.
func (c *Client) UpdateListing(ctx context.Context, id string, patch remote.Fields) (*mutation.Pending, error) {
	user, err := c.verifiedUser()
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, errors.New("[Client UpdateListing] empty patch")
	}
	for _, readOnly := range []string{"id", "owner_id", "created_at", "updated_at"} {
		if _, ok := patch[readOnly]; ok {
			return nil, errors.Errorf("[Client UpdateListing] field %q is read only", readOnly)
		}
	}
	patch = patch.Clone()

	return c.engine.Apply(ctx, mutation.Intent{
		Collection: remote.Listings,
		TargetID:   id,
		Action:     ActionListingUpdated,
		Actor:      user.ID,
		Forward: func(s *collections.Store) error {
			return s.ApplyPatch(remote.Listings, id, patch)
		},
		RemoteWrite: func(ctx context.Context, remoteID string) (*remote.Resource, error) {
			row, err := c.remote.Update(ctx, remote.Listings, remoteID, patch)
			if err != nil {
				return nil, err
			}
			return &row, nil
		},
	})
}

// DeleteListing removes listing id.
func (c *Client) DeleteListing(ctx context.Context, id string) (*mutation.Pending, error) {
	user, err := c.verifiedUser()
	if err != nil {
		return nil, err
	}

	return c.engine.Apply(ctx, mutation.Intent{
		Collection: remote.Listings,
		TargetID:   id,
		Action:     ActionListingDeleted,
		Actor:      user.ID,
		Forward: func(s *collections.Store) error {
			return s.ApplyRemove(remote.Listings, id)
		},
		RemoteWrite: func(ctx context.Context, remoteID string) (*remote.Resource, error) {
			return nil, c.remote.Remove(ctx, remote.Listings, remoteID)
		},
	})
}

// SendSupportMessage files a support request from the signed in user.
func (c *Client) SendSupportMessage(ctx context.Context, subject, body string) (*mutation.Pending, error) {
	user, err := c.verifiedUser()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return nil, errors.New("[Client SendSupportMessage] subject and body are required")
	}

	id := uuid.New().String()
	message := remote.Resource{
		ID: id,
		Fields: remote.Fields{
			"id":      id,
			"user_id": user.ID,
			"email":   user.Email,
			"subject": subject,
			"body":    body,
			"status":  "open",
		},
	}

	return c.engine.Apply(ctx, mutation.Intent{
		Collection: remote.SupportMessages,
		TargetID:   id,
		Action:     ActionSupportSent,
		Actor:      user.ID,
		Forward: func(s *collections.Store) error {
			return s.ApplyInsert(remote.SupportMessages, message)
		},
		RemoteWrite: func(ctx context.Context, _ string) (*remote.Resource, error) {
			row, err := c.remote.Insert(ctx, remote.SupportMessages, message)
			if err != nil {
				return nil, err
			}
			return &row, nil
		},
	})
}
