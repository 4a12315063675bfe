package client

import (
	"context"

	"github.com/jrsteele09/go-listings-client/collections"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

// Load replaces collection name with the backend rows matching filter. Rows
// that arrive after a newer load or reset of the same collection are dropped
// and ErrStale is returned.
func (c *Client) Load(ctx context.Context, name string, filter remote.Filter) error {
	token := c.store.BeginLoad(name)
	rows, err := c.remote.Read(ctx, name, filter)
	if err != nil {
		return errors.Wrapf(err, "[Client Load] read %s", name)
	}
	if !c.engine.Load(name, rows, token) {
		c.logger.Debug().Str("collection", name).Uint64("ticket", token.Ticket).Msg("Dropping stale load")
		return errors.Wrapf(ErrStale, "[Client Load] %s", name)
	}
	c.logger.Debug().Str("collection", name).Int("rows", len(rows)).Msg("Collection loaded")
	return nil
}

func (c *Client) LoadListings(ctx context.Context) error {
	return c.Load(ctx, remote.Listings, nil)
}

func (c *Client) LoadBrokers(ctx context.Context) error {
	return c.Load(ctx, remote.Brokers, nil)
}

// LoadFavorites reloads the signed in user's favorites.
func (c *Client) LoadFavorites(ctx context.Context) error {
	user, err := c.verifiedUser()
	if err != nil {
		return err
	}
	token, _ := c.store.SetFavoritesOwner(user.ID)
	return c.loadFavorites(ctx, user.ID, token)
}

// loadFavorites reads userID's favorite rows and keys them by listing id.
func (c *Client) loadFavorites(ctx context.Context, userID string, token collections.LoadToken) error {
	rows, err := c.remote.Read(ctx, remote.Favorites, remote.Filter{"user_id": userID})
	if err != nil {
		return errors.Wrap(err, "[Client loadFavorites] read")
	}

	edges := make([]remote.Resource, 0, len(rows))
	for _, r := range rows {
		listingID := r.String("listing_id")
		if listingID == "" {
			c.logger.Warn().Str("favorite_id", r.ID).Msg("Skipping favorite without listing id")
			continue
		}
		fields := r.Fields.Clone()
		fields["id"] = r.ID
		edges = append(edges, remote.Resource{ID: listingID, Fields: fields})
	}

	if !c.engine.Load(remote.Favorites, edges, token) {
		return errors.Wrap(ErrStale, "[Client loadFavorites]")
	}
	return nil
}
