package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/jrsteele09/go-listings-client/cache/cachefake"
	"github.com/jrsteele09/go-listings-client/client"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/remote/remotefake"
	"github.com/jrsteele09/go-listings-client/users"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*client.Client, *remotefake.Backend) {
	t.Helper()
	backend := remotefake.NewBackend()
	require.NoError(t, backend.AddAccount(users.Profile{ID: "u1", Email: "ann@example.com", DisplayName: "Ann", Role: users.RoleBuyer}, "Password123"))
	backend.Seed(remote.Listings,
		remote.Resource{ID: "L1", Fields: remote.Fields{"title": "Harbour Cafe", "industry": "hospitality", "price": 120000, "status": "active"}},
	)
	backend.Seed(remote.Brokers, remote.Resource{ID: "B1", Fields: remote.Fields{"name": "Coastal Brokers", "email": "hello@coastal.test"}})

	lc, err := client.New(backend, cachefake.NewFakeCache())
	require.NoError(t, err)
	t.Cleanup(lc.Close)
	return lc, backend
}

func TestRunCommand_Listings(t *testing.T) {
	lc, _ := setupClient(t)
	var out bytes.Buffer

	require.NoError(t, runCommand(context.Background(), lc, "listings", nil, &out))
	require.Contains(t, out.String(), "Harbour Cafe")
	require.Contains(t, out.String(), "120000")

	out.Reset()
	require.NoError(t, runCommand(context.Background(), lc, "brokers", nil, &out))
	require.Contains(t, out.String(), "Coastal Brokers")
}

func TestRunCommand_FavoriteAndActivity(t *testing.T) {
	lc, backend := setupClient(t)
	ctx := context.Background()
	_, err := lc.SignIn(ctx, "ann@example.com", "Password123")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runCommand(ctx, lc, "favorite", []string{"L1"}, &out))
	require.Contains(t, out.String(), "confirmed")
	require.Contains(t, out.String(), "now favorite: true")
	require.Len(t, backend.Rows(remote.Favorites), 1)

	out.Reset()
	require.NoError(t, runCommand(ctx, lc, "activity", nil, &out))
	require.Contains(t, out.String(), client.ActionFavoriteAdded)
}

func TestRunCommand_Errors(t *testing.T) {
	lc, _ := setupClient(t)
	var out bytes.Buffer

	require.Error(t, runCommand(context.Background(), lc, "favorite", nil, &out))
	require.Error(t, runCommand(context.Background(), lc, "support", []string{"only subject"}, &out))
	require.Error(t, runCommand(context.Background(), lc, "favorites", nil, &out), "requires sign in")
	require.Error(t, runCommand(context.Background(), lc, "sell", nil, &out))
}

func TestRun_NoCommand(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run([]string{"-banner=false"}, &out))
}
