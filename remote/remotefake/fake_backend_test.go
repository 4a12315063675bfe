package remotefake_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/remote/remotefake"
	"github.com/jrsteele09/go-listings-client/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "seller@example.com"
	testPassword = "Passw0rdOK"
)

func newBackend(t *testing.T, now func() time.Time) *remotefake.Backend {
	t.Helper()
	b := remotefake.NewBackend(remotefake.WithNowFunc(now), remotefake.WithSessionTTL(time.Hour))
	require.NoError(t, b.AddAccount(users.Profile{
		ID:          "u1",
		Email:       testEmail,
		DisplayName: "Sam Seller",
		Role:        users.RoleSeller,
	}, testPassword))
	return b
}

func TestBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, time.Now)

	created, err := b.Insert(ctx, remote.Listings, remote.Resource{
		ID:     "L1",
		Fields: remote.Fields{"title": "Corner Cafe", "owner_id": "u1"},
		Local:  remote.Fields{"title_localized": "Café du coin"},
	})
	require.NoError(t, err)
	require.Equal(t, "L1", created.ID)
	require.NotEmpty(t, created.Fields["created_at"])
	require.Nil(t, created.Local)

	_, err = b.Insert(ctx, remote.Listings, remote.Resource{ID: "L1"})
	require.True(t, remote.IsConflict(err))

	updated, err := b.Update(ctx, remote.Listings, "L1", remote.Fields{"price": 99000})
	require.NoError(t, err)
	require.Equal(t, 99000, updated.Fields["price"])
	require.Equal(t, "Corner Cafe", updated.Fields["title"])

	rows, err := b.Read(ctx, remote.Listings, remote.Filter{"owner_id": "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = b.Read(ctx, remote.Listings, remote.Filter{"owner_id": "u2"})
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, b.Remove(ctx, remote.Listings, "L1"))
	require.True(t, remote.IsConflict(b.Remove(ctx, remote.Listings, "L1")))
	_, err = b.Update(ctx, remote.Listings, "L1", remote.Fields{"price": 1})
	require.True(t, remote.IsConflict(err))
}

func TestBackend_SignInLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := newBackend(t, func() time.Time { return now })

	var events []remote.AuthEventType
	unsubscribe := b.OnAuthStateChange(func(e remote.AuthEvent) {
		events = append(events, e.Type)
	})

	s, err := b.GetSession(ctx)
	require.NoError(t, err)
	require.Nil(t, s)

	_, err = b.SignInWithPassword(ctx, remote.Credentials{Email: testEmail, Password: "wrong"})
	require.True(t, remote.IsAuth(err))

	s, err = b.SignInWithPassword(ctx, remote.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, "u1", s.UserID)
	require.Equal(t, now.Add(time.Hour), s.ExpiresAt.UTC())

	got, err := b.GetSession(ctx)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	now = now.Add(2 * time.Hour)
	_, err = b.GetSession(ctx)
	require.True(t, remote.IsAuth(err))

	require.NoError(t, b.SignOut(ctx))
	require.Equal(t, []remote.AuthEventType{remote.SignedIn, remote.SignedOut}, events)

	unsubscribe()
	unsubscribe()
	require.Zero(t, b.ListenerCount())
}

func TestBackend_Blocker(t *testing.T) {
	b := newBackend(t, time.Now)
	blocker := remotefake.NewBlocker(remotefake.Match("read", remote.Listings))
	b.SetHook(blocker.Hook())

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(context.Background(), remote.Listings, nil)
		done <- err
	}()

	op := <-blocker.Entered()
	require.Equal(t, remote.Listings, op.Collection)
	blocker.Release(nil)
	require.NoError(t, <-done)
}
