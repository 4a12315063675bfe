package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/jrsteele09/go-listings-client/remote/remotefake"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout_TimesOutBlockedCall(t *testing.T) {
	b := remotefake.NewBackend()
	// Ignores ctx on purpose: the decorator must still give up.
	release := make(chan struct{})
	defer close(release)
	b.SetHook(func(ctx context.Context, op remotefake.Op) error {
		<-release
		return nil
	})

	store := remote.WithTimeout(b, 20*time.Millisecond)
	_, err := store.GetSession(context.Background())

	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	require.True(t, re.Timeout)
	require.Equal(t, "remote get session timed out", err.Error())
}

func TestWithTimeout_NormalizesTransportErrors(t *testing.T) {
	b := remotefake.NewBackend()
	cause := errors.New("dial tcp 10.0.0.1:443: connection refused")
	b.SetHook(remotefake.FailWith(cause, remotefake.Match("read", "")))

	store := remote.WithTimeout(b, time.Second)
	_, err := store.Read(context.Background(), remote.Listings, nil)

	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	require.False(t, re.Timeout)
	require.NotContains(t, err.Error(), "10.0.0.1")
	require.Equal(t, cause, re.Cause())
	require.False(t, errors.Is(err, cause))
}

func TestWithTimeout_PassesThroughTaxonomy(t *testing.T) {
	ctx := context.Background()
	b := remotefake.NewBackend()
	store := remote.WithTimeout(b, time.Second)

	err := store.Remove(ctx, remote.Listings, "missing")
	require.True(t, remote.IsConflict(err))

	_, err = store.SignInWithPassword(ctx, remote.Credentials{Email: "nobody@example.com", Password: "x"})
	require.True(t, remote.IsAuth(err))
	require.False(t, remote.IsRemote(err))
}

func TestWithTimeout_DefaultsTimeout(t *testing.T) {
	store := remote.WithTimeout(remotefake.NewBackend(), 0)
	rows, err := store.Read(context.Background(), remote.Listings, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFilter_Matches(t *testing.T) {
	f := remote.Filter{"id": "L1", "status": "active"}
	require.True(t, f.Matches("L1", remote.Fields{"status": "active"}))
	require.False(t, f.Matches("L2", remote.Fields{"status": "active"}))
	require.False(t, f.Matches("L1", remote.Fields{"status": "sold"}))
	require.False(t, f.Matches("L1", remote.Fields{}))
	require.True(t, remote.Filter(nil).Matches("any", nil))
}
