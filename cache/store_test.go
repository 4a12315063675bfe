package cache_test

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-listings-client/cache"
	"github.com/jrsteele09/go-listings-client/cache/cachefake"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the shared contract against any cache.Store.
func exerciseStore(t *testing.T, s cache.Store) {
	t.Helper()

	_, err := s.Get(cache.ProfileKey)
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Set(cache.ProfileKey, `{"id":"u1"}`))
	require.NoError(t, s.Set(cache.RememberSessionKey, "true"))

	v, err := s.Get(cache.ProfileKey)
	require.NoError(t, err)
	require.Equal(t, `{"id":"u1"}`, v)

	require.NoError(t, s.Set(cache.ProfileKey, `{"id":"u2"}`))
	v, err = s.Get(cache.ProfileKey)
	require.NoError(t, err)
	require.Equal(t, `{"id":"u2"}`, v)

	require.NoError(t, s.Remove(cache.ProfileKey))
	require.NoError(t, s.Remove(cache.ProfileKey))
	_, err = s.Get(cache.ProfileKey)
	require.ErrorIs(t, err, cache.ErrNotFound)

	v, err = s.Get(cache.RememberSessionKey)
	require.NoError(t, err)
	require.Equal(t, "true", v)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	s, err := cache.NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	// Values survive a new store on the same file.
	reopened, err := cache.NewFileStore(path)
	require.NoError(t, err)
	v, err := reopened.Get(cache.RememberSessionKey)
	require.NoError(t, err)
	require.Equal(t, "true", v)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := cache.NewRedisStore(client, "client-a")
	exerciseStore(t, s)
	require.True(t, mr.Exists("client-a:"+cache.RememberSessionKey))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := cache.NewRedisClient(addr, "", 0)
	require.Error(t, err)
}

func TestFakeCache(t *testing.T) {
	exerciseStore(t, cachefake.NewFakeCache())
}
