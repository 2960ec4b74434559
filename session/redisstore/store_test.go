package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/rpflow/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ session.Store = (*Store)(nil)

func testStore(t *testing.T, opt ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(client, opt...)
	require.NoError(t, err)
	return s, mr
}

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("missing-client", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
	})
	t.Run("key-prefix", func(t *testing.T) {
		require := require.New(t)
		s, mr := testStore(t, WithKeyPrefix("app:sess:"))
		require.NoError(s.Set(context.Background(), "id-1", []byte("v"), time.Hour))
		require.True(mr.Exists("app:sess:id-1"))
	})
}

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mr := testStore(t)
		require.NoError(s.Set(ctx, "id-1", []byte(`{"name":"alice"}`), time.Hour))
		require.True(mr.Exists(DefaultKeyPrefix + "id-1"))

		got, err := s.Get(ctx, "id-1")
		require.NoError(err)
		assert.Equal([]byte(`{"name":"alice"}`), got)
	})
	t.Run("missing", func(t *testing.T) {
		require := require.New(t)
		s, _ := testStore(t)
		got, err := s.Get(ctx, "nope")
		require.NoError(err)
		require.Nil(got)
	})
	t.Run("ttl", func(t *testing.T) {
		require := require.New(t)
		s, mr := testStore(t)
		require.NoError(s.Set(ctx, "id-1", []byte("v"), time.Minute))

		mr.FastForward(2 * time.Minute)
		got, err := s.Get(ctx, "id-1")
		require.NoError(err)
		require.Nil(got)
	})
	t.Run("delete", func(t *testing.T) {
		require := require.New(t)
		s, _ := testStore(t)
		require.NoError(s.Set(ctx, "id-1", []byte("v"), time.Hour))
		require.NoError(s.Delete(ctx, "id-1"))
		got, err := s.Get(ctx, "id-1")
		require.NoError(err)
		require.Nil(got)

		// deleting a missing entry is not an error
		require.NoError(s.Delete(ctx, "id-1"))
	})
	t.Run("connection-failure", func(t *testing.T) {
		require := require.New(t)
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		s, err := New(client)
		require.NoError(err)

		mr.Close()
		_, err = s.Get(ctx, "id-1")
		require.Error(err)
	})
}
