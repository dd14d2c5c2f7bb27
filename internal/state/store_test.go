package state

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "auth_token", "abc"))
	require.NoError(t, s.Set(ctx, "cache_lessons", "[]"))
	require.NoError(t, s.Set(ctx, "cache_lessons", "[1]"))

	v, err := s.Get(ctx, "cache_lessons")
	require.NoError(t, err)
	assert.Equal(t, "[1]", v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth_token", "cache_lessons"}, keys)

	require.NoError(t, s.Delete(ctx, "cache_lessons"))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth_token"}, keys)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Keys outside the prefix are invisible to the store.
	mr.Set("other:key", "x")

	s := NewRedisStore(client, "client_state:")
	exerciseStore(t, s)
	assert.True(t, mr.Exists("client_state:auth_token"))
	assert.True(t, mr.Exists("other:key"))
}
