package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/config"
)

// storeContract runs the same behavior checks against every Store.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "perm:web:user.query", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "perm:web:order.list", "0", time.Minute))
	require.NoError(t, s.Set(ctx, "other:key", "x", 0))

	v, err := s.Get(ctx, "perm:web:user.query")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.IndexAdd(ctx, "idx:client:web", "perm:web:user.query", time.Minute))
	require.NoError(t, s.IndexAdd(ctx, "idx:client:web", "perm:web:order.list", time.Minute))
	require.NoError(t, s.IndexAdd(ctx, "idx:client:web", "perm:web:order.list", time.Minute))

	members, err := s.IndexMembers(ctx, "idx:client:web")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"perm:web:order.list", "perm:web:user.query"}, members)

	empty, err := s.IndexMembers(ctx, "idx:client:none")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Delete(ctx, "perm:web:user.query", "idx:client:web"))
	_, err = s.Get(ctx, "perm:web:user.query")
	assert.ErrorIs(t, err, ErrMiss)
	members, err = s.IndexMembers(ctx, "idx:client:web")
	require.NoError(t, err)
	assert.Empty(t, members)

	n, err := s.DeletePrefix(ctx, "perm:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, "perm:web:order.list")
	assert.ErrorIs(t, err, ErrMiss)

	v, err = s.Get(ctx, "other:key")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	require.NoError(t, s.Delete(ctx))
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", "v", time.Second))
	require.NoError(t, m.IndexAdd(ctx, "idx", "k", time.Second))

	now = now.Add(999 * time.Millisecond)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Millisecond)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	members, err := m.IndexMembers(ctx, "idx")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "procgate:"), mr
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newRedisStore(t)
	storeContract(t, s)
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "perm:a:b", "1", 30*time.Second))
	require.NoError(t, s.IndexAdd(ctx, "perm:idx:client:a", "perm:a:b", 30*time.Second))

	assert.True(t, mr.Exists("procgate:perm:a:b"))
	assert.Equal(t, 30*time.Second, mr.TTL("procgate:perm:a:b"))
	assert.Equal(t, 30*time.Second, mr.TTL("procgate:perm:idx:client:a"))

	mr.FastForward(31 * time.Second)
	_, err := s.Get(ctx, "perm:a:b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNew_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.CacheConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	s, err = New(ctx, config.CacheConfig{Driver: "redis", RedisAddr: mr.Addr(), Prefix: "p:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)

	_, err = New(ctx, config.CacheConfig{Driver: "memcached"}, nil)
	assert.Error(t, err)
}
