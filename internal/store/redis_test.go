package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestRedis(t)
		return s
	})
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(&redis.Options{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging redis")
}

func TestRedisStore_NativeExpiry(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	secret := newSecret("ttl", 10*time.Minute)
	require.NoError(t, s.Insert(ctx, secret))

	ttl := mr.TTL(secretKey(secret.ID))
	assert.InDelta(t, (10 * time.Minute).Seconds(), ttl.Seconds(), 5)

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists(secretKey(secret.ID)))

	_, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ConsumeShortensTTL(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	secret := newSecret("grace", 7*24*time.Hour)
	require.NoError(t, s.Insert(ctx, secret))

	_, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
	require.NoError(t, err)

	key := secretKey(secret.ID)
	require.True(t, mr.Exists(key))
	assert.InDelta(t, testGrace.Seconds(), mr.TTL(key).Seconds(), 1)

	mr.FastForward(testGrace + time.Second)
	assert.False(t, mr.Exists(key))
}

func TestRedisStore_AbsoluteExpiry(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(now)

	secret := newSecret("abs", time.Hour)
	secret.ExpiresAt = now.Add(10*time.Minute + 500*time.Microsecond)
	require.NoError(t, s.Insert(ctx, secret))
	assert.Equal(t, 10*time.Minute+time.Millisecond, mr.TTL(secretKey(secret.ID)))

	_, err := s.Consume(ctx, secret.ID, now.Add(time.Minute), testGrace)
	require.NoError(t, err)
	assert.Equal(t, time.Minute+testGrace, mr.TTL(secretKey(secret.ID)))
}

func TestRedisStore_ZeroGraceDeletes(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	secret := newSecret("gone", time.Hour)
	require.NoError(t, s.Insert(ctx, secret))

	got, err := s.Consume(ctx, secret.ID, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Equal(t, "gone", string(got.Payload))
	assert.False(t, mr.Exists(secretKey(secret.ID)))
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	s, mr := newTestRedis(t)
	require.NoError(t, mr.Set(secretKey("bad"), "not gob"))

	_, err := s.Consume(context.Background(), "bad", time.Now().UTC(), testGrace)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "decoding secret")
}

func TestRedisStore_ServerErrorPropagates(t *testing.T) {
	s, mr := newTestRedis(t)
	mr.SetError("LOADING redis is loading")

	err := s.Insert(context.Background(), newSecret("p", time.Hour))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Consume(context.Background(), "any", time.Now().UTC(), testGrace)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
