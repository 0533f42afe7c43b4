package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vanishing.keys/internal/models"
)

const testGrace = 30 * time.Second

func newSecret(payload string, ttl time.Duration) *models.Secret {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Secret{
		ID:          uuid.NewString(),
		Payload:     []byte(payload),
		CreatedAt:   now,
		LastUpdated: now,
		ExpiresAt:   now.Add(ttl),
	}
}

// testStoreContract runs the behaviour every backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("insert then consume returns prior record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("ciphertext", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		now := time.Now().UTC()
		got, err := s.Consume(ctx, secret.ID, now, testGrace)
		require.NoError(t, err)
		assert.Equal(t, secret.ID, got.ID)
		assert.Equal(t, secret.Payload, got.Payload)
		assert.True(t, secret.CreatedAt.Equal(got.CreatedAt), "created %s, got %s", secret.CreatedAt, got.CreatedAt)
		assert.True(t, secret.ExpiresAt.Equal(got.ExpiresAt), "expires %s, got %s", secret.ExpiresAt, got.ExpiresAt)
		assert.Nil(t, got.ConsumedAt)
	})

	t.Run("insert never overwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := newSecret("first", time.Hour)
		require.NoError(t, s.Insert(ctx, first))

		second := newSecret("second", time.Hour)
		second.ID = first.ID
		err := s.Insert(ctx, second)
		require.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.Consume(ctx, first.ID, time.Now().UTC(), testGrace)
		require.NoError(t, err)
		assert.Equal(t, "first", string(got.Payload))
	})

	t.Run("consume unknown id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Consume(context.Background(), "missing", time.Now().UTC(), testGrace)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("second consume misses", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("once", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		_, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err = s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
			require.ErrorIs(t, err, ErrNotFound)
		}
	})

	t.Run("expired record is never returned", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("stale", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		later := secret.ExpiresAt.Add(time.Second)
		_, err := s.Consume(ctx, secret.ID, later, testGrace)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("consume at exact expiry misses", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("edge", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		_, err := s.Consume(ctx, secret.ID, secret.ExpiresAt, testGrace)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sub-millisecond expiry is exact", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		early := newSecret("early", time.Hour)
		early.ExpiresAt = early.ExpiresAt.Add(900*time.Microsecond + 123*time.Nanosecond)
		require.NoError(t, s.Insert(ctx, early))
		got, err := s.Consume(ctx, early.ID, early.ExpiresAt.Add(-time.Microsecond), testGrace)
		require.NoError(t, err)
		assert.True(t, early.ExpiresAt.Equal(got.ExpiresAt), "expires %s, got %s", early.ExpiresAt, got.ExpiresAt)

		late := newSecret("late", time.Hour)
		late.ExpiresAt = late.ExpiresAt.Add(900*time.Microsecond + 123*time.Nanosecond)
		require.NoError(t, s.Insert(ctx, late))
		_, err = s.Consume(ctx, late.ID, late.ExpiresAt, testGrace)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("doomed", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		require.NoError(t, s.Delete(ctx, secret.ID))
		_, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
		require.ErrorIs(t, err, ErrNotFound)

		require.ErrorIs(t, s.Delete(ctx, secret.ID), ErrNotFound)
		require.ErrorIs(t, s.Delete(ctx, "never-existed"), ErrNotFound)
	})

	t.Run("delete consumed record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("read", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))
		_, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, secret.ID))
	})

	t.Run("binary payload round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		payload := make([]byte, 10240)
		for i := range payload {
			payload[i] = byte(i)
		}
		secret := newSecret("", time.Hour)
		secret.Payload = payload
		require.NoError(t, s.Insert(ctx, secret))

		got, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
		require.NoError(t, err)
		assert.Equal(t, payload, got.Payload)
	})

	t.Run("concurrent consumes have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		secret := newSecret("contended", time.Hour)
		require.NoError(t, s.Insert(ctx, secret))

		const n = 16
		var (
			wg       sync.WaitGroup
			wins     atomic.Int32
			misses   atomic.Int32
			start    = make(chan struct{})
			unexpect = make(chan error, n)
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				got, err := s.Consume(ctx, secret.ID, time.Now().UTC(), testGrace)
				switch {
				case err == nil:
					if string(got.Payload) != "contended" {
						unexpect <- fmt.Errorf("payload %q", got.Payload)
					}
					wins.Add(1)
				case errors.Is(err, ErrNotFound):
					misses.Add(1)
				default:
					unexpect <- err
				}
			}()
		}
		close(start)
		wg.Wait()
		close(unexpect)

		for err := range unexpect {
			t.Errorf("unexpected consume result: %v", err)
		}
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(n-1), misses.Load())
	})
}

// testExpirerContract covers the sweep hook of backends without native TTL.
func testExpirerContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		e, ok := s.(Expirer)
		require.True(t, ok)
		ctx := context.Background()

		short := newSecret("short", time.Minute)
		long := newSecret("long", time.Hour)
		require.NoError(t, s.Insert(ctx, short))
		require.NoError(t, s.Insert(ctx, long))

		n, err := e.DeleteExpired(ctx, short.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.ErrorIs(t, s.Delete(ctx, short.ID), ErrNotFound)
		_, err = s.Consume(ctx, long.ID, time.Now().UTC(), testGrace)
		require.NoError(t, err)
	})

	t.Run("consumed record reclaimed after grace", func(t *testing.T) {
		s := newStore(t)
		e := s.(Expirer)
		ctx := context.Background()

		secret := newSecret("read", 7*24*time.Hour)
		require.NoError(t, s.Insert(ctx, secret))
		now := time.Now().UTC()
		_, err := s.Consume(ctx, secret.ID, now, testGrace)
		require.NoError(t, err)

		n, err := e.DeleteExpired(ctx, now.Add(testGrace/2))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = e.DeleteExpired(ctx, now.Add(testGrace))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
