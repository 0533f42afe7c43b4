package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/redis/go-redis/v9"

	"vanishing.keys/internal/models"
)

var _ Store = (*RedisStore)(nil)

// consumeRetries bounds optimistic transaction retries. Once inserted, a key
// is written only by a consume or a delete, and after either one a retry sees
// the record consumed or gone. Three attempts cover a consume that loses to
// one of each.
const consumeRetries = 3

// RedisStore relies on Redis key expiry for reclamation, so it needs no Reaper.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Insert(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	// SetArgs.ExpireAt only resolves seconds, so PXAT is sent directly.
	err = r.client.Do(ctx, "SET", secretKey(secret.ID), data, "NX", "PXAT", expireAtMillis(secret.ExpiresAt)).Err()
	if errors.Is(err, redis.Nil) {
		return ErrAlreadyExists
	}
	return err
}

func (r *RedisStore) Consume(ctx context.Context, id string, now time.Time, grace time.Duration) (*models.Secret, error) {
	key := secretKey(id)
	var prior *models.Secret

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}
		if secret.Consumed() {
			return ErrNotFound
		}

		prior = clone(secret)
		consumedAt := now
		secret.ConsumedAt = &consumedAt
		secret.LastUpdated = now
		secret.ExpiresAt = now.Add(grace)

		newData, err := encode(secret)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if grace > 0 {
				pipe.Do(ctx, "SET", key, newData, "PXAT", expireAtMillis(secret.ExpiresAt))
			} else {
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	}

	for i := 0; i < consumeRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return consumed(prior, now)
		}
		if errors.Is(err, redis.TxFailedErr) {
			clog.FromContext(ctx).Debugf("consume transaction lost race, retrying (attempt %d)", i+1)
			continue
		}
		return nil, err
	}

	return nil, redis.TxFailedErr
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, secretKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

// expireAtMillis rounds t up to a whole millisecond so the key is never
// reclaimed before its record expires.
func expireAtMillis(t time.Time) int64 {
	return (t.UnixNano() + int64(time.Millisecond) - 1) / int64(time.Millisecond)
}

func encode(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, fmt.Errorf("encoding secret: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, fmt.Errorf("decoding secret: %w", err)
	}
	return &secret, nil
}
