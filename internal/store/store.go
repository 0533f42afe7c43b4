package store

import (
	"context"
	"errors"
	"time"

	"vanishing.keys/internal/models"
)

var (
	ErrNotFound      = errors.New("secret not found")
	ErrAlreadyExists = errors.New("secret already exists")
)

// Store is the durable record engine behind the secret lifecycle. All
// coordination between concurrent callers happens inside the implementation.
type Store interface {
	// Insert creates secret only if no record with the same ID exists.
	// It returns ErrAlreadyExists otherwise and never overwrites.
	Insert(ctx context.Context, secret *models.Secret) error

	// Consume atomically marks a live record as consumed at now, shortens its
	// expiry to now+grace and returns the record as it was before the update.
	// Unknown, already consumed and expired records all yield ErrNotFound.
	Consume(ctx context.Context, id string, now time.Time, grace time.Duration) (*models.Secret, error)

	// Delete removes the record. A missing record yields ErrNotFound.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Expirer is implemented by backends whose medium has no native expiry and
// relies on a Reaper to reclaim stale records.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// consumed returns the prior record when a consume against it is a hit.
// The original expiry is checked after the conditional update so that records
// the medium has not reclaimed yet are never handed out.
func consumed(prior *models.Secret, now time.Time) (*models.Secret, error) {
	if prior.Expired(now) {
		return nil, ErrNotFound
	}
	return prior, nil
}
