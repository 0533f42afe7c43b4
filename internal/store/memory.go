package store

import (
	"context"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"vanishing.keys/internal/models"
)

// Compile-time interface checks
var (
	_ Store   = (*MemoryStore)(nil)
	_ Expirer = (*MemoryStore)(nil)
)

// MemoryStore keeps secrets in process memory. The mutex is the
// compare-and-swap primitive; stale entries are reclaimed by a Reaper.
type MemoryStore struct {
	secrets map[string]*models.Secret
	mu      sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*models.Secret),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[secret.ID]; ok {
		return ErrAlreadyExists
	}
	s.secrets[secret.ID] = clone(secret)
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, id string, now time.Time, grace time.Duration) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok || secret.Consumed() {
		return nil, ErrNotFound
	}

	prior := clone(secret)
	consumedAt := now
	secret.ConsumedAt = &consumedAt
	secret.LastUpdated = now
	secret.ExpiresAt = now.Add(grace)

	return consumed(prior, now)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[id]; !ok {
		return ErrNotFound
	}
	delete(s.secrets, id)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, secret := range s.secrets {
		if secret.Expired(now) {
			delete(s.secrets, id)
			n++
		}
	}
	if n > 0 {
		clog.FromContext(ctx).Debugf("memory store reclaimed %d expired secrets", n)
	}
	return n, nil
}

// Len returns the number of records held, reclaimed or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secrets)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = make(map[string]*models.Secret)
	return nil
}

func clone(secret *models.Secret) *models.Secret {
	c := *secret
	c.Payload = append([]byte(nil), secret.Payload...)
	if secret.ConsumedAt != nil {
		t := *secret.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}
