package models

import "time"

type Secret struct {
	ID          string     `json:"id"`
	Payload     []byte     `json:"-"` // opaque ciphertext, never logged
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Consumed reports whether the secret has already been redeemed.
func (s *Secret) Consumed() bool {
	return s.ConsumedAt != nil
}

// Expired reports whether the secret's expiry is at or before now.
func (s *Secret) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
