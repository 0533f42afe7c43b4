// Package secrets drives the lifecycle of a vanishing secret: created once,
// redeemed at most once, then gone. Coordination lives in the store's
// conditional operations; the service holds no shared state.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"vanishing.keys/internal/crypto"
	"vanishing.keys/internal/models"
	"vanishing.keys/internal/store"
)

const (
	// MaxPayloadBytes is the largest accepted encrypted payload.
	MaxPayloadBytes = 10240

	DefaultGrace = 30 * time.Second
	MinGrace     = 30 * time.Second
	MaxGrace     = 60 * time.Second
)

type Options struct {
	// DefaultDuration applies when a create request names no duration.
	// It must be one of the accepted durations.
	DefaultDuration time.Duration

	// Grace is how long a redeemed record lingers before the medium
	// reclaims it. It is never readable during that window.
	Grace time.Duration

	Now   func() time.Time
	NewID func() string
}

func DefaultOptions() Options {
	return Options{
		DefaultDuration: SevenDays,
		Grace:           DefaultGrace,
		Now:             time.Now,
		NewID:           crypto.GenerateID,
	}
}

type Service struct {
	store store.Store
	opts  Options
}

// NewService returns a Service over st. Zero-valued options fall back to
// DefaultOptions.
func NewService(st store.Store, opts Options) (*Service, error) {
	def := DefaultOptions()
	if opts.DefaultDuration == 0 {
		opts.DefaultDuration = def.DefaultDuration
	}
	if opts.Grace == 0 {
		opts.Grace = def.Grace
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}

	switch opts.DefaultDuration {
	case TenMinutes, OneDay, SevenDays:
	default:
		return nil, fmt.Errorf("%w: default %s", ErrInvalidDuration, opts.DefaultDuration)
	}
	if opts.Grace < MinGrace || opts.Grace > MaxGrace {
		return nil, fmt.Errorf("grace period must be between %s and %s, got %s", MinGrace, MaxGrace, opts.Grace)
	}

	return &Service{store: st, opts: opts}, nil
}

// Create validates and stores payload, returning the identifier that redeems
// it. Validation failures are returned as *ValidationError without touching
// the store.
func (s *Service) Create(ctx context.Context, payload, duration string) (string, error) {
	if payload == "" {
		return "", invalid("encryptedSecret", ErrPayloadRequired,
			"Encrypted Secret was not specified. Please specify the encrypted secret to save")
	}
	if len(payload) > MaxPayloadBytes {
		return "", invalid("encryptedSecret", ErrPayloadTooLarge,
			"Encrypted Secret is too long, it must be at most %d bytes, actual length was %d.", MaxPayloadBytes, len(payload))
	}

	ttl := s.opts.DefaultDuration
	if duration != "" {
		d, err := ParseDuration(duration)
		if err != nil {
			return "", invalid("duration", ErrInvalidDuration,
				"Duration %q is not supported, it must be one of 10m, 24h or 7d.", duration)
		}
		ttl = d
	}

	now := s.opts.Now().UTC()
	id := s.opts.NewID()
	log := clog.FromContext(ctx).With("secret", crypto.Fingerprint(id))

	err := s.store.Insert(ctx, &models.Secret{
		ID:          id,
		Payload:     []byte(payload),
		CreatedAt:   now,
		LastUpdated: now,
		ExpiresAt:   now.Add(ttl),
	})
	switch {
	case err == nil:
		log.Debugf("created secret expiring in %s", ttl)
	case errors.Is(err, store.ErrAlreadyExists):
		// The slot is already reserved under this identifier.
		log.Warn("identifier collision on create, treating as created")
	default:
		log.Errorf("storing secret: %v", err)
		return "", fmt.Errorf("storing secret: %w", err)
	}

	return id, nil
}

// Redeem returns the payload exactly once. Every miss, whatever its cause,
// is reported as ErrNotFound. Malformed identifiers never reach the store.
func (s *Service) Redeem(ctx context.Context, id string) (string, error) {
	if !crypto.ValidID(id) {
		return "", ErrNotFound
	}
	log := clog.FromContext(ctx).With("secret", crypto.Fingerprint(id))

	secret, err := s.store.Consume(ctx, id, s.opts.Now().UTC(), s.opts.Grace)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("redeem missed")
			return "", ErrNotFound
		}
		log.Errorf("consuming secret: %v", err)
		return "", fmt.Errorf("consuming secret: %w", err)
	}

	log.Debugf("redeemed secret created at %s", secret.CreatedAt.Format(time.RFC3339))
	return string(secret.Payload), nil
}

// Delete removes the secret whether it is live, redeemed or already gone.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !crypto.ValidID(id) {
		return nil
	}
	log := clog.FromContext(ctx).With("secret", crypto.Fingerprint(id))

	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Errorf("deleting secret: %v", err)
		return fmt.Errorf("deleting secret: %w", err)
	}
	log.Debug("deleted secret")
	return nil
}
