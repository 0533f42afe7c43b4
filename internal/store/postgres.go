package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vanishing.keys/internal/models"
)

var (
	_ Store   = (*PostgresStore)(nil)
	_ Expirer = (*PostgresStore)(nil)
)

// secretRow is the gorm mapping of the secrets table. Expiry is kept in unix
// nanoseconds because timestamptz only resolves microseconds.
type secretRow struct {
	ID          string     `gorm:"primaryKey;size:64"`
	Payload     []byte     `gorm:"not null"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime:false"`
	LastUpdated time.Time  `gorm:"not null"`
	ExpiresAt   int64      `gorm:"column:expires_at_ns;not null;index"`
	ConsumedAt  *time.Time
}

func (secretRow) TableName() string { return "secrets" }

func (r *secretRow) toModel() *models.Secret {
	return &models.Secret{
		ID:          r.ID,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt.UTC(),
		LastUpdated: r.LastUpdated.UTC(),
		ExpiresAt:   time.Unix(0, r.ExpiresAt).UTC(),
		ConsumedAt:  r.ConsumedAt,
	}
}

// PostgresStore keeps secrets in PostgreSQL. Concurrent consumes are
// serialized by a row lock.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects using dsn and migrates the secrets table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&secretRow{}); err != nil {
		return nil, fmt.Errorf("migrate secrets: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, secret *models.Secret) error {
	row := secretRow{
		ID:          secret.ID,
		Payload:     secret.Payload,
		CreatedAt:   secret.CreatedAt,
		LastUpdated: secret.LastUpdated,
		ExpiresAt:   secret.ExpiresAt.UnixNano(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("insert secret: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Consume(ctx context.Context, id string, now time.Time, grace time.Duration) (*models.Secret, error) {
	var prior *models.Secret

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row secretRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if row.ConsumedAt != nil {
			return ErrNotFound
		}
		prior = row.toModel()

		res := tx.Model(&secretRow{}).
			Where("id = ? AND consumed_at IS NULL", id).
			Updates(map[string]any{
				"consumed_at":   now,
				"last_updated":  now,
				"expires_at_ns": now.Add(grace).UnixNano(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return consumed(prior, now)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&secretRow{})
	if res.Error != nil {
		return fmt.Errorf("delete secret: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at_ns <= ?", now.UnixNano()).Delete(&secretRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
