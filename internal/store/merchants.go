// Package store holds the relational merchant store and in-memory stores
// used for local runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the merchant database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

// MerchantStore persists merchants with gorm.
type MerchantStore struct {
	db *gorm.DB
}

func NewMerchantStore(db *gorm.DB) *MerchantStore {
	return &MerchantStore{db: db}
}

// Migrate creates or updates the merchants table.
func (s *MerchantStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.Merchant{}); err != nil {
		return fmt.Errorf("failed to migrate merchants: %w", err)
	}
	return nil
}

func (s *MerchantStore) GetMerchant(ctx context.Context, merchantID string) (*models.Merchant, error) {
	var m models.Merchant
	if err := s.db.WithContext(ctx).First(&m, "merchant_id = ?", merchantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load merchant %s: %w", merchantID, err)
	}
	return &m, nil
}

// UpsertMerchant inserts m or overwrites the row with the same merchant id.
func (s *MerchantStore) UpsertMerchant(ctx context.Context, m *models.Merchant) error {
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save merchant %s: %w", m.MerchantID, err)
	}
	return nil
}

// UpdateMerchant loads, mutates and saves a merchant in one transaction.
func (s *MerchantStore) UpdateMerchant(ctx context.Context, merchantID string, mutate func(*models.Merchant) error) (*models.Merchant, error) {
	var out models.Merchant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Merchant
		if err := tx.First(&m, "merchant_id = ?", merchantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
			}
			return err
		}
		if err := mutate(&m); err != nil {
			return err
		}
		m.MerchantID = merchantID
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("failed to save merchant %s: %w", merchantID, err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMerchants returns a user's merchants, excluding deleted ones. An empty
// userID lists every merchant.
func (s *MerchantStore) ListMerchants(ctx context.Context, userID string) ([]models.Merchant, error) {
	q := s.db.WithContext(ctx).Where("status <> ?", models.MerchantDeleted)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []models.Merchant
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	return out, nil
}

// SoftDeleteMerchant marks a merchant deleted and clears its provisioned
// resources.
func (s *MerchantStore) SoftDeleteMerchant(ctx context.Context, merchantID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Merchant{}).
		Where("merchant_id = ?", merchantID).
		Updates(map[string]any{
			"status":              models.MerchantDeleted,
			"deleted_at":          at,
			"vertex_datastore_id": "",
			"config_path":         "",
			"updated_at":          at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to delete merchant %s: %w", merchantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	return nil
}
