package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/cartsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type dbHandle interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DBStore keeps snapshots in the sync_snapshots table (sqlite or postgres).
// The table is created by the embedded goose migrations.
type DBStore struct {
	client dbHandle
	db     *gorm.DB
	now    func() time.Time
}

func NewDBStore(client dbHandle) (*DBStore, error) {
	if client == nil || client.DB() == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &DBStore{client: client, db: client.DB(), now: time.Now}, nil
}

func (d *DBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row models.SyncSnapshot
	err := d.db.WithContext(ctx).
		Where("snapshot_key = ?", key).
		Take(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	if row.ExpiresAt != nil && !d.now().Before(*row.ExpiresAt) {
		_ = d.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return []byte(row.Value), nil
}

func (d *DBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := d.now().UTC()
	row := models.SyncSnapshot{Key: key, Value: string(value), UpdatedAt: now}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		row.ExpiresAt = &expiresAt
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

func (d *DBStore) Delete(ctx context.Context, key string) error {
	err := d.db.WithContext(ctx).
		Where("snapshot_key = ?", key).
		Delete(&models.SyncSnapshot{}).
		Error
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// PurgeExpired removes every row whose expiry has passed. Keys are collected
// and deleted in one transaction; a key rewritten in between keeps its new row.
func (d *DBStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := d.now().UTC()
	var purged int64
	err := d.client.WithTx(ctx, func(tx *gorm.DB) error {
		var keys []string
		if err := tx.Model(&models.SyncSnapshot{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", cutoff).
			Pluck("snapshot_key", &keys).
			Error; err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		res := tx.
			Where("snapshot_key IN ? AND expires_at IS NOT NULL AND expires_at <= ?", keys, cutoff).
			Delete(&models.SyncSnapshot{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge expired snapshots: %w", err)
	}
	return purged, nil
}
