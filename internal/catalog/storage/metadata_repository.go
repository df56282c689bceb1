package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MetadataRepository keeps small key/value records such as the last run report.
type MetadataRepository struct {
	db *sql.DB
}

var _ MetadataStore = (*MetadataRepository)(nil)

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (r *MetadataRepository) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO catalog.metadata (key_name, value, last_update) VALUES ($1, $2, $3)
		ON CONFLICT (key_name) DO UPDATE SET value = EXCLUDED.value, last_update = EXCLUDED.last_update`
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save metadata %s: %w", key, err)
	}
	return nil
}

// Get returns "", zero time and no error when key is absent.
func (r *MetadataRepository) Get(ctx context.Context, key string) (string, time.Time, error) {
	var (
		value      sql.NullString
		lastUpdate sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT value, last_update FROM catalog.metadata WHERE key_name = $1`, key).
		Scan(&value, &lastUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("failed to load metadata %s: %w", key, err)
	}
	return value.String, lastUpdate.Time, nil
}
