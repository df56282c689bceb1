package storage

import (
	"context"
	"time"

	"gomarketplace_sync/internal/catalog/models"
)

// Store is the durable record of what was last synchronized. Every write commits on its own,
// so one item's failure never rolls back another's.
type Store interface {
	FindAll(ctx context.Context) ([]models.Item, error)
	// FindByKey returns nil, nil when sku is unknown.
	FindByKey(ctx context.Context, sku string) (*models.Item, error)
	Upsert(ctx context.Context, item models.Item) error
	Delete(ctx context.Context, sku string) error
}

// MetadataStore keeps run reports and other small documents by key.
type MetadataStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, time.Time, error)
}
