package feed

import (
	"context"
	"errors"

	"gomarketplace_sync/internal/catalog/models"
)

// ErrFeedUnavailable means the run must not act: an unreachable or empty feed is never read as
// "every item was removed".
var ErrFeedUnavailable = errors.New("feed unavailable")

// Source loads the full feed snapshot.
type Source interface {
	LoadSnapshot(ctx context.Context) ([]models.Item, error)
}
