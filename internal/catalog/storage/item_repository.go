package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/pkg/logger"
)

const itemColumns = `sku, status, title, description, brand, model, material, condition, color, size,
		dimensions, category, gender, country, price, sale_price, compare_at_price, wholesale_price,
		quantity, images, cost, notes, remote_id, published_at, last_error`

type ItemRepository struct {
	db  *sql.DB
	log logger.Logger
}

var _ Store = (*ItemRepository)(nil)

func NewItemRepository(db *sql.DB, log logger.Logger) *ItemRepository {
	return &ItemRepository{db: db, log: log.WithPrefix("[ItemRepository]")}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var (
		it                                models.Item
		status                            string
		price, sale, compareAt, wholesale decimal.NullDecimal
		cost                              decimal.NullDecimal
		images                            pq.StringArray
		remoteID                          sql.NullString
		publishedAt                       sql.NullTime
	)
	err := row.Scan(
		&it.SKU, &status, &it.Title, &it.Description, &it.Brand, &it.Model, &it.Material, &it.Condition,
		&it.Color, &it.Size, &it.Dimensions, &it.Category, &it.Gender, &it.Country,
		&price, &sale, &compareAt, &wholesale,
		&it.Quantity, &images, &cost, &it.Notes, &remoteID, &publishedAt, &it.LastError,
	)
	if err != nil {
		return it, err
	}
	if it.Status, err = models.ParseStatus(status); err != nil {
		return it, fmt.Errorf("sku %s: %w", it.SKU, err)
	}
	it.Price = fromNull(price)
	it.SalePrice = fromNull(sale)
	it.CompareAtPrice = fromNull(compareAt)
	it.WholesalePrice = fromNull(wholesale)
	it.Cost = fromNull(cost)
	if len(images) > 0 {
		it.Images = []string(images)
	}
	it.RemoteID = remoteID.String
	if publishedAt.Valid {
		t := publishedAt.Time
		it.PublishedAt = &t
	}
	return it, nil
}

func (r *ItemRepository) FindAll(ctx context.Context) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM catalog.items ORDER BY sku`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func (r *ItemRepository) FindByKey(ctx context.Context, sku string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM catalog.items WHERE sku = $1`

	it, err := scanItem(r.db.QueryRowContext(ctx, query, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item %s: %w", sku, err)
	}
	return &it, nil
}

// Upsert writes item unless the stored row is already fully equal to it.
func (r *ItemRepository) Upsert(ctx context.Context, item models.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("refusing to store item: %w", err)
	}
	existing, err := r.FindByKey(ctx, item.SKU)
	if err != nil {
		return err
	}
	if existing != nil && existing.Equal(item) {
		return nil
	}

	query := `INSERT INTO catalog.items (` + itemColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		        $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (sku) DO UPDATE SET
			status = EXCLUDED.status, title = EXCLUDED.title, description = EXCLUDED.description,
			brand = EXCLUDED.brand, model = EXCLUDED.model, material = EXCLUDED.material,
			condition = EXCLUDED.condition, color = EXCLUDED.color, size = EXCLUDED.size,
			dimensions = EXCLUDED.dimensions, category = EXCLUDED.category, gender = EXCLUDED.gender,
			country = EXCLUDED.country, price = EXCLUDED.price, sale_price = EXCLUDED.sale_price,
			compare_at_price = EXCLUDED.compare_at_price, wholesale_price = EXCLUDED.wholesale_price,
			quantity = EXCLUDED.quantity, images = EXCLUDED.images, cost = EXCLUDED.cost,
			notes = EXCLUDED.notes, remote_id = EXCLUDED.remote_id, published_at = EXCLUDED.published_at,
			last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		item.SKU, string(item.Status), item.Title, item.Description, item.Brand, item.Model, item.Material,
		item.Condition, item.Color, item.Size, item.Dimensions, item.Category, item.Gender, item.Country,
		toNull(item.Price), toNull(item.SalePrice), toNull(item.CompareAtPrice), toNull(item.WholesalePrice),
		item.Quantity, pq.Array(nonNil(item.Images)), toNull(item.Cost), item.Notes,
		sql.NullString{String: item.RemoteID, Valid: item.RemoteID != ""}, nullTime(item.PublishedAt),
		item.LastError, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.SKU, err)
	}
	return nil
}

func (r *ItemRepository) Delete(ctx context.Context, sku string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM catalog.items WHERE sku = $1`, sku)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", sku, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.log.Warn("delete of %s affected no rows", sku)
	}
	return nil
}

func fromNull(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
