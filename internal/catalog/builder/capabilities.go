package builder

import (
	"github.com/shopspring/decimal"

	"gomarketplace_sync/internal/catalog/models"
)

// PriceSelector picks the price tier a storefront sells at.
type PriceSelector func(models.Item) *decimal.Decimal

// Capabilities is the per-storefront variation point: which price tier is public, how brands
// are spelled and where deterministic image URLs live.
type Capabilities struct {
	Price          PriceSelector
	CompareAtPrice PriceSelector
	NormalizeBrand func(string) string
	// ImageBase, when set, turns slot n of sku into <ImageBase>/<sku>/<n>.jpg.
	ImageBase   string
	TitleLength int
	ProductType func(models.Item) string
}

// RetailPrice sells at the sale price when there is one, the list price otherwise.
func RetailPrice(it models.Item) *decimal.Decimal {
	if it.SalePrice != nil && it.SalePrice.IsPositive() {
		return it.SalePrice
	}
	return it.Price
}

// CompareAtListPrice shows the list price as "was" only while a lower sale price is active.
func CompareAtListPrice(it models.Item) *decimal.Decimal {
	if it.SalePrice != nil && it.Price != nil && it.SalePrice.IsPositive() && it.SalePrice.LessThan(*it.Price) {
		return it.Price
	}
	return it.CompareAtPrice
}

func WholesalePrice(it models.Item) *decimal.Decimal {
	if it.WholesalePrice != nil {
		return it.WholesalePrice
	}
	return it.Price
}

// PriceSelectorByName maps the config value to a selector.
func PriceSelectorByName(name string) (PriceSelector, bool) {
	switch name {
	case "", "retail":
		return RetailPrice, true
	case "list":
		return func(it models.Item) *decimal.Decimal { return it.Price }, true
	case "wholesale":
		return WholesalePrice, true
	}
	return nil, false
}
