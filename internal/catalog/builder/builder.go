package builder

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/pkg/business/service"
)

const defaultTitleLength = 255

// ProductBuilder turns a catalog entry into a remote product proposal. Proposals never carry
// remote identifiers; those come only from merging with a fetched product.
type ProductBuilder struct {
	caps Capabilities
	text service.ITextService
}

func NewProductBuilder(caps Capabilities, text service.ITextService) *ProductBuilder {
	if caps.Price == nil {
		caps.Price = RetailPrice
	}
	if caps.CompareAtPrice == nil {
		caps.CompareAtPrice = CompareAtListPrice
	}
	if caps.NormalizeBrand == nil {
		caps.NormalizeBrand = text.NormalizeBrand
	}
	if caps.TitleLength <= 0 {
		caps.TitleLength = defaultTitleLength
	}
	return &ProductBuilder{caps: caps, text: text}
}

// Build uses the first active location as the stock location. Without one the variant gets
// no inventory levels.
func (b *ProductBuilder) Build(it models.Item, locations []platform.Location) platform.Product {
	title := it.Title
	if title == "" {
		title = strings.TrimSpace(strings.Join([]string{it.Brand, it.Model}, " "))
	}
	title = b.text.ClearAndReduce(title, b.caps.TitleLength)

	p := platform.Product{
		Title:       title,
		BodyHTML:    b.body(it),
		Vendor:      b.caps.NormalizeBrand(it.Brand),
		ProductType: it.Category,
		Handle:      b.text.Handle(title + " " + it.SKU),
		Tags:        b.tags(it),
		Status:      "active",
	}
	if b.caps.ProductType != nil {
		p.ProductType = b.caps.ProductType(it)
	}

	options := b.options(it)
	variant := platform.Variant{
		SKU:            it.SKU,
		Price:          formatPrice(b.caps.Price(it)),
		CompareAtPrice: formatPrice(b.caps.CompareAtPrice(it)),
	}
	for i, o := range options {
		switch i {
		case 0:
			variant.Option1 = o.Values[0]
		case 1:
			variant.Option2 = o.Values[0]
		}
	}
	if loc, ok := primaryLocation(locations); ok {
		qty := it.Quantity
		if qty < 0 {
			qty = 0
		}
		variant.InventoryLevels = []platform.InventoryLevel{{LocationID: loc.ID, Available: &qty}}
	}
	p.Variants = []platform.Variant{variant}
	p.Options = options
	p.Images = b.Images(it)
	return p
}

// Images lists the deterministic image set of an item in slot order.
func (b *ProductBuilder) Images(it models.Item) []platform.Image {
	images := make([]platform.Image, 0, len(it.Images))
	slot := 0
	for _, ref := range it.Images {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		slot++
		src := ref
		if b.caps.ImageBase != "" {
			src = fmt.Sprintf("%s/%s/%d.jpg", strings.TrimRight(b.caps.ImageBase, "/"), it.SKU, slot)
		}
		images = append(images, platform.Image{Src: src, Position: slot})
	}
	return images
}

// options yields at most two options; the storefront rejects options without values.
func (b *ProductBuilder) options(it models.Item) []platform.Option {
	out := []platform.Option{}
	if it.Size != "" {
		out = append(out, platform.Option{Name: "Size", Values: []string{it.Size}})
	}
	if it.Color != "" {
		out = append(out, platform.Option{Name: "Color", Values: []string{it.Color}})
	}
	return out
}

func (b *ProductBuilder) tags(it models.Item) []string {
	var tags []string
	for _, t := range []string{it.Condition, it.Material, it.Gender, it.Country} {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (b *ProductBuilder) body(it models.Item) string {
	var sb strings.Builder
	if d := b.text.RemoveLinks(it.Description); strings.TrimSpace(d) != "" {
		sb.WriteString("<p>")
		sb.WriteString(strings.TrimSpace(d))
		sb.WriteString("</p>")
	}
	rows := [][2]string{
		{"Brand", b.caps.NormalizeBrand(it.Brand)},
		{"Model", it.Model},
		{"Material", it.Material},
		{"Condition", it.Condition},
		{"Dimensions", it.Dimensions},
	}
	var items []string
	for _, r := range rows {
		if r[1] != "" {
			items = append(items, fmt.Sprintf("<li><strong>%s:</strong> %s</li>", r[0], r[1]))
		}
	}
	if len(items) > 0 {
		sb.WriteString("<ul>")
		sb.WriteString(strings.Join(items, ""))
		sb.WriteString("</ul>")
	}
	return sb.String()
}

func primaryLocation(locations []platform.Location) (platform.Location, bool) {
	for _, l := range locations {
		if l.Active && l.ID != "" {
			return l, true
		}
	}
	return platform.Location{}, false
}

func formatPrice(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
