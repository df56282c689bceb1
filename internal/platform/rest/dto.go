package rest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gomarketplace_sync/internal/platform"
)

type productDTO struct {
	ID          int64        `json:"id,omitempty"`
	Title       string       `json:"title"`
	BodyHTML    string       `json:"body_html"`
	Vendor      string       `json:"vendor"`
	ProductType string       `json:"product_type"`
	Handle      string       `json:"handle,omitempty"`
	Tags        string       `json:"tags"`
	Status      string       `json:"status,omitempty"`
	Variants    []variantDTO `json:"variants,omitempty"`
	Images      []imageDTO   `json:"images,omitempty"`
	Options     []optionDTO  `json:"options,omitempty"`
}

type variantDTO struct {
	ID                  int64   `json:"id,omitempty"`
	SKU                 string  `json:"sku"`
	Price               string  `json:"price"`
	CompareAtPrice      *string `json:"compare_at_price"`
	InventoryItemID     int64   `json:"inventory_item_id,omitempty"`
	InventoryManagement string  `json:"inventory_management,omitempty"`
	Option1             *string `json:"option1,omitempty"`
	Option2             *string `json:"option2,omitempty"`
}

type imageDTO struct {
	ID        int64  `json:"id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Src       string `json:"src"`
	Position  int    `json:"position,omitempty"`
}

type optionDTO struct {
	ID        int64    `json:"id,omitempty"`
	ProductID int64    `json:"product_id,omitempty"`
	Name      string   `json:"name"`
	Values    []string `json:"values"`
}

type inventoryLevelDTO struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       *int  `json:"available"`
}

type locationDTO struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type collectionDTO struct {
	ID     int64  `json:"id,omitempty"`
	Title  string `json:"title"`
	Handle string `json:"handle,omitempty"`
}

type collectDTO struct {
	ID           int64 `json:"id,omitempty"`
	CollectionID int64 `json:"collection_id"`
	ProductID    int64 `json:"product_id"`
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func parseID(kind, id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q: %w", kind, id, err)
	}
	return n, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toProductDTO(p platform.Product) (productDTO, error) {
	id, err := parseID("product", p.ID)
	if err != nil {
		return productDTO{}, err
	}
	dto := productDTO{
		ID:          id,
		Title:       p.Title,
		BodyHTML:    p.BodyHTML,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Handle:      p.Handle,
		Tags:        strings.Join(p.Tags, ", "),
		Status:      p.Status,
	}
	for _, v := range p.Variants {
		vid, err := parseID("variant", v.ID)
		if err != nil {
			return productDTO{}, err
		}
		iid, err := parseID("inventory item", v.InventoryItemID)
		if err != nil {
			return productDTO{}, err
		}
		dto.Variants = append(dto.Variants, variantDTO{
			ID:                  vid,
			SKU:                 v.SKU,
			Price:               v.Price,
			CompareAtPrice:      optString(v.CompareAtPrice),
			InventoryItemID:     iid,
			InventoryManagement: "shopify",
			Option1:             optString(v.Option1),
			Option2:             optString(v.Option2),
		})
	}
	for _, o := range p.Options {
		oid, err := parseID("option", o.ID)
		if err != nil {
			return productDTO{}, err
		}
		dto.Options = append(dto.Options, optionDTO{ID: oid, Name: o.Name, Values: o.Values})
	}
	return dto, nil
}

func fromProductDTO(dto productDTO) platform.Product {
	p := platform.Product{
		ID:          formatID(dto.ID),
		Title:       dto.Title,
		BodyHTML:    dto.BodyHTML,
		Vendor:      dto.Vendor,
		ProductType: dto.ProductType,
		Handle:      dto.Handle,
		Tags:        splitTags(dto.Tags),
		Status:      dto.Status,
	}
	if dto.Variants != nil {
		p.Variants = make([]platform.Variant, 0, len(dto.Variants))
		for _, v := range dto.Variants {
			pv := platform.Variant{
				ID:              formatID(v.ID),
				SKU:             v.SKU,
				Price:           v.Price,
				InventoryItemID: formatID(v.InventoryItemID),
			}
			if v.CompareAtPrice != nil {
				pv.CompareAtPrice = *v.CompareAtPrice
			}
			if v.Option1 != nil {
				pv.Option1 = *v.Option1
			}
			if v.Option2 != nil {
				pv.Option2 = *v.Option2
			}
			p.Variants = append(p.Variants, pv)
		}
	}
	if dto.Images != nil {
		p.Images = make([]platform.Image, 0, len(dto.Images))
		for _, img := range dto.Images {
			p.Images = append(p.Images, fromImageDTO(img))
		}
	}
	if dto.Options != nil {
		p.Options = make([]platform.Option, 0, len(dto.Options))
		for _, o := range dto.Options {
			p.Options = append(p.Options, platform.Option{
				ID:        formatID(o.ID),
				ProductID: formatID(o.ProductID),
				Name:      o.Name,
				Values:    o.Values,
			})
		}
	}
	return p
}

func fromImageDTO(img imageDTO) platform.Image {
	return platform.Image{
		ID:        formatID(img.ID),
		ProductID: formatID(img.ProductID),
		Src:       img.Src,
		Position:  img.Position,
	}
}

func splitTags(tags string) []string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
