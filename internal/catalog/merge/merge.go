package merge

import (
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/pkg/logger"
)

// Plan is an update proposal that carries forward every remote identifier the platform needs
// to recognize existing sub-resources, plus the image changes it cannot express in place.
type Plan struct {
	Product platform.Product
	// ImagesToAdd and ImagesToDelete are the image delta by src. They are diagnostic: images
	// cannot be edited in place, so the applier replaces the whole set from Product.Images.
	ImagesToAdd    []platform.Image
	ImagesToDelete []platform.Image
	// Skipped names the sub-resources left untouched because one side was not fetched.
	// The applier reports each one as a warning on the item.
	Skipped []string
}

type Engine struct {
	log logger.Logger
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{log: log.WithPrefix("[MergeEngine]")}
}

// Merge combines proposed (built from the catalog, no identifiers) with current (fetched
// from the platform). It never fails and never invents an identifier: ids are only copied
// from current when the natural key matches.
func (e *Engine) Merge(proposed platform.Product, current *platform.Product) Plan {
	plan := Plan{Product: proposed}
	if current == nil {
		e.log.Warn("no current product for %s, proposal submitted without identifiers", proposed.SKU())
		plan.Skipped = append(plan.Skipped, "product")
		plan.ImagesToAdd = proposed.Images
		return plan
	}
	plan.Product.ID = current.ID

	switch {
	case proposed.Variants == nil || current.Variants == nil:
		e.skip(&plan, "variants", current.ID)
	default:
		plan.Product.Variants = e.mergeVariants(proposed.Variants, current.Variants, current.ID)
	}

	switch {
	case proposed.Options == nil || current.Options == nil:
		e.skip(&plan, "options", current.ID)
	default:
		plan.Product.Options = mergeOptions(proposed.Options, current.Options, current.ID)
	}

	switch {
	case proposed.Images == nil || current.Images == nil:
		e.skip(&plan, "images", current.ID)
	default:
		plan.Product.Images, plan.ImagesToAdd, plan.ImagesToDelete = mergeImages(proposed.Images, current.Images, current.ID)
	}

	if proposed.CollectionIDs == nil {
		plan.Product.CollectionIDs = current.CollectionIDs
	}
	return plan
}

func (e *Engine) skip(plan *Plan, what, productID string) {
	e.log.Warn("%s of product %s not available on one side, merge skipped", what, productID)
	plan.Skipped = append(plan.Skipped, what)
}

func (e *Engine) mergeVariants(proposed, current []platform.Variant, productID string) []platform.Variant {
	bySKU := make(map[string]platform.Variant, len(current))
	for _, v := range current {
		if v.SKU != "" {
			bySKU[v.SKU] = v
		}
	}
	out := make([]platform.Variant, len(proposed))
	for i, v := range proposed {
		merged := v
		if old, ok := bySKU[v.SKU]; ok && v.SKU != "" {
			merged.ID = old.ID
			merged.InventoryItemID = old.InventoryItemID
			if v.InventoryLevels == nil || old.InventoryLevels == nil {
				e.log.Warn("inventory levels of %s/%s not available on one side, levels keep proposed values", productID, v.SKU)
			}
			merged.InventoryLevels = mergeLevels(v.InventoryLevels, old.InventoryLevels, old.InventoryItemID)
		}
		out[i] = merged
	}
	return out
}

// mergeLevels keys levels by location. The quantity is always the proposed one.
func mergeLevels(proposed, current []platform.InventoryLevel, inventoryItemID string) []platform.InventoryLevel {
	if proposed == nil {
		return nil
	}
	byLocation := make(map[string]platform.InventoryLevel, len(current))
	for _, l := range current {
		byLocation[l.LocationID] = l
	}
	out := make([]platform.InventoryLevel, len(proposed))
	for i, l := range proposed {
		merged := l
		if old, ok := byLocation[l.LocationID]; ok && old.InventoryItemID != "" {
			merged.InventoryItemID = old.InventoryItemID
		} else if inventoryItemID != "" {
			merged.InventoryItemID = inventoryItemID
		}
		out[i] = merged
	}
	return out
}

// mergeOptions matches on the exact option name.
func mergeOptions(proposed, current []platform.Option, productID string) []platform.Option {
	byName := make(map[string]platform.Option, len(current))
	for _, o := range current {
		byName[o.Name] = o
	}
	out := make([]platform.Option, len(proposed))
	for i, o := range proposed {
		merged := o
		if old, ok := byName[o.Name]; ok {
			merged.ID = old.ID
			merged.ProductID = productID
		}
		out[i] = merged
	}
	return out
}

// mergeImages matches on src. Images only in current are deleted, images only in proposed
// are added without an id.
func mergeImages(proposed, current []platform.Image, productID string) (merged, add, del []platform.Image) {
	bySrc := make(map[string]platform.Image, len(current))
	for _, img := range current {
		if _, dup := bySrc[img.Src]; !dup {
			bySrc[img.Src] = img
		}
	}
	matched := make(map[string]struct{}, len(proposed))
	merged = make([]platform.Image, 0, len(proposed))
	for _, img := range proposed {
		m := img
		if old, ok := bySrc[img.Src]; ok {
			if _, seen := matched[img.Src]; !seen {
				m.ID = old.ID
				m.ProductID = productID
				matched[img.Src] = struct{}{}
				merged = append(merged, m)
				continue
			}
		}
		merged = append(merged, m)
		add = append(add, m)
	}
	for _, img := range current {
		if _, ok := matched[img.Src]; ok && bySrc[img.Src].ID == img.ID {
			continue
		}
		del = append(del, img)
	}
	return merged, add, del
}
