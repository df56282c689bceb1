package platform

// Product is the remote representation of one catalog entry. Nil sub-resource slices mean
// "not fetched"; empty slices mean "fetched, none present".
type Product struct {
	ID          string
	Title       string
	BodyHTML    string
	Vendor      string
	ProductType string
	Handle      string
	Tags        []string
	Status      string

	Variants      []Variant
	Images        []Image
	Options       []Option
	CollectionIDs []string
}

type Variant struct {
	ID              string
	SKU             string
	Price           string
	CompareAtPrice  string
	InventoryItemID string
	Option1         string
	Option2         string
	InventoryLevels []InventoryLevel
}

// InventoryLevel is identified by its location; Available is nil when unknown.
type InventoryLevel struct {
	InventoryItemID string
	LocationID      string
	Available       *int
}

type Image struct {
	ID        string
	ProductID string
	Src       string
	Position  int
}

type Option struct {
	ID        string
	ProductID string
	Name      string
	Values    []string
}

type Collection struct {
	ID     string
	Title  string
	Handle string
}

// Membership links a product to a collection.
type Membership struct {
	ID           string
	CollectionID string
	ProductID    string
}

type Location struct {
	ID     string
	Name   string
	Active bool
}

// SKU returns the sku of the first variant that has one.
func (p Product) SKU() string {
	for _, v := range p.Variants {
		if v.SKU != "" {
			return v.SKU
		}
	}
	return ""
}

// VariantBySKU returns the variant carrying sku, if any.
func (p Product) VariantBySKU(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}
