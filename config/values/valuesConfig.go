package values

// StorefrontValues are the per-storefront choices the product builder needs.
type StorefrontValues struct {
	PriceTier   string `yaml:"price_tier"`
	ImageBase   string `yaml:"image_base"`
	TitleLength int    `yaml:"title_length"`
	ProductType string `yaml:"product_type"`
}

// CollectionRule names a collection and the CEL expression deciding membership.
type CollectionRule struct {
	Name string `yaml:"name"`
	Rule string `yaml:"rule"`
}
