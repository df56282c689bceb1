package platform

import "context"

// Client is the storefront API consumed by the sync engine. Implementations return
// *UserErrors for semantic rejections and *TransportError for everything on the wire.
type Client interface {
	CreateProduct(ctx context.Context, p Product) (*Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, p Product) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context) ([]Product, error)

	AddOptions(ctx context.Context, productID string, options []Option) ([]Option, error)
	AddImage(ctx context.Context, productID string, img Image) (*Image, error)
	DeleteImage(ctx context.Context, productID, imageID string) error

	ListLocations(ctx context.Context) ([]Location, error)
	SetInventoryLevel(ctx context.Context, level InventoryLevel) error

	ListCollections(ctx context.Context) ([]Collection, error)
	CreateCollection(ctx context.Context, title string) (*Collection, error)
	ListMemberships(ctx context.Context, productID string) ([]Membership, error)
	AddMembership(ctx context.Context, collectionID, productID string) (*Membership, error)
	DeleteMembership(ctx context.Context, membershipID string) error

	PublishToChannels(ctx context.Context, productID string) error
}
