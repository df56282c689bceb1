package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/pkg/logger"
)

const pageLimit = 250

type Config struct {
	BaseURL           string
	ApiVersion        string
	AccessToken       string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client talks to the storefront admin REST API.
type Client struct {
	*BaseClient
}

var _ platform.Client = (*Client)(nil)

func NewClient(cfg Config, log logger.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	apiURL := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ApiVersion != "" {
		apiURL = fmt.Sprintf("%s/admin/api/%s", apiURL, cfg.ApiVersion)
	}
	var auth AuthEngine
	if a := NewAccessTokenAuth(cfg.AccessToken); a != nil {
		auth = a
	}
	return &Client{BaseClient: NewBaseClient(apiURL, cfg.Timeout, limiter, auth, log)}
}

func (c *Client) CreateProduct(ctx context.Context, p platform.Product) (*platform.Product, error) {
	dto, err := toProductDTO(p)
	if err != nil {
		return nil, err
	}
	dto.ID = 0
	var resp struct {
		Product productDTO `json:"product"`
	}
	if _, err := c.doRequest(ctx, "product.create", http.MethodPost, "/products.json", map[string]productDTO{"product": dto}, &resp); err != nil {
		return nil, err
	}
	created := fromProductDTO(resp.Product)
	return &created, nil
}

// GetProduct also loads inventory levels of every variant. When that second call fails the
// levels stay nil, which callers treat as "unknown".
func (c *Client) GetProduct(ctx context.Context, id string) (*platform.Product, error) {
	if _, err := parseID("product", id); err != nil {
		return nil, err
	}
	var resp struct {
		Product productDTO `json:"product"`
	}
	if _, err := c.doRequest(ctx, "product.get", http.MethodGet, "/products/"+id+".json", nil, &resp); err != nil {
		return nil, err
	}
	p := fromProductDTO(resp.Product)
	if err := c.attachInventoryLevels(ctx, &p); err != nil {
		c.log.Warn("product %s: inventory levels unavailable: %s", id, err)
	}
	return &p, nil
}

func (c *Client) attachInventoryLevels(ctx context.Context, p *platform.Product) error {
	var ids []string
	for _, v := range p.Variants {
		if v.InventoryItemID != "" {
			ids = append(ids, v.InventoryItemID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var resp struct {
		Levels []inventoryLevelDTO `json:"inventory_levels"`
	}
	endpoint := "/inventory_levels.json?inventory_item_ids=" + url.QueryEscape(strings.Join(ids, ","))
	if _, err := c.doRequest(ctx, "inventory.list", http.MethodGet, endpoint, nil, &resp); err != nil {
		return err
	}
	byItem := make(map[string][]platform.InventoryLevel)
	for _, l := range resp.Levels {
		itemID := formatID(l.InventoryItemID)
		byItem[itemID] = append(byItem[itemID], platform.InventoryLevel{
			InventoryItemID: itemID,
			LocationID:      formatID(l.LocationID),
			Available:       l.Available,
		})
	}
	for i := range p.Variants {
		levels := byItem[p.Variants[i].InventoryItemID]
		if levels == nil {
			levels = []platform.InventoryLevel{}
		}
		p.Variants[i].InventoryLevels = levels
	}
	return nil
}

func (c *Client) UpdateProduct(ctx context.Context, p platform.Product) (*platform.Product, error) {
	if p.ID == "" {
		return nil, errors.New("update requires a product id")
	}
	dto, err := toProductDTO(p)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Product productDTO `json:"product"`
	}
	if _, err := c.doRequest(ctx, "product.update", http.MethodPut, "/products/"+p.ID+".json", map[string]productDTO{"product": dto}, &resp); err != nil {
		return nil, err
	}
	updated := fromProductDTO(resp.Product)
	return &updated, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	if _, err := parseID("product", id); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "product.delete", http.MethodDelete, "/products/"+id+".json", nil, nil)
	return err
}

func (c *Client) ListProducts(ctx context.Context) ([]platform.Product, error) {
	var products []platform.Product
	endpoint := fmt.Sprintf("/products.json?limit=%d", pageLimit)
	for endpoint != "" {
		var resp struct {
			Products []productDTO `json:"products"`
		}
		header, err := c.doRequest(ctx, "product.list", http.MethodGet, endpoint, nil, &resp)
		if err != nil {
			return nil, err
		}
		for _, dto := range resp.Products {
			products = append(products, fromProductDTO(dto))
		}
		endpoint = nextPageURL(header)
	}
	return products, nil
}

func (c *Client) AddOptions(ctx context.Context, productID string, options []platform.Option) ([]platform.Option, error) {
	pid, err := parseID("product", productID)
	if err != nil {
		return nil, err
	}
	dtos := make([]optionDTO, 0, len(options))
	for _, o := range options {
		dtos = append(dtos, optionDTO{ProductID: pid, Name: o.Name, Values: o.Values})
	}
	var resp struct {
		Options []optionDTO `json:"options"`
	}
	if _, err := c.doRequest(ctx, "option.create", http.MethodPost, "/products/"+productID+"/options.json", map[string][]optionDTO{"options": dtos}, &resp); err != nil {
		return nil, err
	}
	out := make([]platform.Option, 0, len(resp.Options))
	for _, o := range resp.Options {
		out = append(out, platform.Option{ID: formatID(o.ID), ProductID: formatID(o.ProductID), Name: o.Name, Values: o.Values})
	}
	return out, nil
}

func (c *Client) AddImage(ctx context.Context, productID string, img platform.Image) (*platform.Image, error) {
	pid, err := parseID("product", productID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Image imageDTO `json:"image"`
	}
	body := map[string]imageDTO{"image": {ProductID: pid, Src: img.Src, Position: img.Position}}
	if _, err := c.doRequest(ctx, "image.create", http.MethodPost, "/products/"+productID+"/images.json", body, &resp); err != nil {
		return nil, err
	}
	created := fromImageDTO(resp.Image)
	return &created, nil
}

func (c *Client) DeleteImage(ctx context.Context, productID, imageID string) error {
	if _, err := parseID("image", imageID); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "image.delete", http.MethodDelete, "/products/"+productID+"/images/"+imageID+".json", nil, nil)
	return err
}

func (c *Client) ListLocations(ctx context.Context) ([]platform.Location, error) {
	var resp struct {
		Locations []locationDTO `json:"locations"`
	}
	if _, err := c.doRequest(ctx, "location.list", http.MethodGet, "/locations.json", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]platform.Location, 0, len(resp.Locations))
	for _, l := range resp.Locations {
		out = append(out, platform.Location{ID: formatID(l.ID), Name: l.Name, Active: l.Active})
	}
	return out, nil
}

func (c *Client) SetInventoryLevel(ctx context.Context, level platform.InventoryLevel) error {
	itemID, err := parseID("inventory item", level.InventoryItemID)
	if err != nil {
		return err
	}
	locationID, err := parseID("location", level.LocationID)
	if err != nil {
		return err
	}
	body := inventoryLevelDTO{InventoryItemID: itemID, LocationID: locationID, Available: level.Available}
	_, err = c.doRequest(ctx, "inventory.set", http.MethodPost, "/inventory_levels/set.json", body, nil)
	return err
}

func (c *Client) ListCollections(ctx context.Context) ([]platform.Collection, error) {
	var out []platform.Collection
	endpoint := fmt.Sprintf("/custom_collections.json?limit=%d", pageLimit)
	for endpoint != "" {
		var resp struct {
			Collections []collectionDTO `json:"custom_collections"`
		}
		header, err := c.doRequest(ctx, "collection.list", http.MethodGet, endpoint, nil, &resp)
		if err != nil {
			return nil, err
		}
		for _, col := range resp.Collections {
			out = append(out, platform.Collection{ID: formatID(col.ID), Title: col.Title, Handle: col.Handle})
		}
		endpoint = nextPageURL(header)
	}
	return out, nil
}

func (c *Client) CreateCollection(ctx context.Context, title string) (*platform.Collection, error) {
	var resp struct {
		Collection collectionDTO `json:"custom_collection"`
	}
	body := map[string]collectionDTO{"custom_collection": {Title: title}}
	if _, err := c.doRequest(ctx, "collection.create", http.MethodPost, "/custom_collections.json", body, &resp); err != nil {
		return nil, err
	}
	return &platform.Collection{ID: formatID(resp.Collection.ID), Title: resp.Collection.Title, Handle: resp.Collection.Handle}, nil
}

func (c *Client) ListMemberships(ctx context.Context, productID string) ([]platform.Membership, error) {
	if _, err := parseID("product", productID); err != nil {
		return nil, err
	}
	var resp struct {
		Collects []collectDTO `json:"collects"`
	}
	endpoint := fmt.Sprintf("/collects.json?product_id=%s&limit=%d", productID, pageLimit)
	if _, err := c.doRequest(ctx, "membership.list", http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]platform.Membership, 0, len(resp.Collects))
	for _, m := range resp.Collects {
		out = append(out, platform.Membership{ID: formatID(m.ID), CollectionID: formatID(m.CollectionID), ProductID: formatID(m.ProductID)})
	}
	return out, nil
}

func (c *Client) AddMembership(ctx context.Context, collectionID, productID string) (*platform.Membership, error) {
	cid, err := parseID("collection", collectionID)
	if err != nil {
		return nil, err
	}
	pid, err := parseID("product", productID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Collect collectDTO `json:"collect"`
	}
	body := map[string]collectDTO{"collect": {CollectionID: cid, ProductID: pid}}
	if _, err := c.doRequest(ctx, "membership.create", http.MethodPost, "/collects.json", body, &resp); err != nil {
		return nil, err
	}
	return &platform.Membership{ID: formatID(resp.Collect.ID), CollectionID: collectionID, ProductID: productID}, nil
}

func (c *Client) DeleteMembership(ctx context.Context, membershipID string) error {
	if _, err := parseID("membership", membershipID); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "membership.delete", http.MethodDelete, "/collects/"+membershipID+".json", nil, nil)
	return err
}

// PublishToChannels makes the product visible on every sales channel the app can publish to.
func (c *Client) PublishToChannels(ctx context.Context, productID string) error {
	if _, err := parseID("product", productID); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "product.publish", http.MethodPost, "/products/"+productID+"/publications.json",
		map[string]bool{"all_channels": true}, nil)
	return err
}
