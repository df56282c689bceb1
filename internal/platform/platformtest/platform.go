// Package platformtest provides an in-memory storefront for tests.
package platformtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"gomarketplace_sync/internal/platform"
)

// Platform is an in-memory platform.Client. It allocates ids the way the storefront does:
// every sub-resource submitted without an id gets a fresh one.
type Platform struct {
	mu     sync.Mutex
	nextID int

	products    map[string]*platform.Product
	order       []string
	levels      map[string]int
	collections []platform.Collection
	memberships []platform.Membership
	Locations   []platform.Location

	// Calls records every mutating call as "Op:id".
	Calls []string
	// FailOn, when set, is consulted before every call; a non-nil error is returned as is.
	FailOn func(op, id string) error
	// RotateInventory makes UpdateProduct allocate a new inventory item for every variant.
	RotateInventory bool
}

var _ platform.Client = (*Platform)(nil)

func New() *Platform {
	return &Platform{
		products:  make(map[string]*platform.Product),
		levels:    make(map[string]int),
		Locations: []platform.Location{{ID: "loc-1", Name: "Main", Active: true}},
	}
}

func NotFound(op string) error {
	return &platform.TransportError{Op: op, StatusCode: http.StatusNotFound, Err: fmt.Errorf("not found")}
}

func (f *Platform) id(prefix string) string {
	f.nextID++
	return prefix + strconv.Itoa(f.nextID)
}

func (f *Platform) fail(op, id string) error {
	if f.FailOn == nil {
		return nil
	}
	return f.FailOn(op, id)
}

func (f *Platform) record(op, id string) {
	f.Calls = append(f.Calls, op+":"+id)
}

// Seed stores p as is, allocating ids only where they are missing, and returns its id.
func (f *Platform) Seed(p platform.Product) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = f.id("p")
	}
	f.store(p)
	return p.ID
}

func (f *Platform) store(p platform.Product) {
	p = clone(p)
	for i := range p.Variants {
		v := &p.Variants[i]
		if v.ID == "" {
			v.ID = f.id("v")
		}
		if v.InventoryItemID == "" {
			v.InventoryItemID = f.id("inv")
		}
		v.InventoryLevels = nil
	}
	for i := range p.Options {
		if p.Options[i].ID == "" {
			p.Options[i].ID = f.id("o")
		}
		p.Options[i].ProductID = p.ID
	}
	if p.Images == nil {
		p.Images = []platform.Image{}
	}
	for i := range p.Images {
		if p.Images[i].ID == "" {
			p.Images[i].ID = f.id("img")
		}
		p.Images[i].ProductID = p.ID
	}
	if p.Options == nil {
		p.Options = []platform.Option{}
	}
	p.CollectionIDs = nil
	if _, ok := f.products[p.ID]; !ok {
		f.order = append(f.order, p.ID)
	}
	f.products[p.ID] = &p
}

// CallsFor returns the ids recorded for op, in call order.
func (f *Platform) CallsFor(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			out = append(out, c[len(op)+1:])
		}
	}
	return out
}

// Mutations counts every recorded call.
func (f *Platform) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *Platform) Product(id string) (platform.Product, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return platform.Product{}, false
	}
	return f.view(p), true
}

// Level returns the stock recorded for an inventory item at a location.
func (f *Platform) Level(inventoryItemID, locationID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.levels[inventoryItemID+"|"+locationID]
	return n, ok
}

func (f *Platform) view(p *platform.Product) platform.Product {
	out := clone(*p)
	for i := range out.Variants {
		v := &out.Variants[i]
		v.InventoryLevels = []platform.InventoryLevel{}
		for _, loc := range f.Locations {
			if n, ok := f.levels[v.InventoryItemID+"|"+loc.ID]; ok {
				qty := n
				v.InventoryLevels = append(v.InventoryLevels, platform.InventoryLevel{
					InventoryItemID: v.InventoryItemID, LocationID: loc.ID, Available: &qty,
				})
			}
		}
	}
	out.CollectionIDs = []string{}
	for _, m := range f.memberships {
		if m.ProductID == p.ID {
			out.CollectionIDs = append(out.CollectionIDs, m.CollectionID)
		}
	}
	return out
}

func (f *Platform) CreateProduct(_ context.Context, p platform.Product) (*platform.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateProduct", p.SKU()); err != nil {
		return nil, err
	}
	p.ID = f.id("p")
	p.Images = nil
	f.store(p)
	f.record("CreateProduct", p.SKU())
	out := f.view(f.products[p.ID])
	return &out, nil
}

func (f *Platform) GetProduct(_ context.Context, id string) (*platform.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetProduct", id); err != nil {
		return nil, err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, NotFound("get product")
	}
	out := f.view(p)
	return &out, nil
}

// UpdateProduct replaces the product fields, variants and options. Images are managed
// through their own calls.
func (f *Platform) UpdateProduct(_ context.Context, p platform.Product) (*platform.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateProduct", p.ID); err != nil {
		return nil, err
	}
	old, ok := f.products[p.ID]
	if !ok {
		return nil, NotFound("update product")
	}
	p.Images = old.Images
	if f.RotateInventory {
		p.Variants = append([]platform.Variant(nil), p.Variants...)
		for i := range p.Variants {
			p.Variants[i].InventoryItemID = ""
		}
	}
	f.store(p)
	f.record("UpdateProduct", p.ID)
	out := f.view(f.products[p.ID])
	return &out, nil
}

func (f *Platform) DeleteProduct(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteProduct", id); err != nil {
		return err
	}
	if _, ok := f.products[id]; !ok {
		return NotFound("delete product")
	}
	delete(f.products, id)
	for i, pid := range f.order {
		if pid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.record("DeleteProduct", id)
	return nil
}

func (f *Platform) ListProducts(_ context.Context) ([]platform.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListProducts", ""); err != nil {
		return nil, err
	}
	out := make([]platform.Product, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.view(f.products[id]))
	}
	return out, nil
}

func (f *Platform) AddOptions(_ context.Context, productID string, options []platform.Option) ([]platform.Option, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddOptions", productID); err != nil {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, NotFound("add options")
	}
	var added []platform.Option
	for _, o := range options {
		o.ID = f.id("o")
		o.ProductID = productID
		p.Options = append(p.Options, o)
		added = append(added, o)
	}
	f.record("AddOptions", productID)
	return added, nil
}

func (f *Platform) AddImage(_ context.Context, productID string, img platform.Image) (*platform.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddImage", productID); err != nil {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, NotFound("add image")
	}
	img.ID = f.id("img")
	img.ProductID = productID
	p.Images = append(p.Images, img)
	f.record("AddImage", productID)
	return &img, nil
}

func (f *Platform) DeleteImage(_ context.Context, productID, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteImage", imageID); err != nil {
		return err
	}
	p, ok := f.products[productID]
	if !ok {
		return NotFound("delete image")
	}
	for i, img := range p.Images {
		if img.ID == imageID {
			p.Images = append(p.Images[:i], p.Images[i+1:]...)
			f.record("DeleteImage", imageID)
			return nil
		}
	}
	return NotFound("delete image")
}

func (f *Platform) ListLocations(_ context.Context) ([]platform.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListLocations", ""); err != nil {
		return nil, err
	}
	return append([]platform.Location(nil), f.Locations...), nil
}

func (f *Platform) SetInventoryLevel(_ context.Context, level platform.InventoryLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetInventoryLevel", level.InventoryItemID); err != nil {
		return err
	}
	if level.Available == nil {
		return &platform.UserErrors{Op: "set inventory level", Errors: []platform.UserError{{Field: []string{"available"}, Message: "is required"}}}
	}
	f.levels[level.InventoryItemID+"|"+level.LocationID] = *level.Available
	f.record("SetInventoryLevel", level.InventoryItemID)
	return nil
}

func (f *Platform) ListCollections(_ context.Context) ([]platform.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListCollections", ""); err != nil {
		return nil, err
	}
	return append([]platform.Collection(nil), f.collections...), nil
}

func (f *Platform) CreateCollection(_ context.Context, title string) (*platform.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateCollection", title); err != nil {
		return nil, err
	}
	c := platform.Collection{ID: f.id("c"), Title: title}
	f.collections = append(f.collections, c)
	f.record("CreateCollection", title)
	return &c, nil
}

func (f *Platform) ListMemberships(_ context.Context, productID string) ([]platform.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListMemberships", productID); err != nil {
		return nil, err
	}
	out := []platform.Membership{}
	for _, m := range f.memberships {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Platform) AddMembership(_ context.Context, collectionID, productID string) (*platform.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddMembership", productID); err != nil {
		return nil, err
	}
	m := platform.Membership{ID: f.id("m"), CollectionID: collectionID, ProductID: productID}
	f.memberships = append(f.memberships, m)
	f.record("AddMembership", collectionID)
	return &m, nil
}

func (f *Platform) DeleteMembership(_ context.Context, membershipID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteMembership", membershipID); err != nil {
		return err
	}
	for i, m := range f.memberships {
		if m.ID == membershipID {
			f.memberships = append(f.memberships[:i], f.memberships[i+1:]...)
			f.record("DeleteMembership", membershipID)
			return nil
		}
	}
	return NotFound("delete membership")
}

func (f *Platform) PublishToChannels(_ context.Context, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("PublishToChannels", productID); err != nil {
		return err
	}
	f.record("PublishToChannels", productID)
	return nil
}

// Collections returns the created collections sorted by title.
func (f *Platform) Collections() []platform.Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]platform.Collection(nil), f.collections...)
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func clone(p platform.Product) platform.Product {
	c := p
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	if p.Variants != nil {
		c.Variants = make([]platform.Variant, len(p.Variants))
		for i, v := range p.Variants {
			c.Variants[i] = v
			if v.InventoryLevels != nil {
				c.Variants[i].InventoryLevels = append([]platform.InventoryLevel(nil), v.InventoryLevels...)
			}
		}
	}
	if p.Images != nil {
		c.Images = append([]platform.Image(nil), p.Images...)
	}
	if p.Options != nil {
		c.Options = make([]platform.Option, len(p.Options))
		for i, o := range p.Options {
			c.Options[i] = o
			c.Options[i].Values = append([]string(nil), o.Values...)
		}
	}
	if p.CollectionIDs != nil {
		c.CollectionIDs = append([]string(nil), p.CollectionIDs...)
	}
	return c
}
