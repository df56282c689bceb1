package apply

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"gomarketplace_sync/internal/catalog/builder"
	"gomarketplace_sync/internal/catalog/changes"
	"gomarketplace_sync/internal/catalog/merge"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/runctx"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/metrics"
	"gomarketplace_sync/pkg/logger"
)

var (
	ErrNoRemoteID      = errors.New("platform returned no product id")
	ErrMissingRemoteID = errors.New("stored item has no remote id")
	ErrVariantMissing  = errors.New("remote product has no variant for sku")
)

// MembershipSyncer rewrites the collection memberships of a product.
type MembershipSyncer interface {
	Sync(ctx context.Context, rc *runctx.Context, productID string, item models.Item) ([]string, error)
}

type Options struct {
	// SkipImages leaves remote images untouched on create and update.
	SkipImages bool
}

type Applier struct {
	client      platform.Client
	store       storage.Store
	builder     *builder.ProductBuilder
	merger      *merge.Engine
	memberships MembershipSyncer
	counters    *metrics.RunMetrics
	opts        Options
	log         logger.Logger
}

// NewApplier wires the applier. memberships may be nil when no collections are configured.
func NewApplier(client platform.Client, store storage.Store, b *builder.ProductBuilder, memberships MembershipSyncer, opts Options, log logger.Logger) *Applier {
	return &Applier{
		client:      client,
		store:       store,
		builder:     b,
		merger:      merge.NewEngine(log),
		memberships: memberships,
		counters:    &metrics.RunMetrics{},
		opts:        opts,
		log:         log.WithPrefix("[SyncApplier]"),
	}
}

// Apply executes the change set bucket by bucket: new, changed, deleted. Items are processed
// one at a time and a failing item never stops the batch.
func (a *Applier) Apply(ctx context.Context, rc *runctx.Context, cs changes.ChangeSet) Report {
	a.counters = &metrics.RunMetrics{}
	report := Report{RunID: rc.RunID, StartedAt: rc.Now()}

	for _, it := range cs.New {
		report.add(a.isolated(it.SKU, BucketNew, func() ItemResult { return a.Create(ctx, rc, it) }))
	}
	for _, pair := range cs.Changed {
		report.add(a.isolated(pair.Feed.SKU, BucketChanged, func() ItemResult { return a.Update(ctx, rc, pair) }))
	}
	for _, it := range cs.Deleted {
		report.add(a.isolated(it.SKU, BucketDeleted, func() ItemResult { return a.Delete(ctx, it) }))
	}

	report.FinishedAt = rc.Now()
	report.Summary = a.counters.Snapshot()
	a.log.Log("run %s applied: %d created, %d updated, %d deleted, %d failed",
		rc.RunID, report.Summary.Created, report.Summary.Updated, report.Summary.Deleted, report.Summary.Failed)
	return report
}

func (a *Applier) isolated(sku string, bucket Bucket, fn func() ItemResult) (res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("%s: panic while applying %s: %v\n%s", sku, bucket, r, debug.Stack())
			res = ItemResult{SKU: sku, Bucket: bucket, Result: ResultFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
		a.count(res)
	}()
	return fn()
}

func (a *Applier) count(res ItemResult) {
	a.counters.StepWarnings.Add(int32(len(res.Warnings)))
	metrics.RecordItem(string(res.Bucket), string(res.Result))
	if res.Result != ResultOK {
		a.counters.Failed.Add(1)
		return
	}
	switch res.Bucket {
	case BucketNew:
		a.counters.Created.Add(1)
	case BucketChanged:
		a.counters.Updated.Add(1)
	case BucketDeleted:
		a.counters.Deleted.Add(1)
	}
}

func (a *Applier) locations(ctx context.Context, rc *runctx.Context) ([]platform.Location, error) {
	return rc.Locations(func() ([]platform.Location, error) {
		return a.client.ListLocations(ctx)
	})
}

// Create publishes a new item. A fatal failure after the product was created removes the
// half-built product again, so a failed item never keeps a remote id.
func (a *Applier) Create(ctx context.Context, rc *runctx.Context, item models.Item) ItemResult {
	p := &pipeline{sku: item.SKU, policy: CreatePolicy, log: a.log}
	locs, locErr := a.locations(ctx, rc)
	proposal := a.builder.Build(item, locs)

	var created *platform.Product
	p.run(StepCreate, func() error {
		payload := proposal
		payload.Options = nil
		payload.Images = nil
		var err error
		created, err = a.client.CreateProduct(ctx, payload)
		if err != nil {
			return err
		}
		if created == nil || created.ID == "" {
			return ErrNoRemoteID
		}
		return nil
	})

	p.run(StepOptions, func() error {
		if len(proposal.Options) == 0 {
			return nil
		}
		_, err := a.client.AddOptions(ctx, created.ID, proposal.Options)
		return err
	})

	p.run(StepImages, func() error {
		if a.opts.SkipImages {
			return nil
		}
		return a.addImages(ctx, created.ID, proposal.Images)
	})

	p.run(StepInventory, func() error {
		if locErr != nil {
			return fmt.Errorf("failed to load locations: %w", locErr)
		}
		fetched, err := a.client.GetProduct(ctx, created.ID)
		if err != nil {
			return err
		}
		return a.pushLevels(ctx, p, item.SKU, proposal, fetched)
	})

	p.run(StepCollections, func() error {
		if a.memberships == nil {
			return nil
		}
		_, err := a.memberships.Sync(ctx, rc, created.ID, item)
		return err
	})

	p.run(StepPublish, func() error {
		return a.client.PublishToChannels(ctx, created.ID)
	})

	result := ItemResult{SKU: item.SKU, Bucket: BucketNew, Steps: p.steps, Warnings: p.warnings}
	stored := item.Clone()
	if p.failed() {
		if created != nil && created.ID != "" {
			a.compensate(ctx, item.SKU, created.ID, &result)
		}
		stored.Status = models.StatusPublishFailed
		stored.RemoteID = ""
		stored.PublishedAt = nil
		stored.LastError = p.errorMessage()
		result.Result = ResultFailed
		result.Error = stored.LastError
	} else {
		now := rc.Now()
		stored.Status = models.StatusPublished
		stored.RemoteID = created.ID
		stored.PublishedAt = &now
		stored.LastError = ""
		result.Result = ResultOK
		result.RemoteID = created.ID
	}

	if err := a.store.Upsert(ctx, stored); err != nil {
		a.log.Error("%s: failed to persist after create: %v", item.SKU, err)
		result.Steps = append(result.Steps, resultOf(StepPersist, err))
		result.Result = ResultFailed
		result.Error = joinError(result.Error, fmt.Sprintf("persist failed: %v", err))
	}
	return result
}

func (a *Applier) compensate(ctx context.Context, sku, productID string, result *ItemResult) {
	err := a.client.DeleteProduct(ctx, productID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		a.log.Error("%s: failed to remove half-created product %s: %v", sku, productID, err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("orphaned remote product %s left behind: %v", productID, err))
		return
	}
	a.log.Warn("%s: half-created product %s removed", sku, productID)
}

// Update refreshes an already published item. Any failing step marks it UpdateFailed; the
// remote id is kept so the next run retries the update.
func (a *Applier) Update(ctx context.Context, rc *runctx.Context, pair changes.ChangedPair) ItemResult {
	item := pair.Feed.WithRemoteState(pair.Stored)
	p := &pipeline{sku: item.SKU, policy: UpdatePolicy, log: a.log}
	remoteID := pair.Stored.RemoteID

	p.run(StepRequireRemote, func() error {
		if remoteID == "" {
			return ErrMissingRemoteID
		}
		return nil
	})

	var current *platform.Product
	p.run(StepFetch, func() error {
		var err error
		current, err = a.client.GetProduct(ctx, remoteID)
		return err
	})

	var plan merge.Plan
	var locErr error
	p.run(StepUpdate, func() error {
		var locs []platform.Location
		locs, locErr = a.locations(ctx, rc)
		plan = a.merger.Merge(a.builder.Build(item, locs), current)
		for _, what := range plan.Skipped {
			p.warn("%s not merged, the platform keeps its current %s", what, what)
		}
		payload := plan.Product
		payload.Images = nil
		_, err := a.client.UpdateProduct(ctx, payload)
		return err
	})

	p.run(StepImages, func() error {
		if a.opts.SkipImages {
			return nil
		}
		return a.replaceImages(ctx, remoteID, current, plan.Product.Images)
	})

	var refetched *platform.Product
	p.run(StepRefetch, func() error {
		var err error
		refetched, err = a.client.GetProduct(ctx, remoteID)
		return err
	})

	p.run(StepInventory, func() error {
		if locErr != nil {
			return fmt.Errorf("failed to load locations: %w", locErr)
		}
		return a.pushLevels(ctx, p, item.SKU, plan.Product, refetched)
	})

	p.run(StepCollections, func() error {
		if a.memberships == nil {
			return nil
		}
		_, err := a.memberships.Sync(ctx, rc, remoteID, item)
		return err
	})

	result := ItemResult{SKU: item.SKU, Bucket: BucketChanged, RemoteID: remoteID, Steps: p.steps, Warnings: p.warnings}
	stored := item.Clone()
	switch {
	case remoteID == "":
		// nothing to update; the create path picks the item up on the next run
		stored.Status = models.StatusPublishFailed
		stored.RemoteID = ""
		stored.PublishedAt = nil
		stored.LastError = p.errorMessage()
		result.Result = ResultFailed
		result.Error = stored.LastError
	case p.failed():
		stored.Status = models.StatusUpdateFailed
		stored.LastError = p.errorMessage()
		result.Result = ResultFailed
		result.Error = stored.LastError
	default:
		stored.Status = models.StatusUpdated
		stored.LastError = ""
		result.Result = ResultOK
	}

	if err := a.store.Upsert(ctx, stored); err != nil {
		a.log.Error("%s: failed to persist after update: %v", item.SKU, err)
		result.Steps = append(result.Steps, resultOf(StepPersist, err))
		result.Result = ResultFailed
		result.Error = joinError(result.Error, fmt.Sprintf("persist failed: %v", err))
	}
	return result
}

// Delete removes the remote product, then the local record. A remote product that is already
// gone counts as deleted; any other remote failure keeps the record for the next run.
func (a *Applier) Delete(ctx context.Context, item models.Item) ItemResult {
	p := &pipeline{sku: item.SKU, policy: DeletePolicy, log: a.log}

	p.run(StepDeleteRemote, func() error {
		if item.RemoteID == "" {
			return nil
		}
		err := a.client.DeleteProduct(ctx, item.RemoteID)
		if errors.Is(err, platform.ErrNotFound) {
			a.log.Warn("%s: remote product %s already gone", item.SKU, item.RemoteID)
			return nil
		}
		return err
	})

	p.run(StepDeleteLocal, func() error {
		return a.store.Delete(ctx, item.SKU)
	})

	result := ItemResult{SKU: item.SKU, Bucket: BucketDeleted, RemoteID: item.RemoteID, Steps: p.steps, Warnings: p.warnings, Result: ResultOK}
	if p.failed() {
		result.Result = ResultFailed
		result.Error = p.errorMessage()
	}
	return result
}

func (a *Applier) addImages(ctx context.Context, productID string, images []platform.Image) error {
	var errs []error
	for _, img := range images {
		img.ID = ""
		img.ProductID = ""
		if _, err := a.client.AddImage(ctx, productID, img); err != nil {
			errs = append(errs, fmt.Errorf("image %s: %w", img.Src, err))
		}
	}
	return errors.Join(errs...)
}

// replaceImages deletes every current image and adds the merged set; images cannot be
// edited in place.
func (a *Applier) replaceImages(ctx context.Context, productID string, current *platform.Product, images []platform.Image) error {
	if current == nil || current.Images == nil {
		a.log.Warn("images of %s were not fetched, replacing nothing", productID)
		return nil
	}
	if images == nil {
		a.log.Warn("no merged image set for %s, current images kept", productID)
		return nil
	}
	for _, img := range current.Images {
		if err := a.client.DeleteImage(ctx, productID, img.ID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("failed to delete image %s: %w", img.ID, err)
		}
	}
	return a.addImages(ctx, productID, images)
}

// pushLevels submits the proposed levels against the inventory item of the fetched variant.
// Levels missing an inventory item, a location or a quantity are skipped and reported.
func (a *Applier) pushLevels(ctx context.Context, p *pipeline, sku string, proposal platform.Product, fetched *platform.Product) error {
	proposed, ok := proposal.VariantBySKU(sku)
	if !ok || len(proposed.InventoryLevels) == 0 {
		return nil
	}
	if fetched == nil {
		return fmt.Errorf("%w %s", ErrVariantMissing, sku)
	}
	variant, ok := fetched.VariantBySKU(sku)
	if !ok {
		return fmt.Errorf("%w %s", ErrVariantMissing, sku)
	}
	for _, lvl := range proposed.InventoryLevels {
		lvl.InventoryItemID = variant.InventoryItemID
		if err := validLevel(lvl); err != nil {
			p.warn("inventory level skipped: %v", err)
			continue
		}
		if err := a.client.SetInventoryLevel(ctx, lvl); err != nil {
			return fmt.Errorf("location %s: %w", lvl.LocationID, err)
		}
	}
	return nil
}

func validLevel(l platform.InventoryLevel) error {
	switch {
	case l.InventoryItemID == "":
		return fmt.Errorf("missing inventory item id at location %s", l.LocationID)
	case l.LocationID == "":
		return fmt.Errorf("missing location for inventory item %s", l.InventoryItemID)
	case l.Available == nil:
		return fmt.Errorf("missing quantity for inventory item %s at %s", l.InventoryItemID, l.LocationID)
	}
	return nil
}

func joinError(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// DeleteRemote removes a remote product the store does not own, such as a duplicate.
// The local record of sku is left alone.
func (a *Applier) DeleteRemote(ctx context.Context, sku, remoteID string) ItemResult {
	p := &pipeline{sku: sku, policy: DeletePolicy, log: a.log}
	p.run(StepDeleteRemote, func() error {
		err := a.client.DeleteProduct(ctx, remoteID)
		if errors.Is(err, platform.ErrNotFound) {
			return nil
		}
		return err
	})
	result := ItemResult{SKU: sku, Bucket: BucketDeleted, RemoteID: remoteID, Steps: p.steps, Result: ResultOK}
	if p.failed() {
		result.Result = ResultFailed
		result.Error = p.errorMessage()
	}
	return result
}
