package apply

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/internal/catalog/builder"
	"gomarketplace_sync/internal/catalog/changes"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/runctx"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/internal/platform/platformtest"
	"gomarketplace_sync/pkg/business/service"
	"gomarketplace_sync/pkg/logger"
)

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func item(sku, title string) models.Item {
	p := decimal.NewFromInt(250)
	return models.Item{
		SKU: sku, Status: models.StatusAvailable, Title: title, Brand: "omega", Price: &p,
		Quantity: 3, Size: "40mm", Images: []string{"1.jpg", "2.jpg"},
	}
}

func published(it models.Item, remoteID string) models.Item {
	it.Status = models.StatusPublished
	it.RemoteID = remoteID
	t := fixedNow.Add(-24 * time.Hour)
	it.PublishedAt = &t
	return it
}

type fixture struct {
	fake    *platformtest.Platform
	store   *storage.MemoryStore
	applier *Applier
	rc      *runctx.Context
}

func newFixture(t *testing.T, client platform.Client, fake *platformtest.Platform, stored ...models.Item) fixture {
	t.Helper()
	b := builder.NewProductBuilder(builder.Capabilities{ImageBase: "https://img.example.com"}, service.NewTextService())
	store := storage.NewMemoryStore(stored...)
	return fixture{
		fake:    fake,
		store:   store,
		applier: NewApplier(client, store, b, nil, Options{}, logger.Discard()),
		rc:      runctx.New(func() time.Time { return fixedNow }),
	}
}

func (f fixture) stored(t *testing.T, sku string) *models.Item {
	t.Helper()
	it, err := f.store.FindByKey(context.Background(), sku)
	require.NoError(t, err)
	return it
}

func failOn(op string, err error) func(string, string) error {
	return func(o, _ string) error {
		if o == op {
			return err
		}
		return nil
	}
}

func TestApplyEndToEndScenario(t *testing.T) {
	fake := platformtest.New()
	fake.Seed(platform.Product{ID: "1", Variants: []platform.Variant{{SKU: "A"}}})
	fake.Seed(platform.Product{ID: "2", Variants: []platform.Variant{{SKU: "C"}}})
	storedA := published(item("A", "Seamaster"), "1")
	storedC := published(item("C", "Speedmaster"), "2")
	f := newFixture(t, fake, fake, storedA, storedC)

	res := changes.NewDetector(false, logger.Discard()).Detect(
		[]models.Item{item("A", "Seamaster"), item("B", "Constellation")},
		[]models.Item{storedA, storedC},
	)
	report := f.applier.Apply(context.Background(), f.rc, res.ChangeSet)

	assert.Equal(t, []string{"B"}, fake.CallsFor("CreateProduct"))
	assert.Equal(t, []string{"2"}, fake.CallsFor("DeleteProduct"))
	assert.Empty(t, fake.CallsFor("UpdateProduct"))

	b := f.stored(t, "B")
	require.NotNil(t, b)
	assert.Equal(t, models.StatusPublished, b.Status)
	assert.NotEmpty(t, b.RemoteID)
	assert.True(t, b.PublishedAt.Equal(fixedNow))
	assert.Nil(t, f.stored(t, "C"))
	assert.True(t, f.stored(t, "A").Equal(storedA), "unchanged item is left untouched")

	assert.Equal(t, 1, report.Summary.Created)
	assert.Equal(t, 1, report.Summary.Deleted)
	assert.Zero(t, report.Summary.Failed)
	assert.Equal(t, f.rc.RunID, report.RunID)
}

func TestCreateRunsEverySubResourceStep(t *testing.T) {
	fake := platformtest.New()
	f := newFixture(t, fake, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	require.Equal(t, ResultOK, res.Result, res.Error)
	p, ok := fake.Product(res.RemoteID)
	require.True(t, ok)
	assert.Len(t, p.Options, 1)
	assert.Len(t, p.Images, 2)
	assert.Equal(t, "https://img.example.com/B/1.jpg", p.Images[0].Src)
	n, ok := fake.Level(p.Variants[0].InventoryItemID, "loc-1")
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{res.RemoteID}, fake.CallsFor("PublishToChannels"))
}

func TestCreateImageFailureIsAdvisory(t *testing.T) {
	fake := platformtest.New()
	fake.FailOn = failOn("AddImage", &platform.TransportError{Op: "add image", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")})
	f := newFixture(t, fake, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	assert.Equal(t, ResultOK, res.Result)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, models.StatusPublished, f.stored(t, "B").Status)
}

func TestCreatePublishFailureIsAdvisory(t *testing.T) {
	fake := platformtest.New()
	fake.FailOn = failOn("PublishToChannels", errors.New("no channels"))
	f := newFixture(t, fake, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	assert.Equal(t, ResultOK, res.Result)
	assert.Equal(t, models.StatusPublished, f.stored(t, "B").Status)
}

func TestCreateFatalStepRemovesHalfBuiltProduct(t *testing.T) {
	fake := platformtest.New()
	fake.FailOn = failOn("SetInventoryLevel", &platform.UserErrors{Op: "set inventory level", Errors: []platform.UserError{{Message: "location inactive"}}})
	f := newFixture(t, fake, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	assert.Equal(t, ResultFailed, res.Result)
	assert.Contains(t, res.Error, "inventory failed")
	require.Len(t, fake.CallsFor("DeleteProduct"), 1)

	stored := f.stored(t, "B")
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusPublishFailed, stored.Status)
	assert.Empty(t, stored.RemoteID)
	assert.Nil(t, stored.PublishedAt)
	assert.Contains(t, stored.LastError, "location inactive")
}

type noIDClient struct {
	*platformtest.Platform
}

func (c noIDClient) CreateProduct(ctx context.Context, p platform.Product) (*platform.Product, error) {
	return &platform.Product{Title: p.Title}, nil
}

func TestCreateWithoutRemoteIDFails(t *testing.T) {
	fake := platformtest.New()
	f := newFixture(t, noIDClient{fake}, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	assert.Equal(t, ResultFailed, res.Result)
	assert.Contains(t, res.Error, ErrNoRemoteID.Error())
	assert.Empty(t, fake.Calls, "nothing after the create step runs")
	assert.Equal(t, models.StatusPublishFailed, f.stored(t, "B").Status)
}

type levellessClient struct {
	*platformtest.Platform
}

func (c levellessClient) GetProduct(ctx context.Context, id string) (*platform.Product, error) {
	p, err := c.Platform.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range p.Variants {
		p.Variants[i].InventoryItemID = ""
	}
	return p, nil
}

func TestInvalidInventoryLevelIsSkipped(t *testing.T) {
	fake := platformtest.New()
	f := newFixture(t, levellessClient{fake}, fake)

	res := f.applier.Create(context.Background(), f.rc, item("B", "Constellation"))

	assert.Equal(t, ResultOK, res.Result)
	assert.Empty(t, fake.CallsFor("SetInventoryLevel"))
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "missing inventory item id")
}

func TestUpdateKeepsIdentifiersAndReplacesImages(t *testing.T) {
	fake := platformtest.New()
	f0 := newFixture(t, fake, fake)
	created := f0.applier.Create(context.Background(), f0.rc, item("A", "Seamaster"))
	require.Equal(t, ResultOK, created.Result)
	before, _ := fake.Product(created.RemoteID)
	stored := f0.stored(t, "A")

	feedA := item("A", "Seamaster Diver")
	feedA.Quantity = 7
	feedA.Images = []string{"1.jpg"}
	f := fixture{fake: fake, store: storage.NewMemoryStore(*stored), applier: f0.applier, rc: f0.rc}
	f.applier.store = f.store

	res := f.applier.Update(context.Background(), f.rc, changes.ChangedPair{Stored: *stored, Feed: feedA})

	require.Equal(t, ResultOK, res.Result, res.Error)
	after, _ := fake.Product(created.RemoteID)
	assert.Equal(t, "Seamaster Diver", after.Title)
	assert.Equal(t, before.Variants[0].ID, after.Variants[0].ID)
	assert.Equal(t, before.Variants[0].InventoryItemID, after.Variants[0].InventoryItemID)
	assert.Len(t, after.Images, 1)
	n, _ := fake.Level(after.Variants[0].InventoryItemID, "loc-1")
	assert.Equal(t, 7, n)

	got := f.stored(t, "A")
	assert.Equal(t, models.StatusUpdated, got.Status)
	assert.Equal(t, created.RemoteID, got.RemoteID)
	assert.True(t, got.PublishedAt.Equal(*stored.PublishedAt))
	assert.Equal(t, "Seamaster Diver", got.Title)
}

func TestUpdateWritesLevelsUnderRotatedInventoryItem(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.RotateInventory = true
	fake.Seed(platform.Product{ID: "1", Variants: []platform.Variant{{SKU: "A", InventoryItemID: "inv-old"}}})
	three := 3
	require.NoError(t, fake.SetInventoryLevel(ctx, platform.InventoryLevel{InventoryItemID: "inv-old", LocationID: "loc-1", Available: &three}))
	fake.Calls = nil
	stored := published(item("A", "Seamaster"), "1")
	f := newFixture(t, fake, fake, stored)

	feedA := item("A", "Seamaster")
	feedA.Quantity = 7
	res := f.applier.Update(ctx, f.rc, changes.ChangedPair{Stored: stored, Feed: feedA})

	require.Equal(t, ResultOK, res.Result, res.Error)
	after, _ := fake.Product("1")
	newInv := after.Variants[0].InventoryItemID
	require.NotEqual(t, "inv-old", newInv)
	n, ok := fake.Level(newInv, "loc-1")
	require.True(t, ok)
	assert.Equal(t, 7, n)
	old, _ := fake.Level("inv-old", "loc-1")
	assert.Equal(t, 3, old, "the retired inventory item is not written")
	assert.Equal(t, []string{newInv}, fake.CallsFor("SetInventoryLevel"))
}

type imagelessClient struct {
	*platformtest.Platform
}

func (c imagelessClient) GetProduct(ctx context.Context, id string) (*platform.Product, error) {
	p, err := c.Platform.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Images = nil
	return p, nil
}

func TestUpdateReportsUnmergedSubResources(t *testing.T) {
	fake := platformtest.New()
	fake.Seed(platform.Product{ID: "1", Variants: []platform.Variant{{SKU: "A"}}, Images: []platform.Image{{Src: "old.jpg"}}})
	stored := published(item("A", "Seamaster"), "1")
	f := newFixture(t, imagelessClient{fake}, fake, stored)

	res := f.applier.Update(context.Background(), f.rc, changes.ChangedPair{Stored: stored, Feed: item("A", "Seamaster Diver")})

	require.Equal(t, ResultOK, res.Result, res.Error)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "images not merged")
	assert.Empty(t, fake.CallsFor("DeleteImage"))
	assert.Empty(t, fake.CallsFor("AddImage"))
	after, _ := fake.Product("1")
	assert.Len(t, after.Images, 1)
}

func TestUpdateFailureKeepsRemoteID(t *testing.T) {
	fake := platformtest.New()
	stored := published(item("A", "Seamaster"), "404")
	f := newFixture(t, fake, fake, stored)

	res := f.applier.Update(context.Background(), f.rc, changes.ChangedPair{Stored: stored, Feed: item("A", "Seamaster Diver")})

	assert.Equal(t, ResultFailed, res.Result)
	got := f.stored(t, "A")
	assert.Equal(t, models.StatusUpdateFailed, got.Status)
	assert.Equal(t, "404", got.RemoteID)
	assert.Contains(t, got.LastError, "fetch failed")
	assert.Empty(t, fake.CallsFor("UpdateProduct"))
}

func TestUpdateWithoutRemoteIDIsFatal(t *testing.T) {
	fake := platformtest.New()
	stored := item("A", "Seamaster")
	stored.Status = models.StatusUpdated
	f := newFixture(t, fake, fake)

	res := f.applier.Update(context.Background(), f.rc, changes.ChangedPair{Stored: stored, Feed: item("A", "Seamaster Diver")})

	assert.Equal(t, ResultFailed, res.Result)
	assert.Contains(t, res.Error, ErrMissingRemoteID.Error())
	assert.Empty(t, fake.Calls)
	got := f.stored(t, "A")
	assert.Equal(t, models.StatusPublishFailed, got.Status)
	assert.Empty(t, got.RemoteID)
}

func TestDeletePaths(t *testing.T) {
	fake := platformtest.New()
	fake.Seed(platform.Product{ID: "7", Variants: []platform.Variant{{SKU: "G"}}})
	gone := published(item("G", "x"), "7")
	missing := published(item("M", "x"), "99")
	local := item("L", "x")
	f := newFixture(t, fake, fake, gone, missing, local)
	ctx := context.Background()

	assert.Equal(t, ResultOK, f.applier.Delete(ctx, gone).Result)
	assert.Equal(t, ResultOK, f.applier.Delete(ctx, missing).Result, "already deleted remotely counts as done")
	assert.Equal(t, ResultOK, f.applier.Delete(ctx, local).Result)
	assert.Nil(t, f.stored(t, "G"))
	assert.Nil(t, f.stored(t, "M"))
	assert.Nil(t, f.stored(t, "L"))
	assert.Equal(t, []string{"7"}, fake.CallsFor("DeleteProduct"))
}

func TestDeleteRemoteFailureKeepsRecord(t *testing.T) {
	fake := platformtest.New()
	fake.Seed(platform.Product{ID: "7", Variants: []platform.Variant{{SKU: "G"}}})
	fake.FailOn = failOn("DeleteProduct", &platform.TransportError{Op: "delete product", StatusCode: 503, Err: errors.New("unavailable")})
	gone := published(item("G", "x"), "7")
	f := newFixture(t, fake, fake, gone)

	res := f.applier.Delete(context.Background(), gone)

	assert.Equal(t, ResultFailed, res.Result)
	require.NotEmpty(t, res.Steps)
	assert.Equal(t, OutcomeRetryable, res.Steps[0].Outcome)
	assert.NotNil(t, f.stored(t, "G"))
}

func TestApplyIsolatesPanickingItem(t *testing.T) {
	fake := platformtest.New()
	f := newFixture(t, fake, fake)
	f.store.FailOn = func(op, sku string) error {
		if op == "Upsert" && sku == "B" {
			panic("driver exploded")
		}
		return nil
	}

	report := f.applier.Apply(context.Background(), f.rc, changes.ChangeSet{
		New: []models.Item{item("B", "Constellation"), item("D", "De Ville")},
	})

	require.Len(t, report.Items, 2)
	assert.Equal(t, ResultFailed, report.Items[0].Result)
	assert.Contains(t, report.Items[0].Error, "panic")
	assert.Equal(t, ResultOK, report.Items[1].Result)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, 1, report.Summary.Created)
	assert.Len(t, report.Failures(), 1)
}

func TestPolicyTable(t *testing.T) {
	assert.Equal(t, Advisory, CreatePolicy.severity(StepImages))
	assert.Equal(t, Advisory, CreatePolicy.severity(StepPublish))
	assert.Equal(t, Abort, CreatePolicy.severity(StepInventory))
	assert.Equal(t, Abort, UpdatePolicy.severity(StepImages))
	assert.Equal(t, Abort, Policy{}.severity(StepCreate), "unknown steps abort")
}

func TestResultOfClassifiesErrors(t *testing.T) {
	assert.Equal(t, OutcomeOK, resultOf(StepCreate, nil).Outcome)
	assert.Equal(t, OutcomeRetryable, resultOf(StepCreate, &platform.TransportError{StatusCode: 429}).Outcome)
	assert.Equal(t, OutcomeFatal, resultOf(StepCreate, &platform.UserErrors{Op: "x"}).Outcome)
}
