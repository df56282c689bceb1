package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/internal/catalog/apply"
	"gomarketplace_sync/internal/catalog/builder"
	"gomarketplace_sync/internal/catalog/guard"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/internal/platform/platformtest"
	"gomarketplace_sync/pkg/business/service"
	"gomarketplace_sync/pkg/logger"
)

func stored(sku, remoteID string, images ...string) models.Item {
	it := models.Item{SKU: sku, Status: models.StatusAvailable, Images: images}
	if remoteID != "" {
		it.Status = models.StatusPublished
		it.RemoteID = remoteID
	}
	return it
}

func product(id, sku string, images int) platform.Product {
	p := platform.Product{ID: id, Variants: []platform.Variant{{SKU: sku}}, Images: []platform.Image{}}
	for i := 0; i < images; i++ {
		p.Images = append(p.Images, platform.Image{Src: "x"})
	}
	return p
}

func newApplier(fake *platformtest.Platform, store storage.Store) *apply.Applier {
	b := builder.NewProductBuilder(builder.Capabilities{}, service.NewTextService())
	return apply.NewApplier(fake, store, b, nil, apply.Options{}, logger.Discard())
}

func kinds(ds []Discrepancy) []Kind {
	out := make([]Kind, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Kind)
	}
	return out
}

func TestDuplicateRemoteSKU(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Seed(product("10", "A", 0))
	fake.Seed(product("11", "A", 0))
	fake.Seed(product("20", "B", 0))
	store := storage.NewMemoryStore(stored("A", "10"), stored("B", "20"))
	an := NewAnalyzer(fake, store, nil, logger.Discard())

	audit, err := an.Analyze(ctx, "run-1")
	require.NoError(t, err)

	require.Len(t, audit.Discrepancies, 1)
	d := audit.Discrepancies[0]
	assert.Equal(t, ExtraInRemote, d.Kind)
	assert.True(t, d.Duplicate())
	assert.Equal(t, "11", d.RemoteID)
	assert.Empty(t, fake.Calls, "analysis never mutates")

	rep, err := an.Repair(ctx, audit, guard.New(10), newApplier(fake, store))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RemoteDeleted)
	assert.Equal(t, []string{"11"}, fake.CallsFor("DeleteProduct"))

	a, err := store.FindByKey(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "10", a.RemoteID, "the store record of the kept product is untouched")
}

func TestAnalyzeFindsEveryKind(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Seed(product("1", "A", 2))
	fake.Seed(product("2", "B", 1))
	fake.Seed(product("3", "X", 0))
	fake.Seed(product("4", "F", 0))
	store := storage.NewMemoryStore(
		stored("A", "1", "a1", "a2"),
		stored("B", "99", "b1", "b2", "b3"),
		stored("C", "5"),
		stored("D", ""),
		stored("F", ""),
	)
	an := NewAnalyzer(fake, store, nil, logger.Discard())

	audit, err := an.Analyze(ctx, "run-2")
	require.NoError(t, err)

	assert.Equal(t, []Kind{IdentifierMismatch, DerivedAttributeMismatch, ExtraInRemote, ExtraInRemote, ExtraInStore}, kinds(audit.Discrepancies))
	assert.Equal(t, 2, audit.Counts[ExtraInRemote])
	assert.Equal(t, "99", audit.Discrepancies[0].StoredRemoteID)
	assert.Equal(t, "2", audit.Discrepancies[0].RemoteID)
	assert.Equal(t, "3", audit.Discrepancies[1].Details["expected"])
	assert.Equal(t, "C", audit.Discrepancies[4].SKU)
	assert.Equal(t, 4, audit.RemoteCount)
	assert.Equal(t, 5, audit.StoreCount)
}

func TestRepairFixesOrphansAndIdentifiers(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Seed(product("2", "B", 0))
	fake.Seed(product("3", "X", 0))
	store := storage.NewMemoryStore(stored("B", "99"), stored("C", "5"))
	an := NewAnalyzer(fake, store, nil, logger.Discard())

	audit, err := an.Analyze(ctx, "run-3")
	require.NoError(t, err)
	rep, err := an.Repair(ctx, audit, guard.New(5), newApplier(fake, store))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.RemoteDeleted)
	assert.Equal(t, 1, rep.StoreRemoved)
	assert.Equal(t, 1, rep.Corrected)
	assert.Zero(t, rep.Failed)

	b, _ := store.FindByKey(ctx, "B")
	assert.Equal(t, "2", b.RemoteID)
	c, _ := store.FindByKey(ctx, "C")
	assert.Nil(t, c)
	_, ok := fake.Product("3")
	assert.False(t, ok)
	assert.Empty(t, fake.CallsFor("CreateProduct"), "repair never recreates remote products")
}

func TestRepairLeavesListedRemoteProductAlone(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Seed(platform.Product{ID: "30", Images: []platform.Image{}})
	fake.Seed(product("40", "A", 0))
	store := storage.NewMemoryStore(stored("C", "30"), stored("B", "40"))
	an := NewAnalyzer(fake, store, nil, logger.Discard())

	audit, err := an.Analyze(ctx, "run-5")
	require.NoError(t, err)

	assert.Zero(t, audit.Counts[ExtraInStore], "a listed remote id is never a store orphan")
	assert.Zero(t, audit.Counts[ExtraInRemote], "a remote product a store record points at is not an orphan")
	assert.Equal(t, []Kind{IdentifierMismatch, IdentifierMismatch}, kinds(audit.Discrepancies))
	assert.Equal(t, "A", audit.Discrepancies[0].Details["remoteSku"])
	assert.Equal(t, "", audit.Discrepancies[1].Details["remoteSku"])
	for _, d := range audit.Discrepancies {
		if d.Kind == IdentifierMismatch {
			assert.True(t, d.ReportOnly())
		}
	}

	rep, err := an.Repair(ctx, audit, guard.New(10), newApplier(fake, store))
	require.NoError(t, err)

	assert.Empty(t, fake.CallsFor("DeleteProduct"))
	_, ok := fake.Product("30")
	assert.True(t, ok)
	_, ok = fake.Product("40")
	assert.True(t, ok)
	assert.Zero(t, rep.StoreRemoved)
	assert.Zero(t, rep.Corrected)

	c, err := store.FindByKey(ctx, "C")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "30", c.RemoteID)
	b, err := store.FindByKey(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "40", b.RemoteID)
}

func TestRepairRespectsGuard(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	for _, sku := range []string{"A", "B", "C"} {
		fake.Seed(product("", sku, 0))
	}
	store := storage.NewMemoryStore()
	an := NewAnalyzer(fake, store, nil, logger.Discard())

	audit, err := an.Analyze(ctx, "run-4")
	require.NoError(t, err)
	_, err = an.Repair(ctx, audit, guard.New(2), newApplier(fake, store))

	assert.ErrorIs(t, err, guard.ErrTripped)
	assert.Empty(t, fake.Calls)
}

type feedStub struct {
	items []models.Item
	err   error
}

func (f feedStub) LoadSnapshot(context.Context) ([]models.Item, error) { return f.items, f.err }

func TestAnalyzeAnnotatesFeedPresence(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Seed(product("1", "A", 0))
	store := storage.NewMemoryStore()

	audit, err := NewAnalyzer(fake, store, feedStub{items: []models.Item{{SKU: "A"}}}, logger.Discard()).Analyze(ctx, "r")
	require.NoError(t, err)
	require.Len(t, audit.Discrepancies, 1)
	assert.Equal(t, "true", audit.Discrepancies[0].Details["inFeed"])
	assert.Equal(t, 1, audit.FeedCount)

	audit, err = NewAnalyzer(fake, store, feedStub{err: errors.New("down")}, logger.Discard()).Analyze(ctx, "r")
	require.NoError(t, err)
	assert.NotContains(t, audit.Discrepancies[0].Details, "inFeed")
}

func TestAnalyzeFailsWhenRemoteUnavailable(t *testing.T) {
	fake := platformtest.New()
	fake.FailOn = func(op, _ string) error { return errors.New("timeout") }
	an := NewAnalyzer(fake, storage.NewMemoryStore(), nil, logger.Discard())
	an.now = func() time.Time { return time.Time{} }

	_, err := an.Analyze(context.Background(), "r")
	assert.ErrorContains(t, err, "timeout")
}
