package changes

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/pkg/logger"
)

func item(sku, title string) models.Item {
	p := decimal.NewFromInt(100)
	return models.Item{SKU: sku, Status: models.StatusAvailable, Title: title, Price: &p}
}

func published(it models.Item, remoteID string) models.Item {
	it.Status = models.StatusPublished
	it.RemoteID = remoteID
	return it
}

func skus(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.SKU)
	}
	return out
}

func TestDetectEndToEndScenario(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	stored := []models.Item{published(item("A", "Watch"), "1"), published(item("C", "Ring"), "2")}
	feed := []models.Item{item("A", "Watch"), item("B", "Bag")}

	res := d.Detect(feed, stored)

	assert.Equal(t, []string{"B"}, skus(res.ChangeSet.New))
	assert.Empty(t, res.ChangeSet.Changed)
	assert.Equal(t, []string{"C"}, skus(res.ChangeSet.Deleted))
	assert.Equal(t, []string{"A"}, res.ChangeSet.Unchanged)
}

func TestDetectChangedCarriesFieldNames(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	stored := []models.Item{published(item("A", "Watch"), "1")}
	feedA := item("A", "Gold watch")
	feedA.Cost = nil
	feedA.Notes = "internal note only"

	res := d.Detect([]models.Item{feedA}, stored)

	require.Len(t, res.ChangeSet.Changed, 1)
	pair := res.ChangeSet.Changed[0]
	assert.Equal(t, []string{"title"}, pair.Fields)
	assert.Equal(t, ReasonChanged, pair.Reason)
	assert.Equal(t, "1", pair.Stored.RemoteID)
	assert.Equal(t, "Gold watch", pair.Feed.Title)
}

func TestDetectBookkeepingOnlyChangeIsIgnored(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	st := published(item("A", "Watch"), "1")
	fd := item("A", "Watch")
	one := decimal.NewFromInt(1)
	fd.Cost = &one
	fd.Notes = "re-counted"

	res := d.Detect([]models.Item{fd}, []models.Item{st})
	assert.True(t, res.ChangeSet.IsEmpty())
}

func TestDetectForceUpdate(t *testing.T) {
	d := NewDetector(true, logger.Discard())
	stored := []models.Item{published(item("A", "Watch"), "1")}
	res := d.Detect([]models.Item{item("A", "Watch")}, stored)

	require.Len(t, res.ChangeSet.Changed, 1)
	assert.Equal(t, ReasonForced, res.ChangeSet.Changed[0].Reason)
	assert.Empty(t, res.ChangeSet.Unchanged)
}

func TestDetectRetriesFailedItems(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	failedPublish := item("P", "Bag")
	failedPublish.Status = models.StatusPublishFailed
	failedPublish.LastError = "create returned no id"
	failedUpdate := published(item("U", "Ring"), "7")
	failedUpdate.Status = models.StatusUpdateFailed

	res := d.Detect([]models.Item{item("P", "Bag"), item("U", "Ring")}, []models.Item{failedPublish, failedUpdate})

	assert.Equal(t, []string{"P"}, skus(res.ChangeSet.New))
	require.Len(t, res.ChangeSet.Changed, 1)
	assert.Equal(t, "U", res.ChangeSet.Changed[0].Feed.SKU)
	assert.Equal(t, ReasonRetryUpdate, res.ChangeSet.Changed[0].Reason)
}

func TestDetectDropsDuplicateSKUs(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	first := item("A", "Watch")
	second := item("A", "Completely different")
	stored := []models.Item{published(item("A", "Watch"), "1")}

	res := d.Detect([]models.Item{first, item("B", "Bag"), second}, stored)

	require.Len(t, res.Duplicates, 1)
	assert.Equal(t, Duplicate{SKU: "A", Position: 2, FirstPosition: 0}, res.Duplicates[0])
	assert.Empty(t, res.ChangeSet.Changed, "dropped copy must not produce a change")
	assert.Empty(t, res.ChangeSet.Deleted)
	assert.Equal(t, []string{"B"}, skus(res.ChangeSet.New))
	assert.Equal(t, []string{"A"}, res.ChangeSet.Unchanged)
}

func TestDetectRejectsEmptySKU(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	res := d.Detect([]models.Item{item("", "ghost"), item("B", "Bag")}, nil)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, []string{"B"}, skus(res.ChangeSet.New))
}

func TestDetectIsDeterministic(t *testing.T) {
	d := NewDetector(false, logger.Discard())
	feed := []models.Item{item("C", "x"), item("A", "y"), item("B", "z"), item("D", "w")}
	stored := []models.Item{published(item("E", "e"), "5"), published(item("A", "old"), "1"), published(item("F", "f"), "6")}

	first := d.Detect(feed, stored)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Detect(feed, stored))
	}
	assert.Equal(t, []string{"C", "B", "D"}, skus(first.ChangeSet.New))
	assert.Equal(t, []string{"E", "F"}, skus(first.ChangeSet.Deleted))
}
