package changes

import (
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/pkg/logger"
)

// ChangedPair holds both versions of an item whose remote representation must be refreshed.
type ChangedPair struct {
	Stored models.Item
	Feed   models.Item
	// Fields lists the business fields that differ; empty when the pair was forced or retried.
	Fields []string
	Reason string
}

// ChangeSet is the partition of one diff pass. It is recomputed every run and never persisted.
type ChangeSet struct {
	New       []models.Item
	Changed   []ChangedPair
	Deleted   []models.Item
	Unchanged []string
}

func (cs ChangeSet) IsEmpty() bool {
	return len(cs.New) == 0 && len(cs.Changed) == 0 && len(cs.Deleted) == 0
}

// Duplicate reports a feed entry dropped because its sku was already seen.
type Duplicate struct {
	SKU           string
	Position      int
	FirstPosition int
}

type Result struct {
	ChangeSet  ChangeSet
	Duplicates []Duplicate
	// Rejected counts feed entries without a sku.
	Rejected int
}

const (
	ReasonChanged      = "changed"
	ReasonForced       = "force-update"
	ReasonRetryUpdate  = "retry-failed-update"
	ReasonRetryPublish = "retry-failed-publish"
)

type Detector struct {
	forceUpdate bool
	log         logger.Logger
}

func NewDetector(forceUpdate bool, log logger.Logger) *Detector {
	return &Detector{forceUpdate: forceUpdate, log: log.WithPrefix("[ChangeDetector]")}
}

// Detect classifies every sku of feed ∪ stored into exactly one bucket.
// New and Changed follow feed order, Deleted follows store order, so two runs on the
// same snapshots yield identical change sets.
func (d *Detector) Detect(feed, stored []models.Item) Result {
	var res Result

	feedItems, duplicates, rejected := Dedup(feed)
	res.Duplicates = duplicates
	res.Rejected = rejected
	for _, dup := range duplicates {
		d.log.Warn("duplicate sku %s at position %d dropped, first seen at %d", dup.SKU, dup.Position, dup.FirstPosition)
	}
	if rejected > 0 {
		d.log.Warn("%d feed entries without sku dropped", rejected)
	}

	feedByKey := make(map[string]struct{}, len(feedItems))
	for _, it := range feedItems {
		feedByKey[it.SKU] = struct{}{}
	}
	storeByKey := make(map[string]models.Item, len(stored))
	for _, it := range stored {
		if _, seen := storeByKey[it.SKU]; seen {
			d.log.Warn("store holds sku %s twice, keeping the first row", it.SKU)
			continue
		}
		storeByKey[it.SKU] = it
	}

	cs := &res.ChangeSet
	for _, it := range feedItems {
		st, ok := storeByKey[it.SKU]
		if !ok {
			cs.New = append(cs.New, it)
			continue
		}
		switch {
		case st.Status == models.StatusPublishFailed && st.RemoteID == "":
			d.log.Log("sku %s failed to publish last time, queued for creation", it.SKU)
			cs.New = append(cs.New, it)
		case d.forceUpdate:
			cs.Changed = append(cs.Changed, ChangedPair{Stored: st, Feed: it, Reason: ReasonForced})
		case st.Status == models.StatusUpdateFailed:
			cs.Changed = append(cs.Changed, ChangedPair{Stored: st, Feed: it, Fields: st.BusinessDiff(it), Reason: ReasonRetryUpdate})
		default:
			if diff := st.BusinessDiff(it); len(diff) > 0 {
				cs.Changed = append(cs.Changed, ChangedPair{Stored: st, Feed: it, Fields: diff, Reason: ReasonChanged})
			} else {
				cs.Unchanged = append(cs.Unchanged, it.SKU)
			}
		}
	}

	seenDeleted := make(map[string]struct{})
	for _, st := range stored {
		if _, inFeed := feedByKey[st.SKU]; inFeed {
			continue
		}
		if _, dup := seenDeleted[st.SKU]; dup {
			continue
		}
		seenDeleted[st.SKU] = struct{}{}
		cs.Deleted = append(cs.Deleted, st)
	}

	d.log.Log("feed=%d store=%d new=%d changed=%d deleted=%d unchanged=%d",
		len(feedItems), len(storeByKey), len(cs.New), len(cs.Changed), len(cs.Deleted), len(cs.Unchanged))
	return res
}

// Dedup keeps the first occurrence of every sku and drops entries without one.
func Dedup(feed []models.Item) ([]models.Item, []Duplicate, int) {
	firstSeen := make(map[string]int, len(feed))
	out := make([]models.Item, 0, len(feed))
	var dups []Duplicate
	rejected := 0
	for pos, it := range feed {
		if it.SKU == "" {
			rejected++
			continue
		}
		if first, ok := firstSeen[it.SKU]; ok {
			dups = append(dups, Duplicate{SKU: it.SKU, Position: pos, FirstPosition: first})
			continue
		}
		firstSeen[it.SKU] = pos
		out = append(out, it)
	}
	return out, dups, rejected
}
