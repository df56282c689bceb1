package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gomarketplace_sync/internal/catalog/apply"
	"gomarketplace_sync/internal/catalog/guard"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/metrics"
	"gomarketplace_sync/pkg/logger"
)

type Kind string

const (
	ExtraInRemote            Kind = "ExtraInRemote"
	ExtraInStore             Kind = "ExtraInStore"
	IdentifierMismatch       Kind = "IdentifierMismatch"
	DerivedAttributeMismatch Kind = "DerivedAttributeMismatch"
)

// Discrepancy is one audit finding.
type Discrepancy struct {
	SKU            string            `json:"sku"`
	RemoteID       string            `json:"remoteId,omitempty"`
	StoredRemoteID string            `json:"storedRemoteId,omitempty"`
	Kind           Kind              `json:"kind"`
	Description    string            `json:"description"`
	Details        map[string]string `json:"details,omitempty"`
}

// Duplicate reports whether the finding is a second remote product for the same sku.
func (d Discrepancy) Duplicate() bool {
	return d.Details["duplicate"] == "true"
}

// ReportOnly reports whether repair must leave the finding to an operator.
func (d Discrepancy) ReportOnly() bool {
	return d.Details["reportOnly"] == "true"
}

type Audit struct {
	RunID         string        `json:"runId"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
	RemoteCount   int           `json:"remoteCount"`
	StoreCount    int           `json:"storeCount"`
	FeedCount     int           `json:"feedCount,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Repair        *RepairReport `json:"repair,omitempty"`
	Counts        map[Kind]int  `json:"counts"`
}

// FeedSource is optional; when present, findings are annotated with feed presence.
type FeedSource interface {
	LoadSnapshot(ctx context.Context) ([]models.Item, error)
}

type Analyzer struct {
	client platform.Client
	store  storage.Store
	feed   FeedSource
	now    func() time.Time
	log    logger.Logger
}

func NewAnalyzer(client platform.Client, store storage.Store, feed FeedSource, log logger.Logger) *Analyzer {
	return &Analyzer{client: client, store: store, feed: feed, now: time.Now, log: log.WithPrefix("[Reconciliation]")}
}

// Analyze audits remote, store and (optionally) feed without mutating anything.
func (a *Analyzer) Analyze(ctx context.Context, runID string) (Audit, error) {
	audit := Audit{RunID: runID, StartedAt: a.now(), Counts: map[Kind]int{}}

	remote, err := a.client.ListProducts(ctx)
	if err != nil {
		return audit, fmt.Errorf("failed to list remote products: %w", err)
	}
	stored, err := a.store.FindAll(ctx)
	if err != nil {
		return audit, fmt.Errorf("failed to load store: %w", err)
	}
	audit.RemoteCount = len(remote)
	audit.StoreCount = len(stored)

	var inFeed map[string]struct{}
	if a.feed != nil {
		items, err := a.feed.LoadSnapshot(ctx)
		if err != nil {
			a.log.Warn("feed not available, auditing without it: %v", err)
		} else {
			audit.FeedCount = len(items)
			inFeed = make(map[string]struct{}, len(items))
			for _, it := range items {
				inFeed[it.SKU] = struct{}{}
			}
		}
	}

	storeBySKU := make(map[string]models.Item, len(stored))
	claimedBy := make(map[string]string, len(stored))
	for _, it := range stored {
		if _, dup := storeBySKU[it.SKU]; !dup {
			storeBySKU[it.SKU] = it
		}
		if it.RemoteID != "" {
			claimedBy[it.RemoteID] = it.SKU
		}
	}
	// A remote product that a store record of another sku points at is reported from the
	// store side only.
	claimedElsewhere := func(remoteID, sku string) bool {
		owner, ok := claimedBy[remoteID]
		return ok && owner != sku
	}

	var found []Discrepancy
	add := func(d Discrepancy) {
		if inFeed != nil {
			if d.Details == nil {
				d.Details = map[string]string{}
			}
			_, ok := inFeed[d.SKU]
			d.Details["inFeed"] = strconv.FormatBool(ok)
		}
		found = append(found, d)
	}

	bySKU := make(map[string][]platform.Product)
	remoteByID := make(map[string]platform.Product, len(remote))
	var order []string
	for _, p := range remote {
		remoteByID[p.ID] = p
		sku := p.SKU()
		if sku == "" {
			if claimedElsewhere(p.ID, sku) {
				continue
			}
			add(Discrepancy{
				RemoteID: p.ID, Kind: ExtraInRemote,
				Description: fmt.Sprintf("remote product %s has no sku", p.ID),
				Details:     map[string]string{"noSku": "true"},
			})
			continue
		}
		if _, seen := bySKU[sku]; !seen {
			order = append(order, sku)
		}
		bySKU[sku] = append(bySKU[sku], p)
	}

	for _, sku := range order {
		products := bySKU[sku]
		st, known := storeBySKU[sku]
		keeper := keeperOf(products, st.RemoteID)
		for _, p := range products {
			if p.ID == keeper.ID || claimedElsewhere(p.ID, sku) {
				continue
			}
			add(Discrepancy{
				SKU: sku, RemoteID: p.ID, StoredRemoteID: st.RemoteID, Kind: ExtraInRemote,
				Description: fmt.Sprintf("remote product %s duplicates sku %s, kept %s", p.ID, sku, keeper.ID),
				Details:     map[string]string{"duplicate": "true", "keptRemoteId": keeper.ID},
			})
		}

		if claimedElsewhere(keeper.ID, sku) {
			continue
		}
		switch {
		case !known:
			add(Discrepancy{
				SKU: sku, RemoteID: keeper.ID, Kind: ExtraInRemote,
				Description: fmt.Sprintf("remote product %s has no store record", keeper.ID),
			})
			continue
		case st.RemoteID == "":
			add(Discrepancy{
				SKU: sku, RemoteID: keeper.ID, Kind: ExtraInRemote,
				Description: fmt.Sprintf("remote product %s exists but the store never recorded a publish (%s)", keeper.ID, st.Status),
				Details:     map[string]string{"storedStatus": string(st.Status)},
			})
			continue
		case st.RemoteID != keeper.ID:
			add(Discrepancy{
				SKU: sku, RemoteID: keeper.ID, StoredRemoteID: st.RemoteID, Kind: IdentifierMismatch,
				Description: fmt.Sprintf("store records %s but the remote product is %s", st.RemoteID, keeper.ID),
			})
		}

		if keeper.Images != nil && len(keeper.Images) != st.ImageCount() {
			add(Discrepancy{
				SKU: sku, RemoteID: keeper.ID, StoredRemoteID: st.RemoteID, Kind: DerivedAttributeMismatch,
				Description: fmt.Sprintf("remote has %d images, store expects %d", len(keeper.Images), st.ImageCount()),
				Details: map[string]string{
					"attribute": "image_count",
					"remote":    strconv.Itoa(len(keeper.Images)),
					"expected":  strconv.Itoa(st.ImageCount()),
				},
			})
		}
	}

	for _, st := range stored {
		if st.RemoteID == "" {
			continue
		}
		if _, ok := bySKU[st.SKU]; ok {
			continue
		}
		// The product still exists under another or no sku; deleting it would lose live data.
		if p, listed := remoteByID[st.RemoteID]; listed {
			add(Discrepancy{
				SKU: st.SKU, RemoteID: p.ID, StoredRemoteID: st.RemoteID, Kind: IdentifierMismatch,
				Description: fmt.Sprintf("store records remote product %s but it carries sku %q", p.ID, p.SKU()),
				Details:     map[string]string{"remoteSku": p.SKU(), "reportOnly": "true"},
			})
			continue
		}
		add(Discrepancy{
			SKU: st.SKU, StoredRemoteID: st.RemoteID, Kind: ExtraInStore,
			Description: fmt.Sprintf("store records remote product %s but the platform has none for this sku", st.RemoteID),
		})
	}

	audit.Discrepancies = found
	if audit.Discrepancies == nil {
		audit.Discrepancies = []Discrepancy{}
	}
	for _, d := range found {
		audit.Counts[d.Kind]++
		metrics.RecordDiscrepancy(string(d.Kind))
	}
	audit.FinishedAt = a.now()
	a.log.Log("audit %s: remote=%d store=%d discrepancies=%d", runID, audit.RemoteCount, audit.StoreCount, len(found))
	return audit, nil
}

// keeperOf picks the product the store points at, else the first listed.
func keeperOf(products []platform.Product, storedRemoteID string) platform.Product {
	for _, p := range products {
		if storedRemoteID != "" && p.ID == storedRemoteID {
			return p
		}
	}
	return products[0]
}

// Deleter is the part of the sync applier the repair reuses.
type Deleter interface {
	Delete(ctx context.Context, item models.Item) apply.ItemResult
	DeleteRemote(ctx context.Context, sku, remoteID string) apply.ItemResult
}

type RepairReport struct {
	RemoteDeleted int                `json:"remoteDeleted"`
	StoreRemoved  int                `json:"storeRemoved"`
	Corrected     int                `json:"corrected"`
	Failed        int                `json:"failed"`
	Items         []apply.ItemResult `json:"items,omitempty"`
	Errors        []string           `json:"errors,omitempty"`
}

// Repair acts on an audit once the guard allows it. Missing remote products are not
// recreated; that is left to the next sync run.
func (a *Analyzer) Repair(ctx context.Context, audit Audit, g guard.Guard, deleter Deleter) (RepairReport, error) {
	var rep RepairReport
	orphans := audit.Counts[ExtraInRemote] + audit.Counts[ExtraInStore]
	if err := g.Check(guard.Bucket{Name: "orphaned", Count: orphans}); err != nil {
		metrics.RecordGuardTrip("audit", "orphaned")
		return rep, err
	}

	for _, d := range audit.Discrepancies {
		switch d.Kind {
		case ExtraInRemote:
			if d.RemoteID == "" || d.Details["noSku"] == "true" {
				a.log.Warn("remote product %s without sku left for manual review", d.RemoteID)
				continue
			}
			res := deleter.DeleteRemote(ctx, d.SKU, d.RemoteID)
			rep.Items = append(rep.Items, res)
			if res.Result == apply.ResultOK {
				rep.RemoteDeleted++
			} else {
				rep.Failed++
			}
		case ExtraInStore:
			st, err := a.store.FindByKey(ctx, d.SKU)
			if err != nil || st == nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: store record not loaded: %v", d.SKU, err))
				continue
			}
			res := deleter.Delete(ctx, *st)
			rep.Items = append(rep.Items, res)
			if res.Result == apply.ResultOK {
				rep.StoreRemoved++
			} else {
				rep.Failed++
			}
		case IdentifierMismatch:
			if d.ReportOnly() {
				a.log.Warn("%s: remote product %s carries sku %q, left for manual review", d.SKU, d.RemoteID, d.Details["remoteSku"])
				continue
			}
			if err := a.correctID(ctx, d); err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, err.Error())
				continue
			}
			rep.Corrected++
		}
	}
	a.log.Log("repair: %d remote deleted, %d store removed, %d corrected, %d failed",
		rep.RemoteDeleted, rep.StoreRemoved, rep.Corrected, rep.Failed)
	return rep, nil
}

var errStoreMoved = errors.New("store record changed since the audit")

func (a *Analyzer) correctID(ctx context.Context, d Discrepancy) error {
	st, err := a.store.FindByKey(ctx, d.SKU)
	if err != nil {
		return fmt.Errorf("%s: %w", d.SKU, err)
	}
	if st == nil || st.RemoteID != d.StoredRemoteID {
		return fmt.Errorf("%s: %w", d.SKU, errStoreMoved)
	}
	st.RemoteID = d.RemoteID
	if err := a.store.Upsert(ctx, *st); err != nil {
		return fmt.Errorf("%s: failed to correct remote id: %w", d.SKU, err)
	}
	a.log.Log("%s: remote id corrected %s -> %s", d.SKU, d.StoredRemoteID, d.RemoteID)
	return nil
}
