package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gomarketplace_sync/internal/catalog/apply"
	"gomarketplace_sync/internal/catalog/builder"
	"gomarketplace_sync/internal/catalog/changes"
	"gomarketplace_sync/internal/catalog/collections"
	"gomarketplace_sync/internal/catalog/guard"
	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/reconcile"
	"gomarketplace_sync/internal/catalog/runctx"
	"gomarketplace_sync/internal/catalog/storage"
	"gomarketplace_sync/internal/feed"
	"gomarketplace_sync/internal/notify"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/metrics"
	"gomarketplace_sync/pkg/logger"
)

const (
	lastSyncKey  = "last_sync_report"
	lastAuditKey = "last_audit_report"
)

var ErrRunInProgress = errors.New("another run is in progress")

type RunStatus string

const (
	StatusApplied         RunStatus = "applied"
	StatusPartial         RunStatus = "partial"
	StatusNoChanges       RunStatus = "no-changes"
	StatusFeedUnavailable RunStatus = "feed-unavailable"
	StatusGuardTripped    RunStatus = "guard-tripped"
)

// SyncOutcome is what one sync run did; it is also the document kept as the last report.
type SyncOutcome struct {
	RunID      string        `json:"runId"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	FeedCount  int           `json:"feedCount"`
	Excluded   int           `json:"excluded"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	New        int           `json:"new"`
	Changed    int           `json:"changed"`
	Deleted    int           `json:"deleted"`
	Unchanged  int           `json:"unchanged"`
	Error      string        `json:"error,omitempty"`
	Report     *apply.Report `json:"report,omitempty"`
}

type Deps struct {
	Feed        feed.Source
	Store       storage.Store
	Metadata    storage.MetadataStore
	Client      platform.Client
	Builder     *builder.ProductBuilder
	Collections *collections.Resolver
	Notifier    notify.Notifier
}

type Options struct {
	MaxDestructive int
	ForceUpdate    bool
	SkipImages     bool
	ExcludedBrands []string
}

// Server runs sync and audit passes. Only one run executes at a time.
type Server struct {
	deps     Deps
	opts     Options
	guard    guard.Guard
	detector *changes.Detector
	applier  *apply.Applier
	analyzer *reconcile.Analyzer
	excluded map[string]struct{}
	now      func() time.Time
	running  sync.Mutex
	log      logger.Logger
}

func NewServer(deps Deps, opts Options, log logger.Logger) *Server {
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(log)
	}
	if deps.Metadata == nil {
		deps.Metadata = storage.NewMemoryMetadata()
	}
	var memberships apply.MembershipSyncer
	if deps.Collections != nil {
		memberships = deps.Collections
	}
	excluded := make(map[string]struct{}, len(opts.ExcludedBrands))
	for _, b := range opts.ExcludedBrands {
		excluded[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
	}
	return &Server{
		deps:     deps,
		opts:     opts,
		guard:    guard.New(opts.MaxDestructive),
		detector: changes.NewDetector(opts.ForceUpdate, log),
		applier:  apply.NewApplier(deps.Client, deps.Store, deps.Builder, memberships, apply.Options{SkipImages: opts.SkipImages}, log),
		analyzer: reconcile.NewAnalyzer(deps.Client, deps.Store, deps.Feed, log),
		excluded: excluded,
		now:      time.Now,
		log:      log.WithPrefix("[Server]"),
	}
}

// RunSync diffs the feed against the store and applies the result to the platform. An
// unavailable feed ends the run without touching anything.
func (s *Server) RunSync(ctx context.Context) (SyncOutcome, error) {
	if !s.running.TryLock() {
		return SyncOutcome{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	rc := runctx.New(s.now)
	out := SyncOutcome{RunID: rc.RunID, StartedAt: rc.StartedAt}
	log := s.log.WithPrefix("[" + rc.RunID + "]")

	items, err := s.deps.Feed.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, feed.ErrFeedUnavailable) {
			log.Warn("%v, nothing synchronized", err)
			out.Status = StatusFeedUnavailable
			out.Error = err.Error()
			s.finishSync(ctx, &out, "skipped")
			return out, nil
		}
		metrics.RecordRun("sync", "failed", s.now())
		return out, fmt.Errorf("load feed: %w", err)
	}
	items, out.Excluded = s.filterExcluded(items)
	out.FeedCount = len(items)

	stored, err := s.deps.Store.FindAll(ctx)
	if err != nil {
		metrics.RecordRun("sync", "failed", s.now())
		return out, fmt.Errorf("load store: %w", err)
	}

	res := s.detector.Detect(items, stored)
	cs := res.ChangeSet
	out.Duplicates = len(res.Duplicates)
	out.Rejected = res.Rejected
	out.New, out.Changed, out.Deleted, out.Unchanged = len(cs.New), len(cs.Changed), len(cs.Deleted), len(cs.Unchanged)
	log.Log("detected %d new, %d changed, %d deleted, %d unchanged", out.New, out.Changed, out.Deleted, out.Unchanged)

	if err := s.guard.Check(
		guard.Bucket{Name: "changed", Count: len(cs.Changed)},
		guard.Bucket{Name: "deleted", Count: len(cs.Deleted)},
	); err != nil {
		var trip *guard.TripError
		if errors.As(err, &trip) {
			metrics.RecordGuardTrip("sync", trip.Bucket.Name)
		}
		log.Error("%v", err)
		out.Status = StatusGuardTripped
		out.Error = err.Error()
		s.finishSync(ctx, &out, "aborted")
		s.alert(ctx, "Catalog sync aborted by safety guard", summary(out), err)
		return out, err
	}

	if cs.IsEmpty() {
		out.Status = StatusNoChanges
		s.finishSync(ctx, &out, "ok")
		return out, nil
	}

	report := s.applier.Apply(ctx, rc, cs)
	out.Report = &report
	out.Status = StatusApplied
	result := "ok"
	var cause error
	if failures := report.Failures(); len(failures) > 0 {
		out.Status = StatusPartial
		result = "partial"
		cause = fmt.Errorf("%d of %d items failed, first: %s: %s",
			len(failures), len(report.Items), failures[0].SKU, failures[0].Error)
	}
	s.finishSync(ctx, &out, result)
	s.alert(ctx, fmt.Sprintf("Catalog sync %s", out.Status), summary(out), cause)
	return out, nil
}

func (s *Server) finishSync(ctx context.Context, out *SyncOutcome, result string) {
	out.FinishedAt = s.now()
	metrics.RecordRun("sync", result, out.FinishedAt)
	s.save(ctx, lastSyncKey, out)
}

func (s *Server) filterExcluded(items []models.Item) ([]models.Item, int) {
	if len(s.excluded) == 0 {
		return items, 0
	}
	kept := make([]models.Item, 0, len(items))
	for _, it := range items {
		if _, skip := s.excluded[strings.ToLower(strings.TrimSpace(it.Brand))]; skip {
			continue
		}
		kept = append(kept, it)
	}
	if n := len(items) - len(kept); n > 0 {
		s.log.Log("%d items of excluded brands left out of the feed", n)
	}
	return kept, len(items) - len(kept)
}

// RunAudit compares remote, store and feed. With repair set, findings are acted on once the
// safety guard allows it.
func (s *Server) RunAudit(ctx context.Context, repair bool) (reconcile.Audit, error) {
	if !s.running.TryLock() {
		return reconcile.Audit{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	rc := runctx.New(s.now)
	audit, err := s.analyzer.Analyze(ctx, rc.RunID)
	if err != nil {
		metrics.RecordRun("audit", "failed", s.now())
		return audit, fmt.Errorf("audit: %w", err)
	}

	result := "ok"
	if repair {
		rep, err := s.analyzer.Repair(ctx, audit, s.guard, s.applier)
		if err != nil {
			metrics.RecordRun("audit", "aborted", s.now())
			s.save(ctx, lastAuditKey, audit)
			s.alert(ctx, "Catalog repair aborted by safety guard", auditSummary(audit), err)
			return audit, err
		}
		audit.Repair = &rep
		if rep.Failed > 0 {
			result = "partial"
		}
	}
	metrics.RecordRun("audit", result, s.now())
	s.save(ctx, lastAuditKey, audit)
	if len(audit.Discrepancies) > 0 {
		s.alert(ctx, fmt.Sprintf("Catalog audit found %d discrepancies", len(audit.Discrepancies)), auditSummary(audit), nil)
	}
	return audit, nil
}

// LastReport returns the raw JSON of the last sync outcome, or nil when no run finished yet.
func (s *Server) LastReport(ctx context.Context) (json.RawMessage, time.Time, error) {
	return s.load(ctx, lastSyncKey)
}

func (s *Server) LastAudit(ctx context.Context) (json.RawMessage, time.Time, error) {
	return s.load(ctx, lastAuditKey)
}

func (s *Server) load(ctx context.Context, key string) (json.RawMessage, time.Time, error) {
	value, at, err := s.deps.Metadata.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if value == "" {
		return nil, time.Time{}, nil
	}
	return json.RawMessage(value), at, nil
}

// save is best effort: a report that cannot be stored must not fail the run.
func (s *Server) save(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode %s: %v", key, err)
		return
	}
	if err := s.deps.Metadata.Set(ctx, key, string(data)); err != nil {
		s.log.Error("store %s: %v", key, err)
	}
}

func (s *Server) alert(ctx context.Context, subject, body string, cause error) {
	if err := s.deps.Notifier.EmailAlert(ctx, subject, body, cause); err != nil {
		s.log.Error("notification %q not sent: %v", subject, err)
	}
}

func summary(out SyncOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", out.RunID, out.Status)
	fmt.Fprintf(&b, "Feed items: %d (excluded %d, duplicates %d, without sku %d)\n",
		out.FeedCount, out.Excluded, out.Duplicates, out.Rejected)
	fmt.Fprintf(&b, "Detected: %d new, %d changed, %d deleted, %d unchanged\n",
		out.New, out.Changed, out.Deleted, out.Unchanged)
	if out.Report != nil {
		sum := out.Report.Summary
		fmt.Fprintf(&b, "Applied: %d created, %d updated, %d deleted, %d failed, %d step warnings\n",
			sum.Created, sum.Updated, sum.Deleted, sum.Failed, sum.StepWarnings)
		for _, f := range out.Report.Failures() {
			fmt.Fprintf(&b, "  %s (%s): %s\n", f.SKU, f.Bucket, f.Error)
		}
	}
	return b.String()
}

func auditSummary(a reconcile.Audit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit %s: %d remote, %d stored, %d in feed\n", a.RunID, a.RemoteCount, a.StoreCount, a.FeedCount)
	kinds := make([]string, 0, len(a.Counts))
	for kind := range a.Counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", kind, a.Counts[reconcile.Kind(kind)])
	}
	if a.Repair != nil {
		fmt.Fprintf(&b, "Repair: %d remote deleted, %d store removed, %d corrected, %d failed\n",
			a.Repair.RemoteDeleted, a.Repair.StoreRemoved, a.Repair.Corrected, a.Repair.Failed)
	}
	return b.String()
}
