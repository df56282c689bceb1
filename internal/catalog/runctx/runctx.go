package runctx

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gomarketplace_sync/internal/platform"
)

// Context carries the per-run state every component needs: the run identity and the lazily
// loaded remote lookups (collection mapping, location list). It replaces process-wide caches;
// a new run gets a new Context.
type Context struct {
	RunID     string
	StartedAt time.Time
	now       func() time.Time

	mu          sync.Mutex
	collections map[string]string
	locations   []platform.Location
}

func New(now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	return &Context{
		RunID:     uuid.NewString(),
		StartedAt: now(),
		now:       now,
	}
}

func (c *Context) Now() time.Time {
	return c.now()
}

// Collections returns the grouping -> remote collection id mapping, calling load on first use.
// A failed load is not cached.
func (c *Context) Collections(load func() (map[string]string, error)) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collections != nil {
		return c.collections, nil
	}
	m, err := load()
	if err != nil {
		return nil, err
	}
	c.collections = m
	return m, nil
}

func (c *Context) Locations(load func() ([]platform.Location, error)) ([]platform.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locations != nil {
		return c.locations, nil
	}
	locs, err := load()
	if err != nil {
		return nil, err
	}
	if locs == nil {
		locs = []platform.Location{}
	}
	c.locations = locs
	return locs, nil
}

// Invalidate drops both caches; the next lookup reloads from the platform.
func (c *Context) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections = nil
	c.locations = nil
}
