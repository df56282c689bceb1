package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gomarketplace_sync/internal/catalog/models"
)

// MemoryStore keeps items in memory. It backs dry runs and tests; FailOn injects write errors.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]models.Item
	writes int

	FailOn func(op, sku string) error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(items ...models.Item) *MemoryStore {
	s := &MemoryStore{items: make(map[string]models.Item, len(items))}
	for _, it := range items {
		s.items[it.SKU] = it.Clone()
	}
	return s
}

func (s *MemoryStore) FindAll(_ context.Context) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindAll", ""); err != nil {
		return nil, err
	}
	out := make([]models.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *MemoryStore) FindByKey(_ context.Context, sku string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindByKey", sku); err != nil {
		return nil, err
	}
	it, ok := s.items[sku]
	if !ok {
		return nil, nil
	}
	c := it.Clone()
	return &c, nil
}

func (s *MemoryStore) Upsert(_ context.Context, item models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Upsert", item.SKU); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("refusing to store item: %w", err)
	}
	if old, ok := s.items[item.SKU]; ok && old.Equal(item) {
		return nil
	}
	s.items[item.SKU] = item.Clone()
	s.writes++
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Delete", sku); err != nil {
		return err
	}
	if _, ok := s.items[sku]; ok {
		s.writes++
	}
	delete(s.items, sku)
	return nil
}

// Writes counts the upserts and deletes that changed something.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) fail(op, sku string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op, sku)
}

type memoryEntry struct {
	value string
	at    time.Time
}

type MemoryMetadata struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ MetadataStore = (*MemoryMetadata)(nil)

func NewMemoryMetadata() *MemoryMetadata {
	return &MemoryMetadata{entries: map[string]memoryEntry{}}
}

func (m *MemoryMetadata) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, at: time.Now().UTC()}
	return nil
}

func (m *MemoryMetadata) Get(_ context.Context, key string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	return e.value, e.at, nil
}
