package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
)

// Ensure MemoryStore implements the interface.
var _ types.VectorStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of types.VectorStore for tests
// and one-off runs. Queries scan every entry.
type MemoryStore struct {
	mu          sync.RWMutex
	embedder    embeddings.Embedder
	collections map[string]*memoryCollection
	locks       map[string]bool
}

func NewMemoryStore(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder:    embedder,
		collections: make(map[string]*memoryCollection),
		locks:       make(map[string]bool),
	}
}

func (s *MemoryStore) CreateCollection(_ context.Context, name string) (types.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionExists, name)
	}
	c := &memoryCollection{
		name:     name,
		embedder: s.embedder,
		index:    make(map[string]int),
	}
	s.collections[name] = c
	return c, nil
}

func (s *MemoryStore) GetCollection(_ context.Context, name string) (types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Promote(_ context.Context, staging, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[staging]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, staging)
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	delete(s.collections, staging)
	s.collections[name] = c
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, name string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[name] {
		return nil, fmt.Errorf("%w: %s", types.ErrIndexInProgress, name)
	}
	s.locks[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, name)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) Close() {}

type memoryEntry struct {
	entry  models.Entry
	vector []float32
}

type memoryCollection struct {
	mu       sync.RWMutex
	name     string
	embedder embeddings.Embedder
	entries  []memoryEntry
	index    map[string]int
}

func (c *memoryCollection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Add upserts entries by id.
func (c *memoryCollection) Add(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	vectors, err := embedEntries(ctx, c.embedder, texts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range entries {
		e.Metadata = copyMetadata(e.Metadata)
		me := memoryEntry{entry: e, vector: vectors[i]}
		if pos, ok := c.index[e.ID]; ok {
			c.entries[pos] = me
			continue
		}
		c.index[e.ID] = len(c.entries)
		c.entries = append(c.entries, me)
	}
	return nil
}

func (c *memoryCollection) Query(ctx context.Context, text string, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := embedQuery(ctx, c.embedder, text)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := make([]models.Match, 0, len(c.entries))
	for _, me := range c.entries {
		d, err := CosineDistance(vector, me.vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, models.Match{
			ID:       me.entry.ID,
			Text:     me.entry.Text,
			Metadata: copyMetadata(me.entry.Metadata),
			Distance: d,
		})
	}
	return rank(matches, k), nil
}

func (c *memoryCollection) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
