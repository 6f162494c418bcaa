// Package vector provides an in-memory passage store for tests and single process setups.
package vector

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// MemoryStore keeps named collections in memory and searches them by brute force cosine similarity.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
	logger      *slog.Logger
}

type collection struct {
	dimension int
	nextID    uint64
	records   map[uint64]*model.PassageRecord
	byHash    map[string]uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		collections: map[string]*collection{},
		logger:      logger,
	}
}

// EnsureCollection creates the collection if it does not exist.
// A collection with another dimension is dropped and recreated empty.
func (m *MemoryStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := model.ValidateName(name); err != nil {
		return helper.NewError("collection name", err)
	}
	if dimension < 1 {
		return helper.NewError("ensure collection", helper.Errorf(helper.ErrInvalidArgument, "dimension %d out of range", dimension))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[name]
	if ok && existing.dimension == dimension {
		return nil
	}
	if ok {
		m.logger.Warn("Recreated passage collection with new dimension, stored passages were dropped",
			slog.String("collection", name), slog.Int("dimension", dimension))
	}

	m.collections[name] = &collection{
		dimension: dimension,
		records:   map[uint64]*model.PassageRecord{},
		byHash:    map[string]uint64{},
	}
	return nil
}

// Upsert stores the records keyed by their text hash. Assigned ids are written back.
// Nothing is stored if one record is invalid.
func (m *MemoryStore) Upsert(ctx context.Context, collectionName string, records []*model.PassageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collectionName)
	if err != nil {
		return err
	}

	for i, record := range records {
		if len(record.Vector) != c.dimension {
			return helper.NewError("upsert", helper.Errorf(helper.ErrSchemaMismatch,
				"record %d has dimension %d, collection %s has %d", i, len(record.Vector), collectionName, c.dimension))
		}
	}

	for _, record := range records {
		if record.Hash == "" {
			record.Hash = model.HashText(record.Text)
		}

		id, ok := c.byHash[record.Hash]
		if !ok {
			c.nextID++
			id = c.nextID
			c.byHash[record.Hash] = id
		}
		record.ID = id
		c.records[id] = clone(record)
	}

	return nil
}

// Search returns up to k passages by descending cosine similarity, ties by id.
func (m *MemoryStore) Search(ctx context.Context, collectionName string, vector []float32, k int) ([]*model.PassageHit, error) {
	if k < 1 {
		return nil, helper.NewError("search", helper.Errorf(helper.ErrInvalidArgument, "k %d must be positive", k))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collectionName)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dimension {
		return nil, helper.NewError("search", helper.Errorf(helper.ErrSchemaMismatch,
			"query has dimension %d, collection %s has %d", len(vector), collectionName, c.dimension))
	}

	hits := make([]*model.PassageHit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, &model.PassageHit{
			ID:       r.ID,
			Text:     r.Text,
			Hash:     r.Hash,
			SourceID: r.SourceID,
			Metadata: r.Metadata,
			Score:    helper.CosineSimilarity(vector, r.Vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

// GetByID returns a copy of one passage.
func (m *MemoryStore) GetByID(ctx context.Context, collectionName string, id uint64) (*model.PassageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collectionName)
	if err != nil {
		return nil, err
	}

	record, ok := c.records[id]
	if !ok {
		return nil, helper.NewError("get by id", helper.Errorf(helper.ErrNotFound, "passage %d not found in %s", id, collectionName))
	}
	return clone(record), nil
}

// SamplePassages returns up to limit passages in id order.
func (m *MemoryStore) SamplePassages(ctx context.Context, collectionName string, limit int) ([]*model.PassageRecord, error) {
	if limit < 1 {
		return nil, helper.NewError("sample passages", helper.Errorf(helper.ErrInvalidArgument, "limit %d must be positive", limit))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collectionName)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]*model.PassageRecord, len(ids))
	for i, id := range ids {
		records[i] = clone(c.records[id])
		records[i].Vector = nil
	}
	return records, nil
}

// Collections lists every collection with its dimension and passage count, by name.
func (m *MemoryStore) Collections(ctx context.Context) ([]*model.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]*model.CollectionInfo, 0, len(m.collections))
	for name, c := range m.collections {
		infos = append(infos, &model.CollectionInfo{Name: name, Dimension: c.dimension, Count: int64(len(c.records))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// DeleteCollection drops a collection and its passages.
func (m *MemoryStore) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.collection(name); err != nil {
		return err
	}
	delete(m.collections, name)
	return nil
}

// collection looks up a collection. Callers hold mu.
func (m *MemoryStore) collection(name string) (*collection, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, helper.NewError("collection name", err)
	}
	c, ok := m.collections[name]
	if !ok {
		return nil, helper.NewError("collection", helper.Errorf(helper.ErrNotFound, "collection %s not found", name))
	}
	return c, nil
}

func clone(r *model.PassageRecord) *model.PassageRecord {
	c := *r
	c.Vector = append([]float32(nil), r.Vector...)
	if r.Metadata != nil {
		c.Metadata = make(model.Metadata, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
