// Package memory provides an in-memory product store for dry runs and tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/store"
)

var _ store.ProductStore = (*ProductStore)(nil)

type entry struct {
	id     int64
	record models.ProductRecord
}

// ProductStore keeps one entry per url. Ids are assigned on first insert
// and kept across updates, like a serial primary key.
type ProductStore struct {
	mu     sync.RWMutex
	byURL  map[string]*entry
	order  []*entry
	nextID int64
}

// NewProductStore constructs an empty ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{byURL: make(map[string]*entry)}
}

// Upsert inserts record or replaces the entry stored under the same url.
func (s *ProductStore) Upsert(_ context.Context, record *models.ProductRecord) error {
	if record == nil || record.URL == "" {
		return store.ErrMissingURL
	}
	copied := *record
	copied.Images = append([]string(nil), record.Images...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byURL[record.URL]; ok {
		e.record = copied
		return nil
	}
	s.nextID++
	e := &entry{id: s.nextID, record: copied}
	s.byURL[record.URL] = e
	s.order = append(s.order, e)
	return nil
}

// Get returns the record stored under url.
func (s *ProductStore) Get(url string) (models.StoredProduct, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byURL[url]
	if !ok {
		return models.StoredProduct{}, false
	}
	return e.stored(), true
}

// Count returns the number of stored products.
func (s *ProductStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.order)), nil
}

// ForEach calls fn for every product in insertion order over a snapshot
// taken at call time.
func (s *ProductStore) ForEach(ctx context.Context, fn func(models.StoredProduct) error) error {
	s.mu.RLock()
	snapshot := make([]models.StoredProduct, 0, len(s.order))
	for _, e := range s.order {
		snapshot = append(snapshot, e.stored())
	}
	s.mu.RUnlock()

	for _, p := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (s *ProductStore) Close() error {
	return nil
}

func (e *entry) stored() models.StoredProduct {
	record := e.record
	record.Images = append([]string(nil), e.record.Images...)
	return models.StoredProduct{ID: strconv.FormatInt(e.id, 10), ProductRecord: record}
}
