// Package memory provides in-process implementations of the catalog store,
// run log and blob store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// CatalogStore is a map-backed catalog.Store and catalog.RunLog.
type CatalogStore struct {
	mu    sync.RWMutex
	ids   catalog.IDGenerator
	byID  map[string]catalog.ProductRecord
	byURL map[string]string
	terms map[string]map[catalog.Taxonomy][]string
	runs  []catalog.SyncRunResult
}

// NewCatalogStore constructs an empty store.
func NewCatalogStore(ids catalog.IDGenerator) *CatalogStore {
	return &CatalogStore{
		ids:   ids,
		byID:  make(map[string]catalog.ProductRecord),
		byURL: make(map[string]string),
		terms: make(map[string]map[catalog.Taxonomy][]string),
	}
}

// FindByURL implements catalog.Store.
func (s *CatalogStore) FindByURL(_ context.Context, sourceURL string) (catalog.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[sourceURL]
	if !ok {
		return catalog.ProductRecord{}, catalog.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// Upsert implements catalog.Store. Updates keep the existing ID and featured image.
func (s *CatalogStore) Upsert(_ context.Context, record catalog.ProductRecord) (string, error) {
	if record.SourceURL == "" {
		return "", fmt.Errorf("%w: source url is required", catalog.ErrPersistenceFailed)
	}
	if record.Name == "" {
		return "", fmt.Errorf("%w: name is required", catalog.ErrPersistenceFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record = record.Clone()
	if id, ok := s.byURL[record.SourceURL]; ok {
		existing := s.byID[id]
		record.ID = id
		record.FeaturedImage = existing.FeaturedImage
		s.byID[id] = record
		return id, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %w", catalog.ErrPersistenceFailed, err)
	}
	record.ID = id
	s.byID[id] = record
	s.byURL[record.SourceURL] = id
	return id, nil
}

// SetTags implements catalog.Store, replacing the terms of one taxonomy.
func (s *CatalogStore) SetTags(_ context.Context, id string, taxonomy catalog.Taxonomy, terms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return catalog.ErrNotFound
	}
	if s.terms[id] == nil {
		s.terms[id] = make(map[catalog.Taxonomy][]string)
	}
	s.terms[id][taxonomy] = append([]string(nil), terms...)
	return nil
}

// SetImage implements catalog.Store.
func (s *CatalogStore) SetImage(_ context.Context, id string, imageRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return false, catalog.ErrNotFound
	}
	if record.FeaturedImage != "" || imageRef == "" {
		return false, nil
	}
	record.FeaturedImage = imageRef
	s.byID[id] = record
	return true, nil
}

// ListStale implements catalog.Store. Results are ordered by SourceURL.
func (s *CatalogStore) ListStale(_ context.Context, olderThan time.Time, exclude []string) ([]catalog.ProductRecord, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, u := range exclude {
		skip[u] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.ProductRecord
	for _, record := range s.byID {
		if !record.InStock || !record.LastSeen.Before(olderThan) {
			continue
		}
		if _, ok := skip[record.SourceURL]; ok {
			continue
		}
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceURL < out[j].SourceURL })
	return out, nil
}

// MarkOutOfStock implements catalog.Store.
func (s *CatalogStore) MarkOutOfStock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return catalog.ErrNotFound
	}
	record.InStock = false
	s.byID[id] = record
	return nil
}

// Terms returns the terms of one taxonomy attached to a product.
func (s *CatalogStore) Terms(id string, taxonomy catalog.Taxonomy) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.terms[id][taxonomy]...)
}

// Count returns the number of stored products.
func (s *CatalogStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Put stores a record as-is, bypassing validation. Used to seed fixtures.
func (s *CatalogStore) Put(record catalog.ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ID] = record.Clone()
	s.byURL[record.SourceURL] = record.ID
}

// RecordRun implements catalog.RunLog.
func (s *CatalogStore) RecordRun(_ context.Context, result catalog.SyncRunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.Errors = append([]string(nil), result.Errors...)
	s.runs = append(s.runs, result)
	return nil
}

// LastRun implements catalog.RunLog.
func (s *CatalogStore) LastRun(_ context.Context) (catalog.SyncRunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return catalog.SyncRunResult{}, catalog.ErrNotFound
	}
	last := s.runs[len(s.runs)-1]
	last.Errors = append([]string(nil), last.Errors...)
	return last, nil
}
