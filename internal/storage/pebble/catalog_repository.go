package pebble

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// CatalogRepository: справочник карточек в pebble.
type CatalogRepository struct {
	s *Store
}

func (r *CatalogRepository) Get(_ context.Context, id string) (domain.CatalogEntry, error) {
	var entry domain.CatalogEntry
	found, err := r.s.getJSON(key(prefixCatalog, id), &entry)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if !found {
		return domain.CatalogEntry{}, domain.ErrCatalogEntryNotFound
	}
	return entry, nil
}

func (r *CatalogRepository) Search(_ context.Context, filter domain.CatalogFilter) ([]domain.CatalogEntry, error) {
	result := make([]domain.CatalogEntry, 0)
	err := r.s.scan(prefixCatalog, func(_, v []byte) error {
		var entry domain.CatalogEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return domain.StoreError("pebble decode catalog", err)
		}
		if filter.Matches(entry) {
			result = append(result, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year > result[j].Year
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Upsert записывает записи каталога, не трогая уже существующие ID.
func (r *CatalogRepository) Upsert(_ context.Context, entries ...domain.CatalogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b := r.s.newBatch()
	for _, entry := range entries {
		var existing domain.CatalogEntry
		found, err := r.s.getJSON(key(prefixCatalog, entry.ID), &existing)
		if err != nil {
			b.b.Close()
			return err
		}
		if !found {
			b.setJSON(key(prefixCatalog, entry.ID), entry)
		}
	}
	return b.commit()
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
