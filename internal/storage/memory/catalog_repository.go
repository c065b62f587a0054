package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type catalogRepository struct {
	s *Store
}

func (r *catalogRepository) Get(_ context.Context, id string) (domain.CatalogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entry, ok := r.s.catalog[id]
	if !ok {
		return domain.CatalogEntry{}, domain.ErrCatalogEntryNotFound
	}
	return entry, nil
}

// Search возвращает записи, отсортированные по году (новые первыми) и ID.
func (r *catalogRepository) Search(_ context.Context, filter domain.CatalogFilter) ([]domain.CatalogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.CatalogEntry, 0, len(r.s.catalog))
	for _, entry := range r.s.catalog {
		if filter.Matches(entry) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year > result[j].Year
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
