package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type listingRepository struct {
	s *Store
}

// Create сохраняет новое объявление, если ID ещё не занят.
func (r *listingRepository) Create(_ context.Context, listing domain.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.listings[listing.ID]; exists {
		return domain.ErrListingExists
	}
	r.s.listings[listing.ID] = listing.Clone()
	return nil
}

func (r *listingRepository) Get(_ context.Context, id string) (domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	listing, ok := r.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return listing.Clone(), nil
}

// List фильтрует объявления с подстановкой записи каталога для текстового поиска.
func (r *listingRepository) List(_ context.Context, filter domain.ListingFilter) ([]domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Listing, 0)
	for _, listing := range r.s.listings {
		var entry *domain.CatalogEntry
		if filter.NeedsCatalog() {
			if found, ok := r.s.catalog[listing.CatalogID]; ok {
				entry = &found
			}
		}
		if filter.Matches(listing, entry) {
			result = append(result, listing.Clone())
		}
	}
	domain.SortListings(result, filter.Sort)
	return result, nil
}

// CompareAndSwapStatus меняет статус объявления только из ожидаемого from.
func (r *listingRepository) CompareAndSwapStatus(_ context.Context, id string, from, to domain.ListingStatus, at time.Time) (domain.Listing, error) {
	if !domain.CanTransition(from, to) {
		return domain.Listing{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	if listing.Status != from {
		return listing.Clone(), domain.ListingMismatch(id, from, listing.Status)
	}

	listing.Status = to
	listing.Version++
	listing.UpdatedAt = at
	r.s.listings[id] = listing
	return listing.Clone(), nil
}

// Delete удаляет объявление, не удерживаемое заказом.
func (r *listingRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[id]
	if !ok {
		return domain.ErrListingNotFound
	}
	if listing.Status.Locked() {
		return fmt.Errorf("%w: %w", domain.ErrInvalidState, domain.ListingMismatch(id, domain.ListingStatusActive, listing.Status))
	}
	delete(r.s.listings, id)
	return nil
}

var _ domain.ListingRepository = (*listingRepository)(nil)
