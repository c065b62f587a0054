package pebble

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type listingRepository struct {
	s *Store
}

func (r *listingRepository) Create(_ context.Context, listing domain.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var existing domain.Listing
	found, err := r.s.getJSON(key(prefixListing, listing.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		return domain.ErrListingExists
	}

	b := r.s.newBatch()
	b.setJSON(key(prefixListing, listing.ID), listing)
	return b.commit()
}

func (r *listingRepository) Get(_ context.Context, id string) (domain.Listing, error) {
	return r.s.loadListing(id)
}

func (r *listingRepository) List(_ context.Context, filter domain.ListingFilter) ([]domain.Listing, error) {
	catalog := make(map[string]*domain.CatalogEntry)
	entryFor := func(id string) (*domain.CatalogEntry, error) {
		if entry, ok := catalog[id]; ok {
			return entry, nil
		}
		var entry domain.CatalogEntry
		found, err := r.s.getJSON(key(prefixCatalog, id), &entry)
		if err != nil {
			return nil, err
		}
		if !found {
			catalog[id] = nil
			return nil, nil
		}
		catalog[id] = &entry
		return &entry, nil
	}

	result := make([]domain.Listing, 0)
	err := r.s.scan(prefixListing, func(_, v []byte) error {
		var listing domain.Listing
		if err := json.Unmarshal(v, &listing); err != nil {
			return domain.StoreError("pebble decode listing", err)
		}
		var entry *domain.CatalogEntry
		if filter.NeedsCatalog() {
			var err error
			if entry, err = entryFor(listing.CatalogID); err != nil {
				return err
			}
		}
		if filter.Matches(listing, entry) {
			result = append(result, listing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortListings(result, filter.Sort)
	return result, nil
}

func (r *listingRepository) CompareAndSwapStatus(_ context.Context, id string, from, to domain.ListingStatus, at time.Time) (domain.Listing, error) {
	if !domain.CanTransition(from, to) {
		return domain.Listing{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, err := r.s.loadListing(id)
	if err != nil {
		return domain.Listing{}, err
	}
	if listing.Status != from {
		return listing, domain.ListingMismatch(id, from, listing.Status)
	}
	listing.Status = to
	listing.Version++
	listing.UpdatedAt = at

	b := r.s.newBatch()
	b.setJSON(key(prefixListing, id), listing)
	if err := b.commit(); err != nil {
		return domain.Listing{}, err
	}
	return listing, nil
}

func (r *listingRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, err := r.s.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status.Locked() {
		return fmt.Errorf("%w: %w", domain.ErrInvalidState, domain.ListingMismatch(id, domain.ListingStatusActive, listing.Status))
	}

	b := r.s.newBatch()
	b.delete(key(prefixListing, id))
	return b.commit()
}

func (s *Store) loadListing(id string) (domain.Listing, error) {
	var listing domain.Listing
	found, err := s.getJSON(key(prefixListing, id), &listing)
	if err != nil {
		return domain.Listing{}, err
	}
	if !found {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return listing, nil
}

var _ domain.ListingRepository = (*listingRepository)(nil)
