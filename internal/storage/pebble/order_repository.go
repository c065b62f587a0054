package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type orderRepository struct {
	s *Store
}

// Place проверяет статус объявления и записывает объявление, заказ и маркер
// живого заказа live/<listing_id> одним batch.
func (r *orderRepository) Place(_ context.Context, order domain.Order, at time.Time) (domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, err := r.s.loadListing(order.ListingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if listing.Status != domain.ListingStatusActive {
		return listing, domain.ListingMismatch(listing.ID, domain.ListingStatusActive, listing.Status)
	}
	var existing domain.Order
	found, err := r.s.getJSON(key(prefixOrder, order.ID), &existing)
	if err != nil {
		return domain.Listing{}, err
	}
	if found {
		return domain.Listing{}, domain.ErrOrderExists
	}
	if holder, err := r.s.liveOrder(listing.ID); err != nil {
		return domain.Listing{}, err
	} else if holder != "" {
		return domain.Listing{}, domain.ErrLiveOrderExists
	}

	listing.Status = domain.ListingStatusTransactionPending
	listing.Version++
	listing.UpdatedAt = at

	order.Status = domain.OrderStatusTransactionPending
	order.TotalAmount = listing.Price
	order.CreatedAt = at
	order.UpdatedAt = at

	b := r.s.newBatch()
	b.setJSON(key(prefixListing, listing.ID), listing)
	b.setJSON(key(prefixOrder, order.ID), order)
	b.set(key(prefixLive, listing.ID), []byte(order.ID))
	if err := b.commit(); err != nil {
		return domain.Listing{}, err
	}
	return listing, nil
}

// Apply проверяет статусы заказа и объявления и фиксирует оба одним batch.
func (r *orderRepository) Apply(_ context.Context, t domain.OrderTransition) (domain.Order, domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, err := r.s.loadOrder(t.OrderID)
	if err != nil {
		return domain.Order{}, domain.Listing{}, err
	}
	if order.Status != t.FromOrder {
		return order, domain.Listing{}, domain.OrderMismatch(order.ID, t.FromOrder, order.Status)
	}
	listing, err := r.s.loadListing(order.ListingID)
	if err != nil {
		return order, domain.Listing{}, err
	}
	holder, err := r.s.liveOrder(listing.ID)
	if err != nil {
		return order, domain.Listing{}, err
	}
	if listing.Status != t.FromListing || holder != order.ID {
		return order, listing, domain.ListingMismatch(listing.ID, t.FromListing, listing.Status)
	}

	order.Status = t.ToOrder
	order.UpdatedAt = t.At
	if t.TrackingNumber != "" {
		order.TrackingNumber = t.TrackingNumber
	}
	listing.Status = t.ToListing
	listing.Version++
	listing.UpdatedAt = t.At

	b := r.s.newBatch()
	b.setJSON(key(prefixOrder, order.ID), order)
	b.setJSON(key(prefixListing, listing.ID), listing)
	if !order.Status.Live() {
		b.delete(key(prefixLive, listing.ID))
	}
	if err := b.commit(); err != nil {
		return domain.Order{}, domain.Listing{}, err
	}
	return order, listing, nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	return r.s.loadOrder(id)
}

func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	err := r.s.scan(prefixOrder, func(_, v []byte) error {
		var order domain.Order
		if err := json.Unmarshal(v, &order); err != nil {
			return domain.StoreError("pebble decode order", err)
		}
		if filter.Matches(order) {
			result = append(result, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domain.SortOrders(result, filter.Limit), nil
}

func (s *Store) loadOrder(id string) (domain.Order, error) {
	var order domain.Order
	found, err := s.getJSON(key(prefixOrder, id), &order)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// liveOrder возвращает id живого заказа объявления или "".
func (s *Store) liveOrder(listingID string) (string, error) {
	raw, closer, err := s.db.Get(key(prefixLive, listingID))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", domain.StoreError("pebble get live order", err)
	}
	defer closer.Close()
	return string(raw), nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
