package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type orderRepository struct {
	s *Store
}

// Place блокирует объявление (Active → TransactionPending) и сохраняет заказ
// под одной блокировкой хранилища.
func (r *orderRepository) Place(_ context.Context, order domain.Order, at time.Time) (domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[order.ListingID]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	if listing.Status != domain.ListingStatusActive {
		return listing.Clone(), domain.ListingMismatch(listing.ID, domain.ListingStatusActive, listing.Status)
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return domain.Listing{}, domain.ErrOrderExists
	}
	if _, held := r.s.live[listing.ID]; held {
		return domain.Listing{}, domain.ErrLiveOrderExists
	}

	listing.Status = domain.ListingStatusTransactionPending
	listing.Version++
	listing.UpdatedAt = at

	order.Status = domain.OrderStatusTransactionPending
	order.TotalAmount = listing.Price
	order.CreatedAt = at
	order.UpdatedAt = at

	r.s.listings[listing.ID] = listing
	r.s.orders[order.ID] = order
	r.s.live[listing.ID] = order.ID
	return listing.Clone(), nil
}

// Apply проверяет оба ожидаемых статуса и переводит заказ и объявление вместе.
func (r *orderRepository) Apply(_ context.Context, t domain.OrderTransition) (domain.Order, domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[t.OrderID]
	if !ok {
		return domain.Order{}, domain.Listing{}, domain.ErrOrderNotFound
	}
	if order.Status != t.FromOrder {
		return order, domain.Listing{}, domain.OrderMismatch(order.ID, t.FromOrder, order.Status)
	}
	listing, ok := r.s.listings[order.ListingID]
	if !ok {
		return order, domain.Listing{}, domain.ErrListingNotFound
	}
	if listing.Status != t.FromListing || r.s.live[listing.ID] != order.ID {
		return order, listing.Clone(), domain.ListingMismatch(listing.ID, t.FromListing, listing.Status)
	}

	order.Status = t.ToOrder
	order.UpdatedAt = t.At
	if t.TrackingNumber != "" {
		order.TrackingNumber = t.TrackingNumber
	}
	listing.Status = t.ToListing
	listing.Version++
	listing.UpdatedAt = t.At

	r.s.orders[order.ID] = order
	r.s.listings[listing.ID] = listing
	if !order.Status.Live() {
		delete(r.s.live, listing.ID)
	}
	return order, listing.Clone(), nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if filter.Matches(order) {
			result = append(result, order)
		}
	}
	return domain.SortOrders(result, filter.Limit), nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
