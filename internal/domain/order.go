package domain

import (
	"sort"
	"time"
)

// Order: попытка покупки одного объявления.
type Order struct {
	ID              string
	ListingID       string
	BuyerID         string
	PaymentMethodID string
	// TotalAmount: снимок цены объявления на момент создания заказа, далее не меняется.
	TotalAmount    int64
	TrackingNumber string
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayStatus вычисляет статус, который видит клиент. Живой заказ показывает
// текущий статус объявления, брошенный: Abandoned, без объявления: Unknown.
func (o Order) DisplayStatus(listing *Listing) OrderStatus {
	if o.Status == OrderStatusAbandoned {
		return OrderStatusAbandoned
	}
	if listing == nil {
		return OrderStatusUnknown
	}
	return OrderStatus(listing.Status)
}

// OrderTransition: один атомарный шаг исполнения заказа: CAS по статусу заказа
// и статусу его объявления одновременно.
type OrderTransition struct {
	OrderID     string
	FromOrder   OrderStatus
	ToOrder     OrderStatus
	FromListing ListingStatus
	ToListing   ListingStatus
	// TrackingNumber записывается только на шаге отправки.
	TrackingNumber string
	At             time.Time
}

// OrderStep: именованный шаг конвейера исполнения.
type OrderStep string

const (
	StepCapture  OrderStep = "capture"
	StepFail     OrderStep = "fail"
	StepShip     OrderStep = "ship"
	StepDeliver  OrderStep = "deliver"
	StepComplete OrderStep = "complete"
)

// orderSteps описывает рёбра пары автоматов для каждого шага.
var orderSteps = map[OrderStep]OrderTransition{
	StepCapture: {
		FromOrder: OrderStatusTransactionPending, ToOrder: OrderStatusAwaitingShipment,
		FromListing: ListingStatusTransactionPending, ToListing: ListingStatusAwaitingShipment,
	},
	StepFail: {
		FromOrder: OrderStatusTransactionPending, ToOrder: OrderStatusAbandoned,
		FromListing: ListingStatusTransactionPending, ToListing: ListingStatusActive,
	},
	StepShip: {
		FromOrder: OrderStatusAwaitingShipment, ToOrder: OrderStatusShipped,
		FromListing: ListingStatusAwaitingShipment, ToListing: ListingStatusShipped,
	},
	StepDeliver: {
		FromOrder: OrderStatusShipped, ToOrder: OrderStatusDelivered,
		FromListing: ListingStatusShipped, ToListing: ListingStatusDelivered,
	},
	StepComplete: {
		FromOrder: OrderStatusDelivered, ToOrder: OrderStatusCompleted,
		FromListing: ListingStatusDelivered, ToListing: ListingStatusCompleted,
	},
}

// TransitionFor возвращает переход шага step для заказа orderID.
func TransitionFor(step OrderStep, orderID string, at time.Time) (OrderTransition, bool) {
	t, ok := orderSteps[step]
	if !ok {
		return OrderTransition{}, false
	}
	t.OrderID = orderID
	t.At = at
	return t, true
}

// OrderFilter: параметры выборки заказов.
type OrderFilter struct {
	BuyerID   string
	ListingID string
	Limit     int
}

// Matches проверяет заказ на соответствие фильтру.
func (f OrderFilter) Matches(o Order) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.ListingID != "" && o.ListingID != f.ListingID {
		return false
	}
	return true
}

// SortOrders упорядочивает заказы от новых к старым и обрезает до limit (если >0).
func SortOrders(items []Order, limit int) []Order {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
