package domain

// ListingStatus описывает жизненный цикл объявления. Статус одновременно служит
// блокировкой инвентаря: пока объявление в TransactionPending, второй заказ невозможен.
type ListingStatus string

const (
	// ListingStatusDraft: объявление создано, но ещё не опубликовано.
	ListingStatusDraft ListingStatus = "Draft"
	// ListingStatusActive: объявление доступно для покупки.
	ListingStatusActive ListingStatus = "Active"
	// ListingStatusTransactionPending: заказ создан, ожидаем списание оплаты.
	ListingStatusTransactionPending ListingStatus = "TransactionPending"
	// ListingStatusAwaitingShipment: оплата списана, продавец должен отправить карту.
	ListingStatusAwaitingShipment ListingStatus = "AwaitingShipment"
	// ListingStatusShipped: отправление передано перевозчику.
	ListingStatusShipped ListingStatus = "Shipped"
	// ListingStatusDelivered: покупатель получил отправление.
	ListingStatusDelivered ListingStatus = "Delivered"
	// ListingStatusCompleted: сделка закрыта.
	ListingStatusCompleted ListingStatus = "Completed"
	// ListingStatusCancelled: объявление снято с продажи.
	ListingStatusCancelled ListingStatus = "Cancelled"
)

// ListingTransitions перечисляет все допустимые рёбра автомата объявления.
var ListingTransitions = map[ListingStatus][]ListingStatus{
	ListingStatusDraft:              {ListingStatusActive, ListingStatusCancelled},
	ListingStatusActive:             {ListingStatusTransactionPending, ListingStatusCancelled},
	ListingStatusTransactionPending: {ListingStatusAwaitingShipment, ListingStatusActive},
	ListingStatusAwaitingShipment:   {ListingStatusShipped},
	ListingStatusShipped:            {ListingStatusDelivered},
	ListingStatusDelivered:          {ListingStatusCompleted},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusDraft, ListingStatusActive, ListingStatusTransactionPending,
		ListingStatusAwaitingShipment, ListingStatusShipped, ListingStatusDelivered,
		ListingStatusCompleted, ListingStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s ListingStatus) Terminal() bool {
	return s == ListingStatusCompleted || s == ListingStatusCancelled
}

// Locked сообщает, что объявление удерживается живым заказом.
func (s ListingStatus) Locked() bool {
	switch s {
	case ListingStatusTransactionPending, ListingStatusAwaitingShipment,
		ListingStatusShipped, ListingStatusDelivered:
		return true
	default:
		return false
	}
}

// CanTransition проверяет ребро from → to по таблице ListingTransitions.
func CanTransition(from, to ListingStatus) bool {
	for _, next := range ListingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderStatus описывает жизненный цикл заказа. Для живого заказа он всегда
// совпадает со статусом объявления: оба пишутся одной атомарной операцией.
type OrderStatus string

const (
	OrderStatusTransactionPending OrderStatus = "TransactionPending"
	OrderStatusAwaitingShipment   OrderStatus = "AwaitingShipment"
	OrderStatusShipped            OrderStatus = "Shipped"
	OrderStatusDelivered          OrderStatus = "Delivered"
	OrderStatusCompleted          OrderStatus = "Completed"
	// OrderStatusAbandoned: оплата не прошла, блокировка объявления снята.
	OrderStatusAbandoned OrderStatus = "Abandoned"
)

// OrderStatusUnknown отображается, если объявление заказа удалено.
const OrderStatusUnknown OrderStatus = "Unknown"

// Valid проверяет, что статус относится к хранимым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusTransactionPending, OrderStatusAwaitingShipment, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusAbandoned:
		return true
	default:
		return false
	}
}

// Live сообщает, что заказ удерживает объявление.
func (s OrderStatus) Live() bool {
	switch s {
	case OrderStatusTransactionPending, OrderStatusAwaitingShipment,
		OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// ListingStatusFor возвращает статус объявления, соответствующий статусу заказа.
// Для Abandoned объявлению соответствует Active.
func ListingStatusFor(s OrderStatus) ListingStatus {
	switch s {
	case OrderStatusTransactionPending:
		return ListingStatusTransactionPending
	case OrderStatusAwaitingShipment:
		return ListingStatusAwaitingShipment
	case OrderStatusShipped:
		return ListingStatusShipped
	case OrderStatusDelivered:
		return ListingStatusDelivered
	case OrderStatusCompleted:
		return ListingStatusCompleted
	case OrderStatusAbandoned:
		return ListingStatusActive
	default:
		return ""
	}
}
