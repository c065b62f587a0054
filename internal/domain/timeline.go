package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "OrderCreated"
	TimelineStatusChanged  = "OrderStatusChanged"
	TimelineOrderAbandoned = "OrderAbandoned"
	TimelineTrackingSet    = "TrackingNumberSet"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Seq: номер события внутри заказа, начиная с 1; его выдаёт хранилище.
type TimelineEvent struct {
	OrderID  string
	Seq      int64
	Type     string
	Reason   string
	Occurred time.Time
}
