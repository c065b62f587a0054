package domain

// Типы агрегатов в outbox.
const (
	AggregateListing = "listing"
	AggregateOrder   = "order"
)

// Типы событий жизненного цикла, публикуемых через outbox.
const (
	EventListingCreated   = "listing.created"
	EventListingPublished = "listing.published"
	EventListingWithdrawn = "listing.withdrawn"
	EventListingDeleted   = "listing.deleted"

	EventOrderCreated   = "order.created"
	EventOrderCaptured  = "order.captured"
	EventOrderFailed    = "order.failed"
	EventOrderShipped   = "order.shipped"
	EventOrderDelivered = "order.delivered"
	EventOrderCompleted = "order.completed"
)

var stepEvents = map[OrderStep]string{
	StepCapture:  EventOrderCaptured,
	StepFail:     EventOrderFailed,
	StepShip:     EventOrderShipped,
	StepDeliver:  EventOrderDelivered,
	StepComplete: EventOrderCompleted,
}

// EventForStep возвращает тип события, которое порождает шаг заказа.
func EventForStep(step OrderStep) string {
	return stepEvents[step]
}
