// Package order ведёт заказ по конвейеру исполнения. Каждый шаг: один
// атомарный переход пары «заказ + объявление» в хранилище.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/metrics"
)

// CreateInput: запрос на покупку объявления.
type CreateInput struct {
	ListingID       string
	PaymentMethodID string
	BuyerID         string
}

// Manager: сервис заказов.
type Manager struct {
	orders   domain.OrderRepository
	listings domain.ListingRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.MarketMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewManager создаёт сервис заказов. outbox, timeline и m могут быть nil.
func NewManager(
	orders domain.OrderRepository,
	listings domain.ListingRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	m *metrics.MarketMetrics,
	logger *log.Entry,
) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "order")
	}
	return &Manager{
		orders:   orders,
		listings: listings,
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create блокирует Active объявление и создаёт заказ со снимком цены.
// Из двух конкурентных покупок выигрывает ровно одна, проигравшая получает
// ErrConflict со статусом объявления после чужого перехода.
func (m *Manager) Create(ctx context.Context, in CreateInput) (domain.Order, error) {
	token := strings.TrimSpace(in.PaymentMethodID)
	if token == "" {
		return domain.Order{}, domain.ErrPaymentTokenRequired
	}

	listing, err := m.listings.Get(ctx, in.ListingID)
	if err != nil {
		return domain.Order{}, err
	}
	if listing.Status != domain.ListingStatusActive {
		return domain.Order{}, m.purchaseConflict(domain.ListingMismatch(listing.ID, domain.ListingStatusActive, listing.Status))
	}

	buyerID := strings.TrimSpace(in.BuyerID)
	if buyerID == "" {
		buyerID = uuid.NewString()
	}
	now := m.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		ListingID:       listing.ID,
		BuyerID:         buyerID,
		PaymentMethodID: token,
	}

	locked, err := m.orders.Place(ctx, order, now)
	if err != nil {
		if mismatch, ok := domain.AsStatusMismatch(err); ok {
			return domain.Order{}, m.purchaseConflict(mismatch)
		}
		if errors.Is(err, domain.ErrLiveOrderExists) {
			return domain.Order{}, m.purchaseConflict(err)
		}
		m.logger.WithError(err).WithField("listing_id", listing.ID).Error("place order failed")
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusTransactionPending
	order.TotalAmount = locked.Price
	order.CreatedAt = now
	order.UpdatedAt = now

	if m.metrics != nil {
		m.metrics.RecordOrderCreated()
		m.metrics.RecordListingTransition(string(locked.Status))
	}
	m.record(ctx, order, domain.TimelineOrderCreated, "", now)
	m.emit(ctx, order, domain.EventOrderCreated, nil)
	m.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"listing_id": order.ListingID,
		"total":      order.TotalAmount,
	}).Info("order created")
	return order, nil
}

// Capture фиксирует успешное списание: TransactionPending → AwaitingShipment.
func (m *Manager) Capture(ctx context.Context, id string) (domain.Order, error) {
	return m.advance(ctx, domain.StepCapture, id, "")
}

// Fail обрабатывает отказ платежа: объявление возвращается в Active,
// заказ становится Abandoned.
func (m *Manager) Fail(ctx context.Context, id string) (domain.Order, error) {
	return m.advance(ctx, domain.StepFail, id, "")
}

// Ship записывает трек-номер: AwaitingShipment → Shipped.
func (m *Manager) Ship(ctx context.Context, id, trackingNumber string) (domain.Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return domain.Order{}, domain.ErrTrackingRequired
	}
	return m.advance(ctx, domain.StepShip, id, trackingNumber)
}

func (m *Manager) Deliver(ctx context.Context, id string) (domain.Order, error) {
	return m.advance(ctx, domain.StepDeliver, id, "")
}

func (m *Manager) Complete(ctx context.Context, id string) (domain.Order, error) {
	return m.advance(ctx, domain.StepComplete, id, "")
}

// Get возвращает заказ с вычисленным статусом (см. domain.Order.DisplayStatus).
func (m *Manager) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := m.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	listing, err := m.lookupListing(ctx, order.ListingID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = order.DisplayStatus(listing)
	return order, nil
}

// List возвращает заказы по фильтру, новые первыми, с вычисленными статусами.
func (m *Manager) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	orders, err := m.orders.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	listings := make(map[string]*domain.Listing, len(orders))
	for i := range orders {
		listing, seen := listings[orders[i].ListingID]
		if !seen {
			listing, err = m.lookupListing(ctx, orders[i].ListingID)
			if err != nil {
				return nil, err
			}
			listings[orders[i].ListingID] = listing
		}
		orders[i].Status = orders[i].DisplayStatus(listing)
	}
	return orders, nil
}

// Timeline возвращает историю событий заказа.
func (m *Manager) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if _, err := m.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	if m.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return m.timeline.List(ctx, id)
}

// advance применяет шаг step. Проигранный CAS по любой из двух записей
// превращается в ErrInvalidState, состояние при этом не меняется.
func (m *Manager) advance(ctx context.Context, step domain.OrderStep, id, trackingNumber string) (domain.Order, error) {
	start := time.Now()
	now := m.now()

	tr, ok := domain.TransitionFor(step, id, now)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown step %s", domain.ErrInvalidState, step)
	}
	tr.TrackingNumber = trackingNumber

	order, listing, err := m.orders.Apply(ctx, tr)
	if err != nil {
		result := metrics.ResultRejected
		if mismatch, ok := domain.AsStatusMismatch(err); ok {
			err = fmt.Errorf("%w: %w", domain.ErrInvalidState, mismatch)
			m.logger.WithFields(log.Fields{
				"order_id": id,
				"step":     step,
				"expected": mismatch.Expected,
				"actual":   mismatch.Actual,
			}).Warn("order step rejected")
		} else if domain.IsStore(err) {
			result = metrics.ResultError
			m.logger.WithError(err).WithFields(log.Fields{
				"order_id": id,
				"step":     step,
			}).Error("order step failed")
		}
		if m.metrics != nil {
			m.metrics.RecordOrderStep(string(step), result, time.Since(start))
		}
		return domain.Order{}, err
	}

	if m.metrics != nil {
		m.metrics.RecordOrderStep(string(step), metrics.ResultOK, time.Since(start))
		m.metrics.RecordListingTransition(string(listing.Status))
		if !order.Status.Live() {
			m.metrics.RecordOrderReleased()
		}
	}

	reason := fmt.Sprintf("%s -> %s", tr.FromOrder, tr.ToOrder)
	switch step {
	case domain.StepFail:
		m.record(ctx, order, domain.TimelineOrderAbandoned, "payment failed", now)
	case domain.StepShip:
		m.record(ctx, order, domain.TimelineStatusChanged, reason, now)
		m.record(ctx, order, domain.TimelineTrackingSet, trackingNumber, now)
	default:
		m.record(ctx, order, domain.TimelineStatusChanged, reason, now)
	}
	m.emit(ctx, order, domain.EventForStep(step), map[string]interface{}{
		"listing_status": listing.Status,
	})

	m.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"listing_id": order.ListingID,
		"step":       step,
		"status":     order.Status,
	}).Info("order step applied")

	order.Status = order.DisplayStatus(&listing)
	return order, nil
}

func (m *Manager) purchaseConflict(cause error) error {
	if m.metrics != nil {
		m.metrics.RecordPurchaseConflict()
	}
	fields := log.Fields{}
	if mismatch, ok := domain.AsStatusMismatch(cause); ok {
		fields["listing_id"] = mismatch.ID
		fields["actual"] = mismatch.Actual
	}
	m.logger.WithFields(fields).Warn("purchase rejected")
	if errors.Is(cause, domain.ErrConflict) {
		return cause
	}
	return fmt.Errorf("%w: %w", domain.ErrListingUnavailable, cause)
}

// lookupListing возвращает nil, если объявление удалено.
func (m *Manager) lookupListing(ctx context.Context, id string) (*domain.Listing, error) {
	listing, err := m.listings.Get(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

// record пишет событие в таймлайн. Переход уже зафиксирован, ошибка только логируется.
func (m *Manager) record(ctx context.Context, order domain.Order, eventType, reason string, at time.Time) {
	if m.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: at,
	}
	if _, err := m.timeline.Append(context.WithoutCancel(ctx), event); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("append timeline event failed")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordTimelineEvent()
	}
}

func (m *Manager) emit(ctx context.Context, order domain.Order, eventType string, extra map[string]interface{}) {
	if m.outbox == nil {
		return
	}
	payload := map[string]interface{}{
		"order_id":     order.ID,
		"listing_id":   order.ListingID,
		"buyer_id":     order.BuyerID,
		"total_amount": order.TotalAmount,
		"status":       order.Status,
		"ts":           order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if order.TrackingNumber != "" {
		payload["tracking_number"] = order.TrackingNumber
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := m.outbox.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordOutboxEvent()
	}
}
