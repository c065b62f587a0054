package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result для шагов заказа.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// MarketMetrics содержит метрики жизненного цикла объявлений и заказов.
type MarketMetrics struct {
	listingsCreated    prometheus.Counter
	listingTransitions *prometheus.CounterVec

	ordersCreated     prometheus.Counter
	purchaseConflicts prometheus.Counter
	orderSteps        *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge заказов, удерживающих объявление.
	liveOrders prometheus.Gauge
}

// NewMarketMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewMarketMetrics() *MarketMetrics {
	return NewMarketMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMarketMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewMarketMetricsWithRegisterer(registerer prometheus.Registerer) *MarketMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MarketMetrics{
		listingsCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_listings_created_total",
			Help: "Listings created.",
		})),
		listingTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_listing_transitions_total",
			Help: "Listing status transitions by target status.",
		}, []string{"to"})),
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_orders_created_total",
			Help: "Orders created.",
		})),
		purchaseConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_purchase_conflicts_total",
			Help: "Purchases rejected because the listing was not available.",
		})),
		orderSteps: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_order_steps_total",
			Help: "Order lifecycle steps by step and result.",
		}, []string{"step", "result"})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_order_step_duration_seconds",
			Help:    "Order lifecycle step latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"step"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_timeline_events_total",
			Help: "Order timeline events recorded.",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_outbox_events_total",
			Help: "Lifecycle events enqueued to the outbox.",
		})),
		liveOrders: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_live_orders",
			Help: "Orders currently holding a listing.",
		})),
	}
}

// register регистрирует c или, если такой коллектор уже есть, возвращает
// существующий. Так NewMarketMetrics можно вызывать повторно (в тестах).
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	err := registerer.Register(c)
	if err == nil {
		return c
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("register metric: %v", err))
}

// RecordListingCreated увеличивает счётчик созданных объявлений.
func (m *MarketMetrics) RecordListingCreated() {
	m.listingsCreated.Inc()
}

// RecordListingTransition учитывает переход объявления в статус to.
func (m *MarketMetrics) RecordListingTransition(to string) {
	m.listingTransitions.WithLabelValues(to).Inc()
}

// RecordOrderCreated учитывает новый заказ; он сразу удерживает объявление.
func (m *MarketMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
	m.liveOrders.Inc()
}

func (m *MarketMetrics) RecordPurchaseConflict() {
	m.purchaseConflicts.Inc()
}

// RecordOrderStep учитывает результат шага конвейера и его длительность.
func (m *MarketMetrics) RecordOrderStep(step, result string, duration time.Duration) {
	m.orderSteps.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOrderReleased уменьшает gauge живых заказов (Complete или Fail).
func (m *MarketMetrics) RecordOrderReleased() {
	m.liveOrders.Dec()
}

func (m *MarketMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

func (m *MarketMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
