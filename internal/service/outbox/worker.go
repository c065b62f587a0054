// Package outbox доставляет события жизненного цикла объявлений и заказов
// из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 5
)

// Исходы доставки для метки outcome.
const (
	outcomeDelivered = "delivered"
	outcomeRetry     = "retry"
	outcomeDead      = "dead"
	outcomeHeld      = "held"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_outbox_deliveries_total",
		Help: "Outbox delivery attempts by aggregate type and outcome.",
	}, []string{"aggregate", "outcome"})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_outbox_messages",
		Help: "Outbox messages by state (pending or dead).",
	}, []string{"state"})
	queueAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_outbox_oldest_pending_seconds",
		Help: "Age of the oldest undelivered outbox message.",
	})
)

type config struct {
	logger       *log.Entry
	deadLetters  domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

// Option настраивает Worker.
type Option func(*config)

func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithDLQPublisher задаёт, куда уходит сообщение после последней неудачной попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *config) { c.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(c *config) { c.batchSize = size }
}

// WithMaxAttempts: сколько циклов подряд сообщение может не доставляться,
// прежде чем станет мёртвым.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// Worker периодически выбирает очередь outbox и публикует её.
//
// Попытки считаются хранилищем, поэтому повтор происходит в следующем цикле,
// а не в цикле ожидания внутри одного прохода. События одного агрегата уходят
// строго по порядку: после неудачи по агрегату его остальные события в этом
// цикле не публикуются.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       config
}

// NewWorker создаёт worker; нулевые и отрицательные значения опций заменяются дефолтами.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultMaxAttempts
	}
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run выполняет ProcessOnce сразу и затем раз в pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce проходит одну пачку очереди и возвращает число доставленных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.Pending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("read outbox queue failed")
		return 0
	}

	held := make(map[string]bool)
	delivered := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if held[msg.AggregateID] {
			deliveries.WithLabelValues(msg.AggregateType, outcomeHeld).Inc()
			continue
		}
		switch w.deliver(ctx, msg) {
		case outcomeDelivered:
			delivered++
		case outcomeRetry:
			held[msg.AggregateID] = true
		}
	}
	return delivered
}

// deliver публикует одно сообщение. outcomeRetry означает, что сообщение
// осталось в очереди и следующие события агрегата нужно придержать.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) string {
	entry := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
		"attempt":      msg.Attempts + 1,
	})

	publishErr := w.publisher.Publish(ctx, msg)
	if publishErr == nil {
		if err := w.repo.MarkDelivered(ctx, msg.ID); err != nil {
			// Сообщение уйдёт ещё раз; получатели дедуплицируют по ID.
			entry.WithError(err).Warn("mark outbox delivered failed")
			return outcomeRetry
		}
		deliveries.WithLabelValues(msg.AggregateType, outcomeDelivered).Inc()
		return outcomeDelivered
	}

	dead := msg.Attempts+1 >= w.cfg.maxAttempts
	if !dead {
		entry.WithError(publishErr).Warn("outbox publish failed, will retry")
		deliveries.WithLabelValues(msg.AggregateType, outcomeRetry).Inc()
		if err := w.repo.RecordFailure(ctx, msg.ID, false); err != nil {
			entry.WithError(err).Warn("record outbox failure failed")
		}
		return outcomeRetry
	}

	entry.WithError(publishErr).Error("outbox message is dead")
	deliveries.WithLabelValues(msg.AggregateType, outcomeDead).Inc()
	if err := w.toDeadLetters(ctx, msg, publishErr); err != nil {
		entry.WithError(err).Warn("dead letter publish failed")
	}
	if err := w.repo.RecordFailure(ctx, msg.ID, true); err != nil {
		entry.WithError(err).Warn("record dead outbox message failed")
		return outcomeRetry
	}
	return outcomeDead
}

// deadLetterEntry: тело сообщения в DLQ; cmd/dlq-replay разбирает его обратно.
type deadLetterEntry struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	DeadAt        time.Time       `json:"dlq_published_at"`
}

func (w *Worker) toDeadLetters(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.cfg.deadLetters == nil {
		return nil
	}
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	body, err := json.Marshal(deadLetterEntry{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Attempts:      msg.Attempts + 1,
		PublishError:  cause.Error(),
		DeadAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	letter := msg
	letter.Payload = body
	return w.cfg.deadLetters.Publish(ctx, letter)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Backlog(context.WithoutCancel(ctx))
	if err != nil {
		w.cfg.logger.WithError(err).Debug("outbox backlog unavailable")
		return
	}
	queueDepth.WithLabelValues("pending").Set(float64(stats.PendingCount))
	queueDepth.WithLabelValues("dead").Set(float64(stats.DeadCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	queueAge.Set(age)
}
