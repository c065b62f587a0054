// Package idempotency вычищает истёкшие захваты Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
	defaultPassLimit = 30 * time.Second
)

var (
	purgePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_idempotency_purge_passes_total",
		Help: "Idempotency purge passes by result.",
	}, []string{"result"})
	purgedClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_idempotency_purged_claims_total",
		Help: "Expired idempotency claims removed by the purger.",
	})
)

// Store: часть IdempotencyRepository, которая нужна Purger.
type Store interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Option настраивает Purger.
type Option func(*Purger)

func WithLogger(logger *log.Entry) Option {
	return func(p *Purger) { p.logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(d time.Duration) Option {
	return func(p *Purger) { p.interval = d }
}

// WithBatchSize задаёт размер одного DELETE.
func WithBatchSize(n int) Option {
	return func(p *Purger) { p.batchSize = n }
}

// WithPassTimeout ограничивает один проход.
func WithPassTimeout(d time.Duration) Option {
	return func(p *Purger) { p.passTimeout = d }
}

// Purger раз в interval удаляет истёкшие захваты порциями по batchSize.
type Purger struct {
	store       Store
	logger      *log.Entry
	interval    time.Duration
	batchSize   int
	passTimeout time.Duration
	now         func() time.Time
}

// NewPurger создаёт Purger; неположительные значения опций заменяются дефолтами.
func NewPurger(store Store, opts ...Option) *Purger {
	p := &Purger{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "idempotency-purger")
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.passTimeout <= 0 {
		p.passTimeout = defaultPassLimit
	}
	return p
}

// Run делает проход сразу и дальше по таймеру, пока ctx не отменён.
func (p *Purger) Run(ctx context.Context) {
	if p.store == nil {
		p.logger.Warn("idempotency purger disabled: no store")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Purger) pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.passTimeout)
	defer cancel()

	removed, err := p.Purge(ctx, p.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		purgePasses.WithLabelValues("error").Inc()
		p.logger.WithError(err).WithField("removed", removed).Warn("idempotency purge failed")
	default:
		purgePasses.WithLabelValues("ok").Inc()
		if removed > 0 {
			p.logger.WithField("removed", removed).Info("expired idempotency keys purged")
		}
	}
}

// Purge удаляет всё, что истекло к before, и возвращает число удалённых.
// Неполная порция означает, что удалять больше нечего.
func (p *Purger) Purge(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = p.now()
	}

	total := 0
	for ctx.Err() == nil {
		n, err := p.store.PurgeExpired(ctx, before, p.batchSize)
		total += n
		purgedClaims.Add(float64(n))
		if err != nil {
			return total, err
		}
		if n < p.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
