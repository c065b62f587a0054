// Package health отдаёт liveness/readiness пробы и сводный отчёт о зависимостях.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status: состояние зависимости или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	defaultCheckTimeout = 2 * time.Second
	// Пробы kubelet приходят чаще, чем имеет смысл пинговать базу.
	defaultReportTTL = time.Second
	maxParallelChecks = 8
)

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report: тело /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Check
}

// Option настраивает Registry.
type Option func(*Registry)

// WithCheckTimeout ограничивает один прогон всех проверок.
func WithCheckTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithReportTTL задаёт, сколько отчёт переиспользуется; 0 отключает кэш.
func WithReportTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// Registry собирает проверки зависимостей сервиса.
type Registry struct {
	version string
	started time.Time
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	checkers map[string]Checker
	last     *Report
}

func NewRegistry(version string, opts ...Option) *Registry {
	r := &Registry{
		version:  version,
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
		ttl:      defaultReportTTL,
		now:      time.Now,
		checkers: make(map[string]Checker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register добавляет или заменяет проверку и сбрасывает кэш отчёта.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	r.last = nil
}

// Names: имена проверок по алфавиту.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate возвращает свежий отчёт либо кэшированный, если он моложе ttl.
func (r *Registry) Evaluate(ctx context.Context) Report {
	r.mu.RLock()
	last := r.last
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	if last != nil && r.now().Sub(last.Timestamp) < r.ttl {
		return *last
	}

	report := r.run(ctx, checkers)

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
	return report
}

func (r *Registry) run(ctx context.Context, checkers map[string]Checker) Report {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
		group  errgroup.Group
	)
	group.SetLimit(maxParallelChecks)
	for name, checker := range checkers {
		name, checker := name, checker
		group.Go(func() error {
			check := checker.Check(ctx)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	return Report{
		Status:        overall(checks),
		Timestamp:     r.now().UTC(),
		Version:       r.version,
		UptimeSeconds: int64(r.now().Sub(r.started).Seconds()),
		Checks:        checks,
	}
}

// overall: худший статус среди проверок.
func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, c := range checks {
		if c.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Evaluate(req.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready: readiness-проба: 503, пока недоступна критичная зависимость.
func (r *Registry) Ready(w http.ResponseWriter, req *http.Request) {
	if r.Evaluate(req.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Live: liveness-проба, отвечает 200, пока процесс обслуживает HTTP.
func Live(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// Dependency: проверка через функцию ping. Сбой некритичной зависимости
// (Redis, Kafka) даёт degraded, критичной (хранилище): unhealthy.
type Dependency struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

func NewDependency(name string, critical bool, ping func(ctx context.Context) error) *Dependency {
	return &Dependency{name: name, critical: critical, ping: ping}
}

func (d *Dependency) Check(ctx context.Context) Check {
	started := time.Now()
	err := d.ping(ctx)

	check := Check{Name: d.name, Status: StatusHealthy, Critical: d.critical, DurationMs: time.Since(started).Milliseconds()}
	switch {
	case err == nil:
	case d.critical:
		check.Status, check.Message = StatusUnhealthy, err.Error()
	default:
		check.Status, check.Message = StatusDegraded, err.Error()
	}
	return check
}
