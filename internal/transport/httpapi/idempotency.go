package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	// IdempotencyKeyHeader: заголовок, по которому повторные запросы
	// получают сохранённый ответ вместо повторного выполнения.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется на ответах, взятых из кэша.
	ReplayedHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotentBody     = 1 << 20
	storeResponseTimeout  = 2 * time.Second
)

type idempotency struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

func newIdempotency(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *idempotency {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &idempotency{
		repo:   repo,
		ttl:    ttl,
		logger: logger.WithField("middleware", "idempotency"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Middleware выполняет POST-запрос с Idempotency-Key не более одного раза.
// Запросы без ключа проходят как есть.
func (m *idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
		if err != nil {
			badRequest(w, "failed to read request body")
			return
		}
		if len(body) > maxIdempotentBody {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large for idempotent replay"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		claim, err := m.repo.Claim(r.Context(), key, requestFingerprint(r.Method, r.URL.Path, body), m.now().Add(m.ttl))
		if err != nil {
			m.reject(w, key, claim, err)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			// Паника обработчика не должна оставлять ключ занятым до истечения TTL.
			if p := recover(); p != nil {
				m.settleFailure(r.Context(), key)
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		m.settle(r.Context(), key, rec)
	})
}

// reject отвечает на запрос, которому не удалось занять ключ: либо отдаёт
// сохранённый ответ, либо объясняет, почему повтор невозможен.
func (m *idempotency) reject(w http.ResponseWriter, key string, held domain.RequestClaim, claimErr error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyFingerprintMismatch):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(claimErr, domain.ErrIdempotencyKeyClaimed) && held.InFlight():
		writeJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
	case errors.Is(claimErr, domain.ErrIdempotencyKeyClaimed):
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(held.Response.Status)
		_, _ = w.Write(held.Response.Body)
	default:
		m.logger.WithError(claimErr).WithField("idempotency_key", key).Warn("idempotency store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

// settle сохраняет ответ. Клиент его уже получил, поэтому ошибка только логируется.
func (m *idempotency) settle(ctx context.Context, key string, rec *responseRecorder) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeResponseTimeout)
	defer cancel()

	resp := domain.CachedResponse{Status: rec.status, Body: rec.body.Bytes()}
	if err := m.repo.Settle(ctx, key, resp); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"status":          resp.Status,
		}).Warn("failed to cache idempotent response")
	}
}

// settleFailure фиксирует 500 для запроса, обработчик которого упал с паникой.
func (m *idempotency) settleFailure(ctx context.Context, key string) {
	rec := &responseRecorder{status: http.StatusInternalServerError}
	body, _ := json.Marshal(errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	rec.body.Write(body)
	m.settle(ctx, key, rec)
}

// requestFingerprint отличает повтор того же запроса от другого запроса под тем же ключом.
func requestFingerprint(method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + " " + path + "|" + hex.EncodeToString(sum[:])
}

// responseRecorder пропускает ответ клиенту и копирует его для кэша.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
