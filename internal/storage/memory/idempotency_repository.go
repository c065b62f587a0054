package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const defaultClaimTTL = 24 * time.Hour

// IdempotencyRepository держит захваты ключей в map.
type IdempotencyRepository struct {
	mu     sync.Mutex
	claims map[string]domain.RequestClaim
	now    func() time.Time
}

// NewIdempotencyRepository создаёт пустой in-memory кэш ответов.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		claims: make(map[string]domain.RequestClaim),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) Claim(_ context.Context, key, fingerprint string, expiresAt time.Time) (domain.RequestClaim, error) {
	key, fingerprint, err := domain.NormalizeClaim(key, fingerprint)
	if err != nil {
		return domain.RequestClaim{}, err
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultClaimTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.claims[key]; ok && !held.Expired(now) {
		return held.Clone(), held.ConflictWith(fingerprint)
	}

	claim := domain.RequestClaim{Key: key, Fingerprint: fingerprint, ExpiresAt: expiresAt, ClaimedAt: now}
	r.claims[key] = claim
	return claim, nil
}

func (r *IdempotencyRepository) Lookup(_ context.Context, key string) (domain.RequestClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claim, ok := r.claims[key]
	if !ok {
		return domain.RequestClaim{}, domain.ErrIdempotencyKeyNotFound
	}
	return claim.Clone(), nil
}

// Settle кладёт ответ в захват. Повторный Settle перезаписывает ответ.
func (r *IdempotencyRepository) Settle(_ context.Context, key string, resp domain.CachedResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	claim, ok := r.claims[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	claim.Response = &resp
	claim.SettledAt = r.now()
	r.claims[key] = claim.Clone()
	return nil
}

// PurgeExpired удаляет самые старые истёкшие захваты первыми.
func (r *IdempotencyRepository) PurgeExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.RequestClaim
	for _, claim := range r.claims {
		if claim.Expired(before) {
			expired = append(expired, claim)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, claim := range expired {
		delete(r.claims, claim.Key)
	}
	return len(expired), nil
}

// Len: число захватов, включая истёкшие (для тестов и метрик).
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
