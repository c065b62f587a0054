// Package redis хранит захваты Idempotency-Key в Redis. Ключ занимается SET NX,
// а истёкшие записи Redis удаляет сам по PX.
package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	claimPrefix     = "market:claim:"
	defaultClaimTTL = 24 * time.Hour
	// Уже истёкший захват держится минимально, чтобы SET NX оставался атомарным.
	minClaimTTL = time.Millisecond
)

// settleScript перезаписывает ответ внутри существующего захвата, сохраняя TTL.
// Возвращает 0, если ключ уже истёк.
var settleScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local claim = cjson.decode(raw)
claim["status"] = tonumber(ARGV[1])
claim["body"] = ARGV[2]
claim["settled"] = ARGV[3]
redis.call("SET", KEYS[1], cjson.encode(claim), "KEEPTTL")
return 1
`)

// storedClaim: JSON-значение захвата в Redis.
type storedClaim struct {
	Fingerprint string    `json:"fp"`
	Status      int       `json:"status,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	ExpiresAt   time.Time `json:"expires"`
	ClaimedAt   time.Time `json:"claimed"`
	SettledAt   time.Time `json:"settled,omitempty"`
}

// IdempotencyRepository: domain.IdempotencyRepository поверх go-redis.
type IdempotencyRepository struct {
	client *redis.Client
	now    func() time.Time
}

func NewIdempotencyRepository(client *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Ping нужен health-чекеру.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *IdempotencyRepository) Claim(ctx context.Context, key, fingerprint string, expiresAt time.Time) (domain.RequestClaim, error) {
	key, fingerprint, err := domain.NormalizeClaim(key, fingerprint)
	if err != nil {
		return domain.RequestClaim{}, err
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultClaimTTL)
	}
	ttl := expiresAt.Sub(now)
	if ttl < minClaimTTL {
		ttl = minClaimTTL
	}

	value := storedClaim{Fingerprint: fingerprint, ExpiresAt: expiresAt, ClaimedAt: now}
	raw, err := json.Marshal(value)
	if err != nil {
		return domain.RequestClaim{}, domain.StoreError("encode request claim", err)
	}

	won, err := r.client.SetNX(ctx, claimPrefix+key, raw, ttl).Result()
	if err != nil {
		return domain.RequestClaim{}, domain.StoreError("claim idempotency key", err)
	}
	if won {
		return value.toClaim(key), nil
	}

	held, err := r.Lookup(ctx, key)
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		// Захват истёк между SET NX и GET: клиенту достаточно повторить запрос.
		return domain.RequestClaim{}, domain.ErrIdempotencyKeyClaimed
	}
	if err != nil {
		return domain.RequestClaim{}, err
	}
	return held, held.ConflictWith(fingerprint)
}

func (r *IdempotencyRepository) Lookup(ctx context.Context, key string) (domain.RequestClaim, error) {
	raw, err := r.client.Get(ctx, claimPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.RequestClaim{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.RequestClaim{}, domain.StoreError("get request claim", err)
	}

	var value storedClaim
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.RequestClaim{}, domain.StoreError("decode request claim", err)
	}
	return value.toClaim(key), nil
}

// Settle атомарно дописывает ответ в захват скриптом на стороне Redis.
func (r *IdempotencyRepository) Settle(ctx context.Context, key string, resp domain.CachedResponse) error {
	settledAt, err := r.now().MarshalText()
	if err != nil {
		return domain.StoreError("encode settle time", err)
	}
	// []byte в storedClaim кодируется base64, скрипт кладёт уже готовую строку.
	body := base64.StdEncoding.EncodeToString(resp.Body)

	updated, err := settleScript.Run(ctx, r.client, []string{claimPrefix + key}, resp.Status, body, string(settledAt)).Int()
	if err != nil {
		return domain.StoreError("settle request claim", err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// PurgeExpired ничего не удаляет: Redis снимает истёкшие захваты по TTL.
func (r *IdempotencyRepository) PurgeExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s storedClaim) toClaim(key string) domain.RequestClaim {
	claim := domain.RequestClaim{
		Key:         key,
		Fingerprint: s.Fingerprint,
		ExpiresAt:   s.ExpiresAt,
		ClaimedAt:   s.ClaimedAt,
		SettledAt:   s.SettledAt,
	}
	if !s.SettledAt.IsZero() {
		claim.Response = &domain.CachedResponse{Status: s.Status, Body: append([]byte(nil), s.Body...)}
	}
	return claim
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
