package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const claimColumns = `key, fingerprint, response_status, response_body, expires_at, claimed_at, settled_at`

type idempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository хранит захваты Idempotency-Key в таблице request_claims.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

// Claim вставляет захват или перезаписывает истёкший одним запросом.
// Если строку держит живой захват, RETURNING ничего не вернёт и мы
// дочитываем его, чтобы отдать ответ для повтора.
func (r *idempotencyRepository) Claim(ctx context.Context, key, fingerprint string, expiresAt time.Time) (domain.RequestClaim, error) {
	key, fingerprint, err := domain.NormalizeClaim(key, fingerprint)
	if err != nil {
		return domain.RequestClaim{}, err
	}
	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	claim, err := scanClaim(r.db.QueryRowContext(ctx, `
		INSERT INTO request_claims (key, fingerprint, expires_at, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    response_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    claimed_at = EXCLUDED.claimed_at,
		    settled_at = NULL
		WHERE request_claims.expires_at <= EXCLUDED.claimed_at
		RETURNING `+claimColumns,
		key, fingerprint, expiresAt, now))
	switch {
	case err == nil:
		return claim, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.RequestClaim{}, domain.StoreError("claim idempotency key", err)
	}

	held, err := r.Lookup(ctx, key)
	if err != nil {
		// захват истёк и был вычищен между запросами
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return domain.RequestClaim{}, domain.ErrIdempotencyKeyClaimed
		}
		return domain.RequestClaim{}, err
	}
	return held, held.ConflictWith(fingerprint)
}

func (r *idempotencyRepository) Lookup(ctx context.Context, key string) (domain.RequestClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	claim, err := scanClaim(r.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM request_claims WHERE key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RequestClaim{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.RequestClaim{}, domain.StoreError("lookup idempotency key", err)
	}
	return claim, nil
}

func (r *idempotencyRepository) Settle(ctx context.Context, key string, resp domain.CachedResponse) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE request_claims
		SET response_status = $2, response_body = $3, settled_at = $4
		WHERE key = $1
	`, key, resp.Status, body, r.now())
	if err != nil {
		return domain.StoreError("settle idempotency key", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.StoreError("settle rows affected", err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// PurgeExpired удаляет истёкшие захваты, начиная с самых старых.
func (r *idempotencyRepository) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает "без ограничения".
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM request_claims
		WHERE key IN (
			SELECT key FROM request_claims
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, domain.StoreError("purge idempotency keys", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreError("purge rows affected", err)
	}
	return int(n), nil
}

func scanClaim(row rowScanner) (domain.RequestClaim, error) {
	var (
		claim     domain.RequestClaim
		status    sql.NullInt64
		body      []byte
		settledAt sql.NullTime
	)
	if err := row.Scan(&claim.Key, &claim.Fingerprint, &status, &body,
		&claim.ExpiresAt, &claim.ClaimedAt, &settledAt); err != nil {
		return domain.RequestClaim{}, err
	}
	claim.ExpiresAt = claim.ExpiresAt.UTC()
	claim.ClaimedAt = claim.ClaimedAt.UTC()
	if status.Valid {
		claim.Response = &domain.CachedResponse{Status: int(status.Int64), Body: append([]byte(nil), body...)}
		claim.SettledAt = settledAt.Time.UTC()
	}
	return claim, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
