package domain

import (
	"strings"
	"time"
)

// RequestClaim: Idempotency-Key, занятый одним POST-запросом к /market.
// Пока Response == nil, запрос считается выполняющимся.
type RequestClaim struct {
	Key         string
	Fingerprint string
	Response    *CachedResponse
	ExpiresAt   time.Time
	ClaimedAt   time.Time
	SettledAt   time.Time
}

// CachedResponse: ответ, который получит повторный запрос с тем же ключом.
// Ошибочные ответы кэшируются наравне с успешными.
type CachedResponse struct {
	Status int
	Body   []byte
}

// InFlight сообщает, что первый запрос с этим ключом ещё не ответил.
func (c RequestClaim) InFlight() bool {
	return c.Response == nil
}

// Expired сообщает, что ключ можно занять заново. Нулевой ExpiresAt не истекает.
func (c RequestClaim) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}

// Matches проверяет, что повтор пришёл с тем же методом, путём и телом.
func (c RequestClaim) Matches(fingerprint string) bool {
	return c.Fingerprint == fingerprint
}

// Failed: ответ с кодом 4xx/5xx.
func (r CachedResponse) Failed() bool {
	return r.Status >= 400
}

// Clone копирует тело, чтобы кэш не делил память с вызывающим.
func (c RequestClaim) Clone() RequestClaim {
	out := c
	if c.Response != nil {
		resp := CachedResponse{Status: c.Response.Status, Body: append([]byte(nil), c.Response.Body...)}
		out.Response = &resp
	}
	return out
}

// NormalizeClaim обрезает пробелы и проверяет, что ключ и отпечаток заданы.
func NormalizeClaim(key, fingerprint string) (string, string, error) {
	key = strings.TrimSpace(key)
	fingerprint = strings.TrimSpace(fingerprint)
	switch {
	case key == "":
		return "", "", ErrIdempotencyKeyRequired
	case fingerprint == "":
		return "", "", ErrIdempotencyFingerprintRequired
	}
	return key, fingerprint, nil
}

// ConflictWith возвращает ошибку для повторного Claim поверх живого захвата c.
func (c RequestClaim) ConflictWith(fingerprint string) error {
	if !c.Matches(fingerprint) {
		return ErrIdempotencyFingerprintMismatch
	}
	return ErrIdempotencyKeyClaimed
}
