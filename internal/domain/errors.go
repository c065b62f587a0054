package domain

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок. Конкретные ошибки оборачивают одну из них,
// транспорт выбирает код ответа по категории.
var (
	// ErrValidation: входные данные нарушают политику (цена, количество фото).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: объявление, заказ или запись каталога не существует.
	ErrNotFound = errors.New("not found")
	// ErrConflict: конкурентная операция уже изменила состояние ресурса.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: ресурс существует, но не в том статусе для перехода.
	ErrInvalidState = errors.New("invalid state")
	// ErrStore: сбой хранилища; частично применённых переходов не бывает.
	ErrStore = errors.New("store failure")
)

var (
	ErrPriceTooLow          = fmt.Errorf("%w: price must be at least %d", ErrValidation, MinListingPrice)
	ErrTooFewImages         = fmt.Errorf("%w: at least %d images are required", ErrValidation, MinListingImages)
	ErrCatalogIDRequired    = fmt.Errorf("%w: catalog_id is required", ErrValidation)
	ErrGradingServiceEmpty  = fmt.Errorf("%w: condition_grading.service is required", ErrValidation)
	ErrPaymentTokenRequired = fmt.Errorf("%w: payment_method_id is required", ErrValidation)
	ErrTrackingRequired     = fmt.Errorf("%w: tracking_number is required", ErrValidation)
	ErrUnknownSort          = fmt.Errorf("%w: unknown sort order", ErrValidation)

	ErrListingNotFound      = fmt.Errorf("listing %w", ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrCatalogEntryNotFound = fmt.Errorf("catalog entry %w", ErrNotFound)

	// ErrListingUnavailable возвращается при попытке купить неактивное объявление.
	ErrListingUnavailable = fmt.Errorf("%w: item is not available for purchase", ErrConflict)
	// ErrListingExists: запись с таким ID уже есть в хранилище.
	ErrListingExists = fmt.Errorf("%w: listing already exists", ErrConflict)
	// ErrOrderExists: запись заказа с таким ID уже есть в хранилище.
	ErrOrderExists = fmt.Errorf("%w: order already exists", ErrConflict)
	// ErrLiveOrderExists: у объявления уже есть незавершённый заказ.
	ErrLiveOrderExists = fmt.Errorf("%w: listing already has a live order", ErrConflict)

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyFingerprintRequired = errors.New("request fingerprint is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrIdempotencyKeyClaimed: ключ занят живым запросом с тем же отпечатком.
	ErrIdempotencyKeyClaimed = errors.New("idempotency key is already claimed")
	// ErrIdempotencyFingerprintMismatch: ключ переиспользован для другого запроса.
	ErrIdempotencyFingerprintMismatch = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: отметка о доставке пришла для неизвестного ID.
	ErrOutboxMessageNotFound = fmt.Errorf("outbox message %w", ErrNotFound)
)

// StatusMismatchError описывает проигранный compare-and-swap: хранилище видело
// Actual вместо ожидаемого Expected. Actual: состояние после чужого перехода.
type StatusMismatchError struct {
	Entity   string
	ID       string
	Expected string
	Actual   string
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("%s %s: expected status %s, got %s", e.Entity, e.ID, e.Expected, e.Actual)
}

// ListingMismatch собирает StatusMismatchError для объявления.
func ListingMismatch(id string, expected, actual ListingStatus) *StatusMismatchError {
	return &StatusMismatchError{Entity: "listing", ID: id, Expected: string(expected), Actual: string(actual)}
}

// OrderMismatch собирает StatusMismatchError для заказа.
func OrderMismatch(id string, expected, actual OrderStatus) *StatusMismatchError {
	return &StatusMismatchError{Entity: "order", ID: id, Expected: string(expected), Actual: string(actual)}
}

// AsStatusMismatch извлекает StatusMismatchError из цепочки.
func AsStatusMismatch(err error) (*StatusMismatchError, bool) {
	var mismatch *StatusMismatchError
	if errors.As(err, &mismatch) {
		return mismatch, true
	}
	return nil, false
}

func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsStore(err error) bool        { return errors.Is(err, ErrStore) }

// IsIdempotencyConflict проверяет, относится ли ошибка к конфликту ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyClaimed) || errors.Is(err, ErrIdempotencyFingerprintMismatch)
}

// StoreError оборачивает инфраструктурную ошибку хранилища категорией ErrStore.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
