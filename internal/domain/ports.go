package domain

import (
	"context"
	"io"
	"time"
)

//go:generate mockgen -destination=mock/catalog_mock.go -package=mock github.com/vladislavdragonenkov/cardmarket/internal/domain CatalogRepository

// CatalogRepository: справочник карточек, только чтение.
type CatalogRepository interface {
	// Get возвращает запись каталога или ErrCatalogEntryNotFound.
	Get(ctx context.Context, id string) (CatalogEntry, error)
	// Search возвращает записи, удовлетворяющие фильтру.
	Search(ctx context.Context, filter CatalogFilter) ([]CatalogEntry, error)
}

// ListingRepository описывает хранилище объявлений.
type ListingRepository interface {
	// Create сохраняет новое объявление. ErrListingExists, если ID занят.
	Create(ctx context.Context, listing Listing) error
	// Get возвращает объявление или ErrListingNotFound.
	Get(ctx context.Context, id string) (Listing, error)
	// List возвращает объявления по фильтру в заданном порядке.
	List(ctx context.Context, filter ListingFilter) ([]Listing, error)
	// CompareAndSwapStatus атомарно меняет статус from → to. Если текущий статус
	// другой, возвращает *StatusMismatchError с фактическим значением.
	CompareAndSwapStatus(ctx context.Context, id string, from, to ListingStatus, at time.Time) (Listing, error)
	// Delete удаляет объявление, если оно не удерживается заказом.
	Delete(ctx context.Context, id string) error
}

// OrderRepository описывает хранилище заказов. Все записи, затрагивающие
// объявление, выполняются вместе с CAS по статусу объявления.
type OrderRepository interface {
	// Place атомарно переводит объявление Active → TransactionPending и создаёт заказ.
	// Возвращает объявление после перехода.
	Place(ctx context.Context, order Order, at time.Time) (Listing, error)
	// Apply атомарно применяет переход к заказу и его объявлению.
	Apply(ctx context.Context, t OrderTransition) (Order, Listing, error)
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// BlobStore хранит загруженные изображения и возвращает публичный URL.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, body io.Reader) (string, error)
}

// OutboxPublisher доставляет событие outbox наружу. Повторная доставка
// того же события допустима: получатели дедуплицируют по ID.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository: очередь событий жизненного цикла до публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// Pending возвращает до limit недоставленных сообщений в порядке Enqueue.
	Pending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string) error
	// RecordFailure засчитывает неудачную попытку. dead=true убирает
	// сообщение из очереди насовсем.
	RecordFailure(ctx context.Context, id string, dead bool) error
	Backlog(ctx context.Context) (OutboxStats, error)
}

// TimelineRepository: append-only журнал заказа. List возвращает события
// в порядке Seq.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) (TimelineEvent, error)
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит захваченные Idempotency-Key и кэш ответов.
type IdempotencyRepository interface {
	// Claim занимает ключ. Если живой захват уже есть, возвращает его вместе
	// с ErrIdempotencyKeyClaimed или ErrIdempotencyFingerprintMismatch.
	// Истёкший захват перезаписывается.
	Claim(ctx context.Context, key, fingerprint string, expiresAt time.Time) (RequestClaim, error)
	Lookup(ctx context.Context, key string) (RequestClaim, error)
	// Settle сохраняет ответ для повторов.
	Settle(ctx context.Context, key string, resp CachedResponse) error
	// PurgeExpired удаляет до limit захватов с ExpiresAt <= before (limit<=0 без ограничения).
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage: событие объявления или заказа в очереди outbox.
// Attempts и CreatedAt заполняет хранилище.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats: размер очереди и возраст самого старого сообщения в ней.
type OutboxStats struct {
	PendingCount    int
	DeadCount       int
	OldestPendingAt time.Time
}
