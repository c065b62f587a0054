// Package postgres: хранилище маркетплейса на PostgreSQL через pgx stdlib.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// opTimeout ограничивает каждую операцию репозитория.
const opTimeout = 5 * time.Second

const applicationName = "card-market"

// SQLSTATE, которые репозитории превращают в доменные ошибки.
const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolOptions: настройки пула database/sql.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolOptions подходят одному экземпляру сервиса.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Store держит пул соединений и отдаёт его репозиториям.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open разбирает DSN через pgx, открывает пул и ждёт первого успешного ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolOptions())
}

func OpenWithPool(ctx context.Context, dsn string, pool PoolOptions) (*Store, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if connCfg.RuntimeParams["application_name"] == "" {
		connCfg.RuntimeParams["application_name"] = applicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db, timeout: pool.ConnectTimeout}
	if store.timeout <= 0 {
		store.timeout = DefaultPoolOptions().ConnectTimeout
	}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB нужен миграциям, тестам и prometheus-коллектору статистики пула.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-чекером.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx откатывает транзакцию при ошибке fn и возвращает её как есть,
// поэтому доменные ошибки доходят до сервиса без обёртки.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return domain.StoreError("commit tx", err)
	}
	return nil
}

// rowScanner: общее у *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// violation достаёт SQLSTATE и имя нарушенного ограничения из ошибки драйвера.
func violation(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Code, pgErr.ConstraintName
}

func isUniqueViolation(err error) bool {
	code, _ := violation(err)
	return code == sqlstateUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := violation(err)
	return code == sqlstateForeignKeyViolation
}
