package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	orderColumns = `id, listing_id, buyer_id, payment_method_id, total_amount, tracking_number, status, created_at, updated_at`

	liveOrderConstraint = "orders_one_live_per_listing"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Place в одной транзакции блокирует объявление условным UPDATE и вставляет заказ.
// Частичный уникальный индекс orders_one_live_per_listing страхует от второго живого заказа.
func (r *orderRepository) Place(ctx context.Context, order domain.Order, at time.Time) (domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var locked domain.Listing
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		listing, err := swapListingStatus(ctx, tx, order.ListingID,
			domain.ListingStatusActive, domain.ListingStatusTransactionPending, at)
		if err != nil {
			locked = listing
			return err
		}
		locked = listing

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,'',$6,$7,$7)
		`,
			order.ID, order.ListingID, order.BuyerID, order.PaymentMethodID,
			listing.Price, string(domain.OrderStatusTransactionPending), at,
		)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			if _, constraint := violation(err); constraint == liveOrderConstraint {
				return domain.ErrLiveOrderExists
			}
			return domain.ErrOrderExists
		}
		return domain.StoreError("insert order", err)
	})
	if err != nil {
		if _, ok := domain.AsStatusMismatch(err); ok {
			return locked, err
		}
		return domain.Listing{}, err
	}
	return locked, nil
}

// Apply выполняет переход заказа и объявления в одной транзакции.
// Оба UPDATE условные: при расхождении статусов транзакция откатывается.
func (r *orderRepository) Apply(ctx context.Context, t domain.OrderTransition) (domain.Order, domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order   domain.Order
		listing domain.Listing
	)
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		order, err = scanOrder(tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $3,
			    tracking_number = COALESCE(NULLIF($4, ''), tracking_number),
			    updated_at = $5
			WHERE id = $1 AND status = $2
			RETURNING `+orderColumns,
			t.OrderID, string(t.FromOrder), string(t.ToOrder), t.TrackingNumber, t.At,
		))
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return domain.StoreError("update order status", err)
			}
			current, getErr := getOrder(ctx, tx, t.OrderID)
			if getErr != nil {
				return getErr
			}
			order = current
			return domain.OrderMismatch(t.OrderID, t.FromOrder, current.Status)
		}

		listing, err = swapListingStatus(ctx, tx, order.ListingID, t.FromListing, t.ToListing, t.At)
		return err
	})
	if err != nil {
		return order, listing, err
	}
	return order, listing, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getOrder(ctx, r.db, id)
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.BuyerID != "" {
		add("buyer_id = ?", filter.BuyerID)
	}
	if filter.ListingID != "" {
		add("listing_id = ?", filter.ListingID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, domain.StoreError("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("iterate order rows", err)
	}
	return orders, nil
}

func getOrder(ctx context.Context, q queryer, id string) (domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.StoreError("select order", err)
	}
	return order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.PaymentMethodID, &o.TotalAmount,
		&o.TrackingNumber, &status, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
