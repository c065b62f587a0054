package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const listingColumns = `l.id, l.catalog_id, l.seller_id, l.price, l.images, l.condition_grading, l.status, l.version, l.created_at, l.updated_at`

// lockedListingStatuses: статусы, в которых объявление удерживается заказом.
const lockedListingStatuses = `('TransactionPending', 'AwaitingShipment', 'Shipped', 'Delivered')`

type gradingRow struct {
	IsGraded            bool     `json:"is_graded"`
	Service             string   `json:"service"`
	Score               *float64 `json:"score,omitempty"`
	CertificationNumber string   `json:"certification_number,omitempty"`
}

type listingRepository struct {
	db *sql.DB
}

// NewListingRepository создаёт PostgreSQL-реализацию ListingRepository.
func NewListingRepository(store *Store) domain.ListingRepository {
	return &listingRepository{db: store.DB()}
}

func (r *listingRepository) Create(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	images, grading, err := encodeListingJSON(listing)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, catalog_id, seller_id, price, images, condition_grading,
			status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		listing.ID, listing.CatalogID, listing.SellerID, listing.Price, images, grading,
		string(listing.Status), listing.Version, listing.CreatedAt, listing.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.ErrListingExists
	case isForeignKeyViolation(err):
		return domain.ErrCatalogEntryNotFound
	default:
		return domain.StoreError("insert listing", err)
	}
}

func (r *listingRepository) Get(ctx context.Context, id string) (domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getListing(ctx, r.db, id)
}

func (r *listingRepository) List(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	args := []any{string(filter.EffectiveStatus())}
	conds := []string{"l.status = $1"}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.CatalogID != "" {
		add("l.catalog_id = ?", filter.CatalogID)
	}
	if filter.SellerID != "" {
		add("l.seller_id = ?", filter.SellerID)
	}
	if filter.Team != "" {
		add("c.team = ?", string(filter.Team))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(c.player_name ILIKE ? OR c.series_name ILIKE ?)", "%"+escapeLike(q)+"%")
	}

	var order string
	switch filter.Sort {
	case domain.SortPriceAsc:
		order = "l.price ASC, l.id DESC"
	case domain.SortPriceDesc:
		order = "l.price DESC, l.id DESC"
	default:
		order = "l.created_at DESC, l.id DESC"
	}

	query := `SELECT ` + listingColumns + `
		FROM listings l
		JOIN card_catalogs c ON c.id = l.catalog_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ` + order

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list listings", err)
	}
	defer rows.Close()

	result := make([]domain.Listing, 0)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, domain.StoreError("scan listing", err)
		}
		result = append(result, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("iterate listings", err)
	}
	return result, nil
}

// CompareAndSwapStatus выполняет условный UPDATE ... WHERE status = from.
func (r *listingRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to domain.ListingStatus, at time.Time) (domain.Listing, error) {
	if !domain.CanTransition(from, to) {
		return domain.Listing{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return swapListingStatus(ctx, r.db, id, from, to, at)
}

// Delete удаляет объявление одним условным DELETE, не трогая удерживаемые заказом.
func (r *listingRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM listings
		WHERE id = $1 AND status NOT IN `+lockedListingStatuses, id)
	if err != nil {
		return domain.StoreError("delete listing", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StoreError("delete listing rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := getListing(ctx, r.db, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidState, domain.ListingMismatch(id, domain.ListingStatusActive, current.Status))
}

// queryer: общая часть *sql.DB и *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getListing(ctx context.Context, q queryer, id string) (domain.Listing, error) {
	listing, err := scanListing(q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings l WHERE l.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, domain.StoreError("select listing", err)
	}
	return listing, nil
}

// swapListingStatus переводит объявление from → to. Если строка не обновилась,
// перечитывает её и возвращает NotFound или StatusMismatchError с фактическим статусом.
func swapListingStatus(ctx context.Context, q queryer, id string, from, to domain.ListingStatus, at time.Time) (domain.Listing, error) {
	listing, err := scanListing(q.QueryRowContext(ctx, `
		UPDATE listings l
		SET status = $3, version = version + 1, updated_at = $4
		WHERE l.id = $1 AND l.status = $2
		RETURNING `+listingColumns,
		id, string(from), string(to), at,
	))
	if err == nil {
		return listing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, domain.StoreError("update listing status", err)
	}

	current, err := getListing(ctx, q, id)
	if err != nil {
		return domain.Listing{}, err
	}
	return current, domain.ListingMismatch(id, from, current.Status)
}

func encodeListingJSON(listing domain.Listing) (string, string, error) {
	images := listing.Images
	if images == nil {
		images = []string{}
	}
	rawImages, err := json.Marshal(images)
	if err != nil {
		return "", "", fmt.Errorf("marshal listing images: %w", err)
	}
	g := listing.ConditionGrading
	rawGrading, err := json.Marshal(gradingRow{
		IsGraded:            g.IsGraded,
		Service:             g.Service,
		Score:               g.Score,
		CertificationNumber: g.CertificationNumber,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal condition grading: %w", err)
	}
	return string(rawImages), string(rawGrading), nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                    domain.Listing
		status               string
		rawImages, rawGrades []byte
		grading              gradingRow
	)
	if err := row.Scan(
		&l.ID, &l.CatalogID, &l.SellerID, &l.Price, &rawImages, &rawGrades,
		&status, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Listing{}, err
	}
	if err := json.Unmarshal(rawImages, &l.Images); err != nil {
		return domain.Listing{}, fmt.Errorf("decode listing images: %w", err)
	}
	if err := json.Unmarshal(rawGrades, &grading); err != nil {
		return domain.Listing{}, fmt.Errorf("decode condition grading: %w", err)
	}
	l.ConditionGrading = domain.ConditionGrading{
		IsGraded:            grading.IsGraded,
		Service:             grading.Service,
		Score:               grading.Score,
		CertificationNumber: grading.CertificationNumber,
	}
	l.Status = domain.ListingStatus(status)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

var _ domain.ListingRepository = (*listingRepository)(nil)
