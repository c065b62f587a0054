package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const catalogColumns = `id, manufacturer, team, year, player_name, rarity, series_name, card_number, is_rookie`

// CatalogRepository: справочник карточек в PostgreSQL.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

func (r *CatalogRepository) Get(ctx context.Context, id string) (domain.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry, err := scanCatalogEntry(r.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM card_catalogs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogEntry{}, domain.ErrCatalogEntryNotFound
		}
		return domain.CatalogEntry{}, domain.StoreError("select catalog entry", err)
	}
	return entry, nil
}

func (r *CatalogRepository) Search(ctx context.Context, filter domain.CatalogFilter) ([]domain.CatalogEntry, error) {
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
	if filter.Manufacturer != "" {
		add("manufacturer = ?", string(filter.Manufacturer))
	}
	if filter.Team != "" {
		add("team = ?", string(filter.Team))
	}
	if filter.Year != 0 {
		add("year = ?", filter.Year)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(player_name ILIKE ? OR series_name ILIKE ?)", "%"+escapeLike(q)+"%")
	}

	query := `SELECT ` + catalogColumns + ` FROM card_catalogs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY year DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("search catalog", err)
	}
	defer rows.Close()

	result := make([]domain.CatalogEntry, 0)
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, domain.StoreError("scan catalog entry", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("iterate catalog rows", err)
	}
	return result, nil
}

// Upsert добавляет записи каталога; существующие ID не перезаписываются.
func (r *CatalogRepository) Upsert(ctx context.Context, entries ...domain.CatalogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO card_catalogs (`+catalogColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (id) DO NOTHING
			`,
				e.ID, string(e.Manufacturer), string(e.Team), e.Year, e.PlayerName,
				string(e.Rarity), e.SeriesName, e.CardNumber, e.IsRookie,
			); err != nil {
				return domain.StoreError("insert catalog entry", err)
			}
		}
		return nil
	})
}

func scanCatalogEntry(row rowScanner) (domain.CatalogEntry, error) {
	var (
		e                          domain.CatalogEntry
		manufacturer, team, rarity string
	)
	if err := row.Scan(&e.ID, &manufacturer, &team, &e.Year, &e.PlayerName, &rarity, &e.SeriesName, &e.CardNumber, &e.IsRookie); err != nil {
		return domain.CatalogEntry{}, err
	}
	e.Manufacturer = domain.Manufacturer(manufacturer)
	e.Team = domain.Team(team)
	e.Rarity = domain.Rarity(rarity)
	return e, nil
}

// escapeLike экранирует спецсимволы шаблона ILIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
