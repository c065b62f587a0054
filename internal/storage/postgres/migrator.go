package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

const (
	migrationsDir = "sql/migrations"
	// Ключ pg_advisory_lock, общий для всех экземпляров сервиса и cmd/migrate.
	migrationLock = int64(0x6d61726b6574) // "market"

	ensureLedger = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// ErrMigrationDrift: применённая миграция не совпадает с файлом в бинаре.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

// schemaStep: пара NNN_name.up.sql / NNN_name.down.sql.
type schemaStep struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (s schemaStep) String() string {
	return fmt.Sprintf("%03d_%s", s.version, s.name)
}

// MigrationState: что применено в базе и что ещё ждёт.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
}

// MigrateUp применяет до steps ещё не применённых миграций; steps<=0 применяет все.
// Перед этим сверяет контрольные суммы уже применённых.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error {
		if err := verifyChecksums(plan, applied); err != nil {
			return err
		}
		done := 0
		for _, step := range plan {
			if _, ok := applied[step.version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runStep(ctx, conn, step.up,
				`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				step.version, step.name, step.checksum); err != nil {
				return fmt.Errorf("apply %s: %w", step, err)
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error {
		versions := make([]int64, 0, len(applied))
		for version := range applied {
			versions = append(versions, version)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, version := range versions {
			step, ok := findStep(plan, version)
			if !ok {
				return fmt.Errorf("cannot revert migration %d: no such file in this build", version)
			}
			if err := runStep(ctx, conn, step.down,
				`DELETE FROM schema_migrations WHERE version = $1`, step.version); err != nil {
				return fmt.Errorf("revert %s: %w", step, err)
			}
		}
		return nil
	})
}

// MigrationState читает журнал schema_migrations без блокировки.
func (s *Store) MigrationState(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	plan, err := readSchemaSteps(embeddedMigrations, migrationsDir)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	applied, err := loadLedger(ctx, conn)
	if err != nil {
		return MigrationState{}, err
	}
	return stateOf(plan, applied), nil
}

func stateOf(plan []schemaStep, applied map[int64]string) MigrationState {
	var state MigrationState
	for version := range applied {
		state.Applied++
		if version > state.Version {
			state.Version = version
		}
	}
	for _, step := range plan {
		if _, ok := applied[step.version]; !ok {
			state.Pending = append(state.Pending, step.String())
		}
	}
	return state
}

type migrationFunc func(conn *sql.Conn, plan []schemaStep, applied map[int64]string) error

// withMigrationLock держит сессионный advisory-lock на выделенном соединении,
// чтобы параллельные экземпляры не накатывали схему одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn migrationFunc) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	plan, err := readSchemaSteps(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLock)
	}()

	applied, err := loadLedger(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, plan, applied)
}

// loadLedger возвращает version -> checksum применённых миграций.
func loadLedger(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	if _, err := conn.ExecContext(ctx, ensureLedger); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	if _, err := conn.ExecContext(ctx,
		`ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`); err != nil {
		return nil, fmt.Errorf("upgrade schema_migrations: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// runStep выполняет тело миграции и запись в журнал одной транзакцией.
func runStep(ctx context.Context, conn *sql.Conn, body, ledgerSQL string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ledgerSQL, args...); err != nil {
		return fmt.Errorf("update schema_migrations: %w", err)
	}
	return tx.Commit()
}

// verifyChecksums ловит правку уже применённого файла. Пустая сумма в журнале
// означает запись, сделанную до появления колонки checksum.
func verifyChecksums(plan []schemaStep, applied map[int64]string) error {
	for _, step := range plan {
		sum, ok := applied[step.version]
		if ok && sum != "" && sum != step.checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, step)
		}
	}
	return nil
}

func findStep(plan []schemaStep, version int64) (schemaStep, bool) {
	i := sort.Search(len(plan), func(i int) bool { return plan[i].version >= version })
	if i < len(plan) && plan[i].version == version {
		return plan[i], true
	}
	return schemaStep{}, false
}

// readSchemaSteps собирает миграции из dir. Каждая версия обязана иметь
// непустые up и down с одинаковым именем.
func readSchemaSteps(fsys fs.FS, dir string) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*schemaStep)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, direction, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		step, ok := byVersion[version]
		if !ok {
			step = &schemaStep{version: version, name: name}
			byVersion[version] = step
		}
		if step.name != name {
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, step.name, name)
		}
		target := &step.up
		if direction == "down" {
			target = &step.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations found")
	}

	plan := make([]schemaStep, 0, len(byVersion))
	for _, step := range byVersion {
		if step.up == "" || step.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", step)
		}
		sum := sha256.Sum256([]byte(step.up))
		step.checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *step)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}

// parseMigrationName разбирает "001_init.up.sql" на 1, "init", "up".
func parseMigrationName(file string) (int64, string, string, error) {
	stem := strings.TrimSuffix(file, ".sql")
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", fmt.Errorf("migration %s: missing .up/.down suffix", file)
	}
	stem, direction := stem[:dot], stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("migration %s: unknown direction %q", file, direction)
	}

	digits, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("migration %s: expected NNN_name", file)
	}
	version, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("migration %s: bad version %q", file, digits)
	}
	return version, name, direction, nil
}
