// Команда migrate управляет схемой PostgreSQL маркетплейса.
//
//	migrate -direction=up [-steps=N] [-dsn=...]
//	migrate -direction=down [-steps=N]
//	migrate -direction=status
//	migrate -direction=pending
//
// DSN берётся из -dsn или MARKET_POSTGRES_DSN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

var errNoDSN = errors.New("MARKET_POSTGRES_DSN (or -dsn) is required")

// schema: часть *postgres.Store, с которой работает CLI.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationState(ctx context.Context) (postgres.MigrationState, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		exit(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		exit(fmt.Errorf("open postgres: %w", err))
	}
	defer store.Close()

	if err := execute(ctx, store, opts, os.Stdout); err != nil {
		exit(err)
	}
}

func parseArgs(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	fs.StringVar(&opts.direction, "direction", "up", "up|down|status|pending")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (0 = all) or revert (0 = one)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to MARKET_POSTGRES_DSN")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv("MARKET_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, errNoDSN
	}
	return opts, nil
}

func execute(ctx context.Context, store schema, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "status", "pending":
	default:
		return fmt.Errorf("unsupported direction %q (use up|down|status|pending)", opts.direction)
	}

	state, err := store.MigrationState(ctx)
	if err != nil {
		return fmt.Errorf("read migration state: %w", err)
	}
	if opts.direction == "pending" {
		printPending(out, state.Pending)
		return nil
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", opts.direction, state.Version, state.Applied, len(state.Pending))
	return err
}

func printPending(w io.Writer, pending []string) {
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(w, "no pending migrations")
		return
	}
	_, _ = fmt.Fprintf(w, "pending migrations (%d):\n", len(pending))
	for _, name := range pending {
		_, _ = fmt.Fprintf(w, "  %s\n", name)
	}
}

func exit(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
