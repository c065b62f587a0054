package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["m/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestReadSchemaSteps_SortsAndChecksums(t *testing.T) {
	t.Parallel()

	plan, err := readSchemaSteps(migrationFS(map[string]string{
		"002_orders.up.sql":   "CREATE TABLE orders (id TEXT);",
		"002_orders.down.sql": "DROP TABLE orders;",
		"001_init.up.sql":     "CREATE TABLE listings (id TEXT);",
		"001_init.down.sql":   "DROP TABLE listings;",
		"README.md":           "ignored",
	}), "m")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, "001_init", plan[0].String())
	require.Equal(t, "002_orders", plan[1].String())
	require.Len(t, plan[0].checksum, 64)
	require.NotEqual(t, plan[0].checksum, plan[1].checksum)
}

func TestReadSchemaSteps_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"missing down":  {"001_init.up.sql": "SELECT 1;"},
		"empty body":    {"001_init.up.sql": "  \n", "001_init.down.sql": "SELECT 1;"},
		"bad name":      {"init.sql": "SELECT 1;"},
		"bad direction": {"001_init.sideways.sql": "SELECT 1;"},
		"name mismatch": {"001_init.up.sql": "SELECT 1;", "001_other.down.sql": "SELECT 1;"},
		"no files":      {},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readSchemaSteps(migrationFS(files), "m")
			require.Error(t, err)
		})
	}
}

func TestParseMigrationName(t *testing.T) {
	t.Parallel()

	version, name, direction, err := parseMigrationName("012_request_claims.down.sql")
	require.NoError(t, err)
	require.Equal(t, int64(12), version)
	require.Equal(t, "request_claims", name)
	require.Equal(t, "down", direction)

	for _, bad := range []string{"abc_init.up.sql", "000_init.up.sql", "001.up.sql", "001_init.sql"} {
		_, _, _, err := parseMigrationName(bad)
		require.Error(t, err, bad)
	}
}

func TestVerifyChecksums(t *testing.T) {
	t.Parallel()

	plan := []schemaStep{{version: 1, name: "init", checksum: "aaa"}, {version: 2, name: "more", checksum: "bbb"}}

	require.NoError(t, verifyChecksums(plan, map[int64]string{1: "aaa"}))
	require.NoError(t, verifyChecksums(plan, map[int64]string{1: ""}))
	require.ErrorIs(t, verifyChecksums(plan, map[int64]string{1: "aaa", 2: "zzz"}), ErrMigrationDrift)
}

func TestStateOf(t *testing.T) {
	t.Parallel()

	plan := []schemaStep{{version: 1, name: "init"}, {version: 2, name: "orders"}, {version: 3, name: "claims"}}
	state := stateOf(plan, map[int64]string{1: "x", 2: "y"})

	require.Equal(t, int64(2), state.Version)
	require.Equal(t, 2, state.Applied)
	require.Equal(t, []string{"003_claims"}, state.Pending)

	_, ok := findStep(plan, 2)
	require.True(t, ok)
	_, ok = findStep(plan, 7)
	require.False(t, ok)
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	plan, err := readSchemaSteps(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.Equal(t, "001_init", plan[0].String())
	require.Contains(t, plan[0].up, "orders_one_live_per_listing")
	require.Contains(t, plan[0].up, "request_claims")
}
