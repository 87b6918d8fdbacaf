package dump

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
)

// integrationDB creates a throwaway database on the server named by
// TEST_DATABASE_URL and drops it afterwards, so these tests never touch
// tables owned by other packages. Skipped without a live postgres.
func integrationDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()
	adminURL := os.Getenv("TEST_DATABASE_URL")
	if adminURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	admin, err := sqlx.Connect("postgres", adminURL)
	require.NoError(t, err)

	name := fmt.Sprintf("dump_test_%d", time.Now().UnixNano())
	require.NoError(t, db.CreateDatabase(admin, name))

	url, err := db.TenantURL(adminURL, name)
	require.NoError(t, err)
	conn, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		if err := db.DropDatabase(admin, name); err != nil {
			t.Logf("dropping %s: %v", name, err)
		}
		admin.Close()
	})
	return conn, url
}

// fallbackEngine points both native tools at nonexistent binaries, forcing
// the streaming paths deterministically.
func fallbackEngine(t *testing.T, conn *sqlx.DB, url string) *Engine {
	t.Helper()
	missing := filepath.Join(t.TempDir(), "missing-tool")
	return NewEngine(conn, url, t.TempDir(), missing, missing, zap.NewNop())
}

func seedAccounts(t *testing.T, conn *sqlx.DB) {
	t.Helper()
	_, err := conn.Exec(`CREATE TABLE accounts (id BIGINT PRIMARY KEY, note TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE tallies (id BIGINT PRIMARY KEY, n BIGINT NOT NULL)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO accounts (id, note) VALUES (1, 'alpha'), (2, NULL), (3, 'o''brien')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO tallies (id, n) VALUES (10, 0), (11, 42)`)
	require.NoError(t, err)
}

type accountRow struct {
	ID   int64          `db:"id"`
	Note sql.NullString `db:"note"`
}

func readAccounts(t *testing.T, conn *sqlx.DB) map[int64]sql.NullString {
	t.Helper()
	var rows []accountRow
	require.NoError(t, conn.Select(&rows, `SELECT id, note FROM accounts ORDER BY id`))
	got := make(map[int64]sql.NullString, len(rows))
	for _, r := range rows {
		got[r.ID] = r.Note
	}
	return got
}

func TestCreateDumpFallbackEmitsSchemaPerTable(t *testing.T) {
	conn, url := integrationDB(t)
	seedAccounts(t, conn)
	engine := fallbackEngine(t, conn, url)

	path, err := engine.CreateDump("probe")
	require.NoError(t, err, "missing pg_dump must not prevent a dump")
	require.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	var tables []string
	require.NoError(t, conn.Select(&tables, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`))
	require.NotEmpty(t, tables)
	for _, table := range tables {
		assert.Contains(t, content, fmt.Sprintf("CREATE TABLE %q", table),
			"every base table gets a schema statement")
		assert.Contains(t, content, fmt.Sprintf("DROP TABLE IF EXISTS %q", table))
	}
	assert.Contains(t, content, "'o''brien'", "quotes survive literal encoding")
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	conn, url := integrationDB(t)
	seedAccounts(t, conn)
	engine := fallbackEngine(t, conn, url)

	original := readAccounts(t, conn)
	require.Len(t, original, 3)

	path, err := engine.CreateDump("roundtrip")
	require.NoError(t, err)

	// Diverge from the dumped state in every way a restore must undo.
	_, err = conn.Exec(`DELETE FROM accounts WHERE id = 2`)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE accounts SET note = 'mutated' WHERE id = 1`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO accounts (id, note) VALUES (99, 'extra')`)
	require.NoError(t, err)

	ok, detail := engine.RestoreFrom(path)
	require.True(t, ok, "restore failed: %s", detail)
	assert.Empty(t, detail)

	restored := readAccounts(t, conn)
	assert.Equal(t, original, restored, "row counts and key sets match the dump, NULLs included")

	var n int64
	require.NoError(t, conn.Get(&n, `SELECT n FROM tallies WHERE id = 11`))
	assert.Equal(t, int64(42), n)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "dump file is removed after a successful restore")
}
