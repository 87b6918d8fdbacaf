package dump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// MaxDeliverySize is the largest dump the messaging channel can carry.
// Bigger dumps are reported to the requester instead of delivered.
const MaxDeliverySize = 49 << 20 // 49 MiB

// Native tool output below this size is treated as a failed run.
const minValidSize = 1024

// toolTimeout bounds one native tool invocation. There is no external
// cancellation for dispatched jobs, so the engine bounds itself.
const toolTimeout = 10 * time.Minute

var ErrNoDump = errors.New("no usable dump produced")

// Engine produces and restores full dumps of whatever database it was bound
// to. It is database-agnostic in the sense of the resolver: point it at the
// mother connection or a tenant connection, it only ever sees "the bound
// database".
type Engine struct {
	db      *sqlx.DB
	connURL string // postgres URL for the same database, for the native tools
	dir     string
	pgDump  string
	psql    string
	logger  *zap.Logger
}

func NewEngine(db *sqlx.DB, connURL, dir, pgDumpPath, psqlPath string, logger *zap.Logger) *Engine {
	if pgDumpPath == "" {
		pgDumpPath = "pg_dump"
	}
	if psqlPath == "" {
		psqlPath = "psql"
	}
	return &Engine{
		db:      db,
		connURL: connURL,
		dir:     dir,
		pgDump:  pgDumpPath,
		psql:    psqlPath,
		logger:  logger,
	}
}

// CreateDump writes a full schema+data snapshot and returns its path. The
// native pg_dump path is preferred; when the tool is missing or its output
// fails validation, the engine streams the dump itself over the live
// connection. Returns ErrNoDump when neither path produced a usable file.
func (e *Engine) CreateDump(prefix string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.dir, FileName(prefix, time.Now()))

	if err := e.nativeDump(path); err == nil {
		return path, nil
	} else {
		e.logger.Warn("native dump failed, using streaming fallback", zap.Error(err))
	}

	if err := e.streamDump(path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrNoDump, err)
	}
	return path, nil
}

func (e *Engine) nativeDump(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.pgDump, "--no-owner", "--no-privileges", e.connURL)
	cmd.Stdout = out
	runErr := cmd.Run()
	out.Close()

	if runErr != nil {
		os.Remove(path)
		return fmt.Errorf("pg_dump: %w", runErr)
	}

	if err := validateDumpFile(path); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func validateDumpFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < minValidSize {
		return fmt.Errorf("dump too small: %d bytes", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 2048)
	n, _ := f.Read(head)
	if LooksLikeToolError(head[:n]) {
		return errors.New("dump head contains tool error output")
	}
	return nil
}

// streamDump writes schema and row data for every base table using the live
// connection. Slower than pg_dump but needs no external tool.
func (e *Engine) streamDump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "-- botmother dump, generated %s\n", time.Now().UTC().Format(time.RFC3339))

	tables, err := e.baseTables()
	if err != nil {
		return err
	}

	for _, table := range tables {
		if err := e.writeTableSchema(w, table); err != nil {
			return fmt.Errorf("schema %s: %w", table, err)
		}
		if err := e.writeTableRows(w, table); err != nil {
			return fmt.Errorf("rows %s: %w", table, err)
		}
	}

	return w.Flush()
}

func (e *Engine) baseTables() ([]string, error) {
	var tables []string
	err := e.db.Select(&tables, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	return tables, err
}

type columnInfo struct {
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
	Nullable string `db:"is_nullable"`
}

func (e *Engine) writeTableSchema(w *bufio.Writer, table string) error {
	var cols []columnInfo
	err := e.db.Select(&cols, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("no columns for table %s", table)
	}

	fmt.Fprintf(w, "\nDROP TABLE IF EXISTS %s;\n", pq.QuoteIdentifier(table))
	fmt.Fprintf(w, "CREATE TABLE %s (\n", pq.QuoteIdentifier(table))
	for i, c := range cols {
		line := fmt.Sprintf("    %s %s", pq.QuoteIdentifier(c.Name), c.DataType)
		if c.Nullable == "NO" {
			line += " NOT NULL"
		}
		if i < len(cols)-1 {
			line += ","
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprint(w, ");\n")
	return nil
}

func (e *Engine) writeTableRows(w *bufio.Writer, table string) error {
	rows, err := e.db.Query(fmt.Sprintf(`SELECT * FROM %s`, pq.QuoteIdentifier(table)))
	if err != nil {
		return err
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return err
	}
	quoted := make([]string, len(colNames))
	for i, c := range colNames {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	colList := strings.Join(quoted, ", ")

	values := make([]interface{}, len(colNames))
	ptrs := make([]interface{}, len(colNames))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = QuoteLiteral(v)
		}
		fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
			pq.QuoteIdentifier(table), colList, strings.Join(literals, ", "))
	}
	return rows.Err()
}
