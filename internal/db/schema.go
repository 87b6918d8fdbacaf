package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type columnDef struct {
	name string
	ddl  string
}

// baseTables is the schema every instance database carries. EnsureSchema
// creates what is missing and adds absent columns; it never drops anything,
// so upgrades are purely additive and old rows survive.
var baseTables = []struct {
	name    string
	create  string
	columns []columnDef
}{
	{
		name: "plans",
		create: `CREATE TABLE IF NOT EXISTS plans (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			days INTEGER NOT NULL,
			price BIGINT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		columns: []columnDef{
			{"active", "BOOLEAN NOT NULL DEFAULT TRUE"},
		},
	},
	{
		name: "bots",
		create: `CREATE TABLE IF NOT EXISTS bots (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			bot_token TEXT NOT NULL DEFAULT '',
			bot_id BIGINT NOT NULL DEFAULT 0,
			bot_username TEXT NOT NULL DEFAULT '',
			admin_userid BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0,
			status SMALLINT NOT NULL DEFAULT 0,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at BIGINT,
			exp_notify_sent BOOLEAN NOT NULL DEFAULT FALSE,
			db_name TEXT
		)`,
		columns: []columnDef{
			{"bot_id", "BIGINT NOT NULL DEFAULT 0"},
			{"bot_username", "TEXT NOT NULL DEFAULT ''"},
			{"is_deleted", "BOOLEAN NOT NULL DEFAULT FALSE"},
			{"deleted_at", "BIGINT"},
			{"exp_notify_sent", "BOOLEAN NOT NULL DEFAULT FALSE"},
			{"db_name", "TEXT"},
		},
	},
	{
		name: "users",
		create: `CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		columns: []columnDef{
			{"balance", "BIGINT NOT NULL DEFAULT 0"},
		},
	},
	{
		name: "settings",
		create: `CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)`,
	},
	{
		name: "broadcast_queue",
		create: `CREATE TABLE IF NOT EXISTS broadcast_queue (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			text TEXT NOT NULL,
			sent_at BIGINT
		)`,
	},
}

// EnsureSchema makes the bound database usable, no matter which schema
// version it was created under. It queries metadata before altering and is
// a no-op when nothing is missing, so it is safe on every request.
func EnsureSchema(db *sqlx.DB) error {
	for _, t := range baseTables {
		if _, err := db.Exec(t.create); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
		if len(t.columns) == 0 {
			continue
		}

		existing, err := tableColumns(db, t.name)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", t.name, err)
		}
		for _, col := range t.columns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
				pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(col.name), col.ddl)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("add %s.%s: %w", t.name, col.name, err)
			}
		}
	}
	return nil
}

func tableColumns(db *sqlx.DB, table string) (map[string]bool, error) {
	var names []string
	err := db.Select(&names, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
