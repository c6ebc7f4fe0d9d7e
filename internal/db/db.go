package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// Open opens (creating if necessary) the trellis database. WAL mode lets a
// long-running process read while short-lived CLI invocations write;
// busy_timeout gives the driver a first line of defense before the retry
// wrapper kicks in.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, so lock contention surfaces at Begin instead of at the first
	// write mid-transaction.
	dsn := path + "?" + url.Values{
		"_pragma": []string{"busy_timeout(3000)", "journal_mode(WAL)", "foreign_keys(1)"},
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := applySchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureTrashedAtColumn(ctx, db); err != nil {
		return err
	}

	return nil
}

// ensureTrashedAtColumn upgrades databases created before trash cascades
// recorded their batch stamp. Additive only; existing rows keep NULL.
func ensureTrashedAtColumn(ctx context.Context, db *sql.DB) error {
	var exists int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pragma_table_info('tasks') WHERE name = 'trashed_at' LIMIT 1").Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check tasks.trashed_at column: %w", err)
	}

	if _, err := db.ExecContext(ctx, "ALTER TABLE tasks ADD COLUMN trashed_at TIMESTAMP"); err != nil {
		return fmt.Errorf("add tasks.trashed_at column: %w", err)
	}

	return nil
}
