// Package sqlitestore keeps collection snapshots in a single SQLite file.
// Each row is stored as a JSON object; the column order is stored once per
// collection.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/reconcile"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_columns (
	collection TEXT PRIMARY KEY,
	columns    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_rows (
	collection TEXT NOT NULL,
	position   INTEGER NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (collection, position)
);`

// Store implements reconcile.LocalStore with SQLite.
type Store struct {
	db *sql.DB
}

var _ reconcile.LocalStore = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
// The parent directory is created if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadAll returns the snapshot of name. A collection that was never written
// is core.ErrLocalNotFound.
func (s *Store) ReadAll(ctx context.Context, name string) (*reconcile.Table, error) {
	var rawColumns string
	err := s.db.QueryRowContext(ctx, "SELECT columns FROM snapshot_columns WHERE collection = ?", name).Scan(&rawColumns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.FrameworkError{Op: "sqlitestore.ReadAll", Kind: "local", ID: name, Err: core.ErrLocalNotFound}
	}
	if err != nil {
		return nil, wrap("sqlitestore.ReadAll", name, err)
	}

	table := &reconcile.Table{}
	if err := json.Unmarshal([]byte(rawColumns), &table.Columns); err != nil {
		return nil, wrap("sqlitestore.ReadAll", name, fmt.Errorf("decode columns: %w", err))
	}

	rows, err := s.db.QueryContext(ctx, "SELECT data FROM snapshot_rows WHERE collection = ? ORDER BY position", name)
	if err != nil {
		return nil, wrap("sqlitestore.ReadAll", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("sqlitestore.ReadAll", name, err)
		}
		row := reconcile.Row{}
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, wrap("sqlitestore.ReadAll", name, fmt.Errorf("decode row: %w", err))
		}
		for _, col := range table.Columns {
			if _, ok := row[col]; !ok {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("sqlitestore.ReadAll", name, err)
	}
	return table, nil
}

// WriteAll replaces the snapshot of name in one transaction. Values of
// columns outside table.Columns are not stored.
func (s *Store) WriteAll(ctx context.Context, name string, table *reconcile.Table) error {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_columns (collection, columns, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET columns = excluded.columns, updated_at = excluded.updated_at`,
		name, string(columns), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_rows WHERE collection = ?", name); err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO snapshot_rows (collection, position, data) VALUES (?, ?, ?)")
	if err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		kept := make(map[string]string, len(table.Columns))
		for _, col := range table.Columns {
			kept[col] = row[col]
		}
		data, err := json.Marshal(kept)
		if err != nil {
			return wrap("sqlitestore.WriteAll", name, err)
		}
		if _, err := stmt.ExecContext(ctx, name, i, string(data)); err != nil {
			return wrap("sqlitestore.WriteAll", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("sqlitestore.WriteAll", name, err)
	}
	return nil
}

// Collections lists the collections that have a snapshot.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT collection FROM snapshot_columns ORDER BY collection")
	if err != nil {
		return nil, wrap("sqlitestore.Collections", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrap("sqlitestore.Collections", "", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func wrap(op, name string, err error) error {
	return &core.FrameworkError{Op: op, Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
}
