package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Index records the size and last access of every disk-tier file so the tier
// can be trimmed to a byte budget, oldest access first.
// Immutable
type Index struct {
	db *sql.DB
}

// IndexEntry is one file known to the index.
type IndexEntry struct {
	Name     string
	Size     int64
	Accessed time.Time
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS entries (
	name     TEXT PRIMARY KEY,
	size     INTEGER NOT NULL,
	accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_accessed ON entries(accessed);
`

// OpenIndex opens (creating if needed) the sqlite index at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Record adds or refreshes an entry.
func (ix *Index) Record(ctx context.Context, name string, size int64) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO entries (name, size, accessed) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET size = excluded.size, accessed = excluded.accessed`,
		name, size, time.Now().UnixNano())
	return err
}

// Touch marks an entry as just used. Unknown names are ignored.
func (ix *Index) Touch(ctx context.Context, name string) error {
	_, err := ix.db.ExecContext(ctx, `UPDATE entries SET accessed = ? WHERE name = ?`, time.Now().UnixNano(), name)
	return err
}

func (ix *Index) Forget(ctx context.Context, name string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM entries WHERE name = ?`, name)
	return err
}

func (ix *Index) Reset(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM entries`)
	return err
}

// Totals returns the summed size and number of entries.
func (ix *Index) Totals(ctx context.Context) (int64, int, error) {
	var size sql.NullInt64
	var count int
	err := ix.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0), COUNT(*) FROM entries`).Scan(&size, &count)
	if err != nil {
		return 0, 0, err
	}
	return size.Int64, count, nil
}

// Oldest returns up to limit entries, least recently accessed first.
func (ix *Index) Oldest(ctx context.Context, limit int) ([]IndexEntry, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT name, size, accessed FROM entries ORDER BY accessed ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var accessed int64
		if err := rows.Scan(&e.Name, &e.Size, &accessed); err != nil {
			return nil, err
		}
		e.Accessed = time.Unix(0, accessed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Has reports whether name is indexed.
func (ix *Index) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}
