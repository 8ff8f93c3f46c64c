// Package storage keeps table statistics and persisted sketches next to the
// data they describe.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/moralespanitz/compass-project/pkg/sketches"
)

// ErrSketchNotFound is returned when no sketch is stored for a key.
var ErrSketchNotFound = errors.New("sketch not found")

// DefaultCacheSize bounds the number of decoded sketches kept in memory.
const DefaultCacheSize = 128

// Store reads and writes the compass_* metadata tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
	cache   *lru.Cache[sketchKey, *sketches.Sketch]
}

type sketchKey struct {
	table, column string
}

// NewStore wraps db. cacheSize <= 0 selects DefaultCacheSize.
func NewStore(db *sql.DB, dialect Dialect, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[sketchKey, *sketches.Sketch](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect, cache: cache}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the SQL flavour of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	return err
}

// EnsureMetaTables creates the metadata tables if they are missing.
func (s *Store) EnsureMetaTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS compass_table_stats (
			table_name TEXT PRIMARY KEY,
			row_count BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS compass_sketches (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			sketch_type TEXT NOT NULL,
			sketch_data %s NOT NULL,
			depth INTEGER NOT NULL,
			width INTEGER NOT NULL,
			distinct_keys BIGINT NOT NULL DEFAULT 0,
			key_count BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (table_name, column_name, sketch_type)
		)`, s.dialect.blobType()),
	}
	for _, stmt := range stmts {
		if err := s.exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating metadata tables")
		}
	}
	return nil
}

// UpsertTableRowCount sets the row_count for a table.
func (s *Store) UpsertTableRowCount(ctx context.Context, table string, count int64) error {
	return s.exec(ctx, `INSERT INTO compass_table_stats(table_name, row_count, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET row_count = excluded.row_count, updated_at = excluded.updated_at`,
		table, count, time.Now().Unix())
}

// TableRowCount returns the recorded row count of table, or false when none
// was recorded.
func (s *Store) TableRowCount(ctx context.Context, table string) (int64, bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT row_count FROM compass_table_stats WHERE table_name = ?`), table).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading row count of %s", table)
	}
	return n, true, nil
}

// ListTables returns the user tables of the database.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.listTablesQuery())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
