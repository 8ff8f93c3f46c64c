package storage

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Dialect is the SQL flavour of a database/sql driver.
type Dialect string

const (
	// DialectSQLite is modernc.org/sqlite, registered as "sqlite".
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres is pgx's database/sql driver, registered as "pgx".
	DialectPostgres Dialect = "pgx"
)

// ParseDialect maps a driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", errors.Newf("unsupported database driver %q", driver)
	}
}

// DriverName is the database/sql driver to open.
func (d Dialect) DriverName() string {
	return string(d)
}

// Rebind rewrites ? placeholders into $n for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func (d Dialect) blobType() string {
	if d == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// listTablesQuery returns user tables, excluding the metadata tables.
func (d Dialect) listTablesQuery() string {
	if d == DialectPostgres {
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			AND table_name NOT LIKE 'compass\_%' ORDER BY 1`
	}
	return `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'compass\_%' ESCAPE '\'
		ORDER BY 1`
}
