package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to dsn with the driver of dialect and checks the
// connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", dialect)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to %s database", dialect)
	}
	if dialect == DialectSQLite {
		// Pragmas for better performance
		for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, err
			}
		}
	}
	return db, nil
}
