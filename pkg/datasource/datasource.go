// Package datasource streams join keys out of SQL tables.
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/moralespanitz/compass-project/pkg/logging"
)

// DefaultKeyColumn is the join column of the demo tables.
const DefaultKeyColumn = "value"

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ErrInvalidIdentifier is returned for table or column names that cannot be
// safely interpolated.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// RowCounter supplies recorded row counts, as storage.Store does.
type RowCounter interface {
	TableRowCount(ctx context.Context, table string) (int64, bool, error)
}

// Source reads keys of relation tables over database/sql. It implements
// summary.DataSource.
type Source struct {
	db       *sql.DB
	column   string
	columns  map[string]string
	counter  RowCounter
	distinct bool
	count    bool
}

// Option configures a Source.
type Option func(*Source)

// WithColumn reads relation's keys from column instead of the default.
func WithColumn(relation, column string) Option {
	return func(s *Source) { s.columns[relation] = column }
}

// WithRowCounter supplies recorded row counts for when counting is disabled.
func WithRowCounter(rc RowCounter) Option {
	return func(s *Source) { s.counter = rc }
}

// WithDuplicates streams every non-null key instead of distinct keys, so
// sketches weigh keys by multiplicity.
func WithDuplicates() Option {
	return func(s *Source) { s.distinct = false }
}

// WithoutCount skips COUNT(*). Cardinality hints then come only from the
// RowCounter, which may be stale.
func WithoutCount() Option {
	return func(s *Source) { s.count = false }
}

// New returns a Source reading column from every relation table.
func New(db *sql.DB, column string, opts ...Option) (*Source, error) {
	if column == "" {
		column = DefaultKeyColumn
	}
	if !identRE.MatchString(column) {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "column %q", column)
	}
	s := &Source{
		db:       db,
		column:   column,
		columns:  make(map[string]string),
		distinct: true,
		count:    true,
	}
	for _, o := range opts {
		o(s)
	}
	for rel, col := range s.columns {
		if !identRE.MatchString(col) {
			return nil, errors.Wrapf(ErrInvalidIdentifier, "column %q of %s", col, rel)
		}
	}
	return s, nil
}

// ColumnOf is the key column read for relation.
func (s *Source) ColumnOf(relation string) string {
	if c, ok := s.columns[relation]; ok {
		return c
	}
	return s.column
}

func quote(ident string) (string, error) {
	if !identRE.MatchString(ident) {
		return "", errors.Wrapf(ErrInvalidIdentifier, "%q", ident)
	}
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize(), nil
}

// KeysOf returns the non-null join keys of relation.
func (s *Source) KeysOf(ctx context.Context, relation string) ([]int64, error) {
	table, err := quote(relation)
	if err != nil {
		return nil, err
	}
	col, err := quote(s.ColumnOf(relation))
	if err != nil {
		return nil, err
	}
	sel := "SELECT"
	if s.distinct {
		sel = "SELECT DISTINCT"
	}
	query := fmt.Sprintf("%s %s FROM %s WHERE %s IS NOT NULL", sel, col, table, col)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]int64, 0, 256)
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		keys = append(keys, KeyOf(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.WithRelation(relation).Debug("keys read", "column", s.ColumnOf(relation), "keys", len(keys))
	return keys, nil
}

// CardinalityOf counts the rows of relation. With counting disabled it
// returns the recorded row count instead, if a RowCounter has one.
func (s *Source) CardinalityOf(ctx context.Context, relation string) (int64, bool, error) {
	if !s.count {
		if s.counter == nil {
			return 0, false, nil
		}
		return s.counter.TableRowCount(ctx, relation)
	}
	table, err := quote(relation)
	if err != nil {
		return 0, false, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// KeyOf maps a scanned column value to a sketch key. Integers and integral
// floats map to themselves; anything else is hashed by its text form.
func KeyOf(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < math.MaxInt64 {
			return int64(x)
		}
		return hashText(strconv.FormatFloat(x, 'g', -1, 64))
	case []byte:
		return textKey(string(x))
	case string:
		return textKey(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return hashText(fmt.Sprint(x))
	}
}

func textKey(s string) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return n
	}
	return hashText(s)
}

func hashText(s string) int64 {
	return int64(xxhash.Sum64String(s))
}
