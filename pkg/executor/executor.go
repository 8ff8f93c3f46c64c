// Package executor runs SQL statements and collects their rows.
package executor

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/script"
)

// Result is the outcome of one statement.
type Result struct {
	Statement    script.Statement `json:"statement"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	Duration     time.Duration    `json:"duration_ns"`
	Err          error            `json:"-"`
	Error        string           `json:"error,omitempty"`
}

// Report summarizes a script run.
type Report struct {
	Results []Result `json:"results"`
	Failed  int      `json:"failed"`
}

// OK reports whether every statement succeeded.
func (r *Report) OK() bool { return r.Failed == 0 }

// Err returns the first statement failure, if any.
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return errors.Wrapf(res.Err, "statement %d (line %d)", res.Statement.Index, res.Statement.Line)
		}
	}
	return nil
}

var rowPrefixes = []string{"SELECT", "WITH", "VALUES", "EXPLAIN", "SHOW", "PRAGMA", "TABLE"}

// returnsRows guesses from the leading keyword whether stmt produces rows.
func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	head := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, p := range rowPrefixes {
		if head == p {
			return true
		}
	}
	return false
}

// Execute runs one statement. Row-returning statements have their rows
// collected; others report rows affected.
func Execute(ctx context.Context, db *sql.DB, stmt script.Statement) (Result, error) {
	res := Result{Statement: stmt}
	start := time.Now()

	if !returnsRows(stmt.SQL) {
		r, err := db.ExecContext(ctx, stmt.SQL)
		if err != nil {
			return res, err
		}
		if n, err := r.RowsAffected(); err == nil {
			res.RowsAffected = n
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	rows, err := db.QueryContext(ctx, stmt.SQL)
	if err != nil {
		return res, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return res, err
	}
	res.Columns = cols
	res.Rows = make([]map[string]any, 0, 64)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return res, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[c] = string(b)
				continue
			}
			m[c] = vals[i]
		}
		res.Rows = append(res.Rows, m)
	}
	if err := rows.Err(); err != nil {
		return res, err
	}
	res.RowsAffected = int64(len(res.Rows))
	res.Duration = time.Since(start)
	return res, nil
}

// RunScript executes stmts in order. A failing statement is recorded and
// the run continues with the next one.
func RunScript(ctx context.Context, db *sql.DB, stmts []script.Statement) *Report {
	log := logging.WithComponent("executor")
	rep := &Report{Results: make([]Result, 0, len(stmts))}
	for _, stmt := range stmts {
		if ctx.Err() != nil {
			res := Result{Statement: stmt, Err: ctx.Err(), Error: ctx.Err().Error()}
			rep.Results = append(rep.Results, res)
			rep.Failed++
			continue
		}
		res, err := Execute(ctx, db, stmt)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			rep.Failed++
			log.Warn("statement failed", "index", stmt.Index, "line", stmt.Line, "error", err)
		} else {
			log.Debug("statement executed", "index", stmt.Index, "rows", res.RowsAffected, "duration", res.Duration)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}
