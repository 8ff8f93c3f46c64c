// Package script splits SQL scripts into statements.
package script

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// Statement is one statement of a script.
type Statement struct {
	// Index is the zero-based position among non-empty statements.
	Index int    `json:"index"`
	SQL   string `json:"sql"`
	// Line is the 1-based line on which the statement starts.
	Line int `json:"line"`
}

// Split breaks text on semicolons that are outside single-quoted literals
// and outside -- comments. Comments are dropped. A doubled quote inside a
// literal is an escaped quote. Empty statements are skipped; a trailing
// statement without a semicolon is kept.
func Split(text string) []Statement {
	var (
		out       []Statement
		cur       strings.Builder
		inQuote   bool
		inComment bool
		line      = 1
		startLine = 0
	)
	flush := func() {
		sql := strings.TrimSpace(cur.String())
		cur.Reset()
		if sql != "" {
			out = append(out, Statement{Index: len(out), SQL: sql, Line: startLine})
		}
		startLine = 0
	}
	write := func(c byte) {
		if startLine == 0 && !isSpace(c) {
			startLine = line
		}
		cur.WriteByte(c)
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		var next byte
		if i+1 < len(text) {
			next = text[i+1]
		}
		if c == '\n' {
			line++
		}
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
				write(c)
			}
		case !inQuote && c == '-' && next == '-':
			inComment = true
			i++
		case c == '\'' && inQuote && next == '\'':
			write(c)
			write(next)
			i++
		case c == '\'':
			inQuote = !inQuote
			write(c)
		case c == ';' && !inQuote:
			flush()
		default:
			write(c)
		}
	}
	flush()
	return out
}

// ReadFile splits the script stored at path.
func ReadFile(path string) ([]Statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading script %s", path)
	}
	return Split(string(data)), nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
