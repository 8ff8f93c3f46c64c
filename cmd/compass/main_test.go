package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COMPASS_CONFIG", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScriptSketchAndPlan(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "cli.sqlite")
	load := filepath.Join(dir, "load.sql")
	require.NoError(t, os.WriteFile(load, []byte(`
-- three demo tables
CREATE TABLE table_a (value INTEGER);
CREATE TABLE table_b (value INTEGER);
CREATE TABLE table_c (value INTEGER);
INSERT INTO table_a WITH RECURSIVE s(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM s WHERE x < 200) SELECT x FROM s;
INSERT INTO table_b SELECT value FROM table_a;
INSERT INTO table_c VALUES (1000), (1001), (1002);
SELECT COUNT(*) AS n FROM table_b;
`), 0o644))

	out, err := run(t, "script", "--dsn", dsn, load)
	require.NoError(t, err, out)
	assert.Contains(t, out, "7 statements, 0 failed")
	assert.Contains(t, out, "200")

	out, err = run(t, "sketch", "--dsn", dsn, "table_a", "table_b", "table_c")
	require.NoError(t, err, out)
	assert.Contains(t, out, "table_c")
	assert.Contains(t, out, "5x512")

	out, err = run(t, "plan", "--dsn", dsn, "--tree",
		"-e", "table_a:table_b:a.value = b.value", "-e", "table_b:table_c")
	require.NoError(t, err, out)
	assert.Contains(t, out, "((table_a ⨝ table_b) ⨝ table_c)")
	assert.Contains(t, out, "a.value = b.value")
	assert.Contains(t, out, "accepted")

	_, err = run(t, "plan", "--dsn", dsn, "-e", "table_a:table_z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table_z")
}

func TestScript_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1; SELECT * FROM nowhere; SELECT 2;"), 0o644))
	out, err := run(t, "script", "--dsn", filepath.Join(dir, "x.sqlite"), path)
	require.Error(t, err)
	assert.Contains(t, out, "3 statements, 1 failed")
	assert.Contains(t, out, "ERROR")
}

func TestExplainNeedsPostgres(t *testing.T) {
	_, err := run(t, "explain", "--dsn", filepath.Join(t.TempDir(), "x.sqlite"), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgreSQL")
}

func TestBadPolicyFlag(t *testing.T) {
	_, err := run(t, "plan", "--policy", "bogus", "--dsn", filepath.Join(t.TempDir(), "x.sqlite"))
	assert.Error(t, err)
}
