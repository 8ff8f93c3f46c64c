package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moralespanitz/compass-project/pkg/planner"
	"github.com/moralespanitz/compass-project/pkg/sketches"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, storage.DialectSQLite, cfg.Dialect())
	assert.Equal(t, planner.PolicyMergeMagnitude, cfg.PlannerPolicy())
	assert.Equal(t, sketches.DefaultShape, cfg.Sketch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COMPASS_CONFIG", "")
	t.Setenv("COMPASS_DB_DRIVER", "pgx")
	t.Setenv("COMPASS_DB_DSN", "postgres://localhost/job")
	t.Setenv("COMPASS_SKETCH_DEPTH", "7")
	t.Setenv("COMPASS_SKETCH_WIDTH", "1024")
	t.Setenv("COMPASS_SKETCH_SEED", "0x2a")
	t.Setenv("COMPASS_POLICY", "cardinality-normalized")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, storage.DialectPostgres, cfg.Dialect())
	assert.Equal(t, "postgres://localhost/job", cfg.DBDSN)
	assert.Equal(t, sketches.Shape{Depth: 7, Width: 1024, Seed: 42}, cfg.Sketch)
	assert.Equal(t, planner.PolicyCardinalityNormalized, cfg.PlannerPolicy())
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
db_dsn: from-file.sqlite
sketch:
  depth: 3
  width: 64
build_parallelism: 8
key_column: id
`)
	t.Setenv("COMPASS_CONFIG", path)
	t.Setenv("COMPASS_SKETCH_WIDTH", "128")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file.sqlite", cfg.DBDSN)
	assert.Equal(t, 3, cfg.Sketch.Depth)
	assert.Equal(t, 128, cfg.Sketch.Width)
	assert.Equal(t, 8, cfg.BuildParallelism)
	assert.Equal(t, "id", cfg.KeyColumn)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "sketch: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "sketch:\n  depth: 0\n  width: 10\n"))
	assert.True(t, errors.Is(err, sketches.ErrInvalidShape))
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("COMPASS_CONFIG", "")
	t.Setenv("COMPASS_SKETCH_DEPTH", "five")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMPASS_SKETCH_DEPTH")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Policy = "cost"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DBDriver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BuildParallelism = 0
	assert.Error(t, cfg.Validate())
}
