// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/moralespanitz/compass-project/pkg/planner"
	"github.com/moralespanitz/compass-project/pkg/sketches"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

// Config holds every tunable of the service and CLI.
type Config struct {
	DBDriver         string         `yaml:"db_driver"`
	DBDSN            string         `yaml:"db_dsn"`
	Port             string         `yaml:"port"`
	Sketch           sketches.Shape `yaml:"sketch"`
	Policy           string         `yaml:"policy"`
	BuildParallelism int            `yaml:"build_parallelism"`
	LogLevel         string         `yaml:"log_level"`
	LogFormat        string         `yaml:"log_format"`
	KeyColumn        string         `yaml:"key_column"`
	CacheSize        int            `yaml:"cache_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBDriver:         string(storage.DialectSQLite),
		DBDSN:            "compass.sqlite",
		Port:             "8080",
		Sketch:           sketches.DefaultShape,
		Policy:           string(planner.DefaultPolicy),
		BuildParallelism: 4,
		LogLevel:         "info",
		LogFormat:        "text",
		KeyColumn:        "value",
		CacheSize:        storage.DefaultCacheSize,
	}
}

// Load applies the file named by COMPASS_CONFIG, if any, and then the
// environment to the defaults.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("COMPASS_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile applies one YAML file to the defaults, ignoring the environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.applyFile(path); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = n
		return nil
	}

	str("COMPASS_DB_DRIVER", &c.DBDriver)
	str("COMPASS_DB_DSN", &c.DBDSN)
	str("PORT", &c.Port)
	str("COMPASS_POLICY", &c.Policy)
	str("COMPASS_LOG_LEVEL", &c.LogLevel)
	str("COMPASS_LOG_FORMAT", &c.LogFormat)
	str("COMPASS_KEY_COLUMN", &c.KeyColumn)
	for key, dst := range map[string]*int{
		"COMPASS_SKETCH_DEPTH":      &c.Sketch.Depth,
		"COMPASS_SKETCH_WIDTH":      &c.Sketch.Width,
		"COMPASS_BUILD_PARALLELISM": &c.BuildParallelism,
		"COMPASS_CACHE_SIZE":        &c.CacheSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v := strings.TrimSpace(os.Getenv("COMPASS_SKETCH_SEED")); v != "" {
		seed, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return errors.Wrap(err, "COMPASS_SKETCH_SEED")
		}
		c.Sketch.Seed = seed
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if err := c.Sketch.Validate(); err != nil {
		return err
	}
	if _, err := planner.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := storage.ParseDialect(c.DBDriver); err != nil {
		return err
	}
	if c.BuildParallelism <= 0 {
		return errors.Newf("build parallelism must be positive, got %d", c.BuildParallelism)
	}
	if c.DBDSN == "" {
		return errors.New("database DSN is empty")
	}
	return nil
}

// Dialect is the parsed database driver. Validate must have passed.
func (c Config) Dialect() storage.Dialect {
	d, _ := storage.ParseDialect(c.DBDriver)
	return d
}

// PlannerPolicy is the parsed scoring policy. Validate must have passed.
func (c Config) PlannerPolicy() planner.Policy {
	p, _ := planner.ParsePolicy(c.Policy)
	return p
}
