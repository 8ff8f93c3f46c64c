package main

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/moralespanitz/compass-project/pkg/config"
	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

// cliContext holds the settings shared by every subcommand.
type cliContext struct {
	cfg config.Config
	// flag values; empty or zero keeps the loaded configuration
	driver, dsn, policy, column, logLevel string
	depth, width                          int
}

func (c *cliContext) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.driver != "" {
		cfg.DBDriver = c.driver
	}
	if c.dsn != "" {
		cfg.DBDSN = c.dsn
	}
	if c.policy != "" {
		cfg.Policy = c.policy
	}
	if c.column != "" {
		cfg.KeyColumn = c.column
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.depth > 0 {
		cfg.Sketch.Depth = c.depth
	}
	if c.width > 0 {
		cfg.Sketch.Width = c.width
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

// open connects to the configured database and prepares the metadata
// tables.
func (c *cliContext) open(ctx context.Context) (*sql.DB, *storage.Store, error) {
	db, err := storage.Open(ctx, c.cfg.Dialect(), c.cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStore(db, c.cfg.Dialect(), c.cfg.CacheSize)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := store.EnsureMetaTables(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

func newRootCmd() *cobra.Command {
	cc := &cliContext{}
	root := &cobra.Command{
		Use:           "compass",
		Short:         "sketch-driven join ordering",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cc.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Close()
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&cc.driver, "driver", "", "database driver (sqlite or pgx)")
	f.StringVar(&cc.dsn, "dsn", "", "database DSN")
	f.StringVar(&cc.policy, "policy", "", "edge scoring policy (merge-magnitude or cardinality-normalized)")
	f.StringVar(&cc.column, "column", "", "join key column")
	f.StringVar(&cc.logLevel, "log-level", "", "log level")
	f.IntVar(&cc.depth, "depth", 0, "sketch depth")
	f.IntVar(&cc.width, "width", 0, "sketch width")

	root.AddCommand(
		newPlanCmd(cc),
		newSketchCmd(cc),
		newScriptCmd(cc),
		newExplainCmd(cc),
		newCompareCmd(cc),
	)
	return root
}
