package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/moralespanitz/compass-project/pkg/datasource"
	"github.com/moralespanitz/compass-project/pkg/executor"
	"github.com/moralespanitz/compass-project/pkg/explain"
	"github.com/moralespanitz/compass-project/pkg/plantree"
	"github.com/moralespanitz/compass-project/pkg/script"
	"github.com/moralespanitz/compass-project/pkg/storage"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

func newSketchCmd(cc *cliContext) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "sketch TABLE...",
		Short: "build and store join-key sketches of tables",
		RunE: func(cmd *cobra.Command, tables []string) error {
			ctx := cmd.Context()
			db, store, err := cc.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if list {
				infos, err := store.ListSketches(ctx, "")
				if err != nil {
					return err
				}
				printSketches(out, infos)
				return nil
			}
			if len(tables) == 0 {
				return errors.New("at least one table required")
			}

			src, err := datasource.New(db, cc.cfg.KeyColumn)
			if err != nil {
				return err
			}
			b, err := summary.NewBuilder(cc.cfg.Sketch)
			if err != nil {
				return err
			}
			reg, err := summary.BuildAll(ctx, b, src, tables, cc.cfg.BuildParallelism)
			if err != nil {
				return err
			}
			infos := make([]storage.SketchInfo, 0, reg.Len())
			for _, rel := range reg.Relations() {
				sum, err := reg.Get(rel)
				if err != nil {
					return err
				}
				info, err := store.SaveSummary(ctx, cc.cfg.KeyColumn, sum)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			printSketches(out, infos)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list stored sketches instead of building")
	return cmd
}

func newScriptCmd(cc *cliContext) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "script FILE",
		Short: "run a SQL script statement by statement",
		Long: `
Splits FILE on semicolons outside quotes and comments and runs each statement.
A failing statement is reported and the run continues with the next one.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts, err := script.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, _, err := cc.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			rep := executor.RunScript(ctx, db, stmts)
			out := cmd.OutOrStdout()
			for _, res := range rep.Results {
				if quiet && res.Err == nil {
					continue
				}
				printStatement(out, res)
			}
			fmt.Fprintf(out, "%d statement%s, %d failed\n", len(rep.Results), plural(len(rep.Results)), rep.Failed)
			if !rep.OK() {
				return rep.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print failed statements")
	return cmd
}

func readQuery(arg string) (string, error) {
	if len(arg) > 1 && arg[0] == '@' {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return arg, nil
}

func referencePlan(cmd *cobra.Command, cc *cliContext, query string, alias bool) (*plantree.Node, error) {
	if cc.cfg.Dialect() != storage.DialectPostgres {
		return nil, errors.New("reference plans need a PostgreSQL database (--driver pgx)")
	}
	q, err := readQuery(query)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cmd.Context(), cc.cfg.Dialect(), cc.cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return explain.Plan(cmd.Context(), db, q, explain.Options{UseAlias: alias})
}

func newExplainCmd(cc *cliContext) *cobra.Command {
	var alias bool
	cmd := &cobra.Command{
		Use:   "explain QUERY|@FILE",
		Short: "show the join tree PostgreSQL picks for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := referencePlan(cmd, cc, args[0], alias)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tree.String())
			fmt.Fprint(out, tree.Tree())
			return nil
		},
	}
	cmd.Flags().BoolVar(&alias, "alias", false, "name leaves by query alias")
	return cmd
}

func newCompareCmd(cc *cliContext) *cobra.Command {
	p := &planFlags{}
	cmd := &cobra.Command{
		Use:   "compare QUERY|@FILE",
		Short: "compare the sketch plan with the PostgreSQL plan of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := referencePlan(cmd, cc, args[0], false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, store, err := cc.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			res, err := runPlan(ctx, cc, store, p)
			if err != nil {
				return err
			}
			tree, ok := res.Tree()
			if !ok {
				return errors.Newf("sketch plan is not a single tree (%d trees)", len(res.Forest))
			}
			printComparison(cmd.OutOrStdout(), tree, ref, plantree.Compare(tree, ref))
			return nil
		},
	}
	p.register(cmd)
	return cmd
}
