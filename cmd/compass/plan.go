package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/moralespanitz/compass-project/pkg/datasource"
	"github.com/moralespanitz/compass-project/pkg/planner"
	"github.com/moralespanitz/compass-project/pkg/storage"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

type planFlags struct {
	edges     []string
	relations []string
	live      bool
	recorded  bool
}

func (p *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&p.edges, "edge", "e", nil, "join edge left:right[:predicate], repeatable")
	cmd.Flags().StringSliceVarP(&p.relations, "relation", "r", nil, "extra relation without edges")
	cmd.Flags().BoolVar(&p.live, "live", false, "sketch the tables now instead of using stored sketches")
	cmd.Flags().BoolVar(&p.recorded, "recorded-counts", false, "with --live, use recorded row counts instead of COUNT(*)")
}

func (p *planFlags) parseEdges() ([]planner.Edge, error) {
	edges := make([]planner.Edge, 0, len(p.edges))
	for _, s := range p.edges {
		e, err := planner.ParseEdge(s)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func buildRegistry(
	ctx context.Context, cc *cliContext, store *storage.Store, rels []string, p *planFlags,
) (*summary.Registry, error) {
	if !p.live {
		return store.LoadRegistry(ctx, cc.cfg.KeyColumn, rels)
	}
	var opts []datasource.Option
	if p.recorded {
		opts = append(opts, datasource.WithoutCount(), datasource.WithRowCounter(store))
	}
	src, err := datasource.New(store.DB(), cc.cfg.KeyColumn, opts...)
	if err != nil {
		return nil, err
	}
	b, err := summary.NewBuilder(cc.cfg.Sketch)
	if err != nil {
		return nil, err
	}
	return summary.BuildAll(ctx, b, src, rels, cc.cfg.BuildParallelism)
}

func runPlan(ctx context.Context, cc *cliContext, store *storage.Store, p *planFlags) (*planner.Result, error) {
	edges, err := p.parseEdges()
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(ctx, cc, store, planner.Endpoints(edges), p)
	if err != nil {
		return nil, err
	}
	a, err := planner.NewAssembler(reg, cc.cfg.PlannerPolicy())
	if err != nil {
		return nil, err
	}
	return a.Assemble(p.relations, edges)
}

func newPlanCmd(cc *cliContext) *cobra.Command {
	p := &planFlags{}
	var showTree bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "order joins greedily by sketch scores",
		Example: `  compass plan -e table_a:table_b -e table_b:table_c
  compass plan --live --policy cardinality-normalized -e orders:customers:orders.cid=customers.id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			printResult(cmd.OutOrStdout(), res, showTree)
			return nil
		},
	}
	p.register(cmd)
	cmd.Flags().BoolVar(&showTree, "tree", false, "print each tree with predicates")
	return cmd
}

func printResult(w io.Writer, res *planner.Result, showTree bool) {
	for _, t := range res.Forest {
		fmt.Fprintln(w, t.String())
		if showTree {
			fmt.Fprint(w, t.Tree())
		}
	}
	if res.Residual() {
		fmt.Fprintf(w, "(disconnected: %d trees)\n", len(res.Forest))
	}
	printEdges(w, res)
}
