package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/moralespanitz/compass-project/pkg/executor"
	"github.com/moralespanitz/compass-project/pkg/planner"
	"github.com/moralespanitz/compass-project/pkg/plantree"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// printEdges lists the scored edges in the order they were considered.
func printEdges(w io.Writer, res *planner.Result) {
	table := newTable(w, []string{"#", "edge", "score", "95% ci", "status"})
	for i, e := range res.Edges {
		ci := ""
		if e.CI != nil {
			ci = "[" + formatScore(e.CI.Lower) + ", " + formatScore(e.CI.Upper) + "]"
		}
		table.Append([]string{strconv.Itoa(i + 1), e.Edge.String(), formatScore(e.Score), ci, string(e.Status)})
	}
	table.Render()
	fmt.Fprintf(w, "policy %s, %d relations, %d joins\n", res.Policy, res.Relations, res.Forest.JoinCount())
}

func printSketches(w io.Writer, infos []storage.SketchInfo) {
	table := newTable(w, []string{"table", "column", "shape", "keys", "distinct", "size"})
	for _, in := range infos {
		table.Append([]string{
			in.Table,
			in.Column,
			fmt.Sprintf("%dx%d", in.Depth, in.Width),
			humanize.Comma(in.KeyCount),
			humanize.Comma(int64(in.DistinctKeys)),
			humanize.Bytes(uint64(in.SizeBytes)),
		})
	}
	table.Render()
}

// printStatement shows the rows of one executed statement, or its outcome
// when it returned none.
func printStatement(w io.Writer, res executor.Result) {
	fmt.Fprintf(w, "-- statement %d (line %d)\n", res.Statement.Index+1, res.Statement.Line)
	if res.Err != nil {
		fmt.Fprintf(w, "ERROR: %v\n", res.Err)
		return
	}
	if len(res.Columns) == 0 {
		fmt.Fprintf(w, "OK, %d row(s) affected\n", res.RowsAffected)
		return
	}
	table := newTable(w, res.Columns)
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			cells[i] = formatValue(row[c])
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "(%d row%s)\n", len(res.Rows), plural(len(res.Rows)))
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	return strings.NewReplacer("\t", "  ", "\n", `\n`).Replace(s)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func printComparison(w io.Writer, sketch, ref *plantree.Node, c plantree.Comparison) {
	fmt.Fprintf(w, "sketch:    %s\n", sketch)
	fmt.Fprintf(w, "reference: %s\n", ref)
	fmt.Fprintf(w, "shared joins: %d of %d/%d (%.0f%%)\n", c.Shared, c.LeftJoins, c.RightJoins, 100*c.Ratio)
	fmt.Fprintf(w, "same relations: %t, same shape: %t\n", c.SameRelations, c.SameShape)
}
