// Package explain turns PostgreSQL EXPLAIN (FORMAT JSON) output into join
// trees that can be compared with sketch-assembled plans.
package explain

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/moralespanitz/compass-project/pkg/plantree"
)

// ErrNoJoinTree is returned when a plan contains no scanned relation.
var ErrNoJoinTree = errors.New("plan has no relations")

// Node is the subset of a PostgreSQL plan node that matters for join order.
type Node struct {
	NodeType           string  `json:"Node Type"`
	RelationName       string  `json:"Relation Name,omitempty"`
	Alias              string  `json:"Alias,omitempty"`
	ParentRelationship string  `json:"Parent Relationship,omitempty"`
	HashCond           string  `json:"Hash Cond,omitempty"`
	MergeCond          string  `json:"Merge Cond,omitempty"`
	JoinFilter         string  `json:"Join Filter,omitempty"`
	IndexCond          string  `json:"Index Cond,omitempty"`
	PlanRows           float64 `json:"Plan Rows"`
	TotalCost          float64 `json:"Total Cost"`
	Plans              []Node  `json:"Plans,omitempty"`
}

// Options control how plan nodes become tree nodes.
type Options struct {
	// UseAlias names leaves by their query alias instead of the table.
	UseAlias bool
}

type document struct {
	Plan Node `json:"Plan"`
}

// Fetch asks db for the plan of query. db must be a PostgreSQL connection.
func Fetch(ctx context.Context, db *sql.DB, query string) ([]byte, error) {
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	var raw string
	if err := db.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&raw); err != nil {
		return nil, errors.Wrap(err, "explaining query")
	}
	return []byte(raw), nil
}

// Parse reads EXPLAIN JSON and returns the join tree of its first plan.
func Parse(data []byte, opts Options) (*plantree.Node, error) {
	var docs []document
	if err := json.Unmarshal(data, &docs); err != nil {
		var doc document
		if err2 := json.Unmarshal(data, &doc); err2 != nil {
			return nil, errors.Wrap(err, "decoding plan")
		}
		docs = []document{doc}
	}
	if len(docs) == 0 {
		return nil, errors.Wrap(ErrNoJoinTree, "empty plan list")
	}
	tree := convert(docs[0].Plan, opts)
	if tree == nil {
		return nil, ErrNoJoinTree
	}
	return tree, nil
}

// Plan fetches and parses the plan of query.
func Plan(ctx context.Context, db *sql.DB, query string, opts Options) (*plantree.Node, error) {
	data, err := Fetch(ctx, db, query)
	if err != nil {
		return nil, err
	}
	return Parse(data, opts)
}

func isJoin(nodeType string) bool {
	switch nodeType {
	case "Hash Join", "Merge Join", "Nested Loop":
		return true
	}
	return false
}

func condition(n Node) string {
	for _, c := range []string{n.HashCond, n.MergeCond, n.JoinFilter} {
		if c != "" {
			return c
		}
	}
	return ""
}

// convert maps a plan node to a tree node. Scans become leaves, joins
// become join nodes, and every other node passes its children through.
// Sub-plans feeding expressions are ignored. Nil means no relation below.
func convert(n Node, opts Options) *plantree.Node {
	var kids []*plantree.Node
	for _, c := range n.Plans {
		if c.ParentRelationship == "InitPlan" || c.ParentRelationship == "SubPlan" {
			continue
		}
		if k := convert(c, opts); k != nil {
			kids = append(kids, k)
		}
	}

	if n.RelationName != "" && len(kids) == 0 {
		name := n.RelationName
		if opts.UseAlias && n.Alias != "" {
			name = n.Alias
		}
		return plantree.Leaf(name)
	}

	switch len(kids) {
	case 0:
		return nil
	case 1:
		return kids[0]
	}

	pred := ""
	if isJoin(n.NodeType) {
		pred = condition(n)
		// A parameterized inner index scan carries the join condition.
		if pred == "" && n.NodeType == "Nested Loop" && len(n.Plans) == 2 {
			pred = n.Plans[1].IndexCond
		}
	}
	// Appends and other n-ary nodes fold left-deep.
	acc := kids[0]
	for _, k := range kids[1:] {
		acc = plantree.Join(acc, k, pred)
	}
	return acc
}
