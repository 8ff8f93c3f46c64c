// Package planner assembles a join tree greedily from sketch-scored edges.
package planner

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/moralespanitz/compass-project/pkg/estimator"
	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/plantree"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

// ErrEmptyRelation is returned for an edge or relation list entry with an
// empty identifier.
var ErrEmptyRelation = errors.New("empty relation identifier")

// EdgeStatus records what the assembler did with a popped edge.
type EdgeStatus string

const (
	EdgeAccepted EdgeStatus = "accepted"
	// EdgeSkipped marks an edge whose endpoints already shared a group.
	EdgeSkipped EdgeStatus = "skipped"
)

// ScoredEdge is an input edge with its score, in the order it was popped.
type ScoredEdge struct {
	Edge
	Index  int                 `json:"index"`
	Score  float64             `json:"score"`
	CI     *estimator.CIResult `json:"ci,omitempty"`
	Status EdgeStatus          `json:"status"`
}

// MarshalJSON encodes a non-finite score as null.
func (se ScoredEdge) MarshalJSON() ([]byte, error) {
	type plain ScoredEdge
	out := struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(se)}
	if !math.IsNaN(se.Score) && !math.IsInf(se.Score, 0) {
		out.Score = &se.Score
	}
	return json.Marshal(out)
}

// Result is the outcome of one planning run.
type Result struct {
	Policy Policy          `json:"policy"`
	Forest plantree.Forest `json:"forest"`
	Edges  []ScoredEdge    `json:"edges"`
	// Relations is the number of distinct relations planned.
	Relations int `json:"relations"`
}

// Residual reports whether the graph was disconnected, leaving more than
// one tree for the caller to combine.
func (r *Result) Residual() bool {
	return len(r.Forest) > 1
}

// Tree returns the single join tree, or false for an empty or residual
// forest.
func (r *Result) Tree() (*plantree.Node, bool) {
	if len(r.Forest) != 1 {
		return nil, false
	}
	return r.Forest[0], true
}

// Confidence is the two-sided level used for per-edge score intervals.
const Confidence = 0.95

// Assembler orders joins over one registry. Summaries are only read.
type Assembler struct {
	registry *summary.Registry
	policy   Policy
	scorer   Scorer
}

// NewAssembler returns an assembler scoring with policy.
func NewAssembler(registry *summary.Registry, policy Policy) (*Assembler, error) {
	scorer, err := policy.Scorer()
	if err != nil {
		return nil, err
	}
	return &Assembler{registry: registry, policy: policy, scorer: scorer}, nil
}

// NewAssemblerWithScorer uses a caller-provided scorer.
func NewAssemblerWithScorer(registry *summary.Registry, name Policy, scorer Scorer) *Assembler {
	return &Assembler{registry: registry, policy: name, scorer: scorer}
}

// candidateLess orders the edge queue: descending score, then left, right,
// predicate and input position ascending.
func candidateLess(a, b ScoredEdge) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Left != b.Left {
		return a.Left < b.Left
	}
	if a.Right != b.Right {
		return a.Right < b.Right
	}
	if a.Predicate != b.Predicate {
		return a.Predicate < b.Predicate
	}
	return a.Index < b.Index
}

// Assemble plans relations joined by edges. Every relation named in
// relations or by an edge becomes a leaf. Edge endpoints must have a
// summary; the run fails with summary.ErrUnknownRelation before any scoring
// otherwise. Edges are scored once, up front.
func (a *Assembler) Assemble(relations []string, edges []Edge) (*Result, error) {
	log := logging.WithComponent("planner")

	names, err := collectRelations(relations, edges)
	if err != nil {
		return nil, err
	}
	for i, e := range edges {
		for _, rel := range []string{e.Left, e.Right} {
			if _, err := a.registry.Get(rel); err != nil {
				return nil, errors.Wrapf(err, "edge %d (%s)", i, e)
			}
		}
	}

	queue := btree.NewG[ScoredEdge](8, candidateLess)
	for i, e := range edges {
		se, err := a.score(i, e)
		if err != nil {
			return nil, err
		}
		queue.ReplaceOrInsert(se)
	}

	groups := newGroups(names)
	res := &Result{Policy: a.policy, Relations: len(names), Edges: make([]ScoredEdge, 0, len(edges))}
	for queue.Len() > 0 {
		se, _ := queue.DeleteMin()
		if groups.find(se.Left) == groups.find(se.Right) {
			se.Status = EdgeSkipped
			res.Edges = append(res.Edges, se)
			log.Debug("edge skipped", "edge", se.Edge.String(), "score", se.Score)
			continue
		}
		groups.union(se.Left, se.Right, se.Predicate)
		se.Status = EdgeAccepted
		res.Edges = append(res.Edges, se)
		log.Debug("edge accepted", "edge", se.Edge.String(), "score", se.Score)
	}

	res.Forest = groups.forest()
	log.Debug("plan assembled", "policy", string(a.policy),
		"relations", len(names), "trees", len(res.Forest), "joins", res.Forest.JoinCount())
	return res, nil
}

func (a *Assembler) score(i int, e Edge) (ScoredEdge, error) {
	left, err := a.registry.Get(e.Left)
	if err != nil {
		return ScoredEdge{}, err
	}
	right, err := a.registry.Get(e.Right)
	if err != nil {
		return ScoredEdge{}, err
	}
	s, err := a.scorer.Score(left, right)
	if err != nil {
		return ScoredEdge{}, errors.Wrapf(err, "scoring edge %d (%s)", i, e)
	}
	v := s.Value
	if math.IsNaN(v) {
		v = math.Inf(-1)
	}
	se := ScoredEdge{Edge: e, Index: i, Score: v}
	if len(s.Rows) > 0 && !math.IsInf(v, 0) {
		ci := estimator.RowSumCI(s.Rows, Confidence)
		se.CI = &ci
	}
	return se, nil
}

func collectRelations(relations []string, edges []Edge) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(r string) error {
		if r == "" {
			return ErrEmptyRelation
		}
		if !seen[r] {
			seen[r] = true
			names = append(names, r)
		}
		return nil
	}
	for _, r := range relations {
		if err := add(r); err != nil {
			return nil, err
		}
	}
	for i, e := range edges {
		if err := add(e.Left); err != nil {
			return nil, errors.Wrapf(err, "edge %d", i)
		}
		if err := add(e.Right); err != nil {
			return nil, errors.Wrapf(err, "edge %d", i)
		}
	}
	return names, nil
}

// groups is a union-find over relation identifiers. Each root carries the
// plan fragment of its group.
type groups struct {
	parent   map[string]string
	size     map[string]int
	fragment map[string]*plantree.Node
	order    []string
}

func newGroups(names []string) *groups {
	g := &groups{
		parent:   make(map[string]string, len(names)),
		size:     make(map[string]int, len(names)),
		fragment: make(map[string]*plantree.Node, len(names)),
		order:    names,
	}
	for _, n := range names {
		g.parent[n] = n
		g.size[n] = 1
		g.fragment[n] = plantree.Leaf(n)
	}
	return g
}

func (g *groups) find(x string) string {
	root := x
	for g.parent[root] != root {
		root = g.parent[root]
	}
	for g.parent[x] != root {
		next := g.parent[x]
		g.parent[x] = root
		x = next
	}
	return root
}

// union joins the groups of left and right; the left group's fragment
// becomes the left child.
func (g *groups) union(left, right, predicate string) {
	lr, rr := g.find(left), g.find(right)
	node := plantree.Join(g.fragment[lr], g.fragment[rr], predicate)
	delete(g.fragment, lr)
	delete(g.fragment, rr)
	if g.size[lr] < g.size[rr] {
		lr, rr = rr, lr
	}
	g.parent[rr] = lr
	g.size[lr] += g.size[rr]
	g.fragment[lr] = node
}

// forest returns one tree per group, ordered by the smallest relation
// identifier in each group.
func (g *groups) forest() plantree.Forest {
	smallest := make(map[string]string)
	for _, n := range g.order {
		root := g.find(n)
		if cur, ok := smallest[root]; !ok || n < cur {
			smallest[root] = n
		}
	}
	roots := make([]string, 0, len(smallest))
	for r := range smallest {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return smallest[roots[i]] < smallest[roots[j]] })

	f := make(plantree.Forest, len(roots))
	for i, r := range roots {
		f[i] = g.fragment[r]
	}
	return f
}
