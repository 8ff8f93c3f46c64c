package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moralespanitz/compass-project/pkg/sketches"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

var testShape = sketches.Shape{Depth: 5, Width: 512, Seed: 0x5eed}

func keyRange(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for k := from; k <= to; k++ {
		out = append(out, k)
	}
	return out
}

// registryOf builds a registry with one summary per entry of keys.
func registryOf(t *testing.T, keys map[string][]int64) *summary.Registry {
	t.Helper()
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	reg := summary.NewRegistry()
	for rel, ks := range keys {
		s, err := b.FromKeys(rel, ks, int64(len(ks)))
		require.NoError(t, err)
		require.NoError(t, reg.Put(s))
	}
	return reg
}

// fixedScorer returns preset scores keyed by unordered relation pair.
type fixedScorer map[[2]string]float64

func (f fixedScorer) set(a, b string, v float64) {
	if b < a {
		a, b = b, a
	}
	f[[2]string{a, b}] = v
}

func (f fixedScorer) Score(a, b *summary.RelationSummary) (Score, error) {
	l, r := a.Relation, b.Relation
	if r < l {
		l, r = r, l
	}
	v, ok := f[[2]string{l, r}]
	if !ok {
		return Score{}, errors.Newf("no score for %s-%s", l, r)
	}
	return Score{Value: v}, nil
}

func assemble(t *testing.T, reg *summary.Registry, relations []string, edges []Edge) *Result {
	t.Helper()
	a, err := NewAssembler(reg, DefaultPolicy)
	require.NoError(t, err)
	res, err := a.Assemble(relations, edges)
	require.NoError(t, err)
	return res
}

func TestAssemble_ChainJoinsOverlappingPairFirst(t *testing.T) {
	reg := registryOf(t, map[string][]int64{
		"R1": keyRange(1, 200),
		"R2": keyRange(1, 200),
		"R3": {1000, 1001, 1002},
	})
	res := assemble(t, reg, nil, []Edge{
		{Left: "R1", Right: "R2", Predicate: "R1.k = R2.k"},
		{Left: "R2", Right: "R3", Predicate: "R2.k = R3.k"},
	})

	tree, ok := res.Tree()
	require.True(t, ok)
	assert.Equal(t, "((R1 ⨝ R2) ⨝ R3)", tree.String())
	assert.Equal(t, "R1.k = R2.k", tree.Left.Predicate)
	assert.Equal(t, "R2.k = R3.k", tree.Predicate)
	assert.False(t, res.Residual())

	require.Len(t, res.Edges, 2)
	assert.Equal(t, "R1", res.Edges[0].Left)
	assert.Greater(t, res.Edges[0].Score, res.Edges[1].Score)
	for _, e := range res.Edges {
		assert.Equal(t, EdgeAccepted, e.Status)
		require.NotNil(t, e.CI)
		assert.Equal(t, testShape.Depth, e.CI.Rows)
	}
}

func TestAssemble_ChainMirrored(t *testing.T) {
	reg := registryOf(t, map[string][]int64{
		"R1": {1000, 1001, 1002},
		"R2": keyRange(1, 200),
		"R3": keyRange(1, 200),
	})
	res := assemble(t, reg, nil, []Edge{
		{Left: "R1", Right: "R2"},
		{Left: "R2", Right: "R3"},
	})
	tree, ok := res.Tree()
	require.True(t, ok)
	assert.Equal(t, "(R1 ⨝ (R2 ⨝ R3))", tree.String())
}

func TestAssemble_ConnectedGraphUsesEveryRelationOnce(t *testing.T) {
	keys := map[string][]int64{}
	var rels []string
	for i := 0; i < 6; i++ {
		rel := fmt.Sprintf("t%d", i)
		rels = append(rels, rel)
		keys[rel] = keyRange(int64(i*10), int64(i*10+50))
	}
	reg := registryOf(t, keys)

	var edges []Edge
	for i := range rels {
		for j := i + 1; j < len(rels); j++ {
			edges = append(edges, Edge{Left: rels[i], Right: rels[j]})
		}
	}
	res := assemble(t, reg, nil, edges)

	tree, ok := res.Tree()
	require.True(t, ok)
	assert.ElementsMatch(t, rels, tree.Leaves())
	assert.Equal(t, len(rels)-1, tree.JoinCount())

	accepted := 0
	for _, e := range res.Edges {
		if e.Status == EdgeAccepted {
			accepted++
		}
	}
	assert.Equal(t, len(rels)-1, accepted)
	assert.Len(t, res.Edges, len(edges))
}

func TestAssemble_IsDeterministic(t *testing.T) {
	reg := registryOf(t, map[string][]int64{
		"a": keyRange(1, 100), "b": keyRange(50, 150), "c": keyRange(90, 300), "d": keyRange(1, 20),
	})
	edges := []Edge{{Left: "a", Right: "b"}, {Left: "b", Right: "c"}, {Left: "c", Right: "d"}, {Left: "a", Right: "d"}}
	first := assemble(t, reg, nil, edges)
	for i := 0; i < 5; i++ {
		again := assemble(t, reg, nil, edges)
		assert.Equal(t, first.Forest.String(), again.Forest.String())
		assert.Equal(t, first.Edges, again.Edges)
	}
}

func TestAssemble_DisconnectedGraphYieldsForest(t *testing.T) {
	reg := summary.NewRegistry()
	scores := fixedScorer{}
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	for _, rel := range []string{"a", "b", "c", "d"} {
		s, err := b.FromKeys(rel, nil, 0)
		require.NoError(t, err)
		require.NoError(t, reg.Put(s))
	}
	scores.set("c", "d", 5)
	scores.set("a", "b", 1)

	res, err := NewAssemblerWithScorer(reg, "fixed", scores).Assemble(nil, []Edge{
		{Left: "c", Right: "d"},
		{Left: "a", Right: "b"},
	})
	require.NoError(t, err)
	require.Len(t, res.Forest, 2)
	assert.True(t, res.Residual())
	_, ok := res.Tree()
	assert.False(t, ok)
	// Ordered by the smallest relation in each tree, not by acceptance.
	assert.Equal(t, "(a ⨝ b)\n(c ⨝ d)", res.Forest.String())
	assert.Equal(t, 4-2, res.Forest.JoinCount())
}

func TestAssemble_EdgeCases(t *testing.T) {
	reg := registryOf(t, map[string][]int64{"only": {1, 2}})

	res := assemble(t, reg, nil, nil)
	assert.Empty(t, res.Forest)
	assert.Empty(t, res.Edges)

	res = assemble(t, reg, []string{"only"}, nil)
	tree, ok := res.Tree()
	require.True(t, ok)
	assert.True(t, tree.IsLeaf())
	assert.Equal(t, "only", tree.Relation)

	// Relations without edges need no summary.
	res = assemble(t, reg, []string{"x", "y"}, nil)
	assert.Equal(t, "x\ny", res.Forest.String())
}

func TestAssemble_SelfAndDuplicateEdgesAreSkipped(t *testing.T) {
	reg := summary.NewRegistry()
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	for _, rel := range []string{"a", "b"} {
		s, err := b.FromKeys(rel, nil, 0)
		require.NoError(t, err)
		require.NoError(t, reg.Put(s))
	}
	scores := fixedScorer{}
	scores.set("a", "b", 2)
	scores.set("a", "a", 9)

	res, err := NewAssemblerWithScorer(reg, "fixed", scores).Assemble(nil, []Edge{
		{Left: "a", Right: "b", Predicate: "first"},
		{Left: "a", Right: "a"},
		{Left: "b", Right: "a", Predicate: "second"},
	})
	require.NoError(t, err)
	tree, ok := res.Tree()
	require.True(t, ok)
	assert.Equal(t, "(a ⨝ b)", tree.String())
	assert.Equal(t, "first", tree.Predicate)

	require.Len(t, res.Edges, 3)
	assert.Equal(t, EdgeSkipped, res.Edges[0].Status) // a-a, highest score
	assert.Equal(t, EdgeAccepted, res.Edges[1].Status)
	assert.Equal(t, EdgeSkipped, res.Edges[2].Status)
}

func TestAssemble_TiesBreakByIdentifier(t *testing.T) {
	reg := summary.NewRegistry()
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	for _, rel := range []string{"a", "b", "c"} {
		s, err := b.FromKeys(rel, nil, 0)
		require.NoError(t, err)
		require.NoError(t, reg.Put(s))
	}
	scores := fixedScorer{}
	scores.set("a", "b", 1)
	scores.set("b", "c", 1)

	res, err := NewAssemblerWithScorer(reg, "fixed", scores).Assemble(nil, []Edge{
		{Left: "b", Right: "c"},
		{Left: "a", Right: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "((a ⨝ b) ⨝ c)", res.Forest.String())
}

func TestAssemble_NaNScoresRankLast(t *testing.T) {
	reg := summary.NewRegistry()
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	for _, rel := range []string{"a", "b", "c"} {
		s, err := b.FromKeys(rel, nil, 0)
		require.NoError(t, err)
		require.NoError(t, reg.Put(s))
	}
	scores := fixedScorer{}
	scores.set("a", "b", math.NaN())
	scores.set("b", "c", -3)

	res, err := NewAssemblerWithScorer(reg, "fixed", scores).Assemble(nil, []Edge{
		{Left: "a", Right: "b"},
		{Left: "b", Right: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "(a ⨝ (b ⨝ c))", res.Forest.String())
	assert.True(t, math.IsInf(res.Edges[1].Score, -1))

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded struct {
		Edges []struct {
			Left   string   `json:"left"`
			Score  *float64 `json:"score"`
			Status string   `json:"status"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Edges, 2)
	assert.Equal(t, -3.0, *decoded.Edges[0].Score)
	assert.Equal(t, "a", decoded.Edges[1].Left)
	assert.Nil(t, decoded.Edges[1].Score)
	assert.Equal(t, "accepted", decoded.Edges[1].Status)
}

func TestAssemble_UnknownRelation(t *testing.T) {
	reg := registryOf(t, map[string][]int64{"a": {1}})
	_, err := assembleEdges(reg, []Edge{{Left: "a", Right: "ghost"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, summary.ErrUnknownRelation))
	assert.Contains(t, err.Error(), "ghost")
}

func TestAssemble_ScorerErrorAborts(t *testing.T) {
	reg := registryOf(t, map[string][]int64{"a": {1}, "b": {2}})
	_, err := NewAssemblerWithScorer(reg, "fixed", fixedScorer{}).Assemble(nil, []Edge{{Left: "a", Right: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring edge 0")
}

func TestAssemble_EmptyRelationIdentifier(t *testing.T) {
	reg := summary.NewRegistry()
	_, err := assembleEdges(reg, []Edge{{Left: "", Right: "b"}})
	assert.True(t, errors.Is(err, ErrEmptyRelation))

	_, err = ParseEdge(" :b")
	assert.True(t, errors.Is(err, ErrEmptyRelation))
}

func assembleEdges(reg *summary.Registry, edges []Edge) (*Result, error) {
	a, err := NewAssembler(reg, DefaultPolicy)
	if err != nil {
		return nil, err
	}
	return a.Assemble(nil, edges)
}

func TestCardinalityNormalizedPolicy(t *testing.T) {
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	keys := keyRange(1, 100)
	small, err := b.FromKeys("small", keys, 100)
	require.NoError(t, err)
	big, err := b.FromKeys("big", keys, 1_000_000)
	require.NoError(t, err)
	bare, err := b.FromKeys("bare", keys, 0)
	require.NoError(t, err)

	scorer, err := PolicyCardinalityNormalized.Scorer()
	require.NoError(t, err)

	dot, err := small.Sketch.DotProduct(big.Sketch)
	require.NoError(t, err)
	hintedBoth, err := scorer.Score(small, big)
	require.NoError(t, err)
	assert.InDelta(t, dot/(1+math.Log1p(100)+math.Log1p(1_000_000)), hintedBoth.Value, 1e-6)
	assert.Len(t, hintedBoth.Rows, testShape.Depth)

	// One missing hint leaves the edge unnormalized.
	for _, hinted := range []*summary.RelationSummary{small, big} {
		mixed, err := scorer.Score(hinted, bare)
		require.NoError(t, err)
		assert.InDelta(t, dot, mixed.Value, 1e-6)
	}
	assert.Less(t, hintedBoth.Value, dot)
}

func TestMergeMagnitudePolicy(t *testing.T) {
	b, err := summary.NewBuilder(testShape)
	require.NoError(t, err)
	x, err := b.FromKeys("x", keyRange(1, 100), 0)
	require.NoError(t, err)
	y, err := b.FromKeys("y", keyRange(1, 100), 0)
	require.NoError(t, err)
	z, err := b.FromKeys("z", keyRange(5000, 5100), 0)
	require.NoError(t, err)

	scorer, err := PolicyMergeMagnitude.Scorer()
	require.NoError(t, err)
	same, err := scorer.Score(x, y)
	require.NoError(t, err)
	assert.InDelta(t, x.Sketch.SelfDotProduct(), same.Value, 1e-9)

	apart, err := scorer.Score(x, z)
	require.NoError(t, err)
	assert.Less(t, apart.Value, same.Value)

	other, err := summary.NewBuilder(sketches.Shape{Depth: 3, Width: 64, Seed: 1})
	require.NoError(t, err)
	w, err := other.FromKeys("w", nil, 0)
	require.NoError(t, err)
	_, err = scorer.Score(x, w)
	assert.True(t, errors.Is(err, sketches.ErrShapeMismatch))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMergeMagnitude, p)

	p, err = ParsePolicy(" Cardinality-Normalized ")
	require.NoError(t, err)
	assert.Equal(t, PolicyCardinalityNormalized, p)

	_, err = ParsePolicy("cost-based")
	assert.Error(t, err)

	_, err = Policy("bogus").Scorer()
	assert.Error(t, err)
	_, err = NewAssembler(summary.NewRegistry(), "bogus")
	assert.Error(t, err)
}

func TestParseEdge(t *testing.T) {
	e, err := ParseEdge("orders:customers:orders.cid = customers.id")
	require.NoError(t, err)
	assert.Equal(t, Edge{Left: "orders", Right: "customers", Predicate: "orders.cid = customers.id"}, e)
	assert.Equal(t, "orders-customers [orders.cid = customers.id]", e.String())

	e, err = ParseEdge(" a : b ")
	require.NoError(t, err)
	assert.Equal(t, Edge{Left: "a", Right: "b"}, e)
	assert.Equal(t, "a-b", e.String())

	for _, bad := range []string{"a", ":b", "a:", ""} {
		_, err := ParseEdge(bad)
		assert.Error(t, err, bad)
	}
}

func TestEndpoints(t *testing.T) {
	got := Endpoints([]Edge{
		{Left: "b", Right: "a"},
		{Left: "a", Right: "c"},
		{Left: "", Right: "d"},
		{Left: "c", Right: "b"},
	})
	assert.Equal(t, []string{"b", "a", "c", "d"}, got)
	assert.Empty(t, Endpoints(nil))
}
