package planner

import (
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/moralespanitz/compass-project/pkg/summary"
)

// Policy names an edge scoring formula. A run uses exactly one.
type Policy string

const (
	// PolicyMergeMagnitude scores an edge by the self dot product of the
	// min-magnitude merge of both sketches. Larger means more key overlap.
	PolicyMergeMagnitude Policy = "merge-magnitude"
	// PolicyCardinalityNormalized divides the sketch dot product by
	// 1 + log1p(|A|) + log1p(|B|) so that large, loosely related relations
	// rank below small, tightly related ones. An edge with a missing hint on
	// either endpoint keeps its unnormalized dot product.
	PolicyCardinalityNormalized Policy = "cardinality-normalized"
)

// DefaultPolicy is the policy used when none is configured.
const DefaultPolicy = PolicyMergeMagnitude

// Policies lists the supported policies.
var Policies = []Policy{PolicyMergeMagnitude, PolicyCardinalityNormalized}

// ParsePolicy accepts a policy name; empty selects DefaultPolicy.
func ParsePolicy(name string) (Policy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultPolicy, nil
	}
	for _, p := range Policies {
		if string(p) == name {
			return p, nil
		}
	}
	return "", errors.Newf("unknown scoring policy %q", name)
}

// Score is the benefit of joining two relations early. Rows holds the
// per-row components when the score is a sum over sketch rows.
type Score struct {
	Value float64
	Rows  []float64
}

// Scorer computes the benefit of an edge from its endpoint summaries.
type Scorer interface {
	Score(a, b *summary.RelationSummary) (Score, error)
}

// Scorer returns the Scorer implementing p.
func (p Policy) Scorer() (Scorer, error) {
	switch p {
	case PolicyMergeMagnitude:
		return mergeMagnitude{}, nil
	case PolicyCardinalityNormalized:
		return cardinalityNormalized{}, nil
	default:
		return nil, errors.Newf("unknown scoring policy %q", string(p))
	}
}

type mergeMagnitude struct{}

func (mergeMagnitude) Score(a, b *summary.RelationSummary) (Score, error) {
	merged, err := a.Sketch.Merge(b.Sketch)
	if err != nil {
		return Score{}, errors.Wrapf(err, "merging %s and %s", a.Relation, b.Relation)
	}
	rows, err := merged.RowEstimates(merged)
	if err != nil {
		return Score{}, err
	}
	return Score{Value: sum(rows), Rows: rows}, nil
}

type cardinalityNormalized struct{}

func (cardinalityNormalized) Score(a, b *summary.RelationSummary) (Score, error) {
	rows, err := a.Sketch.RowEstimates(b.Sketch)
	if err != nil {
		return Score{}, errors.Wrapf(err, "comparing %s and %s", a.Relation, b.Relation)
	}
	if hinted(a) && hinted(b) {
		norm := 1 + math.Log1p(float64(a.Cardinality)) + math.Log1p(float64(b.Cardinality))
		for i := range rows {
			rows[i] /= norm
		}
	}
	return Score{Value: sum(rows), Rows: rows}, nil
}

func hinted(s *summary.RelationSummary) bool {
	return s.HasCardinality && s.Cardinality > 0
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}
