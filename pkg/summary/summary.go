// Package summary builds the per-relation sketches the planner scores.
package summary

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/sketches"
)

// ErrUnknownRelation is returned when no summary exists for a relation.
var ErrUnknownRelation = errors.New("unknown relation")

// DefaultHLLPrecision gives 4096 registers (about 1.6% standard error).
const DefaultHLLPrecision = 12

// DataSource supplies the join keys of a relation and, optionally, a row
// count hint. It is the only collaborator that performs I/O.
type DataSource interface {
	KeysOf(ctx context.Context, relation string) ([]int64, error)
	// CardinalityOf returns false when no hint is available.
	CardinalityOf(ctx context.Context, relation string) (int64, bool, error)
}

// RelationSummary binds a relation to its sketch. It is not modified after
// it is built.
type RelationSummary struct {
	Relation       string           `json:"relation"`
	Sketch         *sketches.Sketch `json:"-"`
	Cardinality    int64            `json:"cardinality"`
	HasCardinality bool             `json:"has_cardinality"`
	DistinctKeys   uint64           `json:"distinct_keys"`
	Keys           int              `json:"keys"`
}

// Builder folds key streams into summaries of one shape.
type Builder struct {
	shape        sketches.Shape
	hllPrecision uint8
}

// NewBuilder returns a builder for shape.
func NewBuilder(shape sketches.Shape) (*Builder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Builder{shape: shape, hllPrecision: DefaultHLLPrecision}, nil
}

// Shape is the shape every summary from this builder shares.
func (b *Builder) Shape() sketches.Shape {
	return b.shape
}

// Build pulls the keys and the cardinality hint of relation from src.
func (b *Builder) Build(ctx context.Context, relation string, src DataSource) (*RelationSummary, error) {
	keys, err := src.KeysOf(ctx, relation)
	if err != nil {
		return nil, errors.Wrapf(err, "reading keys of %s", relation)
	}
	card, ok, err := src.CardinalityOf(ctx, relation)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cardinality of %s", relation)
	}
	if !ok {
		card = 0
	}
	s, err := b.FromKeys(relation, keys, card)
	if err != nil {
		return nil, err
	}
	s.HasCardinality = ok
	logging.WithRelation(relation).Debug("summary built",
		"keys", s.Keys, "distinct", s.DistinctKeys, "cardinality", s.Cardinality)
	return s, nil
}

// FromKeys builds a summary from an in-memory key sequence. A positive
// cardinality is recorded as a hint.
func (b *Builder) FromKeys(relation string, keys []int64, cardinality int64) (*RelationSummary, error) {
	sk, err := sketches.New(b.shape, sketches.ModeSingle)
	if err != nil {
		return nil, err
	}
	hll := sketches.NewHyperLogLog(b.hllPrecision)
	for _, k := range keys {
		if err := sk.Update(k, 1); err != nil {
			return nil, err
		}
		hll.AddKey(k)
	}
	return &RelationSummary{
		Relation:       relation,
		Sketch:         sk,
		Cardinality:    max(cardinality, 0),
		HasCardinality: cardinality > 0,
		DistinctKeys:   hll.Count(),
		Keys:           len(keys),
	}, nil
}

// FromSketch wraps a previously persisted sketch.
func FromSketch(relation string, sk *sketches.Sketch, cardinality int64, distinct uint64) (*RelationSummary, error) {
	if sk == nil {
		return nil, errors.Newf("nil sketch for %s", relation)
	}
	if sk.Mode() != sketches.ModeSingle {
		return nil, errors.Wrapf(sketches.ErrModeMismatch, "relation %s", relation)
	}
	return &RelationSummary{
		Relation:       relation,
		Sketch:         sk,
		Cardinality:    max(cardinality, 0),
		HasCardinality: cardinality > 0,
		DistinctKeys:   distinct,
	}, nil
}

// Registry maps relation identifiers to summaries for one planning run. All
// summaries share one sketch shape.
type Registry struct {
	shape     sketches.Shape
	summaries map[string]*RelationSummary
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{summaries: make(map[string]*RelationSummary)}
}

// Put adds or replaces the summary of s.Relation.
func (r *Registry) Put(s *RelationSummary) error {
	if s == nil || s.Sketch == nil {
		return errors.New("summary without sketch")
	}
	if s.Relation == "" {
		return errors.New("summary without relation identifier")
	}
	shape := s.Sketch.Shape()
	if len(r.summaries) > 0 && shape != r.shape {
		return errors.Wrapf(sketches.ErrShapeMismatch,
			"relation %s has %dx%d, registry holds %dx%d",
			s.Relation, shape.Depth, shape.Width, r.shape.Depth, r.shape.Width)
	}
	r.shape = shape
	r.summaries[s.Relation] = s
	return nil
}

// Get returns the summary of relation or ErrUnknownRelation.
func (r *Registry) Get(relation string) (*RelationSummary, error) {
	s, ok := r.summaries[relation]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRelation, "%q", relation)
	}
	return s, nil
}

// Has reports whether relation has a summary.
func (r *Registry) Has(relation string) bool {
	_, ok := r.summaries[relation]
	return ok
}

// Len is the number of summaries.
func (r *Registry) Len() int {
	return len(r.summaries)
}

// Relations lists the registered identifiers in sorted order.
func (r *Registry) Relations() []string {
	out := make([]string, 0, len(r.summaries))
	for k := range r.summaries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildAll builds one summary per relation, running at most parallelism
// builds at once. Relations share no state, so the only coordination is the
// final wait.
func BuildAll(ctx context.Context, b *Builder, src DataSource, relations []string, parallelism int) (*Registry, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	results := make([]*RelationSummary, len(relations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, rel := range relations {
		i, rel := i, rel
		g.Go(func() error {
			s, err := b.Build(gctx, rel, src)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for _, s := range results {
		if err := reg.Put(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
