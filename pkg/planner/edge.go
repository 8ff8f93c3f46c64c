package planner

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Edge declares that two relations are joinable. Predicate is carried into
// the plan as an annotation and plays no part in scoring.
type Edge struct {
	Left      string `json:"left"`
	Right     string `json:"right"`
	Predicate string `json:"predicate,omitempty"`
}

func (e Edge) String() string {
	if e.Predicate == "" {
		return e.Left + "-" + e.Right
	}
	return e.Left + "-" + e.Right + " [" + e.Predicate + "]"
}

// ParseEdge reads "left:right" or "left:right:predicate".
func ParseEdge(s string) (Edge, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Edge{}, errors.Newf("edge %q: want left:right[:predicate]", s)
	}
	e := Edge{Left: strings.TrimSpace(parts[0]), Right: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		e.Predicate = strings.TrimSpace(parts[2])
	}
	if e.Left == "" || e.Right == "" {
		return Edge{}, errors.Wrapf(ErrEmptyRelation, "edge %q", s)
	}
	return e, nil
}

// Endpoints lists the relations named by edges once each, in first-seen
// order. Empty identifiers are left out.
func Endpoints(edges []Edge) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range edges {
		for _, rel := range []string{e.Left, e.Right} {
			if rel != "" && !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
		}
	}
	return out
}
