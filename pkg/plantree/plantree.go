// Package plantree holds the join-tree shape produced by the planner and by
// reference plans read from a database.
package plantree

import (
	"sort"
	"strings"

	"github.com/xlab/treeprint"
)

// JoinSymbol separates the two children in the text rendering.
const JoinSymbol = "⨝"

// Kind tags a Node as a leaf or a join.
type Kind string

const (
	KindLeaf Kind = "leaf"
	KindJoin Kind = "join"
)

// Node is either a relation leaf or a binary join of two subtrees. Nodes are
// never mutated after construction; a subtree is reused only as a child.
type Node struct {
	Kind      Kind   `json:"kind"`
	Relation  string `json:"relation,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Left      *Node  `json:"left,omitempty"`
	Right     *Node  `json:"right,omitempty"`
}

// Leaf returns a leaf for relation.
func Leaf(relation string) *Node {
	return &Node{Kind: KindLeaf, Relation: relation}
}

// Join returns a join node over left and right annotated with predicate.
func Join(left, right *Node, predicate string) *Node {
	return &Node{Kind: KindJoin, Predicate: predicate, Left: left, Right: right}
}

// IsLeaf reports whether n is a relation leaf.
func (n *Node) IsLeaf() bool {
	return n.Kind == KindLeaf
}

// Leaves lists the relations left to right.
func (n *Node) Leaves() []string {
	var out []string
	n.walk(func(x *Node) {
		if x.IsLeaf() {
			out = append(out, x.Relation)
		}
	})
	return out
}

// JoinCount is the number of internal nodes.
func (n *Node) JoinCount() int {
	count := 0
	n.walk(func(x *Node) {
		if !x.IsLeaf() {
			count++
		}
	})
	return count
}

func (n *Node) walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	if !n.IsLeaf() {
		n.Left.walk(fn)
		n.Right.walk(fn)
	}
}

// String renders the nested form, e.g. ((a ⨝ b) ⨝ c). Predicates are not
// shown; see Tree.
func (n *Node) String() string {
	var sb strings.Builder
	n.format(&sb)
	return sb.String()
}

func (n *Node) format(sb *strings.Builder) {
	if n.IsLeaf() {
		sb.WriteString(n.Relation)
		return
	}
	sb.WriteByte('(')
	n.Left.format(sb)
	sb.WriteString(" " + JoinSymbol + " ")
	n.Right.format(sb)
	sb.WriteByte(')')
}

// Tree renders an indented tree including predicates.
func (n *Node) Tree() string {
	root := treeprint.NewWithRoot(n.label())
	n.addChildren(root)
	return root.String()
}

func (n *Node) label() string {
	if n.IsLeaf() {
		return n.Relation
	}
	if n.Predicate != "" {
		return JoinSymbol + " " + n.Predicate
	}
	return JoinSymbol
}

func (n *Node) addChildren(t treeprint.Tree) {
	if n.IsLeaf() {
		return
	}
	for _, c := range []*Node{n.Left, n.Right} {
		if c.IsLeaf() {
			t.AddNode(c.label())
			continue
		}
		c.addChildren(t.AddBranch(c.label()))
	}
}

// Equal reports structural equality including child order and predicates.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Kind != o.Kind || n.Relation != o.Relation || n.Predicate != o.Predicate {
		return false
	}
	if n.IsLeaf() {
		return true
	}
	return n.Left.Equal(o.Left) && n.Right.Equal(o.Right)
}

// Canonical renders n with children ordered by their own canonical form and
// predicates dropped, so that two trees joining the same sets in the same
// nesting compare equal regardless of left/right placement.
func (n *Node) Canonical() string {
	if n.IsLeaf() {
		return n.Relation
	}
	l, r := n.Left.Canonical(), n.Right.Canonical()
	if r < l {
		l, r = r, l
	}
	return "(" + l + " " + JoinSymbol + " " + r + ")"
}

// Forest is the planner output: one tree per connected group of relations.
// A forest with more than one tree means the join graph was disconnected.
type Forest []*Node

// Leaves lists all relations across the trees.
func (f Forest) Leaves() []string {
	var out []string
	for _, t := range f {
		out = append(out, t.Leaves()...)
	}
	return out
}

// JoinCount totals the internal nodes across the trees.
func (f Forest) JoinCount() int {
	count := 0
	for _, t := range f {
		count += t.JoinCount()
	}
	return count
}

// String renders one tree per line.
func (f Forest) String() string {
	lines := make([]string, len(f))
	for i, t := range f {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}

// Comparison summarizes how much of two join trees agree.
type Comparison struct {
	// Shared counts join nodes of a whose leaf set also forms a join node of b.
	Shared int `json:"shared"`
	// LeftJoins and RightJoins count the join nodes of each tree.
	LeftJoins  int `json:"left_joins"`
	RightJoins int `json:"right_joins"`
	// Ratio is Shared over the larger join count, 1 when neither joins.
	Ratio float64 `json:"ratio"`
	// SameShape is true when both trees nest the same sets identically,
	// ignoring child order and predicates.
	SameShape bool `json:"same_shape"`
	// SameRelations is true when both trees cover the same relation set.
	SameRelations bool `json:"same_relations"`
}

// Compare matches the intermediate results of two plans. Two join nodes
// match when they combine exactly the same set of relations.
func Compare(a, b *Node) Comparison {
	as, bs := joinSets(a), joinSets(b)
	c := Comparison{LeftJoins: len(as), RightJoins: len(bs)}
	seen := make(map[string]bool, len(bs))
	for _, k := range bs {
		seen[k] = true
	}
	for _, k := range as {
		if seen[k] {
			c.Shared++
			delete(seen, k)
		}
	}
	denom := max(len(as), len(bs))
	if denom == 0 {
		c.Ratio = 1
	} else {
		c.Ratio = float64(c.Shared) / float64(denom)
	}
	c.SameShape = a.Canonical() == b.Canonical()
	c.SameRelations = setKey(a.Leaves()) == setKey(b.Leaves())
	return c
}

func joinSets(n *Node) []string {
	var out []string
	n.walk(func(x *Node) {
		if !x.IsLeaf() {
			out = append(out, setKey(x.Leaves()))
		}
	})
	return out
}

func setKey(relations []string) string {
	sorted := append([]string(nil), relations...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
