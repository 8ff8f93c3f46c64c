// Package sketches provides the randomized summaries used to compare join-key
// distributions without materializing them.
package sketches

import (
	"github.com/cockroachdb/errors"
)

// SketchType names a persisted sketch kind.
type SketchType string

const (
	AGMSType SketchType = "agms"
)

var (
	// ErrShapeMismatch is returned when two sketches of different depth, width
	// or hash seed are merged or compared.
	ErrShapeMismatch = errors.New("sketch shape mismatch")

	// ErrModeMismatch is returned when an operation of one update regime is
	// applied to a sketch created for the other.
	ErrModeMismatch = errors.New("sketch mode mismatch")

	// ErrInvalidShape is returned for non-positive dimensions.
	ErrInvalidShape = errors.New("invalid sketch shape")
)

// Mode selects the update regime of a Sketch. The two regimes are not
// interchangeable: a sketch is created in exactly one of them.
type Mode uint8

const (
	// ModeSingle hashes one value per row into a bucket and adds a ±1 sign
	// taken from an independent hash (AGMS).
	ModeSingle Mode = 1
	// ModePair hashes two values per row and increments the bucket addressed
	// by the XOR of their hashes.
	ModePair Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModePair:
		return "pair"
	default:
		return "unknown"
	}
}

// Shape fixes the dimensions and hash family of a sketch. Sketches can only
// be merged or compared when their shapes are equal.
type Shape struct {
	Depth int    `json:"depth" yaml:"depth"`
	Width int    `json:"width" yaml:"width"`
	Seed  uint64 `json:"seed" yaml:"seed"`
}

// DefaultShape is used when a caller does not pick one.
var DefaultShape = Shape{Depth: 5, Width: 512, Seed: 0x636f6d70617373}

// Validate checks that the dimensions are usable.
func (s Shape) Validate() error {
	if s.Depth <= 0 || s.Width <= 0 {
		return errors.Wrapf(ErrInvalidShape, "depth=%d width=%d", s.Depth, s.Width)
	}
	return nil
}

// Cells is the number of counters a sketch of this shape holds.
func (s Shape) Cells() int {
	return s.Depth * s.Width
}
