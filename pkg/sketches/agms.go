package sketches

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// Sketch is a Fast-AGMS style matrix of signed counters. Each of the depth
// rows hashes values into one of width buckets with its own seed pair.
//
// Counters saturate at ±math.MaxInt64 instead of wrapping.
type Sketch struct {
	mode  Mode
	shape Shape
	seeds []rowSeed
	table [][]int64 // table[row][bucket]
}

// New creates a zero-filled sketch of the given shape and regime.
func New(shape Shape, mode Mode) (*Sketch, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if mode != ModeSingle && mode != ModePair {
		return nil, errors.Newf("unknown sketch mode %d", mode)
	}
	table := make([][]int64, shape.Depth)
	cells := make([]int64, shape.Cells())
	for i := range table {
		table[i] = cells[i*shape.Width : (i+1)*shape.Width : (i+1)*shape.Width]
	}
	return &Sketch{
		mode:  mode,
		shape: shape,
		seeds: deriveSeeds(shape.Seed, shape.Depth),
		table: table,
	}, nil
}

// Shape returns the sketch dimensions and seed.
func (s *Sketch) Shape() Shape {
	return s.shape
}

// Mode returns the update regime the sketch was created with.
func (s *Sketch) Mode() Mode {
	return s.mode
}

// Counter returns the counter at row i, bucket j.
func (s *Sketch) Counter(i, j int) int64 {
	return s.table[i][j]
}

// IsZero reports whether every counter is zero.
func (s *Sketch) IsZero() bool {
	for _, row := range s.table {
		for _, c := range row {
			if c != 0 {
				return false
			}
		}
	}
	return true
}

// Update adds weight, signed per row, to the bucket value hashes to in each
// row. Only valid in ModeSingle.
func (s *Sketch) Update(value, weight int64) error {
	if s.mode != ModeSingle {
		return errors.Wrapf(ErrModeMismatch, "update on %s sketch", s.mode)
	}
	width := uint64(s.shape.Width)
	for i, seed := range s.seeds {
		j := seed.hashBucket(value) % width
		delta := weight
		if seed.hashSign(value) < 0 {
			delta = negate(weight)
		}
		s.table[i][j] = saturatingAdd(s.table[i][j], delta)
	}
	return nil
}

// UpdatePair adds weight to the bucket addressed by the XOR of the per-row
// hashes of a and b. Only valid in ModePair.
func (s *Sketch) UpdatePair(a, b, weight int64) error {
	if s.mode != ModePair {
		return errors.Wrapf(ErrModeMismatch, "pair update on %s sketch", s.mode)
	}
	for i := range s.seeds {
		j := s.pairBucket(i, a, b)
		s.table[i][j] = saturatingAdd(s.table[i][j], weight)
	}
	return nil
}

// EstimatePair reads the pair bucket of every row and returns the median
// reading. For even depth the lower middle element is used.
func (s *Sketch) EstimatePair(a, b int64) (float64, error) {
	if s.mode != ModePair {
		return 0, errors.Wrapf(ErrModeMismatch, "pair estimate on %s sketch", s.mode)
	}
	readings := make([]float64, len(s.seeds))
	for i := range s.seeds {
		readings[i] = float64(s.table[i][s.pairBucket(i, a, b)])
	}
	sort.Float64s(readings)
	return readings[(len(readings)-1)/2], nil
}

func (s *Sketch) pairBucket(row int, a, b int64) uint64 {
	seed := s.seeds[row]
	return (seed.hashBucket(a) ^ seed.hashBucket(b)) % uint64(s.shape.Width)
}

// Merge returns a new sketch whose counters are min(|s|, |other|) cell by
// cell. Neither operand is modified.
func (s *Sketch) Merge(other *Sketch) (*Sketch, error) {
	if err := s.checkShape(other); err != nil {
		return nil, err
	}
	merged, err := New(s.shape, s.mode)
	if err != nil {
		return nil, err
	}
	for i := range s.table {
		for j := range s.table[i] {
			merged.table[i][j] = min(abs(s.table[i][j]), abs(other.table[i][j]))
		}
	}
	return merged, nil
}

// DotProduct sums the element-wise product of both counter matrices.
func (s *Sketch) DotProduct(other *Sketch) (float64, error) {
	rows, err := s.RowEstimates(other)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, r := range rows {
		sum += r
	}
	return sum, nil
}

// SelfDotProduct is the dot product of the sketch with itself, an estimate
// of the second frequency moment.
func (s *Sketch) SelfDotProduct() float64 {
	// Shapes trivially match.
	v, _ := s.DotProduct(s)
	return v
}

// RowEstimates returns the inner product of each row pair. Their sum is the
// DotProduct.
func (s *Sketch) RowEstimates(other *Sketch) ([]float64, error) {
	if err := s.checkShape(other); err != nil {
		return nil, err
	}
	rows := make([]float64, s.shape.Depth)
	for i := range s.table {
		var sum float64
		for j, c := range s.table[i] {
			sum += float64(c) * float64(other.table[i][j])
		}
		rows[i] = sum
	}
	return rows, nil
}

func (s *Sketch) checkShape(other *Sketch) error {
	if other == nil {
		return errors.Wrap(ErrShapeMismatch, "nil operand")
	}
	if s.mode != other.mode {
		return errors.Wrapf(ErrModeMismatch, "%s sketch combined with %s sketch", s.mode, other.mode)
	}
	if s.shape.Depth != other.shape.Depth || s.shape.Width != other.shape.Width {
		return errors.Wrapf(ErrShapeMismatch, "%dx%d vs %dx%d",
			s.shape.Depth, s.shape.Width, other.shape.Depth, other.shape.Width)
	}
	if s.shape.Seed != other.shape.Seed {
		return errors.Wrapf(ErrShapeMismatch, "hash seeds differ (%#x vs %#x)", s.shape.Seed, other.shape.Seed)
	}
	return nil
}

const sketchHeaderSize = 1 + 4 + 4 + 8

// MarshalBinary encodes the sketch as mode(1) + depth(4) + width(4) +
// seed(8) followed by the counters row by row, little-endian.
func (s *Sketch) MarshalBinary() ([]byte, error) {
	data := make([]byte, sketchHeaderSize+8*s.shape.Cells())
	data[0] = byte(s.mode)
	binary.LittleEndian.PutUint32(data[1:5], uint32(s.shape.Depth))
	binary.LittleEndian.PutUint32(data[5:9], uint32(s.shape.Width))
	binary.LittleEndian.PutUint64(data[9:17], s.shape.Seed)

	offset := sketchHeaderSize
	for i := range s.table {
		for _, c := range s.table[i] {
			binary.LittleEndian.PutUint64(data[offset:offset+8], uint64(c))
			offset += 8
		}
	}
	return data, nil
}

// Unmarshal decodes a sketch written by MarshalBinary.
func Unmarshal(data []byte) (*Sketch, error) {
	if len(data) < sketchHeaderSize {
		return nil, errors.Newf("insufficient data for sketch: %d bytes", len(data))
	}
	shape := Shape{
		Depth: int(binary.LittleEndian.Uint32(data[1:5])),
		Width: int(binary.LittleEndian.Uint32(data[5:9])),
		Seed:  binary.LittleEndian.Uint64(data[9:17]),
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "decoding sketch header")
	}
	if expected := sketchHeaderSize + 8*shape.Cells(); len(data) != expected {
		return nil, errors.Newf("sketch length mismatch: expected %d, got %d", expected, len(data))
	}
	s, err := New(shape, Mode(data[0]))
	if err != nil {
		return nil, errors.Wrap(err, "decoding sketch header")
	}

	offset := sketchHeaderSize
	for i := range s.table {
		for j := range s.table[i] {
			s.table[i][j] = int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
			offset += 8
		}
	}
	return s, nil
}

func saturatingAdd(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < -math.MaxInt64-b:
		return -math.MaxInt64
	default:
		return a + b
	}
}

func negate(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	return -v
}

func abs(v int64) int64 {
	if v < 0 {
		return negate(v)
	}
	return v
}
