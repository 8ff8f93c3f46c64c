package sketches

import (
	"math"
	"math/bits"
)

// HyperLogLog estimates the number of distinct join keys a relation holds.
type HyperLogLog struct {
	registers []uint8
	p         uint8 // register index bits, m = 2^p
}

// NewHyperLogLog creates an estimator with 2^p registers. p outside [4, 16]
// falls back to 12.
func NewHyperLogLog(p uint8) *HyperLogLog {
	if p < 4 || p > 16 {
		p = 12
	}
	return &HyperLogLog{registers: make([]uint8, 1<<p), p: p}
}

// AddKey records one key.
func (hll *HyperLogLog) AddKey(key int64) {
	h := hashKey(key)
	idx := h >> (64 - hll.p)
	// Rank of the first set bit in the remaining 64-p bits, 1-based.
	rest := h<<hll.p | 1<<(hll.p-1)
	rank := uint8(bits.LeadingZeros64(rest)) + 1
	if rank > hll.registers[idx] {
		hll.registers[idx] = rank
	}
}

// Count returns the cardinality estimate with the small-range correction.
func (hll *HyperLogLog) Count() uint64 {
	m := float64(len(hll.registers))
	var sum float64
	zeros := 0
	for _, r := range hll.registers {
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}
	estimate := alpha(len(hll.registers)) * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return uint64(estimate + 0.5)
}

func alpha(m int) float64 {
	switch {
	case m >= 128:
		return 0.7213 / (1 + 1.079/float64(m))
	case m >= 64:
		return 0.709
	case m >= 32:
		return 0.697
	default:
		return 0.673
	}
}
