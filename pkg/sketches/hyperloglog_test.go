package sketches

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHyperLogLog_Count(t *testing.T) {
	hll := NewHyperLogLog(12)
	assert.Equal(t, uint64(0), hll.Count())

	const n = 20000
	for i := int64(0); i < n; i++ {
		hll.AddKey(i)
		hll.AddKey(i) // duplicates do not count
	}
	got := float64(hll.Count())
	// 1.04/sqrt(4096) relative standard error, five sigma.
	assert.InDelta(t, n, got, n*5*1.04/64)
}

func TestHyperLogLog_SmallRange(t *testing.T) {
	hll := NewHyperLogLog(10)
	for i := int64(0); i < 10; i++ {
		hll.AddKey(i * 7919)
	}
	assert.InDelta(t, 10, float64(hll.Count()), 2)
}

func TestHyperLogLog_InvalidPrecisionFallsBack(t *testing.T) {
	assert.Len(t, NewHyperLogLog(2).registers, 1<<12)
	assert.Len(t, NewHyperLogLog(20).registers, 1<<12)
}
