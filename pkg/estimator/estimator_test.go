package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZScore(t *testing.T) {
	assert.InDelta(t, 1.645, ZScore(0.90), 1e-3)
	assert.InDelta(t, 1.960, ZScore(0.95), 1e-3)
	assert.InDelta(t, 2.576, ZScore(0.99), 1e-3)
	assert.Equal(t, ZScore(0.95), ZScore(0.5))
}

func TestRowSumCI(t *testing.T) {
	ci := RowSumCI([]float64{10, 12, 8, 10}, 0.95)
	assert.Equal(t, 40.0, ci.Estimate)
	assert.Equal(t, 4, ci.Rows)
	// sample variance 8/3, times 4 rows
	assert.InDelta(t, math.Sqrt(32.0/3.0), ci.StdError, 1e-9)
	assert.InDelta(t, 40-ZScore(0.95)*ci.StdError, ci.Lower, 1e-9)
	assert.InDelta(t, 40+ZScore(0.95)*ci.StdError, ci.Upper, 1e-9)
	assert.InDelta(t, ci.StdError/40, ci.RelativeError, 1e-12)
}

func TestRowSumCI_Degenerate(t *testing.T) {
	empty := RowSumCI(nil, 0.9)
	assert.Equal(t, 0.0, empty.Estimate)
	assert.Equal(t, 0.9, empty.ConfidenceLevel)

	one := RowSumCI([]float64{5}, 0.95)
	assert.Equal(t, 5.0, one.Estimate)
	assert.Equal(t, 0.0, one.StdError)
	assert.Equal(t, one.Lower, one.Upper)

	zero := RowSumCI([]float64{1, -1}, 0.95)
	assert.Equal(t, 0.0, zero.RelativeError)
}
