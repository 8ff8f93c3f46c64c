package estimator

import (
	"math"
)

// CIResult contains confidence interval metadata.
type CIResult struct {
	Estimate        float64 `json:"estimate"`
	StdError        float64 `json:"std_error"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Lower           float64 `json:"ci_low"`
	Upper           float64 `json:"ci_high"`
	RelativeError   float64 `json:"relative_error"`
	Rows            int     `json:"rows"`
}

// ZScore returns z for a two-sided confidence level (e.g., 0.95 -> ~1.96).
func ZScore(confidence float64) float64 {
	switch {
	case math.Abs(confidence-0.90) < 1e-9:
		return 1.6448536269514722
	case math.Abs(confidence-0.95) < 1e-9:
		return 1.959963984540054
	case math.Abs(confidence-0.99) < 1e-9:
		return 2.5758293035489004
	default:
		// default to 95%
		return 1.959963984540054
	}
}

// RowSumCI treats each sketch row as an independent estimator and computes
// a normal-approximation interval for their sum. The sum is what
// DotProduct reports, so Var(sum) = depth * Var(row).
func RowSumCI(rows []float64, confidence float64) CIResult {
	n := len(rows)
	if n == 0 {
		return CIResult{ConfidenceLevel: confidence}
	}

	var sum float64
	for _, r := range rows {
		sum += r
	}
	mean := sum / float64(n)

	var se float64
	if n > 1 {
		var ss float64
		for _, r := range rows {
			ss += (r - mean) * (r - mean)
		}
		variance := ss / float64(n-1)
		se = math.Sqrt(variance * float64(n))
	}

	z := ZScore(confidence)
	rel := 0.0
	if sum != 0 {
		rel = se / math.Abs(sum)
	}
	return CIResult{
		Estimate:        sum,
		StdError:        se,
		ConfidenceLevel: confidence,
		Lower:           sum - z*se,
		Upper:           sum + z*se,
		RelativeError:   rel,
		Rows:            n,
	}
}
