package perf

import "sort"

// historicalVaR computes value-at-risk and conditional value-at-risk at
// the given confidence level from the empirical return distribution.
// Both are reported as positive loss fractions; a distribution with no
// losses at the cutoff reports zero.
func historicalVaR(returns []float64, confidence float64) (valueAtRisk, conditional float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	if v := sorted[idx]; v < 0 {
		valueAtRisk = -v
	}

	// CVaR: average loss in the tail at and below the VaR cutoff.
	var sum float64
	var count int
	for _, r := range sorted[:idx+1] {
		if r < 0 {
			sum += r
			count++
		}
	}
	if count > 0 {
		conditional = -sum / float64(count)
	}
	return valueAtRisk, conditional
}
