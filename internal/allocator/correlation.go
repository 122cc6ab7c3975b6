package allocator

import (
	"math"
	"time"
)

// CorrelationMatrix holds pairwise Pearson correlations over the arms'
// trailing return series. Rebuilt from scratch on every rebalance.
type CorrelationMatrix struct {
	ArmIDs     []string    `json:"arm_ids"`
	Values     [][]float64 `json:"values"`
	SampleSize int         `json:"sample_size"`
	ComputedAt time.Time   `json:"computed_at"`
}

// At returns the correlation between arms i and j.
func (m *CorrelationMatrix) At(i, j int) float64 {
	return m.Values[i][j]
}

// MeanAbs returns the mean absolute off-diagonal correlation, the level the
// risk governor's strategy-correlation breaker observes. Zero for a nil
// matrix or a single arm.
func (m *CorrelationMatrix) MeanAbs() float64 {
	if m == nil || len(m.ArmIDs) < 2 {
		return 0
	}
	sum, pairs := 0.0, 0
	n := len(m.ArmIDs)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += math.Abs(m.Values[i][j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// buildCorrelationMatrix computes pairwise correlations for arms with return
// history. Pairs with fewer than minSamples overlapping observations are
// reported as zero correlation so they never drive a weight penalty. Returns
// nil when fewer than two arms have any history.
func buildCorrelationMatrix(armIDs []string, series map[string][]float64, minSamples int) *CorrelationMatrix {
	withHistory := 0
	for _, id := range armIDs {
		if len(series[id]) > 0 {
			withHistory++
		}
	}
	if withHistory < 2 {
		return nil
	}

	n := len(armIDs)
	values := make([][]float64, n)
	minLen := math.MaxInt
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1
		if l := len(series[armIDs[i]]); l > 0 && l < minLen {
			minLen = l
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := series[armIDs[i]], series[armIDs[j]]
			overlap := len(a)
			if len(b) < overlap {
				overlap = len(b)
			}
			if overlap < minSamples {
				continue
			}
			// Align on the trailing window both series cover.
			corr := pearson(a[len(a)-overlap:], b[len(b)-overlap:])
			values[i][j] = corr
			values[j][i] = corr
		}
	}

	if minLen == math.MaxInt {
		minLen = 0
	}
	return &CorrelationMatrix{
		ArmIDs:     armIDs,
		Values:     values,
		SampleSize: minLen,
		ComputedAt: time.Now(),
	}
}

// pearson computes the Pearson correlation of two equal-length series.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}

	meanA, meanB := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
