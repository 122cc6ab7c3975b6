package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPearsonKnownValues(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}

	assert.InDelta(t, 1.0, pearson(a, []float64{2, 4, 6, 8, 10}), 1e-9)
	assert.InDelta(t, -1.0, pearson(a, []float64{5, 4, 3, 2, 1}), 1e-9)
	assert.Equal(t, 0.0, pearson(a, []float64{3, 3, 3, 3, 3}), "zero variance")
	assert.Equal(t, 0.0, pearson(a, []float64{1, 2}), "length mismatch")
}

func TestBuildMatrixNeedsTwoArmsWithHistory(t *testing.T) {
	series := map[string][]float64{
		"a": {0.1, 0.2, 0.3},
		"b": nil,
	}
	assert.Nil(t, buildCorrelationMatrix([]string{"a", "b"}, series, 2))
}

func TestBuildMatrixPairBelowMinSamples(t *testing.T) {
	series := map[string][]float64{
		"a": {0.1, 0.2, 0.3},
		"b": {0.1, 0.2, 0.3},
	}
	m := buildCorrelationMatrix([]string{"a", "b"}, series, 10)
	require.NotNil(t, m)
	// Too few overlapping samples: pair reported uncorrelated.
	assert.Equal(t, 0.0, m.At(0, 1))
	assert.Equal(t, 1.0, m.At(0, 0))
}

func TestBuildMatrixSymmetric(t *testing.T) {
	series := map[string][]float64{}
	ids := []string{"x", "y", "z"}
	for i, id := range ids {
		s := make([]float64, 40)
		for j := range s {
			s[j] = float64((j*(i+1))%7) - 3
		}
		series[id] = s
	}

	m := buildCorrelationMatrix(ids, series, 30)
	require.NotNil(t, m)
	for i := range ids {
		for j := range ids {
			assert.Equal(t, m.At(i, j), m.At(j, i))
		}
	}
	assert.Equal(t, 40, m.SampleSize)
}

func TestMeanAbs(t *testing.T) {
	var nilMatrix *CorrelationMatrix
	assert.Equal(t, 0.0, nilMatrix.MeanAbs())

	m := &CorrelationMatrix{
		ArmIDs: []string{"a", "b", "c"},
		Values: [][]float64{
			{1, 0.8, -0.4},
			{0.8, 1, 0.2},
			{-0.4, 0.2, 1},
		},
	}
	// (0.8 + 0.4 + 0.2) / 3 off-diagonal pairs.
	assert.InDelta(t, 1.4/3, m.MeanAbs(), 1e-9)
}

func TestBuildMatrixAlignsTrailingWindows(t *testing.T) {
	long := make([]float64, 100)
	short := make([]float64, 40)
	for i := range long {
		long[i] = float64(i % 11)
	}
	// short equals the trailing 40 samples of long, so correlation is 1.
	copy(short, long[60:])

	m := buildCorrelationMatrix([]string{"l", "s"}, map[string][]float64{"l": long, "s": short}, 30)
	require.NotNil(t, m)
	assert.InDelta(t, 1.0, m.At(0, 1), 1e-9)
}
