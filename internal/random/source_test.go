package random

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceDeterministic(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)

	for i := 0; i < 1000; i++ {
		require.Equal(t, a.Float64(), b.Float64())
		require.Equal(t, a.NormFloat64(), b.NormFloat64())
		require.Equal(t, a.Gamma(2.5), b.Gamma(2.5))
		require.Equal(t, a.Beta(3, 7), b.Beta(3, 7))
	}
}

func TestSourceSeedsDiverge(t *testing.T) {
	a := NewSource(1)
	b := NewSource(2)

	same := true
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	require.False(t, same, "different seeds should produce different streams")
}

func TestGammaPositive(t *testing.T) {
	src := NewSource(7)

	for _, shape := range []float64{0.1, 0.5, 1, 2, 10, 100} {
		for i := 0; i < 500; i++ {
			v := src.Gamma(shape)
			require.False(t, math.IsNaN(v), "shape %v produced NaN", shape)
			require.False(t, math.IsInf(v, 0), "shape %v produced Inf", shape)
			require.True(t, v > 0, "shape %v produced %v", shape, v)
		}
	}
}

func TestGammaZeroShape(t *testing.T) {
	src := NewSource(7)
	require.Equal(t, 0.0, src.Gamma(0))
	require.Equal(t, 0.0, src.Gamma(-1))
}

func TestGammaMean(t *testing.T) {
	src := NewSource(11)

	const shape = 4.0
	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += src.Gamma(shape)
	}
	mean := sum / n
	// Gamma(k, 1) has mean k.
	require.InDelta(t, shape, mean, 0.1)
}

func TestBetaBounds(t *testing.T) {
	src := NewSource(13)

	for i := 0; i < 2000; i++ {
		v := src.Beta(1, 1)
		require.True(t, v >= 0 && v <= 1, "Beta(1,1) draw out of range: %v", v)
	}
}

func TestBetaMean(t *testing.T) {
	src := NewSource(17)

	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += src.Beta(8, 2)
	}
	// Beta(8,2) has mean 0.8.
	require.InDelta(t, 0.8, sum/n, 0.01)
}
