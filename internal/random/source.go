// Package random isolates every pseudo-random draw behind a seedable source
// so tests can fix the seed and assert exact numeric outputs.
package random

import (
	"math"
	"math/rand"
)

// Source supplies the random variates used by Thompson Sampling.
type Source interface {
	// Float64 returns a uniform draw in [0,1).
	Float64() float64
	// NormFloat64 returns a standard normal draw via Box-Muller.
	NormFloat64() float64
	// Gamma returns a Gamma(shape, 1) draw via Marsaglia-Tsang.
	Gamma(shape float64) float64
	// Beta returns a Beta(alpha, beta) draw built from two Gamma draws.
	Beta(alpha, beta float64) float64
}

// seeded implements Source on top of a seeded math/rand generator. It is not
// safe for concurrent use; the allocator serializes all sampling.
type seeded struct {
	rng *rand.Rand
}

// NewSource returns a deterministic Source for the given seed.
func NewSource(seed int64) Source {
	return &seeded{rng: rand.New(rand.NewSource(seed))}
}

func (s *seeded) Float64() float64 {
	return s.rng.Float64()
}

// NormFloat64 uses the Box-Muller transform rather than rand's ziggurat so
// that the draw sequence is fully defined by this package.
func (s *seeded) NormFloat64() float64 {
	u1 := s.Float64()
	for u1 == 0 {
		u1 = s.Float64()
	}
	u2 := s.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Gamma samples Gamma(shape, 1) with the Marsaglia-Tsang method. Shapes below
// one are boosted through Gamma(shape+1) * U^(1/shape).
func (s *seeded) Gamma(shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := s.Float64()
		for u == 0 {
			u = s.Float64()
		}
		return s.Gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := s.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func (s *seeded) Beta(alpha, beta float64) float64 {
	x := s.Gamma(alpha)
	y := s.Gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
