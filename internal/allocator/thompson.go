package allocator

import "github.com/quanthelm/quanthelm/internal/random"

// sampleWeights estimates each arm's posterior probability of being the best
// performer. Every round draws one Beta(alpha,beta) sample per arm and tallies
// which arm won; the selection frequencies form the initial weight vector.
// Arms are visited in the given order so a fixed seed reproduces the result.
func sampleWeights(armIDs []string, arms map[string]*StrategyArm, rounds int, src random.Source) map[string]float64 {
	weights := make(map[string]float64, len(armIDs))
	if len(armIDs) == 0 || rounds <= 0 {
		return weights
	}

	counts := make([]int, len(armIDs))
	for round := 0; round < rounds; round++ {
		best := 0
		bestSample := -1.0
		for i, id := range armIDs {
			arm := arms[id]
			sample := src.Beta(arm.Alpha, arm.Beta)
			if sample > bestSample {
				bestSample = sample
				best = i
			}
		}
		counts[best]++
	}

	for i, id := range armIDs {
		weights[id] = float64(counts[i]) / float64(rounds)
	}
	return weights
}
