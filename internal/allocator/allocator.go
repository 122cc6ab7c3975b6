// Package allocator decides what fraction of total capital each strategy
// controls. Weights come from Thompson Sampling over each strategy's Beta
// posterior, scaled by fractional Kelly, adjusted for the current market
// regime, and penalized for cross-strategy correlation.
package allocator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/config"
	"github.com/quanthelm/quanthelm/internal/events"
	"github.com/quanthelm/quanthelm/internal/random"
	"github.com/quanthelm/quanthelm/internal/regime"
)

// AllocationDecision is an immutable snapshot of one rebalance outcome.
type AllocationDecision struct {
	Timestamp  time.Time          `json:"timestamp"`
	Weights    map[string]float64 `json:"weights"`
	Method     string             `json:"method"`
	Confidence float64            `json:"confidence"`
	Regime     regime.Regime      `json:"regime"`
}

const methodThompsonKelly = "thompson_kelly_corr"

// Allocator owns the strategy-arm table. All methods are safe for concurrent
// use; sampling is serialized under the lock so seeded runs are reproducible.
type Allocator struct {
	mu sync.Mutex

	cfg     config.AllocatorConfig
	capital float64
	src     random.Source
	bus     *events.Bus
	logger  zerolog.Logger

	arms      map[string]*StrategyArm
	regime    regime.Regime
	decisions []AllocationDecision
	lastCorr  *CorrelationMatrix
}

// New creates an allocator with no arms.
func New(cfg config.AllocatorConfig, capital float64, src random.Source, bus *events.Bus) *Allocator {
	return &Allocator{
		cfg:     cfg,
		capital: capital,
		src:     src,
		bus:     bus,
		logger:  log.With().Str("component", "allocator").Logger(),
		arms:    make(map[string]*StrategyArm),
		regime:  regime.Ranging,
	}
}

// AddArm registers a new strategy at the uninformative prior. Adding an
// existing ID is a no-op.
func (al *Allocator) AddArm(id string) {
	al.mu.Lock()
	defer al.mu.Unlock()

	if _, exists := al.arms[id]; exists {
		return
	}
	al.arms[id] = newArm(id)
	al.logger.Info().Str("arm", id).Msg("arm added")
}

// RemoveArm drops a strategy from the table.
func (al *Allocator) RemoveArm(id string) {
	al.mu.Lock()
	defer al.mu.Unlock()

	if _, exists := al.arms[id]; !exists {
		return
	}
	delete(al.arms, id)
	al.logger.Info().Str("arm", id).Msg("arm removed")
}

// RecordOutcome folds a realized trade back into the originating arm.
func (al *Allocator) RecordOutcome(armID string, o Outcome) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	arm, exists := al.arms[armID]
	if !exists {
		return fmt.Errorf("unknown arm: %s", armID)
	}
	arm.recordOutcome(o, al.cfg.MaxReturnHistory)

	al.logger.Debug().
		Str("arm", armID).
		Float64("pnl", o.PnL).
		Bool("winner", o.IsWinner).
		Float64("kelly", arm.KellyFraction).
		Msg("outcome recorded")
	return nil
}

// SetRegime updates the current market regime. A change triggers an
// immediate rebalance.
func (al *Allocator) SetRegime(r regime.Regime) {
	al.mu.Lock()
	changed := al.regime != r
	al.regime = r
	al.mu.Unlock()

	if changed {
		al.logger.Info().Str("regime", r.String()).Msg("regime changed, rebalancing")
		al.Rebalance()
	}
}

// Rebalance recomputes target weights and emits an AllocationDecision.
func (al *Allocator) Rebalance() AllocationDecision {
	al.mu.Lock()
	defer al.mu.Unlock()

	decision := AllocationDecision{
		Timestamp: time.Now(),
		Weights:   make(map[string]float64),
		Method:    methodThompsonKelly,
		Regime:    al.regime,
	}

	armIDs := al.sortedArmIDs()
	if len(armIDs) == 0 {
		al.appendDecision(decision)
		return decision
	}

	weights := sampleWeights(armIDs, al.arms, al.cfg.MonteCarloRounds, al.src)
	al.applyKellyScaling(armIDs, weights)
	al.applyRegimeAdjustment(armIDs, weights)
	al.applyCorrelationPenalty(armIDs, weights)

	totalTrades := 0
	for _, id := range armIDs {
		arm := al.arms[id]
		arm.CurrentAllocation = arm.TargetAllocation
		arm.TargetAllocation = weights[id]
		decision.Weights[id] = weights[id]
		totalTrades += arm.TotalTrades
	}
	decision.Confidence = confidence(totalTrades, weights)
	al.appendDecision(decision)

	al.logger.Info().
		Int("arms", len(armIDs)).
		Float64("confidence", decision.Confidence).
		Str("regime", al.regime.String()).
		Msg("rebalanced")

	if al.bus != nil {
		al.bus.Publish(events.Event{Kind: events.KindAllocation, Payload: decision})
	}
	return decision
}

// applyKellyScaling multiplies each weight by the capped Kelly fraction,
// flooring arms with non-positive Kelly so they keep minimal exploration.
func (al *Allocator) applyKellyScaling(armIDs []string, weights map[string]float64) {
	for _, id := range armIDs {
		k := al.arms[id].KellyFraction
		if k <= 0 {
			k = al.cfg.MinKellyFloor
		} else if k > al.cfg.MaxKellyFraction {
			k = al.cfg.MaxKellyFraction
		}
		weights[id] *= k
	}
	normalize(armIDs, weights)
}

// applyRegimeAdjustment reweights arms with enough history in the current
// regime by 1 + (regimeWinRate - 0.5).
func (al *Allocator) applyRegimeAdjustment(armIDs []string, weights map[string]float64) {
	adjusted := false
	for _, id := range armIDs {
		stats := al.arms[id].RegimeStats[al.regime]
		if stats == nil || stats.Trades < al.cfg.RegimeMinTrades {
			continue
		}
		factor := 1 + (stats.WinRate() - 0.5)
		if factor < 0 {
			factor = 0
		}
		weights[id] *= factor
		adjusted = true
	}
	if adjusted {
		normalize(armIDs, weights)
	}
}

// applyCorrelationPenalty shrinks the smaller-weighted arm of every pair
// whose |correlation| exceeds the threshold.
func (al *Allocator) applyCorrelationPenalty(armIDs []string, weights map[string]float64) {
	series := make(map[string][]float64, len(armIDs))
	for _, id := range armIDs {
		series[id] = al.arms[id].returns
	}

	matrix := buildCorrelationMatrix(armIDs, series, al.cfg.MinCorrelationSamples)
	al.lastCorr = matrix
	if matrix == nil {
		return
	}

	penalized := false
	for i := 0; i < len(armIDs); i++ {
		for j := i + 1; j < len(armIDs); j++ {
			corr := math.Abs(matrix.At(i, j))
			if corr <= al.cfg.CorrelationThreshold {
				continue
			}
			shrink := (corr - al.cfg.CorrelationThreshold) * al.cfg.CorrelationPenalty
			victim := armIDs[i]
			if weights[armIDs[j]] < weights[victim] {
				victim = armIDs[j]
			}
			weights[victim] *= 1 - shrink
			if weights[victim] < 0 {
				weights[victim] = 0
			}
			penalized = true
		}
	}
	if penalized {
		normalize(armIDs, weights)
	}
}

// GetKellyPositionSize returns the capital to deploy for one arm, capped at
// maxRiskFraction of total capital.
func (al *Allocator) GetKellyPositionSize(armID string, maxRiskFraction float64) float64 {
	al.mu.Lock()
	defer al.mu.Unlock()

	arm, exists := al.arms[armID]
	if !exists {
		return 0
	}
	size := al.capital * arm.TargetAllocation * arm.KellyFraction
	if limit := al.capital * maxRiskFraction; size > limit {
		size = limit
	}
	return size
}

// Arm returns a copy of one arm's public statistics.
func (al *Allocator) Arm(id string) (StrategyArm, bool) {
	al.mu.Lock()
	defer al.mu.Unlock()

	arm, exists := al.arms[id]
	if !exists {
		return StrategyArm{}, false
	}
	return copyArm(arm), true
}

// Arms returns copies of all arms, ordered by ID.
func (al *Allocator) Arms() []StrategyArm {
	al.mu.Lock()
	defer al.mu.Unlock()

	out := make([]StrategyArm, 0, len(al.arms))
	for _, id := range al.sortedArmIDs() {
		out = append(out, copyArm(al.arms[id]))
	}
	return out
}

// Decisions returns the retained allocation history, oldest first.
func (al *Allocator) Decisions() []AllocationDecision {
	al.mu.Lock()
	defer al.mu.Unlock()
	return append([]AllocationDecision(nil), al.decisions...)
}

// Correlations returns the matrix from the most recent rebalance, or nil.
func (al *Allocator) Correlations() *CorrelationMatrix {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.lastCorr
}

// Snapshot serializes every arm for checkpointing.
func (al *Allocator) Snapshot() []ArmSnapshot {
	al.mu.Lock()
	defer al.mu.Unlock()

	out := make([]ArmSnapshot, 0, len(al.arms))
	for _, id := range al.sortedArmIDs() {
		out = append(out, al.arms[id].snapshot())
	}
	return out
}

// Restore replaces the arm table with checkpointed state.
func (al *Allocator) Restore(snaps []ArmSnapshot) {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.arms = make(map[string]*StrategyArm, len(snaps))
	for _, snap := range snaps {
		al.arms[snap.ID] = restoreArm(snap)
	}
}

func (al *Allocator) sortedArmIDs() []string {
	ids := make([]string, 0, len(al.arms))
	for id := range al.arms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (al *Allocator) appendDecision(d AllocationDecision) {
	al.decisions = append(al.decisions, d)
	if al.cfg.DecisionHistory > 0 && len(al.decisions) > al.cfg.DecisionHistory {
		al.decisions = al.decisions[len(al.decisions)-al.cfg.DecisionHistory:]
	}
}

// normalize rescales weights to sum to one. An all-zero vector falls back to
// equal weights so no rebalance ever zeroes the whole book.
func normalize(armIDs []string, weights map[string]float64) {
	sum := 0.0
	for _, id := range armIDs {
		sum += weights[id]
	}
	if sum <= 0 {
		equal := 1.0 / float64(len(armIDs))
		for _, id := range armIDs {
			weights[id] = equal
		}
		return
	}
	for _, id := range armIDs {
		weights[id] /= sum
	}
}

// confidence blends sample depth with the normalized Shannon entropy of the
// weight vector.
func confidence(totalTrades int, weights map[string]float64) float64 {
	depth := float64(totalTrades) / 100
	if depth > 1 {
		depth = 1
	}
	return 0.6*depth + 0.4*normalizedEntropy(weights)
}

func normalizedEntropy(weights map[string]float64) float64 {
	if len(weights) < 2 {
		return 0
	}
	h := 0.0
	for _, w := range weights {
		if w > 0 {
			h -= w * math.Log(w)
		}
	}
	return h / math.Log(float64(len(weights)))
}

func copyArm(a *StrategyArm) StrategyArm {
	out := *a
	out.RegimeStats = make(map[regime.Regime]*RegimeStats, len(a.RegimeStats))
	for r, s := range a.RegimeStats {
		stats := *s
		out.RegimeStats[r] = &stats
	}
	out.returns = nil
	return out
}
