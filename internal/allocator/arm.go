package allocator

import (
	"math"
	"time"

	"github.com/quanthelm/quanthelm/internal/regime"
)

// Outcome is the realized result of one closed trade, fed back to the arm
// that proposed it.
type Outcome struct {
	PnL           float64
	PnLPercent    float64
	HoldingPeriod time.Duration
	IsWinner      bool
	Regime        regime.Regime
}

// RegimeStats accumulates per-regime performance for one arm.
type RegimeStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	TotalPnL float64 `json:"total_pnl"`
}

// WinRate returns the regime-conditional win rate.
func (s RegimeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// StrategyArm tracks one strategy's posterior and performance statistics.
// Invariants: Wins+Losses == TotalTrades, Alpha == 1+Wins, Beta == 1+Losses.
type StrategyArm struct {
	ID string

	Alpha float64
	Beta  float64

	TotalTrades int
	Wins        int
	Losses      int
	TotalPnL    float64

	WinRate       float64
	AvgWinSize    float64
	AvgLossSize   float64
	KellyFraction float64
	SharpeRatio   float64
	MaxDrawdown   float64

	CurrentAllocation float64
	TargetAllocation  float64

	RegimeStats map[regime.Regime]*RegimeStats

	sumWins   float64
	sumLosses float64
	returns   []float64
}

// newArm starts an arm at the uninformative Beta(1,1) prior. AvgLossSize
// defaults to 1 so divisions stay finite before any loss is observed.
func newArm(id string) *StrategyArm {
	return &StrategyArm{
		ID:          id,
		Alpha:       1,
		Beta:        1,
		AvgLossSize: 1,
		RegimeStats: make(map[regime.Regime]*RegimeStats),
	}
}

// recordOutcome folds one realized trade into the arm's posterior and
// derived statistics, keeping at most maxHistory trailing returns.
func (a *StrategyArm) recordOutcome(o Outcome, maxHistory int) {
	if o.IsWinner {
		a.Alpha++
		a.Wins++
		a.sumWins += o.PnL
	} else {
		a.Beta++
		a.Losses++
		a.sumLosses += math.Abs(o.PnL)
	}
	a.TotalTrades++
	a.TotalPnL += o.PnL
	a.WinRate = float64(a.Wins) / float64(a.TotalTrades)

	if a.Wins > 0 {
		a.AvgWinSize = a.sumWins / float64(a.Wins)
	}
	if a.Losses > 0 {
		a.AvgLossSize = a.sumLosses / float64(a.Losses)
		if a.AvgLossSize <= 0 {
			a.AvgLossSize = 1
		}
	}

	a.KellyFraction = kelly(a.WinRate, a.AvgWinSize, a.AvgLossSize)

	if isFinite(o.PnLPercent) {
		a.returns = append(a.returns, o.PnLPercent)
		if maxHistory > 0 && len(a.returns) > maxHistory {
			a.returns = a.returns[len(a.returns)-maxHistory:]
		}
	}
	a.SharpeRatio = annualizedSharpe(a.returns)
	a.MaxDrawdown = maxDrawdownOfCumulative(a.returns)

	stats := a.RegimeStats[o.Regime]
	if stats == nil {
		stats = &RegimeStats{}
		a.RegimeStats[o.Regime] = stats
	}
	stats.Trades++
	if o.IsWinner {
		stats.Wins++
	}
	stats.TotalPnL += o.PnL
}

// kelly computes the Kelly fraction f = (p*b - q) / b with b the payoff
// ratio, clamped to [0,1]. Sizing caps it further downstream.
func kelly(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss <= 0 || avgWin <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	q := 1 - winRate
	f := (winRate*b - q) / b
	if !isFinite(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// annualizedSharpe returns mean/stddev of the return series scaled by √252.
func annualizedSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(252)
}

// maxDrawdownOfCumulative returns the deepest peak-to-trough drop of the
// cumulative return series.
func maxDrawdownOfCumulative(returns []float64) float64 {
	cum, peak, maxDD := 0.0, 0.0, 0.0
	for _, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ArmSnapshot is the serializable state of one arm, sufficient to restore it
// and reproduce identical rebalance output under the same random seed.
type ArmSnapshot struct {
	ID            string                        `json:"id"`
	Alpha         float64                       `json:"alpha"`
	Beta          float64                       `json:"beta"`
	TotalTrades   int                           `json:"total_trades"`
	Wins          int                           `json:"wins"`
	Losses        int                           `json:"losses"`
	TotalPnL      float64                       `json:"total_pnl"`
	SumWins       float64                       `json:"sum_wins"`
	SumLosses     float64                       `json:"sum_losses"`
	KellyFraction float64                       `json:"kelly_fraction"`
	Returns       []float64                     `json:"returns"`
	RegimeStats   map[regime.Regime]RegimeStats `json:"regime_stats"`
}

// snapshot captures the arm's serializable state.
func (a *StrategyArm) snapshot() ArmSnapshot {
	snap := ArmSnapshot{
		ID:            a.ID,
		Alpha:         a.Alpha,
		Beta:          a.Beta,
		TotalTrades:   a.TotalTrades,
		Wins:          a.Wins,
		Losses:        a.Losses,
		TotalPnL:      a.TotalPnL,
		SumWins:       a.sumWins,
		SumLosses:     a.sumLosses,
		KellyFraction: a.KellyFraction,
		Returns:       append([]float64(nil), a.returns...),
		RegimeStats:   make(map[regime.Regime]RegimeStats, len(a.RegimeStats)),
	}
	for r, s := range a.RegimeStats {
		snap.RegimeStats[r] = *s
	}
	return snap
}

// restoreArm rebuilds an arm from a snapshot, recomputing derived stats.
func restoreArm(snap ArmSnapshot) *StrategyArm {
	a := newArm(snap.ID)
	a.Alpha = snap.Alpha
	a.Beta = snap.Beta
	a.TotalTrades = snap.TotalTrades
	a.Wins = snap.Wins
	a.Losses = snap.Losses
	a.TotalPnL = snap.TotalPnL
	a.sumWins = snap.SumWins
	a.sumLosses = snap.SumLosses
	a.KellyFraction = snap.KellyFraction
	a.returns = append([]float64(nil), snap.Returns...)
	if a.TotalTrades > 0 {
		a.WinRate = float64(a.Wins) / float64(a.TotalTrades)
	}
	if a.Wins > 0 {
		a.AvgWinSize = a.sumWins / float64(a.Wins)
	}
	if a.Losses > 0 && a.sumLosses > 0 {
		a.AvgLossSize = a.sumLosses / float64(a.Losses)
	}
	a.SharpeRatio = annualizedSharpe(a.returns)
	a.MaxDrawdown = maxDrawdownOfCumulative(a.returns)
	for r, s := range snap.RegimeStats {
		stats := s
		a.RegimeStats[r] = &stats
	}
	return a
}
