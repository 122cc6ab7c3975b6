// Package risk is the sole authority that may block a trade or halt the
// system. It tracks drawdown against day, week, and peak anchors, runs a bank
// of hysteresis circuit breakers, and vetoes proposals that exceed limits.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/config"
	"github.com/quanthelm/quanthelm/internal/events"
	"github.com/quanthelm/quanthelm/internal/models"
)

// Severity ranks a veto's consequence.
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityBlock     Severity = "block"
	SeverityEmergency Severity = "emergency"
)

// Veto is an immutable record of a blocked or flagged action.
type Veto struct {
	ID             string                 `json:"id"`
	Reason         string                 `json:"reason"`
	Severity       Severity               `json:"severity"`
	ProposedAction string                 `json:"proposed_action"`
	VetoedBy       string                 `json:"vetoed_by"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Breaker IDs in the default bank.
const (
	BreakerDailyDrawdown   = "portfolio-daily-drawdown"
	BreakerWeeklyDrawdown  = "portfolio-weekly-drawdown"
	BreakerEmergency       = "portfolio-emergency"
	BreakerPositionCount   = "position-count"
	BreakerCorrelation     = "strategy-correlation"
	BreakerSingleTradeRisk = "strategy-single-trade-risk"
)

// Governor monitors portfolio, position, and strategy risk. All methods are
// safe for concurrent use.
type Governor struct {
	mu sync.Mutex

	cfg    config.RiskConfig
	bus    *events.Bus
	logger zerolog.Logger

	breakers []*Breaker
	byID     map[string]*Breaker

	equity     float64
	peakEquity float64

	dayAnchorDate   time.Time
	dayStartEquity  float64
	weekAnchorDate  time.Time
	weekStartEquity float64

	dailyDrawdown  float64
	weeklyDrawdown float64
	peakDrawdown   float64

	openPositions  int
	avgCorrelation float64
	lastTradeRisk  float64

	vetoes []Veto
}

// NewGovernor creates a governor with the default breaker bank anchored at
// the starting equity.
func NewGovernor(cfg config.RiskConfig, initialEquity float64, bus *events.Bus) *Governor {
	now := time.Now()
	g := &Governor{
		cfg:             cfg,
		bus:             bus,
		logger:          log.With().Str("component", "risk").Logger(),
		equity:          initialEquity,
		peakEquity:      initialEquity,
		dayAnchorDate:   dayOf(now),
		dayStartEquity:  initialEquity,
		weekAnchorDate:  weekOf(now),
		weekStartEquity: initialEquity,
		byID:            make(map[string]*Breaker),
	}

	g.breakers = []*Breaker{
		newBreaker(BreakerDailyDrawdown, LevelPortfolio, cfg.DailyDrawdownLimit, cfg.DailyDrawdownLimit*0.6, time.Hour),
		newBreaker(BreakerWeeklyDrawdown, LevelPortfolio, cfg.WeeklyDrawdownLimit, cfg.WeeklyDrawdownLimit*0.6, 4*time.Hour),
		newBreaker(BreakerEmergency, LevelPortfolio, cfg.EmergencyDrawdownLimit, cfg.EmergencyDrawdownLimit*0.5, 24*time.Hour),
		newBreaker(BreakerPositionCount, LevelPosition, float64(cfg.MaxOpenPositions), float64(cfg.MaxOpenPositions)-1, 5*time.Minute),
		newBreaker(BreakerCorrelation, LevelStrategy, cfg.CorrelationLimit, cfg.CorrelationLimit*0.7, 10*time.Minute),
		newBreaker(BreakerSingleTradeRisk, LevelStrategy, cfg.MaxSingleTradeRisk, cfg.MaxSingleTradeRisk*0.5, time.Minute),
	}
	for _, b := range g.breakers {
		g.byID[b.ID] = b
	}
	return g
}

// UpdateEquity ingests a new equity value, rolling the day/week anchors at
// local boundaries and recomputing every drawdown figure.
func (g *Governor) UpdateEquity(equity float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if day := dayOf(now); !day.Equal(g.dayAnchorDate) {
		g.dayAnchorDate = day
		g.dayStartEquity = equity
	}
	if week := weekOf(now); !week.Equal(g.weekAnchorDate) {
		g.weekAnchorDate = week
		g.weekStartEquity = equity
	}

	g.equity = equity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}

	g.dailyDrawdown = drawdown(g.dayStartEquity, equity)
	g.weeklyDrawdown = drawdown(g.weekStartEquity, equity)
	g.peakDrawdown = drawdown(g.peakEquity, equity)
}

// SetOpenPositions records the current open-position count.
func (g *Governor) SetOpenPositions(n int) {
	g.mu.Lock()
	g.openPositions = n
	g.mu.Unlock()
}

// SetAverageCorrelation records the latest cross-strategy correlation level.
func (g *Governor) SetAverageCorrelation(c float64) {
	g.mu.Lock()
	g.avgCorrelation = c
	g.mu.Unlock()
}

// EvaluateTrade checks one proposal synchronously before execution. A nil
// return means the trade is approved.
func (g *Governor) EvaluateTrade(p models.TradeProposal, riskAmount float64) *Veto {
	g.mu.Lock()
	defer g.mu.Unlock()

	action := fmt.Sprintf("%s %s %s", p.Signal.Direction, p.Signal.Symbol, p.Signal.StrategyID)

	// With no positive equity there is no risk budget to size against.
	if g.equity <= 0 {
		g.lastTradeRisk = 0
		return g.record(Veto{
			Reason:         fmt.Sprintf("equity %.2f is not positive", g.equity),
			Severity:       SeverityEmergency,
			ProposedAction: action,
			VetoedBy:       BreakerSingleTradeRisk,
			Details: map[string]interface{}{
				"risk_amount": riskAmount,
				"equity":      g.equity,
			},
		})
	}
	g.lastTradeRisk = riskAmount / g.equity

	if g.lastTradeRisk > g.cfg.MaxSingleTradeRisk {
		return g.record(Veto{
			Reason:         fmt.Sprintf("trade risk %.2f%% exceeds %.2f%% limit", g.lastTradeRisk*100, g.cfg.MaxSingleTradeRisk*100),
			Severity:       SeverityBlock,
			ProposedAction: action,
			VetoedBy:       BreakerSingleTradeRisk,
			Details: map[string]interface{}{
				"risk_amount": riskAmount,
				"equity":      g.equity,
			},
		})
	}

	for _, b := range g.breakers {
		if b.Level == LevelPortfolio && b.Open() {
			return g.record(Veto{
				Reason:         fmt.Sprintf("portfolio breaker %s is open", b.ID),
				Severity:       SeverityEmergency,
				ProposedAction: action,
				VetoedBy:       b.ID,
				Details: map[string]interface{}{
					"current_value":  b.CurrentValue,
					"trip_threshold": b.TripThreshold,
				},
			})
		}
	}

	if g.openPositions >= g.cfg.MaxOpenPositions {
		return g.record(Veto{
			Reason:         fmt.Sprintf("open positions %d at limit %d", g.openPositions, g.cfg.MaxOpenPositions),
			Severity:       SeverityBlock,
			ProposedAction: action,
			VetoedBy:       BreakerPositionCount,
		})
	}

	return nil
}

// RunCheck re-evaluates every breaker against the latest state. Called by
// the periodic risk loop so risk state stays visible with no pending trade.
func (g *Governor) RunCheck(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	metrics := map[string]float64{
		BreakerDailyDrawdown:   g.dailyDrawdown,
		BreakerWeeklyDrawdown:  g.weeklyDrawdown,
		BreakerEmergency:       g.peakDrawdown,
		BreakerPositionCount:   float64(g.openPositions),
		BreakerCorrelation:     g.avgCorrelation,
		BreakerSingleTradeRisk: g.lastTradeRisk,
	}

	for _, b := range g.breakers {
		from, to, changed := b.Observe(metrics[b.ID], now)
		if !changed {
			continue
		}

		g.logger.Warn().
			Str("breaker", b.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Float64("value", b.CurrentValue).
			Msg("breaker transition")

		if g.bus != nil {
			g.bus.Publish(events.Event{Kind: events.KindBreaker, Payload: *b})
		}

		if to == StateOpen {
			severity := SeverityWarning
			if b.Level == LevelPortfolio {
				severity = SeverityEmergency
			}
			g.record(Veto{
				Reason:         fmt.Sprintf("breaker %s tripped at %.4f (threshold %.4f)", b.ID, b.CurrentValue, b.TripThreshold),
				Severity:       severity,
				ProposedAction: "halt new trades",
				VetoedBy:       b.ID,
			})
		}
	}
}

// ResetBreaker force-closes a breaker ahead of its cooldown. Audited.
func (g *Governor) ResetBreaker(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, exists := g.byID[id]
	if !exists {
		return fmt.Errorf("unknown breaker: %s", id)
	}
	b.forceClose()
	g.logger.Warn().Str("breaker", id).Msg("breaker force-closed by operator")
	if g.bus != nil {
		g.bus.Publish(events.Event{Kind: events.KindBreaker, Payload: *b})
	}
	return nil
}

// Halted reports whether any portfolio-level breaker is open.
func (g *Governor) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, b := range g.breakers {
		if b.Level == LevelPortfolio && b.Open() {
			return true
		}
	}
	return false
}

// Breakers returns a copy of the breaker bank.
func (g *Governor) Breakers() []Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Breaker, len(g.breakers))
	for i, b := range g.breakers {
		out[i] = *b
	}
	return out
}

// Vetoes returns the retained veto history, oldest first.
func (g *Governor) Vetoes() []Veto {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Veto(nil), g.vetoes...)
}

// Drawdowns returns the current daily, weekly, and from-peak drawdowns.
func (g *Governor) Drawdowns() (daily, weekly, fromPeak float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyDrawdown, g.weeklyDrawdown, g.peakDrawdown
}

// record appends a veto to the bounded history and publishes it. Caller
// holds the lock.
func (g *Governor) record(v Veto) *Veto {
	v.ID = uuid.NewString()
	v.Timestamp = time.Now()

	g.vetoes = append(g.vetoes, v)
	if g.cfg.VetoHistory > 0 && len(g.vetoes) > g.cfg.VetoHistory {
		g.vetoes = g.vetoes[len(g.vetoes)-g.cfg.VetoHistory:]
	}

	g.logger.Warn().
		Str("severity", string(v.Severity)).
		Str("vetoed_by", v.VetoedBy).
		Str("action", v.ProposedAction).
		Msg(v.Reason)

	if g.bus != nil {
		g.bus.Publish(events.Event{Kind: events.KindVeto, Payload: v})
	}
	return &v
}

func drawdown(anchor, equity float64) float64 {
	if anchor <= 0 || equity >= anchor {
		return 0
	}
	return (anchor - equity) / anchor
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// weekOf returns the Monday starting t's local week.
func weekOf(t time.Time) time.Time {
	day := dayOf(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
