// Package execution is the single path from an approved proposal to a
// position and P&L change. It owns the order lifecycle, the position book,
// and the kill switch.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/allocator"
	"github.com/quanthelm/quanthelm/internal/config"
	"github.com/quanthelm/quanthelm/internal/events"
	"github.com/quanthelm/quanthelm/internal/market"
	"github.com/quanthelm/quanthelm/internal/models"
	"github.com/quanthelm/quanthelm/internal/risk"
)

// Mode selects paper or live execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

const rejectReasonKillSwitch = "kill switch active"

// Engine converts approved proposals into sized, cost-adjusted orders and
// keeps equity, positions, and the feedback loops consistent. One mutex
// serializes the full lifecycle so a fill is completely applied to shared
// state before any other handler observes it.
type Engine struct {
	cfg    config.ExecutionConfig
	logger zerolog.Logger

	alloc    *allocator.Allocator
	governor *risk.Governor
	quotes   *market.Cache
	bus      *events.Bus

	killSwitch *KillSwitch
	book       *Book

	mu          sync.Mutex // held for a full order lifecycle
	mode        Mode
	paperVenue  VenueAdapter
	liveVenue   VenueAdapter
	initial     float64
	realizedPnL float64
	equity      float64
	orders      []*ExecutionOrder
}

// NewEngine wires the execution engine. liveVenue may be nil when only paper
// mode is used.
func NewEngine(cfg config.ExecutionConfig, initialCapital float64, mode Mode,
	alloc *allocator.Allocator, governor *risk.Governor, quotes *market.Cache,
	liveVenue VenueAdapter, bus *events.Bus) *Engine {

	e := &Engine{
		cfg:        cfg,
		logger:     log.With().Str("component", "execution").Logger(),
		alloc:      alloc,
		governor:   governor,
		quotes:     quotes,
		bus:        bus,
		killSwitch: NewKillSwitch(cfg.MaxConsecutiveLosses, cfg.MaxDrawdownPercent, bus),
		book:       NewBook(),
		mode:       mode,
		paperVenue: PaperVenue{},
		liveVenue:  liveVenue,
		initial:    initialCapital,
		equity:     initialCapital,
	}
	return e
}

// ExecuteProposal runs one proposal through the full order lifecycle. A nil
// order with nil error means the proposal was skipped for data quality.
func (e *Engine) ExecuteProposal(ctx context.Context, p models.TradeProposal) (*ExecutionOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.killSwitch.Active() {
		order := e.newOrder(p)
		order.State = OrderStateRejected
		order.RejectReason = rejectReasonKillSwitch
		e.appendOrder(order)
		e.logger.Warn().Str("proposal", p.ID).Msg("proposal rejected: kill switch active")
		return order, nil
	}

	if !isFinite(p.EstimatedPrice) || p.EstimatedPrice <= 0 {
		e.logger.Debug().Str("proposal", p.ID).Float64("price", p.EstimatedPrice).
			Msg("proposal skipped: invalid price")
		return nil, nil
	}
	quote, ok := e.quotes.Quote(p.Signal.Symbol)
	if !ok {
		e.logger.Debug().Str("proposal", p.ID).Str("symbol", p.Signal.Symbol).
			Msg("proposal skipped: no quote")
		return nil, nil
	}
	// Slippage estimation needs a live spread; a one-sided or crossed book
	// gives none.
	if quote.SpreadBps() <= 0 {
		e.logger.Debug().Str("proposal", p.ID).Str("symbol", p.Signal.Symbol).
			Float64("bid", quote.Bid).Float64("ask", quote.Ask).
			Msg("proposal skipped: no usable spread")
		return nil, nil
	}

	order := e.newOrder(p)

	// Sizing.
	order.State = OrderStateSizing
	kelly := p.KellyFraction
	if kelly > 0.25 {
		kelly = 0.25
	}
	value := e.equity * p.AllocationWeight * kelly
	if limit := e.equity * e.cfg.MaxPositionFraction; value > limit {
		value = limit
	}
	if !isFinite(value) || value <= 0 {
		order.State = OrderStateRejected
		order.RejectReason = "zero position size"
		e.appendOrder(order)
		return order, nil
	}
	order.Quantity = math.Floor(value / p.EstimatedPrice)
	if order.Quantity < 1 {
		// High-priced asset: trade a fractional quantity.
		order.Quantity = value / p.EstimatedPrice
	}

	// Slippage estimate: 2 bps base plus half the live spread, capped.
	order.State = OrderStateSlippageEstimate
	order.SlippageBps = e.cfg.BaseSlippageBps + quote.SpreadBps()/2
	if order.SlippageBps > e.cfg.MaxSlippageBps {
		order.SlippageBps = e.cfg.MaxSlippageBps
	}
	slip := order.SlippageBps / 10000
	fillEstimate := p.EstimatedPrice * (1 + slip)
	if p.Signal.Direction == models.DirectionShort {
		fillEstimate = p.EstimatedPrice * (1 - slip)
	}

	// Risk check with the fixed assumed stop distance.
	order.State = OrderStateRiskCheck
	order.RiskAmount = order.Quantity * fillEstimate * e.cfg.AssumedStopDistance
	if veto := e.governor.EvaluateTrade(p, order.RiskAmount); veto != nil {
		order.State = OrderStateVetoed
		order.VetoReason = veto.Reason
		e.appendOrder(order)
		return order, nil
	}

	// Execution.
	order.State = OrderStateExecuting
	venueOrder := VenueOrder{
		Symbol:   order.Symbol,
		Side:     order.Direction,
		Quantity: order.Quantity,
		Price:    fillEstimate,
	}
	result, err := e.venue().PlaceOrder(ctx, venueOrder)
	if err != nil || !result.Success {
		order.State = OrderStateRejected
		order.RejectReason = rejectReason(result, err)
		e.appendOrder(order)
		e.logger.Warn().Str("order", order.ID).Str("reason", order.RejectReason).
			Msg("order rejected by venue")
		return order, nil
	}

	order.State = OrderStateFilled
	order.FillPrice = result.FillPrice
	order.FillTime = time.Now()
	e.appendOrder(order)

	e.processFill(order)
	return order, nil
}

// processFill applies a filled order to the book, realizes closes, and
// pushes every feedback signal.
func (e *Engine) processFill(order *ExecutionOrder) {
	fill := Fill{
		OrderID:    order.ID,
		StrategyID: order.StrategyID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   order.Quantity,
		Price:      order.FillPrice,
		Timestamp:  order.FillTime,
	}

	closes := e.book.ApplyFill(fill)
	for _, closed := range closes {
		e.realizedPnL += closed.PnL
		e.killSwitch.RecordClose(closed.PnL)

		pnlPercent := 0.0
		if notional := closed.EntryPrice * closed.Quantity; notional > 0 {
			pnlPercent = closed.PnL / notional
		}
		outcome := allocator.Outcome{
			PnL:           closed.PnL,
			PnLPercent:    pnlPercent,
			HoldingPeriod: closed.HoldingPeriod,
			IsWinner:      closed.PnL > 0,
			Regime:        order.Proposal.Signal.Regime,
		}
		if err := e.alloc.RecordOutcome(closed.StrategyID, outcome); err != nil {
			e.logger.Warn().Err(err).Str("strategy", closed.StrategyID).
				Msg("outcome not recorded")
		}
	}

	e.refreshEquity(time.Now())
	e.governor.SetOpenPositions(e.book.Len())

	if e.bus != nil {
		e.bus.Publish(events.Event{Kind: events.KindFill, Payload: fill})
	}
	e.logger.Info().
		Str("order", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Direction)).
		Float64("qty", order.Quantity).
		Float64("price", order.FillPrice).
		Int("closes", len(closes)).
		Msg("order filled")
}

// MarkToMarket refreshes unrealized P&L from the quote cache and pushes the
// new equity to the risk governor and kill switch.
func (e *Engine) MarkToMarket() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshEquity(time.Now())
}

// refreshEquity recomputes equity = initial + realized + unrealized. Caller
// holds the lock.
func (e *Engine) refreshEquity(now time.Time) {
	prices := make(map[string]float64)
	for _, q := range e.quotes.Snapshot() {
		prices[q.Symbol] = q.Price
	}
	unrealized := e.book.MarkToMarket(prices)
	e.equity = e.initial + e.realizedPnL + unrealized

	e.governor.UpdateEquity(e.equity, now)

	drawdownPct := 0.0
	if e.equity < e.initial {
		drawdownPct = (e.initial - e.equity) / e.initial * 100
	}
	e.killSwitch.UpdateDrawdown(drawdownPct)
}

// SetMode switches paper/live execution. Existing positions and history are
// untouched; the change is published for audit.
func (e *Engine) SetMode(mode Mode) error {
	if mode != ModePaper && mode != ModeLive {
		return fmt.Errorf("unknown execution mode: %q", mode)
	}
	if mode == ModeLive && e.liveVenue == nil {
		return fmt.Errorf("live mode requires a venue adapter")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == mode {
		return nil
	}
	e.mode = mode
	e.logger.Warn().Str("mode", string(mode)).Msg("execution mode changed")
	if e.bus != nil {
		e.bus.Publish(events.Event{Kind: events.KindModeChange, Payload: mode})
	}
	return nil
}

// Mode returns the current execution mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Equity returns the current account equity.
func (e *Engine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity
}

// RealizedPnL returns cumulative realized P&L.
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realizedPnL
}

// Positions returns copies of all open positions.
func (e *Engine) Positions() []Position {
	return e.book.Positions()
}

// Orders returns the retained order history, oldest first.
func (e *Engine) Orders() []*ExecutionOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ExecutionOrder(nil), e.orders...)
}

// KillSwitch exposes the kill switch for status reads and operator resets.
func (e *Engine) KillSwitch() *KillSwitch {
	return e.killSwitch
}

func (e *Engine) venue() VenueAdapter {
	if e.mode == ModeLive {
		return e.liveVenue
	}
	return e.paperVenue
}

func (e *Engine) newOrder(p models.TradeProposal) *ExecutionOrder {
	return &ExecutionOrder{
		ID:             uuid.NewString(),
		Proposal:       p,
		Symbol:         p.Signal.Symbol,
		StrategyID:     p.Signal.StrategyID,
		Direction:      p.Signal.Direction,
		EstimatedPrice: p.EstimatedPrice,
		CreatedAt:      time.Now(),
	}
}

func (e *Engine) appendOrder(order *ExecutionOrder) {
	e.orders = append(e.orders, order)
	if e.cfg.OrderHistory > 0 && len(e.orders) > e.cfg.OrderHistory {
		e.orders = e.orders[len(e.orders)-e.cfg.OrderHistory:]
	}
}

func rejectReason(result VenueResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.Reason != "" {
		return result.Reason
	}
	return "venue rejected order"
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
