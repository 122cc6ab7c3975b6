// Package app wires the allocator, risk governor, execution engine, and the
// optional snapshot publisher, journal, and operator API into one process.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/allocator"
	"github.com/quanthelm/quanthelm/internal/config"
	"github.com/quanthelm/quanthelm/internal/events"
	"github.com/quanthelm/quanthelm/internal/execution"
	"github.com/quanthelm/quanthelm/internal/market"
	"github.com/quanthelm/quanthelm/internal/metrics"
	"github.com/quanthelm/quanthelm/internal/models"
	"github.com/quanthelm/quanthelm/internal/persistence/postgres"
	"github.com/quanthelm/quanthelm/internal/random"
	"github.com/quanthelm/quanthelm/internal/regime"
	"github.com/quanthelm/quanthelm/internal/risk"
	"github.com/quanthelm/quanthelm/internal/status"
)

// App owns every engine component for one trading process.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	bus       *events.Bus
	quotes    *market.Cache
	alloc     *allocator.Allocator
	governor  *risk.Governor
	engine    *execution.Engine
	metrics   *metrics.Registry
	publisher *market.Publisher
	store     *postgres.Store
	server    *status.Server
}

// New builds the full component graph. A non-nil venue enables live order
// routing behind the transport guards; paper trading needs none.
func New(cfg config.Config, venue execution.VenueAdapter) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Allocator.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bus := events.NewBus(256)
	quotes := market.NewCache()
	alloc := allocator.New(cfg.Allocator, cfg.InitialCapital, random.NewSource(seed), bus)
	governor := risk.NewGovernor(cfg.Risk, cfg.InitialCapital, bus)

	var liveVenue execution.VenueAdapter
	if venue != nil {
		liveVenue = execution.NewGuardedVenue(venue,
			cfg.Execution.OrderRatePerSec, cfg.Execution.OrderBurst, cfg.Execution.VenueTimeout())
	}

	mode := execution.Mode(cfg.Mode)
	if mode == execution.ModeLive && liveVenue == nil {
		return nil, fmt.Errorf("live mode requires a venue adapter")
	}
	engine := execution.NewEngine(cfg.Execution, cfg.InitialCapital, mode,
		alloc, governor, quotes, liveVenue, bus)

	a := &App{
		cfg:      cfg,
		logger:   log.With().Str("component", "app").Logger(),
		bus:      bus,
		quotes:   quotes,
		alloc:    alloc,
		governor: governor,
		engine:   engine,
		metrics:  metrics.NewRegistry(),
	}

	if cfg.Redis.Enabled {
		a.publisher = market.NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL())
	}
	if cfg.Postgres.Enabled {
		store, err := postgres.Open(cfg.Postgres.DSN, cfg.Postgres.Timeout())
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.store = store
	}
	if cfg.Status.Enabled {
		a.server = status.NewServer(cfg.Status.Addr, engine, alloc, governor, a.metrics)
	}

	a.logger.Info().
		Str("mode", cfg.Mode).
		Float64("capital", cfg.InitialCapital).
		Int64("seed", seed).
		Msg("engine assembled")
	return a, nil
}

// AddStrategy registers a strategy arm with the allocator.
func (a *App) AddStrategy(id string) {
	a.alloc.AddArm(id)
}

// HandleQuote feeds one market quote into the cache and mirrors it out.
func (a *App) HandleQuote(ctx context.Context, q market.Quote) {
	if !a.quotes.SetQuote(q) {
		a.logger.Debug().Str("symbol", q.Symbol).Float64("price", q.Price).
			Msg("quote rejected")
		return
	}
	if err := a.publisher.PublishQuote(ctx, q); err != nil {
		a.logger.Debug().Err(err).Str("symbol", q.Symbol).Msg("quote snapshot not published")
	}
}

// HandleProposal runs one trade proposal through the full order lifecycle.
func (a *App) HandleProposal(ctx context.Context, p models.TradeProposal) (*execution.ExecutionOrder, error) {
	start := time.Now()
	order, err := a.engine.ExecuteProposal(ctx, p)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}
	a.metrics.OrderDuration.Observe(time.Since(start).Seconds())
	switch order.State {
	case execution.OrderStateFilled:
		a.metrics.RecordFill(string(order.Direction))
	case execution.OrderStateVetoed:
		a.metrics.RecordOrderOutcome("vetoed")
	case execution.OrderStateRejected:
		a.metrics.RecordOrderOutcome("rejected")
	}
	return order, nil
}

// HandleRegime switches the allocator's market regime.
func (a *App) HandleRegime(r regime.Regime) error {
	if !r.Valid() {
		return fmt.Errorf("unknown regime: %q", r)
	}
	a.alloc.SetRegime(r)
	names := make([]string, 0, len(regime.All()))
	for _, reg := range regime.All() {
		names = append(names, string(reg))
	}
	a.metrics.RecordRegime(string(r), names)
	return nil
}

// Run drives the periodic loops and event consumers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.store != nil {
		if err := a.store.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if err := a.publisher.Ping(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("redis unreachable, snapshots disabled until it returns")
	}

	var wg sync.WaitGroup
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Start(); err != nil {
				a.logger.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	wg.Add(2)
	go func() { defer wg.Done(); a.consumeEvents(ctx) }()
	go func() { defer wg.Done(); a.runTickers(ctx) }()

	<-ctx.Done()
	a.logger.Info().Msg("shutting down")

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.server.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()
	a.bus.Close()
	if a.store != nil {
		a.store.Close()
	}
	a.publisher.Close()
	return ctx.Err()
}

// consumeEvents fans engine events out to metrics, the journal, and Redis.
func (a *App) consumeEvents(ctx context.Context) {
	fills := a.bus.Subscribe(events.KindFill)
	vetoes := a.bus.Subscribe(events.KindVeto)
	kills := a.bus.Subscribe(events.KindKillSwitch)
	allocs := a.bus.Subscribe(events.KindAllocation)
	breakers := a.bus.Subscribe(events.KindBreaker)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fills:
			if !ok {
				return
			}
			a.onFill(ctx, evt)
		case evt, ok := <-vetoes:
			if !ok {
				return
			}
			if v, ok := evt.Payload.(risk.Veto); ok {
				a.metrics.RecordVeto(string(v.Severity))
			}
		case evt, ok := <-kills:
			if !ok {
				return
			}
			if st, ok := evt.Payload.(execution.KillSwitchState); ok {
				if st.Active {
					a.metrics.RecordKillSwitchTrip()
				} else {
					a.metrics.RecordKillSwitchReset()
				}
			}
		case evt, ok := <-allocs:
			if !ok {
				return
			}
			a.onAllocation(ctx, evt)
		case evt, ok := <-breakers:
			if !ok {
				return
			}
			if b, ok := evt.Payload.(risk.Breaker); ok {
				a.metrics.RecordBreakerState(b.ID, string(b.State))
			}
		}
	}
}

func (a *App) onFill(ctx context.Context, evt events.Event) {
	fill, ok := evt.Payload.(execution.Fill)
	if !ok {
		return
	}
	a.metrics.OpenPositions.Set(float64(len(a.engine.Positions())))
	if a.store == nil {
		return
	}
	rec := postgres.FillRecord{
		OrderID:    fill.OrderID,
		StrategyID: fill.StrategyID,
		Symbol:     fill.Symbol,
		Side:       string(fill.Direction),
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Timestamp:  fill.Timestamp,
	}
	if err := a.store.InsertFill(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Str("order", fill.OrderID).Msg("fill not journaled")
	}
}

func (a *App) onAllocation(ctx context.Context, evt events.Event) {
	decision, ok := evt.Payload.(allocator.AllocationDecision)
	if !ok {
		return
	}
	a.metrics.RecordAllocation(decision.Weights, decision.Confidence)
	a.governor.SetAverageCorrelation(a.alloc.Correlations().MeanAbs())
	if err := a.publisher.PublishAllocations(ctx, decision.Weights); err != nil {
		a.logger.Debug().Err(err).Msg("allocation snapshot not published")
	}
	if a.store != nil {
		rec := postgres.DecisionRecord{
			Timestamp:  decision.Timestamp,
			Regime:     string(decision.Regime),
			Confidence: decision.Confidence,
			Weights:    decision.Weights,
		}
		if err := a.store.InsertDecision(ctx, rec); err != nil {
			a.logger.Warn().Err(err).Msg("decision not journaled")
		}
	}
}

// runTickers owns the rebalance, risk-check, and mark-to-market cadences.
func (a *App) runTickers(ctx context.Context) {
	rebalance := time.NewTicker(a.cfg.Allocator.RebalanceInterval())
	riskCheck := time.NewTicker(a.cfg.Risk.CheckInterval())
	mark := time.NewTicker(a.cfg.Execution.MarkInterval())
	defer rebalance.Stop()
	defer riskCheck.Stop()
	defer mark.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rebalance.C:
			a.alloc.Rebalance()
		case <-riskCheck.C:
			a.governor.RunCheck(time.Now())
		case <-mark.C:
			a.markAndPublish(ctx)
		}
	}
}

func (a *App) markAndPublish(ctx context.Context) {
	a.engine.MarkToMarket()
	equity := a.engine.Equity()
	_, _, fromPeak := a.governor.Drawdowns()
	a.metrics.RecordEquity(equity, fromPeak*100)

	if err := a.publisher.PublishEquity(ctx, equity, fromPeak); err != nil {
		a.logger.Debug().Err(err).Msg("equity snapshot not published")
	}
	if a.store != nil {
		point := postgres.EquityPoint{
			Timestamp:   time.Now(),
			Equity:      equity,
			RealizedPnL: a.engine.RealizedPnL(),
			DrawdownPct: fromPeak * 100,
		}
		if err := a.store.InsertEquityPoint(ctx, point); err != nil {
			a.logger.Warn().Err(err).Msg("equity point not journaled")
		}
	}
}

// Engine exposes the execution engine for operator commands.
func (a *App) Engine() *execution.Engine {
	return a.engine
}

// Allocator exposes the capital allocator.
func (a *App) Allocator() *allocator.Allocator {
	return a.alloc
}

// Governor exposes the risk governor.
func (a *App) Governor() *risk.Governor {
	return a.governor
}
