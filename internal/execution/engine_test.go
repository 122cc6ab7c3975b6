package execution

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthelm/quanthelm/internal/allocator"
	"github.com/quanthelm/quanthelm/internal/config"
	"github.com/quanthelm/quanthelm/internal/events"
	"github.com/quanthelm/quanthelm/internal/market"
	"github.com/quanthelm/quanthelm/internal/models"
	"github.com/quanthelm/quanthelm/internal/random"
	"github.com/quanthelm/quanthelm/internal/regime"
	"github.com/quanthelm/quanthelm/internal/risk"
)

type engineFixture struct {
	engine   *Engine
	alloc    *allocator.Allocator
	governor *risk.Governor
	quotes   *market.Cache
	bus      *events.Bus
}

func newFixture(t *testing.T, liveVenue VenueAdapter, mode Mode) *engineFixture {
	t.Helper()
	cfg := config.Default()

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	quotes := market.NewCache()
	alloc := allocator.New(cfg.Allocator, cfg.InitialCapital, random.NewSource(1), bus)
	alloc.AddArm("momentum")
	governor := risk.NewGovernor(cfg.Risk, cfg.InitialCapital, bus)
	engine := NewEngine(cfg.Execution, cfg.InitialCapital, mode, alloc, governor, quotes, liveVenue, bus)

	return &engineFixture{engine: engine, alloc: alloc, governor: governor, quotes: quotes, bus: bus}
}

func proposal(symbol string, dir models.Direction, price float64) models.TradeProposal {
	return models.TradeProposal{
		ID: "prop-" + symbol,
		Signal: models.Signal{
			StrategyID: "momentum",
			Symbol:     symbol,
			Direction:  dir,
			Strength:   0.9,
			Regime:     regime.Trending,
		},
		EstimatedPrice:   price,
		KellyFraction:    0.2,
		AllocationWeight: 0.5,
	}
}

func quoteFor(symbol string, price float64) market.Quote {
	return market.Quote{Symbol: symbol, Price: price, Bid: price * 0.9995, Ask: price * 1.0005, Volume: 100}
}

func TestPaperFillDeterministic(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	require.True(t, f.quotes.SetQuote(quoteFor("AAPL", 100)))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, OrderStateFilled, order.State)

	// value = min(10000*0.5*0.2, 10000*0.02) = 200 -> 2 whole units.
	assert.Equal(t, 2.0, order.Quantity)
	// 2 bps base + half of the ~10 bps spread.
	assert.InDelta(t, 7, order.SlippageBps, 0.01)
	// Buys pay up by the slippage.
	assert.InDelta(t, 100*(1+order.SlippageBps/10000), order.FillPrice, 1e-9)

	pos, ok := f.engine.book.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Quantity)
}

func TestFractionalQuantityForExpensiveAsset(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	require.True(t, f.quotes.SetQuote(quoteFor("BTC-USD", 50000)))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("BTC-USD", models.DirectionLong, 50000))
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, order.State)
	assert.InDelta(t, 200.0/50000, order.Quantity, 1e-9)
}

func TestKillSwitchRejectsBeforeSizing(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	f.quotes.SetQuote(quoteFor("AAPL", 100))
	f.engine.KillSwitch().UpdateDrawdown(10)
	require.True(t, f.engine.KillSwitch().Active())

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, OrderStateRejected, order.State)
	assert.Equal(t, "kill switch active", order.RejectReason)
	assert.Equal(t, 0.0, order.Quantity, "rejected before sizing ran")
}

func TestDataQualitySkips(t *testing.T) {
	f := newFixture(t, nil, ModePaper)

	// No quote cached for the symbol.
	order, err := f.engine.ExecuteProposal(context.Background(), proposal("GHOST", models.DirectionLong, 100))
	require.NoError(t, err)
	assert.Nil(t, order)

	// Non-finite and zero prices.
	f.quotes.SetQuote(quoteFor("AAPL", 100))
	for _, price := range []float64{math.NaN(), math.Inf(1), 0} {
		order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, price))
		require.NoError(t, err)
		assert.Nil(t, order, "price %v must be skipped", price)
	}

	// A quote with a price but no two-sided book carries no spread.
	require.True(t, f.quotes.SetQuote(market.Quote{Symbol: "THIN", Price: 100, Volume: 50}))
	order, err = f.engine.ExecuteProposal(context.Background(), proposal("THIN", models.DirectionLong, 100))
	require.NoError(t, err)
	assert.Nil(t, order, "quote without bid/ask must be skipped")

	// Crossed books report zero spread too.
	require.True(t, f.quotes.SetQuote(market.Quote{Symbol: "CROSS", Price: 100, Bid: 101, Ask: 100, Volume: 50}))
	order, err = f.engine.ExecuteProposal(context.Background(), proposal("CROSS", models.DirectionLong, 100))
	require.NoError(t, err)
	assert.Nil(t, order)

	assert.Empty(t, f.engine.Orders())
}

func TestVetoedAtMaxPositions(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	f.quotes.SetQuote(quoteFor("AAPL", 100))
	f.governor.SetOpenPositions(config.Default().Risk.MaxOpenPositions)

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, OrderStateVetoed, order.State)
	assert.NotEmpty(t, order.VetoReason)

	_, ok := f.engine.book.Position("AAPL")
	assert.False(t, ok, "vetoed order must not touch the book")
}

func TestCloseFeedsAllocatorAndKillSwitch(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	f.quotes.SetQuote(quoteFor("AAPL", 100))

	// Open long, then close it with a short while the price has dropped.
	_, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	f.quotes.SetQuote(quoteFor("AAPL", 95))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionShort, 95))
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, order.State)

	arm, ok := f.alloc.Arm("momentum")
	require.True(t, ok)
	assert.Equal(t, 1, arm.TotalTrades)
	assert.Equal(t, 1, arm.Losses)

	assert.Equal(t, 1, f.engine.KillSwitch().State().ConsecutiveLosses)
	assert.Less(t, f.engine.RealizedPnL(), 0.0)
	assert.InDelta(t, 10000+f.engine.RealizedPnL(), f.engine.Equity(), 1e-9)
}

func TestVenueRejectionIsNotFatal(t *testing.T) {
	venue := &stubVenue{err: errors.New("gateway unavailable")}
	f := newFixture(t, venue, ModeLive)
	f.quotes.SetQuote(quoteFor("AAPL", 100))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err, "venue failure surfaces as a rejected order, not an error")
	require.NotNil(t, order)
	assert.Equal(t, OrderStateRejected, order.State)
	assert.Contains(t, order.RejectReason, "gateway unavailable")

	// The engine keeps processing: switch to paper and trade normally.
	require.NoError(t, f.engine.SetMode(ModePaper))
	next, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, next.State)
}

func TestLiveFillUsesVenueReport(t *testing.T) {
	venue := &stubVenue{result: VenueResult{Success: true, FillPrice: 100.5}}
	f := newFixture(t, venue, ModeLive)
	f.quotes.SetQuote(quoteFor("AAPL", 100))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, order.State)
	assert.Equal(t, 100.5, order.FillPrice, "fill price comes from the venue report")
}

func TestMarkToMarketMovesEquity(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	f.quotes.SetQuote(quoteFor("AAPL", 100))

	order, err := f.engine.ExecuteProposal(context.Background(), proposal("AAPL", models.DirectionLong, 100))
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, order.State)

	f.quotes.SetQuote(quoteFor("AAPL", 120))
	f.engine.MarkToMarket()

	expected := 10000 + (120-order.FillPrice)*order.Quantity
	assert.InDelta(t, expected, f.engine.Equity(), 1e-9)
}

func TestSetModeAudited(t *testing.T) {
	f := newFixture(t, &stubVenue{result: VenueResult{Success: true}}, ModePaper)
	ch := f.bus.Subscribe(events.KindModeChange)

	require.NoError(t, f.engine.SetMode(ModeLive))
	evt := <-ch
	assert.Equal(t, ModeLive, evt.Payload.(Mode))
	assert.Equal(t, ModeLive, f.engine.Mode())

	assert.Error(t, f.engine.SetMode(Mode("backtest")))
}

func TestSetModeLiveRequiresVenue(t *testing.T) {
	f := newFixture(t, nil, ModePaper)
	assert.Error(t, f.engine.SetMode(ModeLive))
}
