package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthelm/quanthelm/internal/models"
)

func fillAt(symbol string, dir models.Direction, qty, price float64, at time.Time) Fill {
	return Fill{
		OrderID:    "o-" + symbol,
		StrategyID: "strat",
		Symbol:     symbol,
		Direction:  dir,
		Quantity:   qty,
		Price:      price,
		Timestamp:  at,
	}
}

func TestApplyFillOpensPosition(t *testing.T) {
	b := NewBook()
	now := time.Now()

	closes := b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 100, now))
	assert.Empty(t, closes)

	pos, ok := b.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntryPrice)
	assert.Equal(t, models.DirectionLong, pos.Direction)
}

func TestApplyFillWeightedAverageAdd(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 100, now))
	closes := b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 110, now))
	assert.Empty(t, closes)

	pos, _ := b.Position("AAPL")
	assert.Equal(t, 20.0, pos.Quantity)
	assert.InDelta(t, 105, pos.AvgEntryPrice, 1e-9)
}

func TestApplyFillPartialClose(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 100, now))
	closes := b.ApplyFill(fillAt("AAPL", models.DirectionShort, 6, 110, now.Add(time.Hour)))

	require.Len(t, closes, 1)
	assert.InDelta(t, 60, closes[0].PnL, 1e-9) // 6 * (110 - 100)
	assert.Equal(t, 6.0, closes[0].Quantity)
	assert.Equal(t, time.Hour, closes[0].HoldingPeriod)

	pos, ok := b.Position("AAPL")
	require.True(t, ok, "residual position survives")
	assert.Equal(t, 4.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntryPrice)
}

func TestApplyFillFullCloseDeletesPosition(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("AAPL", models.DirectionLong, 5, 100, now))
	closes := b.ApplyFill(fillAt("AAPL", models.DirectionShort, 5, 90, now))

	require.Len(t, closes, 1)
	assert.InDelta(t, -50, closes[0].PnL, 1e-9)

	_, ok := b.Position("AAPL")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestApplyFillShortPnL(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("TSLA", models.DirectionShort, 8, 200, now))
	closes := b.ApplyFill(fillAt("TSLA", models.DirectionLong, 8, 180, now))

	require.Len(t, closes, 1)
	assert.InDelta(t, 160, closes[0].PnL, 1e-9) // 8 * (200 - 180)
}

func TestApplyFillDirectionFlip(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("ETH-USD", models.DirectionLong, 4, 3000, now))
	closes := b.ApplyFill(fillAt("ETH-USD", models.DirectionShort, 10, 3100, now))

	// 4 units close, the 6-unit remainder opens a new short at the fill price.
	require.Len(t, closes, 1)
	assert.Equal(t, 4.0, closes[0].Quantity)
	assert.InDelta(t, 400, closes[0].PnL, 1e-9)

	pos, ok := b.Position("ETH-USD")
	require.True(t, ok)
	assert.Equal(t, models.DirectionShort, pos.Direction)
	assert.Equal(t, 6.0, pos.Quantity)
	assert.Equal(t, 3100.0, pos.AvgEntryPrice)
}

func TestMarkToMarket(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 100, now))
	b.ApplyFill(fillAt("TSLA", models.DirectionShort, 5, 200, now))

	total := b.MarkToMarket(map[string]float64{"AAPL": 110, "TSLA": 210})
	// Long +10*10, short -5*10.
	assert.InDelta(t, 50, total, 1e-9)

	pos, _ := b.Position("AAPL")
	assert.InDelta(t, 100, pos.UnrealizedPnL, 1e-9)
	assert.Equal(t, 110.0, pos.CurrentPrice)
}

func TestMarkToMarketKeepsStalePriceMark(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fillAt("AAPL", models.DirectionLong, 10, 100, time.Now()))

	total := b.MarkToMarket(nil)
	assert.Equal(t, 0.0, total, "no fresh price: marked at entry")
}
