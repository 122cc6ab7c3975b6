package execution

import (
	"sync"
	"time"

	"github.com/quanthelm/quanthelm/internal/models"
)

// Position is the net holding for one symbol.
type Position struct {
	Symbol        string           `json:"symbol"`
	Direction     models.Direction `json:"direction"`
	Quantity      float64          `json:"quantity"`
	AvgEntryPrice float64          `json:"avg_entry_price"`
	CurrentPrice  float64          `json:"current_price"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
	StrategyID    string           `json:"strategy_id"`
	OpenedAt      time.Time        `json:"opened_at"`
}

// ClosedTrade records the realized part of an opposite-direction fill.
type ClosedTrade struct {
	Symbol        string
	StrategyID    string
	Direction     models.Direction
	Quantity      float64
	EntryPrice    float64
	ExitPrice     float64
	PnL           float64
	HoldingPeriod time.Duration
}

// Book owns the position map. A fill for one order is fully applied under
// the lock before any other handler observes the book.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// ApplyFill folds a fill into the book. Same-direction fills extend the
// position at a weighted-average entry price. Opposite-direction fills close
// up to the existing quantity and realize P&L; any remainder beyond the
// existing quantity opens a new position in the fill's direction.
func (b *Book) ApplyFill(fill Fill) []ClosedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, exists := b.positions[fill.Symbol]
	if !exists || pos.Direction == fill.Direction {
		b.extend(pos, fill)
		return nil
	}

	closedQty := fill.Quantity
	if pos.Quantity < closedQty {
		closedQty = pos.Quantity
	}

	pnl := (fill.Price - pos.AvgEntryPrice) * closedQty
	if pos.Direction == models.DirectionShort {
		pnl = (pos.AvgEntryPrice - fill.Price) * closedQty
	}

	closed := ClosedTrade{
		Symbol:        fill.Symbol,
		StrategyID:    pos.StrategyID,
		Direction:     pos.Direction,
		Quantity:      closedQty,
		EntryPrice:    pos.AvgEntryPrice,
		ExitPrice:     fill.Price,
		PnL:           pnl,
		HoldingPeriod: fill.Timestamp.Sub(pos.OpenedAt),
	}

	pos.Quantity -= closedQty
	if pos.Quantity <= 0 {
		delete(b.positions, fill.Symbol)
	}

	// Direction flip: the unmatched remainder opens a fresh position on the
	// fill's side at the fill price.
	if remainder := fill.Quantity - closedQty; remainder > 0 {
		b.positions[fill.Symbol] = &Position{
			Symbol:        fill.Symbol,
			Direction:     fill.Direction,
			Quantity:      remainder,
			AvgEntryPrice: fill.Price,
			CurrentPrice:  fill.Price,
			StrategyID:    fill.StrategyID,
			OpenedAt:      fill.Timestamp,
		}
	}

	return []ClosedTrade{closed}
}

// extend creates or grows a same-direction position. Caller holds the lock.
func (b *Book) extend(pos *Position, fill Fill) {
	if pos == nil {
		b.positions[fill.Symbol] = &Position{
			Symbol:        fill.Symbol,
			Direction:     fill.Direction,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			CurrentPrice:  fill.Price,
			StrategyID:    fill.StrategyID,
			OpenedAt:      fill.Timestamp,
		}
		return
	}

	total := pos.Quantity + fill.Quantity
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + fill.Price*fill.Quantity) / total
	pos.Quantity = total
	pos.CurrentPrice = fill.Price
}

// MarkToMarket updates unrealized P&L from the latest prices and returns the
// total across the book. Symbols without a fresh price keep their last mark.
func (b *Book) MarkToMarket(prices map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0.0
	for _, pos := range b.positions {
		if price, ok := prices[pos.Symbol]; ok && price > 0 {
			pos.CurrentPrice = price
		}
		diff := pos.CurrentPrice - pos.AvgEntryPrice
		if pos.Direction == models.DirectionShort {
			diff = -diff
		}
		pos.UnrealizedPnL = diff * pos.Quantity
		total += pos.UnrealizedPnL
	}
	return total
}

// Position returns a copy of the position for one symbol.
func (b *Book) Position(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, exists := b.positions[symbol]
	if !exists {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of every open position.
func (b *Book) Positions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Len returns the open position count.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}
