// Package market owns the price-and-spread cache feeding sizing and slippage
// estimation. Quote ingestion beyond this cache is an external concern.
package market

import (
	"math"
	"sync"
	"time"
)

// Quote is the latest observed market state for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
// Quotes without a two-sided book report zero spread.
func (q Quote) SpreadBps() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	mid := (q.Bid + q.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 10000
}

// Cache holds the most recent quote per symbol. All inputs are validated at
// ingest so no NaN or Inf ever reaches sizing arithmetic.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewCache creates an empty quote cache.
func NewCache() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// SetQuote stores a quote, rejecting non-finite or non-positive prices.
// Rejected quotes return false and leave any prior quote in place.
func (c *Cache) SetQuote(q Quote) bool {
	if !finitePositive(q.Price) {
		return false
	}
	if q.Bid != 0 && !finitePositive(q.Bid) {
		return false
	}
	if q.Ask != 0 && !finitePositive(q.Ask) {
		return false
	}
	if math.IsNaN(q.Volume) || math.IsInf(q.Volume, 0) || q.Volume < 0 {
		return false
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
	return true
}

// Quote returns the latest quote for a symbol.
func (c *Cache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of every cached quote.
func (c *Cache) Snapshot() []Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
