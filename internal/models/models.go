// Package models holds the shared wire shapes exchanged between the signal
// sources, the allocator, the risk governor, and the execution engine.
package models

import (
	"time"

	"github.com/quanthelm/quanthelm/internal/regime"
)

// Direction is the side of a trade or position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Signal is the strategy-originated part of a trade proposal.
type Signal struct {
	StrategyID string        `json:"strategy_id"`
	Symbol     string        `json:"symbol"`
	Direction  Direction     `json:"direction"`
	Strength   float64       `json:"strength"` // 0.0 to 1.0
	Regime     regime.Regime `json:"regime"`
}

// TradeProposal is a single trade suggestion from a strategy. Proposals are
// ephemeral: each one is consumed by at most one execution attempt.
type TradeProposal struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Signal           Signal    `json:"signal"`
	SuggestedSize    float64   `json:"suggested_size"`
	EstimatedPrice   float64   `json:"estimated_price"`
	KellyFraction    float64   `json:"kelly_fraction"`
	AllocationWeight float64   `json:"allocation_weight"`
}
