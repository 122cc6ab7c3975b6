package risk

import (
	"time"
)

// Level is the scope a breaker protects.
type Level string

const (
	LevelPosition  Level = "position"
	LevelStrategy  Level = "strategy"
	LevelPortfolio Level = "portfolio"
)

// State is a breaker's position in its hysteresis cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a hysteresis circuit breaker: it trips at TripThreshold, waits
// out its cooldown half-open, and only fully closes once the metric falls
// below ResetThreshold. Transitions never skip states.
type Breaker struct {
	ID             string        `json:"id"`
	Level          Level         `json:"level"`
	State          State         `json:"state"`
	TripThreshold  float64       `json:"trip_threshold"`
	ResetThreshold float64       `json:"reset_threshold"`
	CurrentValue   float64       `json:"current_value"`
	TripCount      int           `json:"trip_count"`
	LastTripped    time.Time     `json:"last_tripped"`
	Cooldown       time.Duration `json:"cooldown"`
}

func newBreaker(id string, level Level, trip, reset float64, cooldown time.Duration) *Breaker {
	return &Breaker{
		ID:             id,
		Level:          level,
		State:          StateClosed,
		TripThreshold:  trip,
		ResetThreshold: reset,
		Cooldown:       cooldown,
	}
}

// Observe feeds the breaker its metric and advances the state machine.
// It returns the transition that occurred, if any.
func (b *Breaker) Observe(value float64, now time.Time) (from, to State, changed bool) {
	b.CurrentValue = value
	from = b.State

	switch b.State {
	case StateClosed:
		if value >= b.TripThreshold {
			b.trip(now)
		}
	case StateOpen:
		if now.Sub(b.LastTripped) >= b.Cooldown {
			// Cooldown elapsed: probe state. The next observation decides
			// whether the breaker closes or re-trips.
			b.State = StateHalfOpen
		}
	case StateHalfOpen:
		if value >= b.TripThreshold {
			b.trip(now)
		} else if value < b.ResetThreshold {
			b.State = StateClosed
		}
	}

	return from, b.State, from != b.State
}

func (b *Breaker) trip(now time.Time) {
	b.State = StateOpen
	b.TripCount++
	b.LastTripped = now
}

// forceClose resets the breaker ahead of its cooldown. Admin path only.
func (b *Breaker) forceClose() {
	b.State = StateClosed
}

// Open reports whether the breaker currently blocks activity.
func (b *Breaker) Open() bool {
	return b.State == StateOpen
}
