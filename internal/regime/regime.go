// Package regime defines the market-regime classification consumed by the
// allocator and the risk governor. The classifier itself is an external
// collaborator; this package only owns the closed set of labels.
package regime

import (
	"fmt"
	"strings"
)

// Regime is a discrete classification of current market behavior.
type Regime string

const (
	Trending Regime = "TRENDING"
	Ranging  Regime = "RANGING"
	Volatile Regime = "VOLATILE"
	Breakout Regime = "BREAKOUT"
	Event    Regime = "EVENT"
	Quiet    Regime = "QUIET"
)

// All lists every valid regime in a stable order.
func All() []Regime {
	return []Regime{Trending, Ranging, Volatile, Breakout, Event, Quiet}
}

// Valid reports whether r is one of the known regimes.
func (r Regime) Valid() bool {
	switch r {
	case Trending, Ranging, Volatile, Breakout, Event, Quiet:
		return true
	}
	return false
}

func (r Regime) String() string {
	return string(r)
}

// Parse converts a label into a Regime, rejecting unknown values. Matching
// is case-insensitive.
func Parse(s string) (Regime, error) {
	r := Regime(strings.ToUpper(s))
	if !r.Valid() {
		return "", fmt.Errorf("unknown regime: %q", s)
	}
	return r, nil
}
