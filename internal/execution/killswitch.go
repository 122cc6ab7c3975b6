package execution

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/events"
)

// KillSwitchState is the externally visible state of the kill switch.
type KillSwitchState struct {
	Active            bool      `json:"active"`
	Reason            string    `json:"reason,omitempty"`
	TrippedAt         time.Time `json:"tripped_at,omitempty"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DrawdownPercent   float64   `json:"drawdown_percent"`
}

// KillSwitch halts all new trade entry once loss conditions are met. The
// trip is one-way: only an explicit operator Reset clears it.
type KillSwitch struct {
	mu sync.Mutex

	maxLosses   int
	maxDrawdown float64
	bus         *events.Bus

	state KillSwitchState
}

// NewKillSwitch creates an armed, untripped kill switch.
func NewKillSwitch(maxLosses int, maxDrawdownPercent float64, bus *events.Bus) *KillSwitch {
	return &KillSwitch{
		maxLosses:   maxLosses,
		maxDrawdown: maxDrawdownPercent,
		bus:         bus,
	}
}

// RecordClose updates the consecutive-loss counter from one closing trade.
// Any close with pnl <= 0 counts as a loss; a winning close resets the run.
func (k *KillSwitch) RecordClose(pnl float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if pnl > 0 {
		k.state.ConsecutiveLosses = 0
		return
	}
	k.state.ConsecutiveLosses++
	if !k.state.Active && k.state.ConsecutiveLosses >= k.maxLosses {
		k.trip("consecutive losses")
	}
}

// UpdateDrawdown feeds the latest drawdown from initial capital, in percent.
func (k *KillSwitch) UpdateDrawdown(drawdownPercent float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.state.DrawdownPercent = drawdownPercent
	if !k.state.Active && drawdownPercent >= k.maxDrawdown {
		k.trip("max drawdown")
	}
}

// trip activates the switch. Caller holds the lock.
func (k *KillSwitch) trip(reason string) {
	k.state.Active = true
	k.state.Reason = reason
	k.state.TrippedAt = time.Now()

	log.Error().
		Str("reason", reason).
		Int("consecutive_losses", k.state.ConsecutiveLosses).
		Float64("drawdown_percent", k.state.DrawdownPercent).
		Msg("kill switch tripped")

	if k.bus != nil {
		k.bus.Publish(events.Event{Kind: events.KindKillSwitch, Payload: k.state})
	}
}

// Active reports whether new trade entry is halted.
func (k *KillSwitch) Active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Active
}

// State returns a copy of the current state.
func (k *KillSwitch) State() KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Reset clears the switch. Manual operator action, always audited.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.state = KillSwitchState{}
	log.Warn().Msg("kill switch manually reset")
	if k.bus != nil {
		k.bus.Publish(events.Event{Kind: events.KindKillSwitch, Payload: k.state})
	}
}
