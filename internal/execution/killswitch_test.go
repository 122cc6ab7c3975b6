package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanthelm/quanthelm/internal/events"
)

func TestKillSwitchConsecutiveLosses(t *testing.T) {
	k := NewKillSwitch(3, 8, nil)

	k.RecordClose(-10)
	k.RecordClose(0) // break-even counts as a loss
	assert.False(t, k.Active())

	k.RecordClose(-5)
	assert.True(t, k.Active())
	assert.Equal(t, "consecutive losses", k.State().Reason)
}

func TestKillSwitchWinResetsCounter(t *testing.T) {
	k := NewKillSwitch(3, 8, nil)

	k.RecordClose(-10)
	k.RecordClose(-10)
	k.RecordClose(25)
	require.Equal(t, 0, k.State().ConsecutiveLosses)

	k.RecordClose(-10)
	k.RecordClose(-10)
	assert.False(t, k.Active(), "counter restarted after the win")
}

func TestKillSwitchDrawdownTrip(t *testing.T) {
	k := NewKillSwitch(3, 8, nil)

	k.UpdateDrawdown(7.9)
	assert.False(t, k.Active())

	k.UpdateDrawdown(8.0)
	assert.True(t, k.Active())
	assert.Equal(t, "max drawdown", k.State().Reason)
}

func TestKillSwitchOneWay(t *testing.T) {
	k := NewKillSwitch(3, 8, nil)
	k.UpdateDrawdown(10)
	require.True(t, k.Active())

	// Recovery does not clear the switch.
	k.UpdateDrawdown(0)
	k.RecordClose(100)
	assert.True(t, k.Active())

	// Only the manual reset does.
	k.Reset()
	assert.False(t, k.Active())
	assert.Equal(t, 0, k.State().ConsecutiveLosses)
}

func TestKillSwitchPublishesTrip(t *testing.T) {
	bus := events.NewBus(4)
	defer bus.Close()
	ch := bus.Subscribe(events.KindKillSwitch)

	k := NewKillSwitch(1, 8, bus)
	k.RecordClose(-1)

	evt := <-ch
	state, ok := evt.Payload.(KillSwitchState)
	require.True(t, ok)
	assert.True(t, state.Active)
}
