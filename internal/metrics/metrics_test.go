package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFillCountsBothFamilies(t *testing.T) {
	r := NewRegistry()
	r.RecordFill("long")
	r.RecordFill("long")
	r.RecordFill("short")

	long, err := r.FillsTotal.GetMetricWithLabelValues("long")
	require.NoError(t, err)
	m := &dto.Metric{}
	require.NoError(t, long.Write(m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	filled, err := r.OrdersTotal.GetMetricWithLabelValues("filled")
	require.NoError(t, err)
	require.NoError(t, filled.Write(m))
	assert.Equal(t, 3.0, m.GetCounter().GetValue())
}

func TestBreakerStateValues(t *testing.T) {
	r := NewRegistry()
	cases := map[string]float64{"closed": 0, "half_open": 1, "open": 2, "bogus": -1}
	for state, want := range cases {
		r.RecordBreakerState("portfolio-daily-drawdown", state)
		g, err := r.BreakerState.GetMetricWithLabelValues("portfolio-daily-drawdown")
		require.NoError(t, err)
		m := &dto.Metric{}
		require.NoError(t, g.Write(m))
		assert.Equal(t, want, m.GetGauge().GetValue(), "state %s", state)
	}
}

func TestKillSwitchGaugeFollowsTripAndReset(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0.0, GaugeValue(r.KillSwitchActive))

	r.RecordKillSwitchTrip()
	assert.Equal(t, 1.0, GaugeValue(r.KillSwitchActive))
	assert.Equal(t, 1.0, CounterValue(r.KillSwitchTrips))

	r.RecordKillSwitchReset()
	assert.Equal(t, 0.0, GaugeValue(r.KillSwitchActive))
	assert.Equal(t, 1.0, CounterValue(r.KillSwitchTrips), "trip count survives reset")
}

func TestRecordAllocationUpdatesWeights(t *testing.T) {
	r := NewRegistry()
	r.RecordAllocation(map[string]float64{"momentum": 0.6, "meanrev": 0.4}, 0.72)
	r.RecordAllocation(map[string]float64{"momentum": 0.5, "meanrev": 0.5}, 0.8)

	g, err := r.ArmAllocation.GetMetricWithLabelValues("momentum")
	require.NoError(t, err)
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	assert.Equal(t, 0.5, m.GetGauge().GetValue())
	assert.Equal(t, 0.8, GaugeValue(r.Confidence))
	assert.Equal(t, 2.0, CounterValue(r.Rebalances))
}

func TestRecordRegimeClearsOthers(t *testing.T) {
	r := NewRegistry()
	all := []string{"trending", "ranging", "volatile"}
	r.RecordRegime("trending", all)
	r.RecordRegime("volatile", all)

	for name, want := range map[string]float64{"trending": 0, "ranging": 0, "volatile": 1} {
		g, err := r.RegimeActive.GetMetricWithLabelValues(name)
		require.NoError(t, err)
		m := &dto.Metric{}
		require.NoError(t, g.Write(m))
		assert.Equal(t, want, m.GetGauge().GetValue(), name)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.RecordEquity(9500, 5)
	assert.Equal(t, 9500.0, GaugeValue(a.Equity))
	assert.Equal(t, 0.0, GaugeValue(b.Equity))
}
