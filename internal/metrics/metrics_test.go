package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(bookingTransitions))
	require.NoError(t, reg.Register(intervalsMerged))
	require.NoError(t, reg.Register(cacheLookups))

	before := counterValue(t, reg, "parkovka_booking_transitions_total", map[string]string{"status": "confirmed"})
	IncBookingTransition("confirmed")
	IncBookingTransition("confirmed")
	after := counterValue(t, reg, "parkovka_booking_transitions_total", map[string]string{"status": "confirmed"})
	assert.Equal(t, before+2, after)

	merged := counterValue(t, reg, "parkovka_intervals_merged_total", nil)
	AddIntervalsMerged(0)
	AddIntervalsMerged(3)
	assert.Equal(t, merged+3, counterValue(t, reg, "parkovka_intervals_merged_total", nil))

	hits := counterValue(t, reg, "parkovka_free_slots_cache_total", map[string]string{"result": "hit"})
	IncCacheLookup(true)
	assert.Equal(t, hits+1, counterValue(t, reg, "parkovka_free_slots_cache_total", map[string]string{"result": "hit"}))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}
