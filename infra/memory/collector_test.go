package memory

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorReportsStats(t *testing.T) {
	a, err := New(Config{MaxBytes: 1 << 20, RegionSize: 1 << 20})
	require.NoError(t, err)
	defer a.Close()
	b := a.Allocate(100)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(a)))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		m := f.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			got[f.GetName()] = g.GetValue()
		} else {
			got[f.GetName()] = m.GetCounter().GetValue()
		}
	}
	assert.Len(t, got, 8)
	assert.EqualValues(t, 1, got["strata_memory_live_allocations"])
	assert.EqualValues(t, 1, got["strata_memory_pooled_allocations_total"])
	assert.EqualValues(t, 1<<20, got["strata_memory_max_bytes"])

	a.Deallocate(b)
}
