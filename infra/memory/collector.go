package memory

import "github.com/prometheus/client_golang/prometheus"

// Collector exports an allocator's Stats as Prometheus metrics.
type Collector struct {
	a     Allocator
	descs map[string]*prometheus.Desc
}

func NewCollector(a Allocator) *Collector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("strata_memory_"+name, help, nil, nil)
	}
	return &Collector{a: a, descs: map[string]*prometheus.Desc{
		"max":      d("max_bytes", "Configured address space limit."),
		"mapped":   d("mapped_bytes", "Bytes reserved in regions."),
		"chunks":   d("chunks", "Chunks carved from regions."),
		"reserve":  d("reserve_chunks", "Empty chunks waiting for a size class."),
		"live":     d("live_allocations", "Pool allocations not yet freed."),
		"liveB":    d("live_bytes", "Bytes held by live pool allocations."),
		"pooled":   d("pooled_allocations_total", "Allocations served from the pool."),
		"fallback": d("fallback_allocations_total", "Allocations served by the Go heap."),
	}}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.a.Stats()
	gauge := func(k string, v float64) {
		ch <- prometheus.MustNewConstMetric(c.descs[k], prometheus.GaugeValue, v)
	}
	counter := func(k string, v float64) {
		ch <- prometheus.MustNewConstMetric(c.descs[k], prometheus.CounterValue, v)
	}
	gauge("max", float64(s.MaxBytes))
	gauge("mapped", float64(s.MappedBytes))
	gauge("chunks", float64(s.Chunks))
	gauge("reserve", float64(s.ReserveChunks))
	gauge("live", float64(s.LiveAllocations))
	gauge("liveB", float64(s.LiveBytes))
	counter("pooled", float64(s.PooledAllocations))
	counter("fallback", float64(s.FallbackAllocations))
}
