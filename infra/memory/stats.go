package memory

// Stats is a point-in-time view of allocator counters.
type Stats struct {
	MaxBytes            int64
	MappedBytes         int64
	Regions             int
	Chunks              int64
	ReserveChunks       int
	LiveAllocations     int64
	LiveBytes           int64
	PooledAllocations   uint64
	FallbackAllocations uint64
}

func (a *PoolAllocator) Stats() Stats {
	n := int(a.nregions.Load())
	return Stats{
		MaxBytes:            a.cfg.MaxBytes,
		MappedBytes:         int64(n) * int64(a.cfg.RegionSize),
		Regions:             n,
		Chunks:              a.carved.Load(),
		ReserveChunks:       a.reserve.Size(),
		LiveAllocations:     a.liveAllocs.Load(),
		LiveBytes:           a.liveBytes.Load(),
		PooledAllocations:   a.pooled.Load(),
		FallbackAllocations: a.fallback.Load(),
	}
}
