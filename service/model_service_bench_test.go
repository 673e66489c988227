package service

import (
	"context"
	"testing"

	"strata/domain/model"
	"strata/infra/wal"
)

func BenchmarkSet_Journaled(b *testing.B) {
	ctx := context.Background()
	j, err := wal.Open(wal.Config{Dir: b.TempDir(), SegmentSize: 64 << 20})
	if err != nil {
		b.Fatal(err)
	}
	defer j.Close()

	svc := NewModelService(model.NewStore(), WithJournal(j))
	if _, err := svc.Recover(ctx); err != nil {
		b.Fatal(err)
	}
	if _, err := svc.Declare(ctx, "/rig/temp", 0.0); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		v := 0.0
		for pb.Next() {
			v++
			if _, err := svc.Set(ctx, "/rig/temp", v); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkList(b *testing.B) {
	ctx := context.Background()
	svc := NewModelService(model.NewStore())
	for _, p := range []string{"/rig/a", "/rig/b", "/rig/c", "/scope/x", "/scope/y"} {
		if _, err := svc.Declare(ctx, p, int64(0)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.List("/"); err != nil {
			b.Fatal(err)
		}
	}
}
