package repository

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkTreapStore_Upsert(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	names := make([]string, 10_000)
	for i := range names {
		names[i] = fmt.Sprintf("player-%d", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Upsert(ctx, Record{Player: names[i%len(names)], Score: float64(i), AchievedAt: t0.Add(time.Duration(i))})
	}
}

func BenchmarkTreapStore_TopN(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	for i := 0; i < 10_000; i++ {
		_, _ = store.Upsert(ctx, Record{Player: fmt.Sprintf("player-%d", i), Score: float64(i % 977), AchievedAt: t0})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = store.TopN(ctx, 20)
		}
	})
}
