package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_Order(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	got := Map(context.Background(), 3, items, func(_ context.Context, n int) int {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10
	})

	for i, n := range items {
		if got[i] != n*10 {
			t.Errorf("result[%d] = %d, want %d", i, got[i], n*10)
		}
	}
}

func TestMap_Concurrency(t *testing.T) {
	workers := 4
	var current, maxConcurrent int32
	var mu sync.Mutex

	items := make([]int, 40)
	Map(context.Background(), workers, items, func(_ context.Context, _ int) struct{} {
		curr := atomic.AddInt32(&current, 1)
		mu.Lock()
		if curr > maxConcurrent {
			maxConcurrent = curr
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return struct{}{}
	})

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > int32(workers) {
		t.Errorf("max concurrency %d exceeded workers %d", maxConcurrent, workers)
	}
}

func TestMap_Edges(t *testing.T) {
	if got := Map(context.Background(), 2, []string{}, func(_ context.Context, s string) string { return s }); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}

	// Non-positive worker count still runs everything
	var executed int32
	Map(context.Background(), 0, []int{1, 2, 3}, func(_ context.Context, _ int) bool {
		atomic.AddInt32(&executed, 1)
		return true
	})
	if executed != 3 {
		t.Errorf("executed = %d, want 3", executed)
	}
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed int32
	got := Map(ctx, 2, []int{1, 2, 3}, func(_ context.Context, n int) int {
		atomic.AddInt32(&executed, 1)
		return n
	})
	if executed != 0 {
		t.Errorf("executed %d jobs after cancel", executed)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}
