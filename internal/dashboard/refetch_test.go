package dashboard

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCollectionRefetcherDebouncesBursts(t *testing.T) {
	var runs atomic.Int64
	refetch := NewCollectionRefetcher(30*time.Millisecond, func() { runs.Add(1) })

	for i := 0; i < 5; i++ {
		refetch.Schedule()
		time.Sleep(5 * time.Millisecond)
	}
	waitForCond(t, 2*time.Second, func() bool { return runs.Load() == 1 })
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected the burst to collapse into one refetch, got %d", got)
	}
}

func TestCollectionRefetcherStopCancelsPending(t *testing.T) {
	var runs atomic.Int64
	refetch := NewCollectionRefetcher(20*time.Millisecond, func() { runs.Add(1) })
	refetch.Schedule()
	refetch.Stop()
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("expected stopped refetch to never fire, got %d", got)
	}
}

func TestCollectionRefetcherDefaultsDelay(t *testing.T) {
	refetch := NewCollectionRefetcher(0, func() {})
	if refetch.delay != DefaultRefetchDelay {
		t.Fatalf("expected default delay %s, got %s", DefaultRefetchDelay, refetch.delay)
	}
}
