package dashboard

import (
	"sync"
	"time"
)

const DefaultRefetchDelay = time.Second

// CollectionRefetcher coalesces bursts of membership changes into a single
// deferred refetch. Each Schedule resets the timer.
type CollectionRefetcher struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func NewCollectionRefetcher(delay time.Duration, fn func()) *CollectionRefetcher {
	if delay <= 0 {
		delay = DefaultRefetchDelay
	}
	return &CollectionRefetcher{delay: delay, fn: fn}
}

func (r *CollectionRefetcher) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.fn)
}

// Stop cancels any pending refetch.
func (r *CollectionRefetcher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
