package eqc

import (
	"context"
	"sync"
	"time"
)

// slidingWindow enforces at most limit calls per window by tracking request
// timestamps. When the window is full, Wait blocks until the oldest timestamp
// ages out. Mutex-guarded so a pooled client shared by concurrent batches
// still respects one global limit per provider credential.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time // injectable for tests
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until a slot is available or ctx is cancelled, then records
// the call.
func (w *slidingWindow) Wait(ctx context.Context) error {
	if w == nil || w.limit <= 0 {
		return nil
	}

	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)

		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}

		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than the window. Caller holds the lock.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
