package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests.
type Limiter interface {
	// Allow takes a slot if one is free right now
	Allow() bool
	// Wait blocks until a slot is free or ctx is done
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// New returns the limiter for perMinute requests. A positive burst selects a
// token bucket that refills continuously; otherwise a strict sliding window
// is used. perMinute <= 0 yields Unlimited.
func New(perMinute, burst int) Limiter {
	switch {
	case perMinute <= 0:
		return Unlimited{}
	case burst > 0:
		return NewBucket(perMinute, burst)
	default:
		return NewSlidingWindow(perMinute, time.Minute)
	}
}

// PerMinute is New without burst.
func PerMinute(n int) Limiter {
	return New(n, 0)
}

// Bucket is a token bucket refilled at perMinute/60 tokens per second.
type Bucket struct {
	lim *rate.Limiter
}

// NewBucket creates a Bucket holding up to burst tokens, initially full.
func NewBucket(perMinute, burst int) *Bucket {
	return &Bucket{lim: rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)}
}

func (b *Bucket) Allow() bool { return b.lim.Allow() }

func (b *Bucket) Wait(ctx context.Context) error { return b.lim.Wait(ctx) }

// SlidingWindow admits at most max requests in any window-long interval.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu    sync.Mutex
	stamp []time.Time // admission times, oldest first
}

// NewSlidingWindow creates a SlidingWindow.
func NewSlidingWindow(n int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		max:    n,
		now:    time.Now,
		stamp:  make([]time.Time, 0, n),
	}
}

func (sw *SlidingWindow) Allow() bool {
	_, ok := sw.take()
	return ok
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		delay, ok := sw.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Len reports how many admissions fall inside the current window.
func (sw *SlidingWindow) Len() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return len(sw.stamp)
}

// take admits one request, or reports how long until the oldest admission
// leaves the window.
func (sw *SlidingWindow) take() (time.Duration, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)
	if len(sw.stamp) < sw.max {
		sw.stamp = append(sw.stamp, now)
		return 0, true
	}
	delay := sw.stamp[0].Add(sw.window).Sub(now)
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay, false
}

func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	n := 0
	for n < len(sw.stamp) && !sw.stamp[n].After(cutoff) {
		n++
	}
	if n > 0 {
		sw.stamp = append(sw.stamp[:0], sw.stamp[n:]...)
	}
}
