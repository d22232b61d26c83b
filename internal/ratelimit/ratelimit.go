// Package ratelimit provides a blocking sliding-window limiter for outbound provider calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults for the weather-station provider: 20 requests per rolling minute.
const (
	DefaultLimit  = 20
	DefaultWindow = 60 * time.Second
)

// SlidingWindow admits at most limit calls within any trailing window.
// Callers that find the window full are suspended until the oldest retained
// timestamp ages out; they are never rejected. Waiters are admitted in arrival order.
type SlidingWindow struct {
	limit  int
	window time.Duration

	// turn serializes admission. Blocked channel senders are woken in FIFO order.
	turn chan struct{}

	mu    sync.Mutex
	times []time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(d time.Duration)
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock overrides the time source and the suspension primitive. For tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *SlidingWindow) {
		l.now = now
		l.sleep = sleep
	}
}

// WithWaitHook registers a callback invoked with each enforced wait (metrics).
func WithWaitHook(fn func(d time.Duration)) Option {
	return func(l *SlidingWindow) { l.onWait = fn }
}

// New returns a limiter allowing limit calls per window. Non-positive values use the defaults.
func New(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &SlidingWindow{
		limit:  limit,
		window: window,
		turn:   make(chan struct{}, 1),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until the call may proceed and records it in the window.
// Returns ctx.Err() if the context ends while queued or suspended; nothing is recorded in that case.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)
		if len(l.times) < l.limit {
			l.times = append(l.times, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.times[0])
		l.mu.Unlock()

		if l.onWait != nil {
			l.onWait(wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of calls recorded in the current window.
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.times)
}

// Limit returns the configured cap per window.
func (l *SlidingWindow) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *SlidingWindow) Window() time.Duration { return l.window }

// pruneLocked drops timestamps that are a full window old or older.
// Must be called with mutex held. Timestamps are appended in order, so a prefix scan suffices.
func (l *SlidingWindow) pruneLocked(now time.Time) {
	i := 0
	for ; i < len(l.times) && now.Sub(l.times[i]) >= l.window; i++ {
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
