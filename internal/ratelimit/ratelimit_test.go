package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// virtualClock advances only when the limiter sleeps.
type virtualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSlidingWindow_BoundsBurst(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: start}
	l := New(20, 60*time.Second, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	admitted := make([]time.Time, 0, 25)
	for i := 0; i < 25; i++ {
		require.NoError(t, l.Wait(ctx))
		admitted = append(admitted, clock.Now())
		if i < 20 {
			// The first burst is spread 10ms apart; calls 21-25 follow immediately.
			clock.Advance(10 * time.Millisecond)
		}
	}

	for i := 0; i < 20; i++ {
		assert.True(t, admitted[i].Before(start.Add(time.Second)), "call %d should not wait", i+1)
	}
	for i := 20; i < 25; i++ {
		oldest := admitted[i-20]
		assert.False(t, admitted[i].Before(oldest.Add(60*time.Second)),
			"call %d admitted at %v before call %d aged out", i+1, admitted[i].Sub(start), i-19)
	}

	// No rolling 60s slice holds more than 20 admissions.
	for i := range admitted {
		n := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < 60*time.Second; j++ {
			n++
		}
		assert.LessOrEqual(t, n, 20, "window starting at call %d", i+1)
	}
	require.Len(t, clock.waits, 5)
	assert.Equal(t, 60*time.Second-200*time.Millisecond, clock.waits[0])
	for _, w := range clock.waits[1:] {
		assert.Equal(t, 10*time.Millisecond, w)
	}
}

func TestSlidingWindow_InWindowPrunes(t *testing.T) {
	clock := &virtualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(5, time.Minute, WithClock(clock.Now, clock.Sleep))
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Equal(t, 3, l.InWindow())

	clock.Advance(time.Minute)
	assert.Equal(t, 0, l.InWindow())
}

func TestSlidingWindow_ContextCancelledWhileSuspended(t *testing.T) {
	l := New(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.InWindow(), "cancelled waiter must not be recorded")

	// The turn is released: a new caller still queues normally.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, l.Wait(ctx2), context.DeadlineExceeded)
}

func TestSlidingWindow_RealTimeSuspension(t *testing.T) {
	var waits []time.Duration
	var mu sync.Mutex
	l := New(2, 80*time.Millisecond, WithWaitHook(func(d time.Duration) {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
	}))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(context.Background()))
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, waits)
}

// TestSlidingWindow_AdmitsInArrivalOrder verifies that callers suspended on a
// full window are admitted in the order they arrived.
func TestSlidingWindow_AdmitsInArrivalOrder(t *testing.T) {
	const callers = 6
	l := New(1, 20*time.Millisecond)

	var mu sync.Mutex
	order := make([]int, 0, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, l.Wait(context.Background())) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultLimit, l.Limit())
	assert.Equal(t, DefaultWindow, l.Window())
}
