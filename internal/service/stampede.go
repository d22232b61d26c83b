package service

import "sync"

// missTracker counts cache misses in progress per key. A count above one means
// several requests missed the same key at once.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// begin records a miss for key and returns the number of misses now in progress,
// including this one. Call done once the miss is resolved.
func (mt *missTracker) begin(key string) (count int, done func()) {
	mt.mu.Lock()
	mt.active[key]++
	count = mt.active[key]
	mt.mu.Unlock()

	var once sync.Once
	return count, func() {
		once.Do(func() {
			mt.mu.Lock()
			defer mt.mu.Unlock()
			if mt.active[key] <= 1 {
				delete(mt.active, key)
				return
			}
			mt.active[key]--
		})
	}
}

func (mt *missTracker) inProgress(key string) int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.active[key]
}
