package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// requestCoalescer collapses concurrent cache misses for the same key into one
// upstream fetch. The fetch runs detached from any single caller, so one caller
// giving up does not fail the others; it is bounded by the coalescer timeout.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do returns fn's result for key, joining an in-flight call when there is one.
// shared reports whether the result was delivered to more than one caller.
// Waiting stops at ctx cancellation or the coalescer timeout, whichever comes first.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) (val []byte, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(fetchCtx)
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		b, _ := res.Val.([]byte)
		return b, res.Shared, nil
	case <-waitCtx.Done():
		return nil, false, waitCtx.Err()
	}
}
