// Package engine runs independent units of work in parallel for one
// scheduling pass.
//
// Items never share state and never cancel each other: a failing or
// panicking item only produces its own error.
package engine

import (
	"context"
	"runtime/debug"
	"sync"
)

// DefaultWorkers is used when a caller passes workers <= 0.
const DefaultWorkers = 4

// Fanout calls fn for every index in [0, n) using at most workers goroutines
// and waits for all calls to return.
//
// The result has one entry per index (nil on success). Items that could not
// start because ctx ended get ctx.Err().
func Fanout(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 || fn == nil {
		return errs
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > n {
		workers = n
	}

	sem := newSemaphore(workers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if !sem.acquire(ctx) {
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.release()
			errs[i] = runOne(ctx, i, fn)
		}(i)
	}
	wg.Wait()
	return errs
}

func runOne(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx, i)
}
