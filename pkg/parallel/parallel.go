// Package parallel splits index ranges across worker goroutines. The split
// is static: contiguous, disjoint ranges computed up front, so callers can
// rely on each worker owning its range exclusively with no locking.
package parallel

import "sync"

// Range is a half-open interval [Start, Stop) of work items.
type Range struct {
	Start int
	Stop  int
}

// Ranges splits [0, n) into at most workers contiguous disjoint ranges
// covering every index exactly once. Ranges are sized by ceiling division,
// so the last range may be shorter; empty ranges are never returned.
func Ranges(n, workers int) []Range {
	if workers < 1 {
		workers = 1
	}
	if n <= 0 {
		return nil
	}

	perWorker := (n + workers - 1) / workers
	ranges := make([]Range, 0, workers)
	for start := 0; start < n; start += perWorker {
		stop := start + perWorker
		if stop > n {
			stop = n
		}
		ranges = append(ranges, Range{Start: start, Stop: stop})
	}
	return ranges
}

// For runs fn over [0, n) split across up to workers goroutines and waits
// for all of them to finish. Each invocation receives a range no other
// invocation sees, so fn may write to per-index state without locking.
func For(workers, n int, fn func(start, stop int)) {
	ranges := Ranges(n, workers)
	if len(ranges) == 1 {
		fn(ranges[0].Start, ranges[0].Stop)
		return
	}

	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func(r Range) {
			defer wg.Done()
			fn(r.Start, r.Stop)
		}(r)
	}
	wg.Wait()
}
