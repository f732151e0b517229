package parallel

import (
	"sync/atomic"
	"testing"
)

func TestRangesCoverage(t *testing.T) {
	cases := []struct {
		n, workers int
	}{
		{10, 1},
		{10, 3},
		{10, 10},
		{3, 8},
		{1, 4},
		{192, 8},
		{320, 7},
	}

	for _, c := range cases {
		ranges := Ranges(c.n, c.workers)

		if len(ranges) > c.workers {
			t.Errorf("Ranges(%d, %d) returned %d ranges, want at most %d", c.n, c.workers, len(ranges), c.workers)
		}

		// Every index covered exactly once, in order, no empty ranges
		next := 0
		for _, r := range ranges {
			if r.Start != next {
				t.Errorf("Ranges(%d, %d): range starts at %d, want %d", c.n, c.workers, r.Start, next)
			}
			if r.Stop <= r.Start {
				t.Errorf("Ranges(%d, %d): empty range [%d, %d)", c.n, c.workers, r.Start, r.Stop)
			}
			next = r.Stop
		}
		if next != c.n {
			t.Errorf("Ranges(%d, %d): coverage ends at %d, want %d", c.n, c.workers, next, c.n)
		}
	}
}

func TestRangesEdgeCases(t *testing.T) {
	if got := Ranges(0, 4); len(got) != 0 {
		t.Errorf("Ranges(0, 4) = %v, want empty", got)
	}
	if got := Ranges(-1, 4); len(got) != 0 {
		t.Errorf("Ranges(-1, 4) = %v, want empty", got)
	}

	// Non-positive worker counts behave like a single worker
	got := Ranges(5, 0)
	if len(got) != 1 || got[0].Start != 0 || got[0].Stop != 5 {
		t.Errorf("Ranges(5, 0) = %v, want [{0 5}]", got)
	}
}

func TestForVisitsEveryIndexOnce(t *testing.T) {
	const n = 1000
	visits := make([]int32, n)

	For(8, n, func(start, stop int) {
		for i := start; i < stop; i++ {
			atomic.AddInt32(&visits[i], 1)
		}
	})

	for i, v := range visits {
		if v != 1 {
			t.Fatalf("Index %d visited %d times, want exactly once", i, v)
		}
	}
}

func TestForDisjointWrites(t *testing.T) {
	// Each worker owns its range, so plain writes must not race
	const n = 500
	out := make([]int, n)

	For(4, n, func(start, stop int) {
		for i := start; i < stop; i++ {
			out[i] = i * i
		}
	})

	for i := range out {
		if out[i] != i*i {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], i*i)
		}
	}
}

func TestForEmpty(t *testing.T) {
	called := false
	For(4, 0, func(start, stop int) {
		called = true
	})
	if called {
		t.Error("For called fn for an empty index range")
	}
}
