package workgroup

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestRunRanks(t *testing.T) {
	g, err := New(4)
	expect.NoError(t, err)
	var seen [4]int32
	err = g.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		atomic.AddInt32(&seen[w.Rank()], 1)
		return nil
	})
	expect.NoError(t, err)
	for rank, n := range seen {
		if n != 1 {
			t.Errorf("rank %d ran %d times", rank, n)
		}
	}
}

func TestBarrierPhases(t *testing.T) {
	const size = 5
	const phases = 10
	g, err := New(size)
	expect.NoError(t, err)

	// Every worker increments the phase counter, then all must observe the
	// full count after the barrier.  A broken barrier lets a worker read a
	// partial sum.
	var counter int32
	err = g.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		for p := 0; p < phases; p++ {
			atomic.AddInt32(&counter, 1)
			w.Barrier()
			if got := atomic.LoadInt32(&counter); got != int32(size*(p+1)) {
				t.Errorf("phase %d rank %d: counter = %d, want %d", p, w.Rank(), got, size*(p+1))
			}
			w.Barrier()
		}
		return nil
	})
	expect.NoError(t, err)
}

func TestSingleRoot(t *testing.T) {
	g, err := New(3)
	expect.NoError(t, err)
	var roots int32
	err = g.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		if w.IsRoot() {
			atomic.AddInt32(&roots, 1)
		}
		return nil
	})
	expect.NoError(t, err)
	expect.EQ(t, roots, int32(1))
}

func TestOwnedIndicesTile(t *testing.T) {
	const n, size = 17, 4
	seen := make([]int, n)
	for rank := 0; rank < size; rank++ {
		for _, i := range OwnedIndices(n, size, rank) {
			seen[i]++
		}
	}
	for i, c := range seen {
		if c != 1 {
			t.Errorf("index %d owned %d times", i, c)
		}
	}
}

func TestInvalidSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("size 0 must be rejected")
	}
}
