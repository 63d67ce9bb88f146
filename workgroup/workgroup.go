// Package workgroup provides a fixed-size group of cooperating workers with
// barrier synchronization.  It is the communication context handed to the
// estimation engines: each worker owns a disjoint set of blocks, writes only
// into its owned ranges of shared result slices, and a barrier separates the
// per-block phase from any phase that reads cross-block summaries.  Rank 0
// is the root and owns aggregation and output.
package workgroup

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group is a fixed-size worker group.  A Group may be reused across runs;
// the barrier state resets between phases automatically.
type Group struct {
	size int

	mu   sync.Mutex
	cond *sync.Cond
	// arrived counts workers waiting at the current barrier; generation
	// distinguishes consecutive barriers so a fast worker cannot lap a
	// slow one.
	arrived    int
	generation int
}

// New returns a group of the given size.  Size must be at least 1.
func New(size int) (*Group, error) {
	if size < 1 {
		return nil, errors.Errorf("workgroup: size must be >= 1, got %d", size)
	}
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Size returns the number of workers in the group.
func (g *Group) Size() int { return g.size }

// Worker identifies one member of a running group.
type Worker struct {
	rank int
	g    *Group
}

// Rank returns the worker's rank in [0, Size).
func (w *Worker) Rank() int { return w.rank }

// IsRoot reports whether this worker is rank 0.
func (w *Worker) IsRoot() bool { return w.rank == 0 }

// Size returns the group size.
func (w *Worker) Size() int { return w.g.size }

// Barrier blocks until every worker in the group has called Barrier.
func (w *Worker) Barrier() {
	g := w.g
	g.mu.Lock()
	gen := g.generation
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

// Run starts one goroutine per rank and waits for all of them.  The first
// non-nil error is returned after every worker has exited; fn must keep
// calling Barrier on all ranks until its final return so that siblings are
// not left blocked (per-block failures are data, not errors).
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, w *Worker) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.size; rank++ {
		w := &Worker{rank: rank, g: g}
		eg.Go(func() error { return fn(ctx, w) })
	}
	return eg.Wait()
}

// OwnedIndices returns the indices in [0, n) owned by rank under round-robin
// assignment, the static partition used for block ownership.
func OwnedIndices(n, size, rank int) []int {
	var owned []int
	for i := rank; i < n; i += size {
		owned = append(owned, i)
	}
	return owned
}
