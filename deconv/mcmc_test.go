package deconv

import (
	"context"
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestMCMCDrawShape(t *testing.T) {
	d := testChromData(t, 80, 41)
	prior := Prior{K0: 1, A0: 3, B0: 1}
	opts := DefaultMCMCOpts
	opts.BlockWidth = 20
	opts.Iterations = 12
	opts.NBurnin = 4

	ds, err := RunMCMC(context.Background(), d, prior, opts, nil, newGroup(t, 2))
	expect.NoError(t, err)
	expect.EQ(t, ds.Iterations(), 12)
	expect.EQ(t, ds.PostBurnin(), 8)
	for _, row := range ds.Theta {
		expect.EQ(t, len(row), d.Length())
	}
	for _, row := range ds.Mu {
		expect.EQ(t, len(row), len(d.Regions))
	}
	for _, row := range ds.Sigmasq {
		expect.EQ(t, len(row), len(d.Regions))
		for _, v := range row {
			expect.True(t, v > 0)
		}
	}
	expect.EQ(t, len(ds.Accept), d.Length())
	total := (opts.Iterations - 1) * 2 // each sweep covers every position once per iteration
	for j, a := range ds.Accept {
		if a < 0 || a > total {
			t.Fatalf("accept[%d] = %d out of range [0, %d]", j, a, total)
		}
	}
}

func TestMCMCNarrowBlockWidthRejected(t *testing.T) {
	tmpl := wideTemplate(t)
	n := 400
	d, err := NewChromData(1, false, make([]float64, n), make([]int, n), tmpl)
	expect.NoError(t, err)

	opts := DefaultMCMCOpts
	opts.BlockWidth = 4
	opts.Iterations = 6
	opts.NBurnin = 2
	_, err = RunMCMC(context.Background(), d, Prior{K0: 1, A0: 3, B0: 1}, opts, nil, newGroup(t, 4))
	expect.NotNil(t, err)
	expect.HasSubstr(t, err.Error(), "at least twice the template radius")
}

func TestMCMCWarmStart(t *testing.T) {
	d := testChromData(t, 60, 43)
	prior := Prior{K0: 1, A0: 3, B0: 1}
	emOpts := DefaultEMOpts
	emOpts.BlockWidth = 20
	emOpts.MinIter = 4
	emOpts.MaxIter = 40
	em, err := RunEM(context.Background(), d, prior, emOpts, newGroup(t, 1))
	expect.NoError(t, err)

	opts := DefaultMCMCOpts
	opts.BlockWidth = 20
	opts.Iterations = 5
	opts.NBurnin = 1
	opts.InitializeThetaFromEM = true
	opts.InitializeParamsFromEM = true

	ds, err := RunMCMC(context.Background(), d, prior, opts, em, newGroup(t, 1))
	expect.NoError(t, err)
	expect.EQ(t, ds.Theta[0], em.Theta)
	expect.EQ(t, ds.Mu[0], em.Mu)
	expect.EQ(t, ds.Sigmasq[0], em.Sigmasq)
}

func TestMCMCWarmStartRequiresEM(t *testing.T) {
	d := testChromData(t, 40, 47)
	opts := DefaultMCMCOpts
	opts.Iterations = 4
	opts.NBurnin = 1
	opts.InitializeThetaFromEM = true
	_, err := RunMCMC(context.Background(), d, Prior{K0: 1, A0: 2, B0: 1}, opts, nil, newGroup(t, 1))
	expect.HasSubstr(t, err.Error(), "warm start")
}

func TestMCMCInvalidIterations(t *testing.T) {
	d := testChromData(t, 40, 53)
	opts := DefaultMCMCOpts
	opts.Iterations = 1
	_, err := RunMCMC(context.Background(), d, Prior{K0: 1, A0: 2, B0: 1}, opts, nil, newGroup(t, 1))
	expect.HasSubstr(t, err.Error(), "at least 2 iterations")

	opts.Iterations = 5
	opts.NBurnin = 5
	_, err = RunMCMC(context.Background(), d, Prior{K0: 1, A0: 2, B0: 1}, opts, nil, newGroup(t, 1))
	expect.HasSubstr(t, err.Error(), "burn-in")
}

// Per-block seeded streams make chains identical regardless of the worker
// count.
func TestMCMCWorkerCountInvariant(t *testing.T) {
	d := testChromData(t, 90, 59)
	prior := Prior{K0: 1, A0: 3, B0: 1}
	opts := DefaultMCMCOpts
	opts.BlockWidth = 30
	opts.Iterations = 8
	opts.NBurnin = 2
	opts.Seed = 17

	ds1, err := RunMCMC(context.Background(), d, prior, opts, nil, newGroup(t, 1))
	expect.NoError(t, err)
	ds3, err := RunMCMC(context.Background(), d, prior, opts, nil, newGroup(t, 3))
	expect.NoError(t, err)
	expect.EQ(t, ds1.Theta, ds3.Theta)
	expect.EQ(t, ds1.Mu, ds3.Mu)
	expect.EQ(t, ds1.Sigmasq, ds3.Sigmasq)
	expect.EQ(t, ds1.Accept, ds3.Accept)
}

func TestMCMCSeedChangesChain(t *testing.T) {
	d := testChromData(t, 60, 61)
	prior := Prior{K0: 1, A0: 3, B0: 1}
	opts := DefaultMCMCOpts
	opts.BlockWidth = 20
	opts.Iterations = 6
	opts.NBurnin = 1

	opts.Seed = 1
	ds1, err := RunMCMC(context.Background(), d, prior, opts, nil, newGroup(t, 1))
	expect.NoError(t, err)
	opts.Seed = 2
	ds2, err := RunMCMC(context.Background(), d, prior, opts, nil, newGroup(t, 1))
	expect.NoError(t, err)

	diff := 0.0
	last := ds1.Iterations() - 1
	for j := range ds1.Theta[last] {
		diff += math.Abs(ds1.Theta[last][j] - ds2.Theta[last][j])
	}
	expect.True(t, diff > 0)
}
