package deconv

import (
	"bytes"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"golang.org/x/exp/rand"
)

func randomDrawSet(iterations, positions, regions int, seed uint64) *DrawSet {
	rng := rand.New(rand.NewSource(seed))
	ds := &DrawSet{Chrom: 3, Null: true, NBurnin: iterations / 2}
	for t := 0; t < iterations; t++ {
		theta := make([]float64, positions)
		for j := range theta {
			theta[j] = rng.NormFloat64()
		}
		mu := make([]float64, regions)
		sigmasq := make([]float64, regions)
		for r := range mu {
			mu[r] = rng.NormFloat64()
			sigmasq[r] = rng.Float64() + 0.1
		}
		ds.Theta = append(ds.Theta, theta)
		ds.Mu = append(ds.Mu, mu)
		ds.Sigmasq = append(ds.Sigmasq, sigmasq)
	}
	ds.Accept = make([]int, positions)
	for j := range ds.Accept {
		ds.Accept[j] = rng.Intn(iterations)
	}
	return ds
}

func TestDrawArchiveRoundTrip(t *testing.T) {
	ds := randomDrawSet(9, 50, 2, 5)
	var buf bytes.Buffer
	assert.NoError(t, WriteDraws(&buf, ds))

	got, err := ReadDraws(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	expect.EQ(t, got.Chrom, ds.Chrom)
	expect.EQ(t, got.Null, ds.Null)
	expect.EQ(t, got.NBurnin, ds.NBurnin)
	// Iteration order and count are preserved exactly.
	expect.EQ(t, got.Iterations(), ds.Iterations())
	expect.EQ(t, got.Theta, ds.Theta)
	expect.EQ(t, got.Mu, ds.Mu)
	expect.EQ(t, got.Sigmasq, ds.Sigmasq)
	expect.EQ(t, got.Accept, ds.Accept)
}

func TestDrawArchiveFileRoundTrip(t *testing.T) {
	ds := randomDrawSet(4, 12, 1, 7)
	path := t.TempDir() + "/draws.rio"
	assert.NoError(t, WriteDrawsFile(path, ds))
	got, err := ReadDrawsFile(path)
	assert.NoError(t, err)
	expect.EQ(t, got.Theta, ds.Theta)
	expect.EQ(t, got.PostBurnin(), ds.PostBurnin())
}
