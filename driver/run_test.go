package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/chromstat/occupancy/deconv"
)

func testDrawSet() *deconv.DrawSet {
	return &deconv.DrawSet{
		Chrom:   2,
		NBurnin: 1,
		Theta:   [][]float64{{0, 0}, {1, -1}, {2, -2}},
		Mu:      [][]float64{{0}, {0.5}, {1}},
		Sigmasq: [][]float64{{1}, {1}, {1}},
		Accept:  []int{3, 2},
	}
}

func TestPersistDrawsDirect(t *testing.T) {
	ds := testDrawSet()
	path := filepath.Join(t.TempDir(), "draws.rio")
	assert.NoError(t, persistDraws(path, "", ds))
	got, err := deconv.ReadDrawsFile(path)
	assert.NoError(t, err)
	expect.EQ(t, got.Theta, ds.Theta)
}

func TestPersistDrawsViaScratch(t *testing.T) {
	ds := testDrawSet()
	scratch := t.TempDir()
	path := filepath.Join(t.TempDir(), "draws.rio")
	assert.NoError(t, persistDraws(path, scratch, ds))

	got, err := deconv.ReadDrawsFile(path)
	assert.NoError(t, err)
	expect.EQ(t, got.Theta, ds.Theta)
	expect.EQ(t, got.Accept, ds.Accept)

	// The staged copy is gone once the archive lands at the final path.
	entries, err := os.ReadDir(scratch)
	assert.NoError(t, err)
	expect.EQ(t, len(entries), 0)
}

func TestPersistDrawsBadScratch(t *testing.T) {
	ds := testDrawSet()
	path := filepath.Join(t.TempDir(), "draws.rio")
	err := persistDraws(path, filepath.Join(t.TempDir(), "missing"), ds)
	expect.NotNil(t, err)
}
