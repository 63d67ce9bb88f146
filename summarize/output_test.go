package summarize

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestWriteSummaries(t *testing.T) {
	ds := spikeDrawSet(9, 4, 1, 3, -2, 1)
	pDetect := 0.9
	opts := Opts{
		WidthLocal:      5,
		ConcentrationPM: []int{1},
		PDetect:         &pDetect,
		BpPerNucleosome: 3,
	}
	pos, err := SummarizePositions(ds, opts)
	assert.NoError(t, err)

	var buf bytes.Buffer
	assert.NoError(t, WriteSummaries(&buf, pos))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 10)
	header := strings.Split(lines[0], "\t")
	expect.EQ(t, header[0], "theta")
	expect.EQ(t, header[6], "n_eff")
	expect.True(t, strings.Contains(lines[0], "p_local_concentration_pm1"))
	expect.True(t, strings.Contains(lines[0], "q_global_concentration_pm1"))
	for _, line := range lines[1:] {
		expect.EQ(t, len(strings.Split(line, "\t")), len(header))
	}
}

func TestWriteSummariesNoQuantile(t *testing.T) {
	ds := spikeDrawSet(5, 2, 0, 2, -1, 1)
	pos, err := SummarizePositions(ds, Opts{WidthLocal: 3, ConcentrationPM: []int{1}, BpPerNucleosome: 3})
	assert.NoError(t, err)
	var buf bytes.Buffer
	assert.NoError(t, WriteSummaries(&buf, pos))
	expect.False(t, strings.Contains(buf.String(), "q_global"))
}

func TestWriteDetections(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteDetections(&buf, []float64{4, 10.5}, []int{3, 1}))
	expect.EQ(t, buf.String(), "pos\tn\n4.0\t3\n10.5\t1\n")

	err := WriteDetections(&buf, []float64{1}, []int{1, 2})
	expect.HasSubstr(t, err, "1 centers vs 2 counts")
}

func TestWriteClusters(t *testing.T) {
	opts := Opts{QSparsity: []float64{0.5}, PThreshold: []float64{0.2}}
	clusters := []Cluster{{
		Center: 20, Length: 21,
		Occupancy: 7.5, OccupancySE: 0.25,
		Localization: 0.95, Structure: 0.9,
		Sparsity: []float64{1}, SparsitySE: []float64{0},
		NLarge: []float64{1}, NLargeSE: []float64{0},
	}}
	var buf bytes.Buffer
	assert.NoError(t, WriteClusters(&buf, clusters, opts))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	expect.True(t, strings.Contains(lines[0], "sparsityq50"))
	expect.True(t, strings.Contains(lines[0], "nlargep20_se"))
	expect.True(t, strings.HasPrefix(lines[1], "20\t21\t7.5\t0.25\t"))
}

func TestWriteParams(t *testing.T) {
	params := []ParamSummary{{
		RegionID: 0,
		MuMean:   -4.5, MuMed: -4.5, MuSE: 0.1,
		SigmasqMean: 4, SigmasqMed: 4, SigmasqSE: 0.2,
		SigmaMean: 2, SigmaMed: 2, SigmaSE: 0.05,
	}}
	var buf bytes.Buffer
	assert.NoError(t, WriteParams(&buf, params))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	expect.EQ(t, strings.Split(lines[0], "\t")[1], "mu_postmean")
	expect.EQ(t, lines[1], "0\t-4.5\t-4.5\t0.1\t4\t4\t0.2\t2\t2\t0.05")
}
