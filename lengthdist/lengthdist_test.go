package lengthdist

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestParseHistogram(t *testing.T) {
	h, err := ParseHistogram(strings.NewReader("# lengths\n145 10\n146 20\n\n147 40\n"))
	assert.NoError(t, err)
	expect.EQ(t, h.Lengths, []int{145, 146, 147})
	expect.EQ(t, h.Counts, []float64{10, 20, 40})
	expect.EQ(t, h.Mass(), 70.0)
}

func TestParseHistogramErrors(t *testing.T) {
	_, err := ParseHistogram(strings.NewReader("145\n"))
	expect.HasSubstr(t, err.Error(), "two columns")

	_, err = ParseHistogram(strings.NewReader("145 -3\n"))
	expect.HasSubstr(t, err.Error(), "negative count")

	_, err = ParseHistogram(strings.NewReader("145 0\n146 0\n"))
	expect.HasSubstr(t, err.Error(), "zero total mass")

	_, err = ParseHistogram(strings.NewReader(""))
	expect.HasSubstr(t, err.Error(), "no rows")
}

func TestEstimateSymmetric(t *testing.T) {
	h, err := ParseHistogram(strings.NewReader(
		"145 10\n146 20\n147 40\n148 20\n149 10\n"))
	assert.NoError(t, err)

	d, err := Estimate(h, 147, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, d.Offsets, []int{-2, -1, 0, 1, 2})
	if math.Abs(d.Mass()-1) > 1e-9 {
		t.Fatalf("mass = %g, want 1", d.Mass())
	}
	// Symmetric input yields a distribution symmetric around 0.
	for i := range d.P {
		j := len(d.P) - 1 - i
		if math.Abs(d.P[i]-d.P[j]) > 1e-9 {
			t.Errorf("P[%d] = %g vs P[%d] = %g", d.Offsets[i], d.P[i], d.Offsets[j], d.P[j])
		}
	}
	if math.Abs(d.P[2]-0.4) > 1e-9 {
		t.Errorf("P[0] = %g, want 0.4", d.P[2])
	}
}

func TestEstimateTruncation(t *testing.T) {
	// A heavy center with light tails: coverage 0.9 should drop the tails.
	h, err := ParseHistogram(strings.NewReader(
		"140 1\n146 20\n147 58\n148 20\n154 1\n"))
	assert.NoError(t, err)

	opts := DefaultOpts
	opts.Coverage = 0.9
	d, err := Estimate(h, 147, opts)
	assert.NoError(t, err)
	expect.EQ(t, d.Offsets, []int{-1, 0, 1})
	if d.Mass() < 0.9 {
		t.Fatalf("retained mass %g below coverage", d.Mass())
	}

	opts.Rescale = true
	d, err = Estimate(h, 147, opts)
	assert.NoError(t, err)
	if math.Abs(d.Mass()-1) > 1e-12 {
		t.Fatalf("rescaled mass = %g, want exactly 1", d.Mass())
	}
}

func TestEstimateBadCoverage(t *testing.T) {
	h := &Histogram{Lengths: []int{147}, Counts: []float64{1}}
	opts := DefaultOpts
	opts.Coverage = 0
	_, err := Estimate(h, 147, opts)
	expect.HasSubstr(t, err.Error(), "coverage")
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	d := &Dist{Offsets: []int{-1, 0, 1}, P: []float64{0.25, 0.5, 0.25}}
	assert.NoError(t, Write(&buf, d))
	expect.EQ(t, buf.String(), "-1\t0.25\n0\t0.5\n1\t0.25\n")
}
