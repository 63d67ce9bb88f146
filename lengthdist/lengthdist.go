// Package lengthdist recovers a digestion-error offset distribution from an
// observed fragment-length histogram by nonparametric maximum-likelihood
// deconvolution.  The observed lengths are modeled as a baseline fragment
// length l0 shifted by a random digestion offset; the estimator solves for
// the offset distribution whose convolution with the baseline indicator
// reproduces the histogram, then truncates to the shortest window holding
// the requested probability mass.
package lengthdist

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Histogram is a fragment-length histogram: parallel length and count
// vectors sorted by length.
type Histogram struct {
	Lengths []int
	Counts  []float64
}

// Mass returns the total count.
func (h *Histogram) Mass() float64 {
	m := 0.0
	for _, c := range h.Counts {
		m += c
	}
	return m
}

// ParseHistogram reads a two-column (length, count) whitespace-delimited
// histogram.  Blank lines and #-comments are skipped.  Fails on rows with
// fewer than two columns, negative counts, or zero total mass.
func ParseHistogram(r io.Reader) (*Histogram, error) {
	h := &Histogram{}
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("histogram line %d: need two columns, got %d", lineno, len(fields))
		}
		l, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "histogram line %d: bad length %q", lineno, fields[0])
		}
		c, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "histogram line %d: bad count %q", lineno, fields[1])
		}
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.Errorf("histogram line %d: negative count %g", lineno, c)
		}
		h.Lengths = append(h.Lengths, l)
		h.Counts = append(h.Counts, c)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "histogram")
	}
	if len(h.Lengths) == 0 {
		return nil, errors.New("histogram: no rows")
	}
	if h.Mass() <= 0 {
		return nil, errors.New("histogram: zero total mass")
	}
	return h, nil
}

// Dist is a probability distribution over integer digestion offsets.
type Dist struct {
	// Offsets is the contiguous support, ascending.
	Offsets []int
	P       []float64
}

// Mass returns the total retained probability.
func (d *Dist) Mass() float64 {
	m := 0.0
	for _, p := range d.P {
		m += p
	}
	return m
}

// Opts controls the estimator.
type Opts struct {
	// Coverage is the probability mass the truncated support must retain.
	Coverage float64
	// Rescale renormalizes the truncated distribution to sum exactly to 1.
	Rescale bool
	Verbose int
	// Tol and MaxIter bound the multiplicative-update fixed point.
	Tol     float64
	MaxIter int
}

// DefaultOpts sets the default values for Opts.
var DefaultOpts = Opts{
	Coverage: 0.999,
	Tol:      1e-9,
	MaxIter:  10000,
}

// Estimate computes the maximum-likelihood offset distribution for the
// histogram relative to baseline length l0 and truncates it per opts.
// The pre-truncation estimate sums to 1; after truncation the retained
// mass is at least opts.Coverage, exactly 1 when opts.Rescale is set.
func Estimate(h *Histogram, l0 int, opts Opts) (*Dist, error) {
	if opts.Coverage <= 0 || opts.Coverage > 1 {
		return nil, errors.Errorf("lengthdist: coverage must be in (0, 1], got %g", opts.Coverage)
	}
	minL, maxL := h.Lengths[0], h.Lengths[0]
	for _, l := range h.Lengths {
		if l < minL {
			minL = l
		}
		if l > maxL {
			maxL = l
		}
	}
	lo, hi := minL-l0, maxL-l0
	support := hi - lo + 1

	// Dense target frequencies over the contiguous offset support.
	target := make([]float64, support)
	mass := h.Mass()
	for i, l := range h.Lengths {
		target[l-l0-lo] += h.Counts[i] / mass
	}

	// Multiplicative fixed-point updates from a uniform start.  With the
	// baseline indicator kernel the predicted histogram is the offset
	// distribution itself, so each update is p <- p * target/p; the loop
	// structure is kept for kernels with wider baselines.
	p := make([]float64, support)
	for i := range p {
		p[i] = 1 / float64(support)
	}
	pred := make([]float64, support)
	next := make([]float64, support)
	for iter := 1; iter <= opts.MaxIter; iter++ {
		copy(pred, p)
		change := 0.0
		for i := range p {
			if pred[i] > 0 {
				next[i] = p[i] * target[i] / pred[i]
			} else {
				next[i] = 0
			}
			change += math.Abs(next[i] - p[i])
		}
		copy(p, next)
		if opts.Verbose > 1 {
			log.Debug.Printf("lengthdist: iteration %d change %g", iter, change)
		}
		if change < opts.Tol {
			if opts.Verbose > 0 {
				log.Printf("lengthdist: converged after %d iterations", iter)
			}
			break
		}
	}

	d := &Dist{Offsets: make([]int, support), P: p}
	for i := range d.Offsets {
		d.Offsets[i] = lo + i
	}
	truncate(d, opts.Coverage)
	if opts.Rescale {
		m := d.Mass()
		for i := range d.P {
			d.P[i] /= m
		}
	}
	return d, nil
}

// truncate keeps the shortest contiguous window holding at least coverage
// mass, preferring the window with the larger mass on equal length.
func truncate(d *Dist, coverage float64) {
	n := len(d.P)
	prefix := make([]float64, n+1)
	for i, p := range d.P {
		prefix[i+1] = prefix[i] + p
	}
	total := prefix[n]
	want := coverage * total

	bestLo, bestHi := 0, n
	bestMass := total
	for lo := 0; lo < n; lo++ {
		for hi := lo + 1; hi <= n; hi++ {
			m := prefix[hi] - prefix[lo]
			if m+1e-12 < want {
				continue
			}
			if hi-lo < bestHi-bestLo || (hi-lo == bestHi-bestLo && m > bestMass) {
				bestLo, bestHi = lo, hi
				bestMass = m
			}
			break
		}
	}
	d.Offsets = d.Offsets[bestLo:bestHi]
	d.P = d.P[bestLo:bestHi]
}

// Write emits the distribution in the two-column (offset, probability)
// textual form.
func Write(out io.Writer, d *Dist) error {
	w := tsv.NewWriter(out)
	for i, off := range d.Offsets {
		w.WriteInt64(int64(off))
		w.WriteFloat64(d.P[i], 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
