// Package summarize computes posterior summaries from MCMC draw archives:
// per-position coefficient summaries with chain diagnostics, local and
// global relative-occupancy concentration estimands, detection of
// concentrated positions, Parzen-window clustering with cluster-level
// localization, structure, and sparsity indices, and region-parameter
// summaries.
package summarize

import (
	"math"

	"github.com/grailbio/base/traverse"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/deconv"
)

// Opts controls summarization, mirroring the mcmc_summaries section.
type Opts struct {
	// WidthLocal is the neighborhood window for local relative occupancy.
	WidthLocal int
	// ConcentrationPM lists the +/- offsets for concentration estimands.
	ConcentrationPM []int
	// PDetect is the posterior-probability cutoff for detection; nil
	// disables detection and the global concentration quantile.
	PDetect         *float64
	BpPerNucleosome float64
	ClusterMinSpace int
	ClusterBw       float64
	ClusterWidth    int
	PThreshold      []float64
	QSparsity       []float64
}

// DefaultOpts sets the default values for Opts.
var DefaultOpts = Opts{
	WidthLocal:      147,
	BpPerNucleosome: 147,
	ClusterMinSpace: 147,
	ClusterBw:       20,
	ClusterWidth:    161,
}

// OptsFromConfig converts the mcmc_summaries section.
func OptsFromConfig(s config.MCMCSummaries) Opts {
	o := Opts{
		WidthLocal:      s.WidthLocal,
		ConcentrationPM: s.ConcentrationPM,
		PDetect:         s.PDetect,
		BpPerNucleosome: s.BpPerNucleosome,
		ClusterMinSpace: s.ClusterMinSpace,
		ClusterBw:       s.ClusterBw,
		ClusterWidth:    s.ClusterWidth,
		PThreshold:      s.PThreshold,
		QSparsity:       s.QSparsity,
	}
	if o.WidthLocal == 0 {
		o.WidthLocal = DefaultOpts.WidthLocal
	}
	if o.BpPerNucleosome == 0 {
		o.BpPerNucleosome = DefaultOpts.BpPerNucleosome
	}
	if o.ClusterMinSpace == 0 {
		o.ClusterMinSpace = DefaultOpts.ClusterMinSpace
	}
	if o.ClusterBw == 0 {
		o.ClusterBw = DefaultOpts.ClusterBw
	}
	if o.ClusterWidth == 0 {
		o.ClusterWidth = DefaultOpts.ClusterWidth
	}
	return o
}

// Concentration holds the estimands for one +/- window size.
type Concentration struct {
	PM int
	// PLocal is the posterior probability that the local relative
	// occupancy exceeds its flat-signal baseline.
	PLocal []float64
	// MeanLocal and SELocal are the posterior mean and standard error of
	// the local relative occupancy; ZLocal is their ratio.
	MeanLocal []float64
	SELocal   []float64
	ZLocal    []float64
	// MeanGlobal is the posterior mean windowed occupancy on the
	// nucleosomes-per-bp scale; QGlobal is its lower posterior quantile at
	// 1 - p_detect (nil when detection is disabled).
	MeanGlobal []float64
	QGlobal    []float64
}

// Positions is the per-position posterior summary of a draw archive.
type Positions struct {
	// Theta/B summaries: posterior mean, median, and standard deviation of
	// the coefficients and their exponentiated occupancies.
	Theta    []float64
	ThetaMed []float64
	SETheta  []float64
	B        []float64
	BMed     []float64
	SEB      []float64
	// NEff is the per-position effective sample size.
	NEff []float64

	Concentrations []Concentration
}

// SummarizePositions computes the per-position summaries over the
// post-burn-in draws.
func SummarizePositions(ds *deconv.DrawSet, opts Opts) (*Positions, error) {
	T := ds.PostBurnin()
	if T < 2 {
		return nil, errors.Errorf("summarize: need at least 2 post-burn-in draws, got %d", T)
	}
	if opts.WidthLocal < 1 {
		return nil, errors.Errorf("summarize: width_local must be at least 1, got %d", opts.WidthLocal)
	}
	n := len(ds.Theta[0])
	draws := ds.Theta[ds.NBurnin:]

	res := &Positions{
		Theta:    make([]float64, n),
		ThetaMed: make([]float64, n),
		SETheta:  make([]float64, n),
		B:        make([]float64, n),
		BMed:     make([]float64, n),
		SEB:      make([]float64, n),
		NEff:     make([]float64, n),
	}

	err := traverse.Each(n, func(k int) error {
		col := make([]float64, T)
		bcol := make([]float64, T)
		for t := 0; t < T; t++ {
			col[t] = draws[t][k]
			bcol[t] = math.Exp(col[t])
		}
		res.Theta[k] = mean(col)
		res.SETheta[k] = stddev(col, res.Theta[k])
		res.B[k] = mean(bcol)
		res.SEB[k] = stddev(bcol, res.B[k])
		med, err := stats.Median(col)
		if err != nil {
			return errors.Wrap(err, "summarize: median")
		}
		res.ThetaMed[k] = med
		res.BMed[k] = math.Exp(med)
		res.NEff[k] = EffectiveSampleSize(col)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, pm := range opts.ConcentrationPM {
		c, err := concentration(draws, pm, opts)
		if err != nil {
			return nil, err
		}
		res.Concentrations = append(res.Concentrations, *c)
	}
	return res, nil
}

// EffectiveSampleSize estimates the effective sample size of one chain
// under an AR(1) approximation from the lag-1 autocorrelation.
func EffectiveSampleSize(x []float64) float64 {
	T := len(x)
	if T < 2 {
		return float64(T)
	}
	m := mean(x)
	sd := stddev(x, m)
	if sd == 0 {
		return float64(T)
	}
	rho := 0.0
	for t := 1; t < T; t++ {
		rho += (x[t] - m) / sd * (x[t-1] - m) / sd
	}
	rho /= float64(T - 1)
	if rho >= 1 {
		return 1
	}
	return float64(T) * (1 - rho) / (1 + rho)
}

// LocalRelativeOccupancy is the ratio of a small-window moving sum of
// occupancy to a wider local-window moving sum, per position.
func LocalRelativeOccupancy(b []float64, widthSmall, widthLocal int) []float64 {
	small := boxSum(b, widthSmall)
	local := boxSum(b, widthLocal)
	out := make([]float64, len(b))
	for i := range out {
		if local[i] != 0 {
			out[i] = small[i] / local[i]
		}
	}
	return out
}

// boxSum is a same-length moving-window sum with an odd, centered window.
func boxSum(x []float64, width int) []float64 {
	h := width / 2
	out := make([]float64, len(x))
	for i := range x {
		lo := i - h
		if lo < 0 {
			lo = 0
		}
		// Even widths follow convolution alignment: one fewer position on
		// the trailing side.
		hi := i + h
		if width%2 == 0 {
			hi--
		}
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		s := 0.0
		for j := lo; j <= hi; j++ {
			s += x[j]
		}
		out[i] = s
	}
	return out
}

// concentration computes the local and global estimands for one +/- size.
func concentration(draws [][]float64, pm int, opts Opts) (*Concentration, error) {
	if pm < 0 {
		return nil, errors.Errorf("summarize: negative concentration window %d", pm)
	}
	T := len(draws)
	n := len(draws[0])
	widthPM := 1 + 2*pm

	// Flat-signal baseline: the local relative occupancy of an all-ones
	// coefficient vector, exact at the boundaries too.
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	baseline := LocalRelativeOccupancy(ones, widthPM, opts.WidthLocal)

	c := &Concentration{
		PM:         pm,
		PLocal:     make([]float64, n),
		MeanLocal:  make([]float64, n),
		SELocal:    make([]float64, n),
		ZLocal:     make([]float64, n),
		MeanGlobal: make([]float64, n),
	}

	// Running mean and sum of squares over draws (Welford).
	m2 := make([]float64, n)
	b := make([]float64, n)
	globalProps := make([][]float64, n)
	for k := range globalProps {
		globalProps[k] = make([]float64, T)
	}
	for t := 0; t < T; t++ {
		totB := 0.0
		for k := range b {
			b[k] = math.Exp(draws[t][k])
			totB += b[k]
		}
		lro := LocalRelativeOccupancy(b, widthPM, opts.WidthLocal)
		for k := 0; k < n; k++ {
			delta := lro[k] - c.MeanLocal[k]
			c.MeanLocal[k] += delta / float64(t+1)
			m2[k] += delta * (lro[k] - c.MeanLocal[k])
			if lro[k] > baseline[k] {
				c.PLocal[k]++
			}
		}

		// Global scale: windowed occupancy relative to the genome-wide
		// per-nucleosome baseline.
		baselineGlobal := totB / float64(n) * opts.BpPerNucleosome
		sums := boxSum(b, widthPM)
		for k := 0; k < n; k++ {
			w := widthPM
			if lo := k - pm; lo < 0 {
				w += lo
			}
			if hi := k + pm; hi > n-1 {
				w -= hi - (n - 1)
			}
			globalProps[k][t] = sums[k] / baselineGlobal / float64(w)
		}
	}
	for k := 0; k < n; k++ {
		c.PLocal[k] /= float64(T)
		c.SELocal[k] = math.Sqrt(m2[k] / float64(T-1))
		if c.SELocal[k] > 0 {
			c.ZLocal[k] = c.MeanLocal[k] / c.SELocal[k]
		}
		c.MeanGlobal[k] = mean(globalProps[k])
	}
	if opts.PDetect != nil {
		c.QGlobal = make([]float64, n)
		for k := 0; k < n; k++ {
			q, err := stats.Percentile(globalProps[k], (1-*opts.PDetect)*100)
			if err != nil {
				return nil, errors.Wrap(err, "summarize: global quantile")
			}
			c.QGlobal[k] = q
		}
	}
	return c, nil
}

// Detections returns the positions whose local concentration probability
// exceeds pDetect, for the concentration window matching pm.
func (p *Positions) Detections(pm int, pDetect float64) ([]int, error) {
	for _, c := range p.Concentrations {
		if c.PM != pm {
			continue
		}
		var detected []int
		for k, prob := range c.PLocal {
			if prob > pDetect {
				detected = append(detected, k)
			}
		}
		return detected, nil
	}
	return nil, errors.Errorf("summarize: no concentration summary for pm=%d", pm)
}

func mean(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// stddev is the population standard deviation around a precomputed mean.
func stddev(x []float64, m float64) float64 {
	ss := 0.0
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}
