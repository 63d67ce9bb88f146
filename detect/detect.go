// Package detect turns per-position occupancy evidence into discrete calls
// under false-discovery-rate control.  Evidence scores are tail
// probabilities of the no-occupancy null (small is significant); the
// threshold selectors scan candidate cutoffs and pick the largest one whose
// estimated FDR stays within the target level, which also maximizes the
// discovery count.
package detect

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/deconv"
)

// Method selects the FDR-control procedure.
type Method string

const (
	// MethodCrude estimates the false discovery proportion empirically
	// from scores computed on the null counts.
	MethodCrude Method = "crude"
	// MethodDirect estimates the FDR as expected false positives under the
	// fitted uniform null over total positives, with a plug-in null
	// fraction.
	MethodDirect Method = "direct"
	// MethodBH is the Benjamini-Hochberg step-up procedure.
	MethodBH Method = "bh"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCrude, MethodDirect, MethodBH:
		return Method(s), nil
	}
	return "", errors.Errorf("detect: unknown FDR method %q", s)
}

// Opts controls detection.
type Opts struct {
	Alpha  float64
	Method Method
	// ComputeMaximaOnly restricts the FDR calculation to local maxima of
	// the evidence; DetectMaximaOnly restricts the reported detections.
	ComputeMaximaOnly bool
	DetectMaximaOnly  bool
	// UseBayesSE scores with posterior standard errors instead of
	// frequentist ones.
	UseBayesSE bool
	// NProc sizes the evidence-computation pool.
	NProc   int
	Verbose int
}

// DefaultOpts sets the default values for Opts.
var DefaultOpts = Opts{
	Alpha:  0.05,
	Method: MethodBH,
	NProc:  1,
}

// OptsFromConfig converts the detection_params section.
func OptsFromConfig(p config.DetectionParams) (Opts, error) {
	name := p.MethodFDR
	if name == "" {
		name = string(DefaultOpts.Method)
	}
	m, err := ParseMethod(name)
	if err != nil {
		return Opts{}, err
	}
	o := Opts{
		Alpha:             p.Alpha,
		Method:            m,
		ComputeMaximaOnly: p.ComputeMaximaOnly,
		DetectMaximaOnly:  p.DetectMaximaOnly,
		UseBayesSE:        p.UseBayesSE,
		NProc:             p.NProc,
		Verbose:           p.Verbose,
	}
	if o.NProc < 1 {
		o.NProc = 1
	}
	return o, nil
}

// Record is the per-position detection outcome.
type Record struct {
	Pos      int
	Score    float64
	LocalMax bool
	Detected bool
}

// Result bundles the records with the selected threshold.
type Result struct {
	Records   []Record
	Threshold float64
	Method    Method
	Alpha     float64
}

// Detected returns the number of detected positions.
func (r *Result) Detected() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Detected {
			n++
		}
	}
	return n
}

// WaldScores computes, for each position, the Wald tail probability of the
// no-occupancy null P(theta_k <= mu_r(k)) under a Normal(theta_k, se_k)
// approximation.  The per-position work is split across an NProc-wide pool.
func WaldScores(ctx context.Context, theta, se []float64, mu []float64, regionTypes []int, nproc int) ([]float64, error) {
	if len(theta) != len(se) || len(theta) != len(regionTypes) {
		return nil, errors.Errorf("detect: mismatched inputs: %d theta, %d se, %d region types",
			len(theta), len(se), len(regionTypes))
	}
	scores := make([]float64, len(theta))
	err := parallelRanges(ctx, len(theta), nproc, func(lo, hi int) error {
		for k := lo; k < hi; k++ {
			if se[k] <= 0 || math.IsInf(se[k], 1) {
				scores[k] = 1
				continue
			}
			scores[k] = distuv.UnitNormal.CDF((mu[regionTypes[k]] - theta[k]) / se[k])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// FrequentistSE strips the prior curvature out of posterior standard
// errors: the likelihood-only information is 1/se^2 - 1/sigmasq.
func FrequentistSE(seBayes, sigmasq []float64, regionTypes []int) []float64 {
	se := make([]float64, len(seBayes))
	for k, s := range seBayes {
		info := 1/(s*s) - 1/sigmasq[regionTypes[k]]
		if info > 0 {
			se[k] = 1 / math.Sqrt(info)
		} else {
			se[k] = math.Inf(1)
		}
	}
	return se
}

// TailScores computes the empirical posterior tail frequency
// P(theta_k <= mu_r(k) | y) over the post-burn-in draws.
func TailScores(ctx context.Context, ds *deconv.DrawSet, regionTypes []int, nproc int) ([]float64, error) {
	if ds.PostBurnin() <= 0 {
		return nil, errors.New("detect: no post-burn-in draws")
	}
	n := len(ds.Theta[0])
	if len(regionTypes) != n {
		return nil, errors.Errorf("detect: %d region types for %d positions", len(regionTypes), n)
	}
	scores := make([]float64, n)
	err := parallelRanges(ctx, n, nproc, func(lo, hi int) error {
		for k := lo; k < hi; k++ {
			hits := 0
			for t := ds.NBurnin; t < ds.Iterations(); t++ {
				if ds.Theta[t][k] <= ds.Mu[t][regionTypes[k]] {
					hits++
				}
			}
			scores[k] = float64(hits) / float64(ds.PostBurnin())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func parallelRanges(ctx context.Context, n, nproc int, fn func(lo, hi int) error) error {
	if nproc < 1 {
		nproc = 1
	}
	if nproc > n {
		nproc = n
	}
	g, ctx := errgroup.WithContext(ctx)
	chunk := (n + nproc - 1) / nproc
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// LocalMinima flags positions whose score is <= both neighbors within the
// window, the strongest local evidence points.
func LocalMinima(scores []float64, window int) []bool {
	if window < 1 {
		window = 1
	}
	isMin := make([]bool, len(scores))
	for k := range scores {
		isMin[k] = true
		for d := 1; d <= window; d++ {
			if k-d >= 0 && scores[k-d] < scores[k] {
				isMin[k] = false
				break
			}
			if k+d < len(scores) && scores[k+d] < scores[k] {
				isMin[k] = false
				break
			}
		}
	}
	return isMin
}

// Detect selects the FDR threshold and flags detections.  nullScores (from
// the null-count run) are required by the crude method and ignored
// otherwise.  localMax may be nil when neither maxima restriction is set.
func Detect(scores, nullScores []float64, localMax []bool, opts Opts) (*Result, error) {
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, errors.Errorf("detect: alpha must be in [0, 1], got %g", opts.Alpha)
	}
	if (opts.ComputeMaximaOnly || opts.DetectMaximaOnly) && localMax == nil {
		return nil, errors.New("detect: maxima restriction requested without local-maximum flags")
	}

	candidates := scores
	if opts.ComputeMaximaOnly {
		candidates = nil
		for k, s := range scores {
			if localMax[k] {
				candidates = append(candidates, s)
			}
		}
	}

	var threshold float64
	var err error
	switch opts.Method {
	case MethodBH:
		threshold = bhThreshold(candidates, opts.Alpha)
	case MethodDirect:
		threshold = directThreshold(candidates, opts.Alpha)
	case MethodCrude:
		threshold, err = crudeThreshold(candidates, nullScores, opts.Alpha)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("detect: unknown FDR method %q", opts.Method)
	}

	res := &Result{Threshold: threshold, Method: opts.Method, Alpha: opts.Alpha}
	for k, s := range scores {
		rec := Record{Pos: k, Score: s}
		if localMax != nil {
			rec.LocalMax = localMax[k]
		}
		rec.Detected = s <= threshold
		if opts.DetectMaximaOnly && !rec.LocalMax {
			rec.Detected = false
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// bhThreshold returns the Benjamini-Hochberg step-up cutoff: the largest
// sorted score p_(k) with p_(k) <= k*alpha/m, or 0 when none qualifies.
func bhThreshold(scores []float64, alpha float64) float64 {
	m := len(scores)
	if m == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := 0.0
	for k := m; k >= 1; k-- {
		if sorted[k-1] <= float64(k)*alpha/float64(m) {
			threshold = sorted[k-1]
			break
		}
	}
	return threshold
}

// directThreshold scans the observed scores as candidate cutoffs and keeps
// the largest with estimated FDR pi0*m*t / R(t) <= alpha, where pi0 is the
// plug-in null fraction #{p > lambda} / ((1-lambda)*m) at lambda = 0.5.
func directThreshold(scores []float64, alpha float64) float64 {
	m := len(scores)
	if m == 0 {
		return 0
	}
	const lambda = 0.5
	tail := 0
	for _, s := range scores {
		if s > lambda {
			tail++
		}
	}
	pi0 := float64(tail) / ((1 - lambda) * float64(m))
	if pi0 > 1 {
		pi0 = 1
	}
	if pi0 <= 0 {
		pi0 = 1 / float64(m)
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := 0.0
	for k := m; k >= 1; k-- {
		t := sorted[k-1]
		if pi0*float64(m)*t/float64(k) <= alpha {
			threshold = t
			break
		}
	}
	return threshold
}

// crudeThreshold estimates the false discovery proportion at each candidate
// cutoff directly from the null-count scores: the null exceedance frequency
// scaled to the observed set size, over the observed discovery count.
func crudeThreshold(scores, nullScores []float64, alpha float64) (float64, error) {
	if len(nullScores) == 0 {
		return 0, errors.New("detect: crude method requires null scores")
	}
	m := len(scores)
	if m == 0 {
		return 0, nil
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	sortedNull := append([]float64(nil), nullScores...)
	sort.Float64s(sortedNull)

	threshold := 0.0
	for k := m; k >= 1; k-- {
		t := sorted[k-1]
		// Null scores <= t, rescaled to the observed set size.
		nullHits := sort.SearchFloat64s(sortedNull, math.Nextafter(t, math.Inf(1)))
		fp := float64(nullHits) / float64(len(sortedNull)) * float64(m)
		if fp/float64(k) <= alpha {
			threshold = t
			break
		}
	}
	return threshold, nil
}
