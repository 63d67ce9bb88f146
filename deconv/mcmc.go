package deconv

import (
	"context"
	"math"
	"time"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chromstat/occupancy/workgroup"
)

// DrawSet is the ordered sequence of posterior draws for one chromosome,
// including the initialization draw at index 0.  Consumers discard the
// first NBurnin draws.
type DrawSet struct {
	Chrom   int
	Null    bool
	NBurnin int
	// Theta is iterations x positions; Mu and Sigmasq are iterations x
	// regions.
	Theta   [][]float64
	Mu      [][]float64
	Sigmasq [][]float64
	// Accept counts accepted block moves per position across the chain.
	Accept []int
}

// Iterations returns the total number of stored draws.
func (d *DrawSet) Iterations() int { return len(d.Theta) }

// PostBurnin returns the retained draw count.
func (d *DrawSet) PostBurnin() int { return len(d.Theta) - d.NBurnin }

// RunMCMC draws from the posterior of the occupancy coefficients and the
// region-level hyperparameters with a Metropolis-within-Gibbs chain.
//
// The update order within an iteration is fixed: first the coefficient
// blocks, in two half-offset sweeps (block starts 0, w, 2w, ... then w/2,
// 3w/2, ...), each sweep split into an even and an odd color phase so that
// concurrently updated blocks share no counts; then the region-level
// (sigmasq, mu) conjugate draws.  Every block and the region phase draw
// from an independently seeded stream keyed by (seed, iteration, sweep,
// block), so chains are reproducible for a fixed seed regardless of the
// worker count.
func RunMCMC(ctx context.Context, data *ChromData, prior Prior, opts MCMCOpts, em *EMResult, grp *workgroup.Group) (*DrawSet, error) {
	n := data.Length()
	if opts.Iterations < 2 {
		return nil, errors.Errorf("mcmc: need at least 2 iterations, got %d", opts.Iterations)
	}
	if opts.NBurnin >= opts.Iterations {
		return nil, errors.Errorf("mcmc: burn-in %d must be less than total iterations %d",
			opts.NBurnin, opts.Iterations)
	}
	if (opts.InitializeThetaFromEM || opts.InitializeParamsFromEM) && em == nil {
		return nil, errors.New("mcmc: EM warm start requested without an EM result")
	}
	radius := data.Template.Radius()
	width := opts.BlockWidth
	if width == 0 {
		width = n / grp.Size()
		if width < 1 {
			width = n
		}
	}
	sweeps, err := scanSweeps(n, width, radius)
	if err != nil {
		return nil, err
	}

	priorMeans := prior.Means(data.Y, data.Regions)
	nRegions := len(data.Regions)

	ds := &DrawSet{
		Chrom:   data.Chrom,
		Null:    data.Null,
		NBurnin: opts.NBurnin,
		Theta:   make([][]float64, opts.Iterations),
		Mu:      make([][]float64, opts.Iterations),
		Sigmasq: make([][]float64, opts.Iterations),
		Accept:  make([]int, n),
	}

	// Initialization draw.
	theta := make([]float64, n)
	mu := make([]float64, nRegions)
	sigmasq := make([]float64, nRegions)
	if opts.InitializeThetaFromEM {
		copy(theta, em.Theta)
	} else {
		for j, y := range data.Y {
			theta[j] = math.Log(y + 1)
		}
	}
	if opts.InitializeParamsFromEM {
		copy(mu, em.Mu)
		copy(sigmasq, em.Sigmasq)
	} else {
		src := rand.NewSource(mixSeed(opts.Seed, 0, 0, 0))
		drawInitParams(data, theta, prior, src, mu, sigmasq)
	}
	ds.Theta[0] = append([]float64(nil), theta...)
	ds.Mu[0] = append([]float64(nil), mu...)
	ds.Sigmasq[0] = append([]float64(nil), sigmasq...)

	runErr := grp.Run(ctx, func(ctx context.Context, w *workgroup.Worker) error {
		var tstart time.Time
		for t := 1; t < opts.Iterations; t++ {
			if w.IsRoot() && opts.Timing {
				tstart = time.Now()
			}
			for si, sweep := range sweeps {
				for color := 0; color < 2; color++ {
					for _, bi := range workgroup.OwnedIndices(len(sweep), w.Size(), w.Rank()) {
						if bi%2 != color {
							continue
						}
						blk := sweep[bi]
						src := rand.NewSource(mixSeed(opts.Seed, uint64(t), uint64(si), uint64(bi)))
						accepted := mhBlockDraw(data, blk, theta, mu, sigmasq, opts.ProposalDF, src)
						if accepted {
							for j := blk.Start; j < blk.End; j++ {
								ds.Accept[j]++
							}
						}
					}
					w.Barrier()
				}
			}

			if w.IsRoot() {
				src := rand.NewSource(mixSeed(opts.Seed, uint64(t), uint64(len(sweeps)), 0))
				drawRegionParams(data, theta, priorMeans, prior, src, mu, sigmasq)
				ds.Theta[t] = append([]float64(nil), theta...)
				ds.Mu[t] = append([]float64(nil), mu...)
				ds.Sigmasq[t] = append([]float64(nil), sigmasq...)
				if opts.Verbose > 0 {
					if opts.Timing {
						log.Printf("mcmc: chrom %d iteration %d (%s)", data.Chrom, t, time.Since(tstart))
					} else if opts.Verbose > 1 {
						log.Debug.Printf("mcmc: chrom %d iteration %d mu %v sigmasq %v",
							data.Chrom, t, mu, sigmasq)
					}
				}
			}
			w.Barrier()
		}
		return nil
	})
	if runErr != nil {
		return nil, runErr
	}
	return ds, nil
}

// scanSweeps builds the two half-offset block sweeps for the MCMC scan.
func scanSweeps(chromLength, width, radius int) ([][]Block, error) {
	if width <= 0 {
		return nil, errors.Errorf("mcmc: block width must be positive, got %d", width)
	}
	if width < chromLength && width < 2*radius {
		return nil, errors.Errorf("mcmc: block width %d must be at least twice the template radius %d",
			width, radius)
	}
	s0, s1 := offsetStarts(chromLength, width)
	mk := func(starts []int) []Block {
		blocks := make([]Block, 0, len(starts))
		for _, s := range starts {
			end := s + width
			if end > chromLength {
				end = chromLength
			}
			b := Block{Start: s, End: end, PadStart: s - radius, PadEnd: end + radius}
			if b.PadStart < 0 {
				b.PadStart = 0
			}
			if b.PadEnd > chromLength {
				b.PadEnd = chromLength
			}
			blocks = append(blocks, b)
		}
		return blocks
	}
	return [][]Block{mk(s0), mk(s1)}, nil
}

// thetaOverflowLimit guards exp(theta) against overflow; proposals beyond
// it are rejected outright.
var thetaOverflowLimit = math.Log(math.MaxFloat64) / 2

// mhBlockDraw performs one Metropolis-Hastings update of the block's
// coefficients: a Student-t proposal centered at the conditional posterior
// mode with diagonal observed-information scaling.  Returns whether the
// move was accepted; theta's owned range is updated in place on acceptance.
func mhBlockDraw(data *ChromData, blk Block, theta, mu, sigmasq []float64, propDF float64, src rand.Source) bool {
	win := windowFor(blk, data.Template.Radius(), data.Length())
	local := append([]float64(nil), theta[win.CtxLo:win.CtxHi]...)
	y := data.Y[win.CtxLo:win.CtxHi]
	regionTypes := data.RegionTypes[win.CtxLo:win.CtxHi]
	sLo, sHi := win.SLo, win.SHi
	m := sHi - sLo
	tmpl := data.Template

	// Conditional posterior mode given the current context.
	mode := append([]float64(nil), local...)
	prevObj := math.Inf(-1)
	for k := 0; k < 24; k++ {
		obj := newtonLocalStep(data, mode, y, regionTypes, mu, sigmasq, win)
		if math.Abs(obj-prevObj) < 1e-9*(math.Abs(prevObj)+1) {
			break
		}
		prevObj = obj
	}

	// Diagonal information at the mode scales the proposal.
	nLocal := len(mode)
	b := make([]float64, nLocal)
	lambda := make([]float64, nLocal)
	condMean(mode, tmpl, b, lambda)
	diag := make([]float64, m)
	informationDiag(mode, y, b, lambda, tmpl, regionTypes, sigmasq, sLo, sHi, diag)
	for _, d := range diag {
		if d <= 0 || math.IsNaN(d) {
			return false
		}
	}

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: propDF, Src: src}
	uni := distuv.Uniform{Min: 0, Max: 1, Src: src}

	prop := append([]float64(nil), local...)
	z := make([]float64, m)
	zPrev := make([]float64, m)
	for j := 0; j < m; j++ {
		z[j] = tdist.Rand()
		prop[sLo+j] = mode[sLo+j] + z[j]/math.Sqrt(diag[j])
		if prop[sLo+j] >= thetaOverflowLimit {
			return false
		}
		zPrev[j] = (local[sLo+j] - mode[sLo+j]) * math.Sqrt(diag[j])
	}

	logTargetRatio := penLogLik(prop, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi) -
		penLogLik(local, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi)
	logPropRatio := 0.0
	for j := 0; j < m; j++ {
		logPropRatio += -0.5 * (propDF + 1) *
			(math.Log(1+z[j]*z[j]/propDF) - math.Log(1+zPrev[j]*zPrev[j]/propDF))
	}

	if math.Log(uni.Rand()) < logTargetRatio-logPropRatio {
		copy(theta[blk.Start:blk.End], prop[sLo:sHi])
		return true
	}
	return false
}

// newtonLocalStep is one damped Newton step on a local window already in
// block coordinates, used for the conditional-mode search.  Returns the
// block objective after the step.
func newtonLocalStep(data *ChromData, local, y []float64, regionTypes []int, mu, sigmasq []float64, win blockWindow) float64 {
	tmpl := data.Template
	sLo, sHi := win.SLo, win.SHi
	m := sHi - sLo
	nLocal := len(local)
	b := make([]float64, nLocal)
	lambda := make([]float64, nLocal)
	condMean(local, tmpl, b, lambda)
	g := make([]float64, m)
	gradient(local, y, b, lambda, tmpl, regionTypes, mu, sigmasq, sLo, sHi, g)
	diag := make([]float64, m)
	informationDiag(local, y, b, lambda, tmpl, regionTypes, sigmasq, sLo, sHi, diag)

	obj0 := penLogLik(local, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi)
	trial := append([]float64(nil), local...)
	scale := 1.0
	best := obj0
	for half := 0; half < 30; half++ {
		for j := 0; j < m; j++ {
			trial[sLo+j] = local[sLo+j] + scale*g[j]/diag[j]
		}
		obj := penLogLik(trial, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi)
		if obj >= obj0 {
			copy(local[sLo:sHi], trial[sLo:sHi])
			best = obj
			break
		}
		scale /= 2
	}
	return best
}

// drawInitParams draws the initial (mu, sigmasq) per region from their
// posterior given the initial coefficients, the cold-start path.
func drawInitParams(data *ChromData, theta []float64, p Prior, src rand.Source, mu, sigmasq []float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for ri, reg := range data.Regions {
		nr := float64(reg.Size())
		mean, vr := regionMoments(theta, reg)
		shape := nr/2 + p.A0
		rate := vr*nr/2 + p.B0
		g := distuv.Gamma{Alpha: shape, Beta: 1, Src: src}
		sigmasq[ri] = rate / g.Rand()
		mu[ri] = mean + math.Sqrt(sigmasq[ri]/nr)*norm.Rand()
	}
}

// drawRegionParams draws sigmasq from its marginal conditional and then
// mu | sigmasq, per region.
func drawRegionParams(data *ChromData, theta, priorMeans []float64, p Prior, src rand.Source, mu, sigmasq []float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for ri, reg := range data.Regions {
		nr := float64(reg.Size())
		mean, vr := regionMoments(theta, reg)
		dm := mean - priorMeans[ri]

		shape := nr/2 + p.A0
		rate := vr*nr/2 + p.B0 + p.K0*nr/(2*(1+p.K0))*dm*dm
		g := distuv.Gamma{Alpha: shape, Beta: 1, Src: src}
		sigmasq[ri] = rate / g.Rand()

		meanMu := (mean + priorMeans[ri]*p.K0) / (1 + p.K0)
		varMu := sigmasq[ri] / (1 + p.K0) / nr
		mu[ri] = meanMu + math.Sqrt(varMu)*norm.Rand()
	}
}

func regionMoments(theta []float64, reg Region) (mean, variance float64) {
	nr := float64(reg.Size())
	for j := reg.Start; j < reg.End; j++ {
		mean += theta[j]
	}
	mean /= nr
	for j := reg.Start; j < reg.End; j++ {
		d := theta[j] - mean
		variance += d * d
	}
	variance /= nr
	return mean, variance
}

// mixSeed derives an independent stream seed from the base seed and the
// (iteration, sweep, block) coordinates, splitmix64-style.
func mixSeed(seed, t, sweep, block uint64) uint64 {
	z := seed + 0x9e3779b97f4a7c15*(1+t) + 0xbf58476d1ce4e5b9*(1+sweep) + 0x94d049bb133111eb*(1+block)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
