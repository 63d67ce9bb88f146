package deconv

import (
	"context"
	"math"
	"time"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/mat"

	"github.com/chromstat/occupancy/workgroup"
)

// BlockStatus records the outcome of one block's optimization.
type BlockStatus struct {
	Block      Block
	Iterations int
	// Converged is false when the block hit MaxIter without meeting Tol;
	// the failure is surfaced here at aggregation, not as a process error.
	Converged bool
	Objective float64
}

// EMResult is the aggregated output of RunEM for one chromosome.
type EMResult struct {
	Theta []float64
	SE    []float64
	// Mu and Sigmasq are the per-region hyperparameter estimates.
	Mu      []float64
	Sigmasq []float64
	Blocks  []BlockStatus
	// Converged reports whether every block converged.
	Converged bool
	// Objective holds the penalized log posterior per completed iteration;
	// it is non-decreasing under the damped Newton update.
	Objective []float64
	// Echo of the debugging overrides active during the run.
	FixMu, FixSigmasq bool
}

// RunEM computes the penalized-likelihood point estimate of the occupancy
// coefficients with a block-parallel damped Newton optimizer.  Each
// iteration updates even-indexed blocks, then odd-indexed blocks, with a
// barrier between the two phases; blocks of the same parity are separated
// by a full block width, so their updates touch disjoint counts whenever
// the width is at least twice the template radius.  Together with the
// per-block line search this keeps the penalized objective non-decreasing,
// and results are deterministic for a fixed worker count.
func RunEM(ctx context.Context, data *ChromData, prior Prior, opts EMOpts, grp *workgroup.Group) (*EMResult, error) {
	n := data.Length()
	radius := data.Template.Radius()
	blocks, err := Partition(n, opts.BlockWidth, radius, grp.Size())
	if err != nil {
		return nil, err
	}

	priorMeans := prior.Means(data.Y, data.Regions)
	sigmasq0 := prior.B0 / prior.A0

	res := &EMResult{
		Theta:      make([]float64, n),
		SE:         make([]float64, n),
		Mu:         append([]float64(nil), priorMeans...),
		Sigmasq:    make([]float64, len(data.Regions)),
		Blocks:     make([]BlockStatus, len(blocks)),
		FixMu:      opts.FixMu,
		FixSigmasq: opts.FixSigmasq,
	}
	for r := range res.Sigmasq {
		res.Sigmasq[r] = sigmasq0
	}
	for j, y := range data.Y {
		res.Theta[j] = math.Log(y + 1)
	}
	for i, b := range blocks {
		res.Blocks[i] = BlockStatus{Block: b}
	}

	// Shared state: workers write disjoint interior ranges of theta and
	// disjoint entries of blockObj; the hyperparameters are only written by
	// the root between barriers.
	blockObj := make([]float64, len(blocks))
	blockDone := make([]bool, len(blocks))
	prevObj := make([]float64, len(blocks))
	for i := range prevObj {
		prevObj[i] = math.Inf(-1)
	}
	stop := false

	runErr := grp.Run(ctx, func(ctx context.Context, w *workgroup.Worker) error {
		owned := workgroup.OwnedIndices(len(blocks), w.Size(), w.Rank())
		var tstart time.Time
		for iter := 1; iter <= opts.MaxIter; iter++ {
			if w.IsRoot() && opts.Timing {
				tstart = time.Now()
			}
			for phase := 0; phase < 2; phase++ {
				for _, bi := range owned {
					if bi%2 != phase || blockDone[bi] {
						continue
					}
					obj := newtonBlockStep(data, blocks[bi], res.Theta, res.Mu, res.Sigmasq, opts)
					blockObj[bi] = obj
					res.Blocks[bi].Iterations = iter
				}
				w.Barrier()
			}

			if w.IsRoot() {
				if !opts.FixMu || !opts.FixSigmasq {
					updateRegionParams(data, res.Theta, priorMeans, prior, opts, res.Mu, res.Sigmasq)
				}
				res.Objective = append(res.Objective,
					objective(data, res.Theta, res.Mu, res.Sigmasq, priorMeans, prior))

				allDone := true
				for bi := range blocks {
					if blockDone[bi] {
						continue
					}
					rel := math.Abs(blockObj[bi]-prevObj[bi]) / (math.Abs(prevObj[bi]) + 1e-300)
					if iter >= opts.MinIter && rel < opts.Tol {
						blockDone[bi] = true
						res.Blocks[bi].Converged = true
						res.Blocks[bi].Objective = blockObj[bi]
					} else {
						allDone = false
					}
					prevObj[bi] = blockObj[bi]
				}
				stop = allDone
				if opts.Verbose > 0 {
					obj := res.Objective[len(res.Objective)-1]
					if opts.Timing {
						log.Printf("em: chrom %d iter %d objective %.10g (%s)",
							data.Chrom, iter, obj, time.Since(tstart))
					} else {
						log.Debug.Printf("em: chrom %d iter %d objective %.10g", data.Chrom, iter, obj)
					}
				}
			}
			w.Barrier()
			if stop {
				break
			}
		}

		// Standard errors from the inverse curvature diagonal at the final
		// coefficients, each block writing its own interior.
		for _, bi := range owned {
			writeBlockSE(data, blocks[bi], res.Theta, res.Sigmasq, res.SE)
		}
		return nil
	})
	if runErr != nil {
		return nil, runErr
	}

	res.Converged = true
	for bi := range blocks {
		if !blockDone[bi] {
			res.Blocks[bi].Objective = blockObj[bi]
			res.Converged = false
			if opts.Verbose > 0 {
				log.Error.Printf("em: chrom %d block [%d,%d) failed to converge in %d iterations",
					data.Chrom, blocks[bi].Start, blocks[bi].End, opts.MaxIter)
			}
		}
	}
	return res, nil
}

// newtonBlockStep performs one damped Newton update of the block's interior
// coefficients in place.  Only theta's owned range [blk.Start, blk.End) is
// written.  Returns the block objective after the update.
func newtonBlockStep(data *ChromData, blk Block, theta, mu, sigmasq []float64, opts EMOpts) float64 {
	win := windowFor(blk, data.Template.Radius(), data.Length())
	local := append([]float64(nil), theta[win.CtxLo:win.CtxHi]...)
	y := data.Y[win.CtxLo:win.CtxHi]
	regionTypes := data.RegionTypes[win.CtxLo:win.CtxHi]
	sLo, sHi := win.SLo, win.SHi
	m := sHi - sLo
	tmpl := data.Template

	nLocal := len(local)
	b := make([]float64, nLocal)
	lambda := make([]float64, nLocal)
	condMean(local, tmpl, b, lambda)

	g := make([]float64, m)
	gradient(local, y, b, lambda, tmpl, regionTypes, mu, sigmasq, sLo, sHi, g)

	step := make([]float64, m)
	useDiag := opts.DiagApprox
	if !useDiag && opts.MaxMem > 0 && 8*m*m > opts.MaxMem<<20 {
		useDiag = true
	}
	if useDiag {
		diag := make([]float64, m)
		informationDiag(local, y, b, lambda, tmpl, regionTypes, sigmasq, sLo, sHi, diag)
		for j := range step {
			step[j] = g[j] / diag[j]
		}
	} else {
		info := mat.NewSymDense(m, nil)
		information(local, y, b, lambda, tmpl, regionTypes, sigmasq, sLo, sHi, info)
		var chol mat.Cholesky
		ok := chol.Factorize(info)
		for ridge := 1e-8; !ok && ridge < 1e2; ridge *= 10 {
			// Score-term negativity can make the observed information
			// indefinite far from the mode; regularize and retry.
			for j := 0; j < m; j++ {
				info.SetSym(j, j, info.At(j, j)+ridge)
			}
			ok = chol.Factorize(info)
		}
		if ok {
			dst := mat.NewVecDense(m, step)
			if err := chol.SolveVecTo(dst, mat.NewVecDense(m, g)); err != nil {
				ok = false
			}
		}
		if !ok {
			diag := make([]float64, m)
			informationDiag(local, y, b, lambda, tmpl, regionTypes, sigmasq, sLo, sHi, diag)
			for j := range step {
				step[j] = g[j] / diag[j]
			}
		}
	}

	// Step-halving line search preserves monotonicity of the penalized
	// objective.
	obj0 := penLogLik(local, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi)
	trial := append([]float64(nil), local...)
	scale := 1.0
	best := obj0
	for half := 0; half < 30; half++ {
		for j := 0; j < m; j++ {
			trial[sLo+j] = local[sLo+j] + scale*step[j]
		}
		obj := penLogLik(trial, y, tmpl, regionTypes, mu, sigmasq, win.LLLo, win.LLHi, sLo, sHi)
		if obj >= obj0 {
			copy(local[sLo:sHi], trial[sLo:sHi])
			best = obj
			break
		}
		scale /= 2
	}
	copy(theta[blk.Start:blk.End], local[sLo:sHi])
	return best
}

// writeBlockSE computes lower-bound standard errors from the inverse
// diagonal of the observed information at theta, writing the block's
// interior range of se.
func writeBlockSE(data *ChromData, blk Block, theta, sigmasq, se []float64) {
	win := windowFor(blk, data.Template.Radius(), data.Length())
	local := theta[win.CtxLo:win.CtxHi]
	y := data.Y[win.CtxLo:win.CtxHi]
	regionTypes := data.RegionTypes[win.CtxLo:win.CtxHi]
	sLo, sHi := win.SLo, win.SHi
	nLocal := len(local)
	b := make([]float64, nLocal)
	lambda := make([]float64, nLocal)
	condMean(local, data.Template, b, lambda)
	diag := make([]float64, sHi-sLo)
	informationDiag(local, y, b, lambda, data.Template, regionTypes, sigmasq, sLo, sHi, diag)
	for j, d := range diag {
		if d > 0 {
			se[blk.Start+j] = 1 / math.Sqrt(d)
		} else {
			se[blk.Start+j] = math.Inf(1)
		}
	}
}

// updateRegionParams performs the exact conjugate M-step: for each region,
// the joint MAP of (mu, sigmasq) under the Normal-Inverse-Gamma posterior
// given the current coefficients.
func updateRegionParams(data *ChromData, theta, priorMeans []float64, p Prior, opts EMOpts, mu, sigmasq []float64) {
	for ri, reg := range data.Regions {
		nr := float64(reg.Size())
		mean := 0.0
		for j := reg.Start; j < reg.End; j++ {
			mean += theta[j]
		}
		mean /= nr

		if opts.FixMu {
			mu[ri] = priorMeans[ri]
		} else {
			mu[ri] = (p.K0*priorMeans[ri] + nr*mean) / (p.K0 + nr)
		}

		if opts.FixSigmasq {
			sigmasq[ri] = p.B0 / p.A0
			continue
		}
		ss := 0.0
		for j := reg.Start; j < reg.End; j++ {
			d := theta[j] - mean
			ss += d * d
		}
		dm := mean - priorMeans[ri]
		if opts.FixMu {
			// MAP of sigmasq alone with mu frozen at its prior value.
			ssFixed := 0.0
			for j := reg.Start; j < reg.End; j++ {
				d := theta[j] - mu[ri]
				ssFixed += d * d
			}
			sigmasq[ri] = (p.B0 + ssFixed/2) / (p.A0 + nr/2 + 1.5)
		} else {
			bn := p.B0 + ss/2 + p.K0*nr*dm*dm/(2*(p.K0+nr))
			an := p.A0 + nr/2
			sigmasq[ri] = bn / (an + 1.5)
		}
	}
}
