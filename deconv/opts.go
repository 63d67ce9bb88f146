package deconv

import "github.com/chromstat/occupancy/config"

// EMOpts controls the block-parallel EM optimizer.
type EMOpts struct {
	// BlockWidth of zero selects chromLength / workers.
	BlockWidth int
	// Tol is the relative objective-change threshold for convergence.
	Tol     float64
	MinIter int
	MaxIter int
	// MaxMem caps the per-block dense curvature matrix, in MB; a block
	// whose matrix would exceed it falls back to the diagonal
	// approximation.  Zero means no cap.
	MaxMem int
	// DiagApprox forces the diagonal curvature approximation everywhere.
	DiagApprox bool
	Verbose    int
	Timing     bool
	// FixMu and FixSigmasq freeze the corresponding hyperparameter at its
	// prior value; debugging overrides, echoed in the result.
	FixMu      bool
	FixSigmasq bool
}

// DefaultEMOpts sets the default values for EMOpts.
var DefaultEMOpts = EMOpts{
	Tol:     1e-6,
	MinIter: 48,
	MaxIter: 1024,
	MaxMem:  512,
}

// EMOptsFromConfig converts the estimation_params section.
func EMOptsFromConfig(p config.EstimationParams) EMOpts {
	return EMOpts{
		BlockWidth: p.BlockWidth,
		Tol:        p.Tol,
		MinIter:    p.MinIter,
		MaxIter:    p.MaxIter,
		MaxMem:     p.MaxMem,
		DiagApprox: p.DiagApprox,
		Verbose:    p.Verbose,
		Timing:     p.Timing,
		FixMu:      p.FixMu,
		FixSigmasq: p.FixSigmasq,
	}
}

// MCMCOpts controls the posterior sampler.
type MCMCOpts struct {
	BlockWidth int
	// Iterations is the total chain length including the initialization
	// draw; NBurnin draws are discarded by consumers.
	Iterations int
	NBurnin    int
	// Warm starts from a completed EM run.
	InitializeThetaFromEM  bool
	InitializeParamsFromEM bool
	// ProposalDF is the Student-t degrees of freedom for block proposals.
	ProposalDF float64
	Seed       uint64
	Verbose    int
	Timing     bool
}

// DefaultMCMCOpts sets the default values for MCMCOpts.
var DefaultMCMCOpts = MCMCOpts{
	Iterations: 1000,
	NBurnin:    500,
	ProposalDF: 5,
	Seed:       1,
}

// MCMCOptsFromConfig converts the mcmc_params section, taking the shared
// block width and verbosity from estimation_params as the original layout
// does.
func MCMCOptsFromConfig(m config.MCMCParams, p config.EstimationParams) MCMCOpts {
	o := MCMCOpts{
		BlockWidth:             p.BlockWidth,
		Iterations:             m.MCMCIterations,
		NBurnin:                m.NBurnin,
		InitializeThetaFromEM:  m.InitializeThetaFromEM,
		InitializeParamsFromEM: m.InitializeParamsFromEM,
		ProposalDF:             DefaultMCMCOpts.ProposalDF,
		Seed:                   m.Seed,
		Verbose:                p.Verbose,
		Timing:                 p.Timing,
	}
	if o.Seed == 0 {
		o.Seed = DefaultMCMCOpts.Seed
	}
	return o
}
