package summarize

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/chromstat/occupancy/deconv"
)

// ParamSummary is the posterior summary of one region's hyperparameters.
type ParamSummary struct {
	RegionID int

	MuMean, MuMed, MuSE                float64
	SigmasqMean, SigmasqMed, SigmasqSE float64
	SigmaMean, SigmaMed, SigmaSE       float64
}

// SummarizeParams computes per-region posterior summaries of the mu and
// sigmasq draws, plus the derived sigma scale.
func SummarizeParams(ds *deconv.DrawSet) ([]ParamSummary, error) {
	T := ds.PostBurnin()
	if T < 2 {
		return nil, errors.Errorf("summarize: need at least 2 post-burn-in draws, got %d", T)
	}
	nRegions := len(ds.Mu[0])
	out := make([]ParamSummary, nRegions)
	mu := make([]float64, T)
	sq := make([]float64, T)
	sig := make([]float64, T)
	for r := 0; r < nRegions; r++ {
		for t := 0; t < T; t++ {
			mu[t] = ds.Mu[ds.NBurnin+t][r]
			sq[t] = ds.Sigmasq[ds.NBurnin+t][r]
			sig[t] = math.Sqrt(sq[t])
		}
		ps := ParamSummary{RegionID: r}
		ps.MuMean = mean(mu)
		ps.MuSE = stddev(mu, ps.MuMean)
		ps.SigmasqMean = mean(sq)
		ps.SigmasqSE = stddev(sq, ps.SigmasqMean)
		ps.SigmaMean = mean(sig)
		ps.SigmaSE = stddev(sig, ps.SigmaMean)
		var err error
		if ps.MuMed, err = stats.Median(mu); err != nil {
			return nil, errors.Wrap(err, "summarize: mu median")
		}
		if ps.SigmasqMed, err = stats.Median(sq); err != nil {
			return nil, errors.Wrap(err, "summarize: sigmasq median")
		}
		ps.SigmaMed = math.Sqrt(ps.SigmasqMed)
		out[r] = ps
	}
	return out, nil
}
