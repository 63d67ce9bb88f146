package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/chromstat/occupancy/config"
	"github.com/chromstat/occupancy/deconv"
	"github.com/chromstat/occupancy/detect"
	"github.com/chromstat/occupancy/summarize"
	"github.com/chromstat/occupancy/workgroup"
)

// outPath resolves a required output pattern.  Null tasks write to the
// null_-prefixed pattern of the same section.
func outPath(pats config.OutputPatterns, section, name string, null bool, args ...int) (string, error) {
	if null {
		name = "null_" + name
	}
	p, err := pats.Pattern(section, name)
	if err != nil {
		return "", err
	}
	return p.Format(args...)
}

// optionalPath resolves a pattern that a configuration may omit.
func optionalPath(pats config.OutputPatterns, name string, null bool, args ...int) (string, bool, error) {
	if null {
		name = "null_" + name
	}
	p, ok := pats[name]
	if !ok || p == "" {
		return "", false, nil
	}
	path, err := p.Format(args...)
	return path, err == nil, err
}

func taskLabel(task Task) string {
	if task.Null {
		return "null"
	}
	return "observed"
}

// RunDeconvolve runs the estimation pipeline for one task: load the
// chromosome, fit the EM point estimate, persist coefficients, standard
// errors, and region parameters, then (when configured) sample the
// posterior and persist the draw archive.
func RunDeconvolve(ctx context.Context, cfg *config.Config, task Task, workers int) error {
	data, err := deconv.LoadChromData(cfg, task.Chrom, task.Null)
	if err != nil {
		return err
	}
	prior := deconv.PriorFromConfig(cfg.Prior)
	grp, err := workgroup.New(workers)
	if err != nil {
		return err
	}

	log.Printf("chrom %d (%s): estimating %d positions with %d workers",
		task.Chrom, taskLabel(task), data.Length(), workers)
	em, err := deconv.RunEM(ctx, data, prior, deconv.EMOptsFromConfig(cfg.EstimationParams), grp)
	if err != nil {
		return err
	}
	for _, blk := range em.Blocks {
		if !blk.Converged {
			log.Printf("chrom %d (%s): block [%d, %d) did not converge within %d iterations",
				task.Chrom, taskLabel(task), blk.Block.Start, blk.Block.End, blk.Iterations)
		}
	}

	path, err := outPath(cfg.EstimationOutput, "estimation_output", "coef_pattern", task.Null, task.Chrom)
	if err != nil {
		return err
	}
	if err := deconv.WriteVectorFile(path, em.Theta); err != nil {
		return err
	}
	if path, ok, err := optionalPath(cfg.EstimationOutput, "se_pattern", task.Null, task.Chrom); err != nil {
		return err
	} else if ok {
		if err := deconv.WriteVectorFile(path, em.SE); err != nil {
			return err
		}
	}
	if path, ok, err := optionalPath(cfg.EstimationOutput, "param_pattern", task.Null, task.Chrom); err != nil {
		return err
	} else if ok {
		if err := deconv.WriteRegionParamsFile(path, em.Mu, em.Sigmasq); err != nil {
			return err
		}
	}

	if cfg.MCMCParams.MCMCIterations == 0 {
		return nil
	}
	log.Printf("chrom %d (%s): sampling %d iterations",
		task.Chrom, taskLabel(task), cfg.MCMCParams.MCMCIterations)
	ds, err := deconv.RunMCMC(ctx, data, prior, deconv.MCMCOptsFromConfig(cfg.MCMCParams, cfg.EstimationParams), em, grp)
	if err != nil {
		return err
	}
	path, err = outPath(cfg.MCMCOutput, "mcmc_output", "out_pattern", task.Null, task.Chrom)
	if err != nil {
		return err
	}
	return persistDraws(path, cfg.MCMCParams.PathScratch, ds)
}

// persistDraws writes a draw archive.  With a scratch directory the
// archive is staged there first and moved into place afterwards, so a
// crashed run never leaves a truncated archive at the final path.
func persistDraws(path, scratch string, ds *deconv.DrawSet) error {
	if scratch == "" {
		return deconv.WriteDrawsFile(path, ds)
	}
	tmp := filepath.Join(scratch, filepath.Base(path)+".partial")
	if err := deconv.WriteDrawsFile(tmp, ds); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err == nil {
		return nil
	}
	// Scratch may sit on a different filesystem; copy across and clean up.
	in, err := os.Open(tmp)
	if err != nil {
		return errors.Wrapf(err, "reopen staged archive %s", tmp)
	}
	defer in.Close() // nolint: errcheck
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() // nolint: errcheck
		return errors.Wrapf(err, "copy staged archive to %s", path)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return os.Remove(tmp)
}

// RunSummarize summarizes a persisted draw archive for one task: the
// per-position table, detected-position condensation per concentration
// window, and optionally cluster and region-parameter tables.
func RunSummarize(cfg *config.Config, task Task) error {
	path, err := outPath(cfg.MCMCOutput, "mcmc_output", "out_pattern", task.Null, task.Chrom)
	if err != nil {
		return err
	}
	ds, err := deconv.ReadDrawsFile(path)
	if err != nil {
		return err
	}
	opts := summarize.OptsFromConfig(cfg.MCMCSummaries)

	log.Printf("chrom %d (%s): summarizing %d retained draws",
		task.Chrom, taskLabel(task), ds.PostBurnin())
	pos, err := summarize.SummarizePositions(ds, opts)
	if err != nil {
		return err
	}
	path, err = outPath(cfg.MCMCOutput, "mcmc_output", "summary_pattern", task.Null, task.Chrom)
	if err != nil {
		return err
	}
	if err := summarize.WriteSummariesFile(path, pos); err != nil {
		return err
	}

	if opts.PDetect != nil {
		for _, pm := range opts.ConcentrationPM {
			detected, err := pos.Detections(pm, *opts.PDetect)
			if err != nil {
				return err
			}
			centers, counts := summarize.CondenseDetections(detected)
			path, err := outPath(cfg.MCMCOutput, "mcmc_output", "detections_pattern", task.Null, task.Chrom, pm)
			if err != nil {
				return err
			}
			if err := summarize.WriteDetectionsFile(path, centers, counts); err != nil {
				return err
			}
		}
	}

	if path, ok, err := optionalPath(cfg.MCMCOutput, "cluster_pattern", task.Null, task.Chrom); err != nil {
		return err
	} else if ok {
		clusters, err := summarize.SummarizeClusters(ds, opts)
		if err != nil {
			return err
		}
		if err := summarize.WriteClustersFile(path, clusters, opts); err != nil {
			return err
		}
	}
	if path, ok, err := optionalPath(cfg.MCMCOutput, "param_pattern", task.Null, task.Chrom); err != nil {
		return err
	} else if ok {
		params, err := summarize.SummarizeParams(ds)
		if err != nil {
			return err
		}
		if err := summarize.WriteParamsFile(path, params); err != nil {
			return err
		}
	}
	return nil
}

// waldScores loads the persisted EM estimates for one chromosome and
// converts them to tail-probability evidence scores.
func waldScores(ctx context.Context, cfg *config.Config, chrom int, null bool, opts detect.Opts) ([]float64, []int, error) {
	data, err := deconv.LoadChromData(cfg, chrom, null)
	if err != nil {
		return nil, nil, err
	}
	path, err := outPath(cfg.EstimationOutput, "estimation_output", "coef_pattern", null, chrom)
	if err != nil {
		return nil, nil, err
	}
	theta, err := deconv.ReadVectorFile(path)
	if err != nil {
		return nil, nil, err
	}
	path, err = outPath(cfg.EstimationOutput, "estimation_output", "se_pattern", null, chrom)
	if err != nil {
		return nil, nil, err
	}
	se, err := deconv.ReadVectorFile(path)
	if err != nil {
		return nil, nil, err
	}
	path, err = outPath(cfg.EstimationOutput, "estimation_output", "param_pattern", null, chrom)
	if err != nil {
		return nil, nil, err
	}
	mu, sigmasq, err := deconv.ReadRegionParamsFile(path)
	if err != nil {
		return nil, nil, err
	}
	if !opts.UseBayesSE {
		se = detect.FrequentistSE(se, sigmasq, data.RegionTypes)
	}
	scores, err := detect.WaldScores(ctx, theta, se, mu, data.RegionTypes, opts.NProc)
	if err != nil {
		return nil, nil, err
	}
	return scores, data.RegionTypes, nil
}

// evidenceScores builds per-position tail-probability evidence for one
// chromosome side: from the persisted draw archive when the configuration
// names one and the sampler has written it, otherwise from the Wald
// approximation on the EM estimates.
func evidenceScores(ctx context.Context, cfg *config.Config, chrom int, null bool, opts detect.Opts) ([]float64, error) {
	if path, ok, err := optionalPath(cfg.MCMCOutput, "out_pattern", null, chrom); err != nil {
		return nil, err
	} else if ok {
		if _, statErr := os.Stat(path); statErr == nil {
			ds, err := deconv.ReadDrawsFile(path)
			if err != nil {
				return nil, err
			}
			data, err := deconv.LoadChromData(cfg, chrom, null)
			if err != nil {
				return nil, err
			}
			log.Debug.Printf("chrom %d: scoring from %d posterior draws", chrom, ds.PostBurnin())
			return detect.TailScores(ctx, ds, data.RegionTypes, opts.NProc)
		}
	}
	scores, _, err := waldScores(ctx, cfg, chrom, null, opts)
	return scores, err
}

// RunDetect computes FDR-controlled detections for one chromosome.  The
// evidence comes from the sampler's draw archive when one exists, falling
// back to the persisted EM estimates.  The crude method additionally
// requires the null run's evidence for the same chromosome.
func RunDetect(ctx context.Context, cfg *config.Config, chrom int) error {
	opts, err := detect.OptsFromConfig(cfg.DetectionParams)
	if err != nil {
		return err
	}
	scores, err := evidenceScores(ctx, cfg, chrom, false, opts)
	if err != nil {
		return err
	}
	var nullScores []float64
	if opts.Method == detect.MethodCrude {
		if nullScores, err = evidenceScores(ctx, cfg, chrom, true, opts); err != nil {
			return err
		}
	}
	localMax := detect.LocalMinima(scores, 1)
	res, err := detect.Detect(scores, nullScores, localMax, opts)
	if err != nil {
		return err
	}
	log.Printf("chrom %d: %d detections at threshold %g (%s, alpha %g)",
		chrom, res.Detected(), res.Threshold, res.Method, res.Alpha)

	path, err := outPath(cfg.DetectionOutput, "detection_output", "detected_pattern", false, chrom)
	if err != nil {
		return err
	}
	return detect.WriteDetectedFile(path, res)
}
