package config

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

const validDoc = `
data:
  n_chrom: 2
  chrom_path: testdata/reads.txt
  length_dist_path: testdata/lengths.txt
  null_path: testdata/null.txt
  regions_path: testdata/regions.txt
  template_path: testdata/template.txt
prior:
  mu0: null
  k0: 0.1
  a0: 2.0
  b0: 1.0
estimation_params:
  block_width: 500
  tol: 1e-6
  min_iter: 48
  max_iter: 1024
  max_mem: 512
  diag_approx: false
  verbose: 1
  timing: false
  fix_mu: false
  fix_sigmasq: false
mcmc_params:
  mcmc_iterations: 200
  n_burnin: 100
  initialize_theta_from_em: true
  initialize_params_from_em: true
  seed: 1
  path_scratch: /tmp/occ
mcmc_output:
  out_pattern: out/mcmc_chrom%d.rio
  summary_pattern: out/summary_chrom%d.txt
  detections_pattern: out/detections_chrom%d_pm%d.txt
estimation_output:
  coef_pattern: out/coef_chrom%d.txt
  se_pattern: out/se_chrom%d.txt
  param_pattern: out/param_chrom%d.txt
detection_output:
  detected_pattern: out/detected_chrom%d.txt
processing_output:
  template_pattern: out/template_chrom%d.txt
mcmc_summaries:
  width_local: 147
  concentration_pm: 0,1,2,3
  p_detect: 0.8
  bp_per_nucleosome: 147
  cluster_min_spacing: 147
  cluster_bw: 20
  cluster_width: 161
  p_threshold: 0.1,0.2
  q_sparsity: 0.9,0.95
detection_params:
  alpha: 0.001
  method_fdr: bh
  compute_maxima_only: true
  detect_maxima_only: true
  use_bayes_se: false
  n_proc: 4
  verbose: 0
`

func TestReadValid(t *testing.T) {
	cfg, err := Read(strings.NewReader(validDoc))
	expect.NoError(t, err)
	expect.EQ(t, cfg.Data.NChrom, 2)
	if cfg.Prior.Mu0 != nil {
		t.Errorf("mu0: null must decode to the local-derivation sentinel, got %v", *cfg.Prior.Mu0)
	}
	expect.EQ(t, cfg.EstimationParams.MinIter, 48)
	expect.EQ(t, []int(cfg.MCMCSummaries.ConcentrationPM), []int{0, 1, 2, 3})
	expect.EQ(t, []float64(cfg.MCMCSummaries.QSparsity), []float64{0.9, 0.95})
	expect.EQ(t, cfg.DetectionParams.MethodFDR, "bh")
}

func TestFixedMu0(t *testing.T) {
	doc := strings.Replace(validDoc, "mu0: null", "mu0: -1.5", 1)
	cfg, err := Read(strings.NewReader(doc))
	expect.NoError(t, err)
	if cfg.Prior.Mu0 == nil || *cfg.Prior.Mu0 != -1.5 {
		t.Errorf("expected fixed mu0 = -1.5, got %v", cfg.Prior.Mu0)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	doc := validDoc + "\nextra_section:\n  foo: 1\n"
	_, err := Read(strings.NewReader(doc))
	if err == nil {
		t.Error("unknown section must fail at load time")
	}
}

func TestBurninExceedsIterations(t *testing.T) {
	doc := strings.Replace(validDoc, "n_burnin: 100", "n_burnin: 300", 1)
	_, err := Read(strings.NewReader(doc))
	if err == nil {
		t.Error("n_burnin >= mcmc_iterations must be rejected")
	}
}

func TestBadFDRMethod(t *testing.T) {
	doc := strings.Replace(validDoc, "method_fdr: bh", "method_fdr: bonferroni", 1)
	_, err := Read(strings.NewReader(doc))
	if err == nil {
		t.Error("unknown method_fdr must be rejected")
	}
}

func TestPatternValidation(t *testing.T) {
	doc := strings.Replace(validDoc,
		"coef_pattern: out/coef_chrom%d.txt",
		"coef_pattern: out/coef_chrom%s.txt", 1)
	_, err := Read(strings.NewReader(doc))
	if err == nil {
		t.Errorf("non-%%d verb in pattern must be rejected")
	}
}

func TestPatternFormat(t *testing.T) {
	p := Pattern("out/detections_chrom%d_pm%d.txt")
	expect.EQ(t, p.NumVerbs(), 2)
	s, err := p.Format(3, 1)
	expect.NoError(t, err)
	expect.EQ(t, s, "out/detections_chrom3_pm1.txt")

	_, err = p.Format(3)
	if err == nil {
		t.Error("argument count mismatch must be an error")
	}
}

func TestValidateRejections(t *testing.T) {
	for _, tc := range []struct {
		name, old, new, want string
	}{
		{"negative n_chrom", "n_chrom: 2", "n_chrom: -1", "n_chrom"},
		{"bad a0", "a0: 2.0", "a0: 0", "prior"},
		{"bad b0", "b0: 1.0", "b0: -1", "prior"},
		{"zero tol", "tol: 1e-6", "tol: 0", "tol"},
		{"min above max", "min_iter: 48", "min_iter: 2048", "min_iter"},
		{"negative block width", "block_width: 500", "block_width: -5", "block_width"},
		{"bad alpha", "alpha: 0.001", "alpha: 1.5", "alpha"},
		{"negative n_proc", "n_proc: 4", "n_proc: -1", "n_proc"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc := strings.Replace(validDoc, tc.old, tc.new, 1)
			require.NotEqual(t, doc, validDoc, "replacement %q not found", tc.old)
			_, err := Read(strings.NewReader(doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
