// Package config defines the typed configuration record shared by the
// occupancy drivers.  A configuration document is YAML with fixed sections;
// unknown or missing keys are rejected at load time so that a bad document
// fails before any estimation starts.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a full configuration document.
type Config struct {
	Data             Data             `yaml:"data"`
	Prior            Prior            `yaml:"prior"`
	EstimationParams EstimationParams `yaml:"estimation_params"`
	MCMCParams       MCMCParams       `yaml:"mcmc_params"`
	MCMCOutput       OutputPatterns   `yaml:"mcmc_output"`
	EstimationOutput OutputPatterns   `yaml:"estimation_output"`
	DetectionOutput  OutputPatterns   `yaml:"detection_output"`
	ProcessingOutput OutputPatterns   `yaml:"processing_output"`
	MCMCSummaries    MCMCSummaries    `yaml:"mcmc_summaries"`
	DetectionParams  DetectionParams  `yaml:"detection_params"`
}

// Data locates the input arrays.  chrom_path and null_path hold one
// comma-delimited count vector per line, one line per chromosome.
type Data struct {
	NChrom         int    `yaml:"n_chrom"`
	ChromPath      string `yaml:"chrom_path"`
	LengthDistPath string `yaml:"length_dist_path"`
	NullPath       string `yaml:"null_path"`
	RegionsPath    string `yaml:"regions_path"`
	TemplatePath   string `yaml:"template_path"`
}

// Prior holds the Normal-Inverse-Gamma hyperparameters.  Mu0 == nil is the
// documented sentinel for "derive the prior mean locally from observed
// coverage" rather than a fixed constant.
type Prior struct {
	Mu0 *float64 `yaml:"mu0"`
	K0  float64  `yaml:"k0"`
	A0  float64  `yaml:"a0"`
	B0  float64  `yaml:"b0"`
}

// EstimationParams controls the EM optimizer.
type EstimationParams struct {
	// BlockWidth of zero selects an automatic width from the worker count.
	BlockWidth int     `yaml:"block_width"`
	Tol        float64 `yaml:"tol"`
	MinIter    int     `yaml:"min_iter"`
	MaxIter    int     `yaml:"max_iter"`
	// MaxMem bounds the per-block Hessian, in MB.
	MaxMem     int  `yaml:"max_mem"`
	DiagApprox bool `yaml:"diag_approx"`
	Verbose    int  `yaml:"verbose"`
	Timing     bool `yaml:"timing"`
	FixMu      bool `yaml:"fix_mu"`
	FixSigmasq bool `yaml:"fix_sigmasq"`
}

// MCMCParams controls the posterior sampler.
type MCMCParams struct {
	MCMCIterations         int    `yaml:"mcmc_iterations"`
	NBurnin                int    `yaml:"n_burnin"`
	InitializeThetaFromEM  bool   `yaml:"initialize_theta_from_em"`
	InitializeParamsFromEM bool   `yaml:"initialize_params_from_em"`
	Seed                   uint64 `yaml:"seed"`
	PathScratch            string `yaml:"path_scratch"`
}

// OutputPatterns is a free-form section of named output path patterns.  Each
// pattern carries one or two %d verbs (chromosome, and for detections also
// the +/- window width).
type OutputPatterns map[string]Pattern

// MCMCSummaries controls posterior summarization.
type MCMCSummaries struct {
	WidthLocal      int       `yaml:"width_local"`
	ConcentrationPM IntList   `yaml:"concentration_pm"`
	PDetect         *float64  `yaml:"p_detect"`
	BpPerNucleosome float64   `yaml:"bp_per_nucleosome"`
	ClusterMinSpace int       `yaml:"cluster_min_spacing"`
	ClusterBw       float64   `yaml:"cluster_bw"`
	ClusterWidth    int       `yaml:"cluster_width"`
	PThreshold      FloatList `yaml:"p_threshold"`
	QSparsity       FloatList `yaml:"q_sparsity"`
}

// DetectionParams controls FDR-based detection.
type DetectionParams struct {
	Alpha             float64 `yaml:"alpha"`
	MethodFDR         string  `yaml:"method_fdr"`
	ComputeMaximaOnly bool    `yaml:"compute_maxima_only"`
	DetectMaximaOnly  bool    `yaml:"detect_maxima_only"`
	UseBayesSE        bool    `yaml:"use_bayes_se"`
	NProc             int     `yaml:"n_proc"`
	Verbose           int     `yaml:"verbose"`
}

// Pattern is an output path pattern with one or two %d verbs.
type Pattern string

// Format fills the pattern's integer verbs.  The argument count must match
// the pattern's verb count.
func (p Pattern) Format(args ...int) (string, error) {
	n := p.NumVerbs()
	if n != len(args) {
		return "", errors.Errorf("pattern %q has %d integer verbs, got %d arguments", p, n, len(args))
	}
	s := string(p)
	var b strings.Builder
	ai := 0
	for {
		i := strings.Index(s, "%d")
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(strconv.Itoa(args[ai]))
		ai++
		s = s[i+2:]
	}
	return b.String(), nil
}

// NumVerbs returns the number of %d verbs in the pattern.
func (p Pattern) NumVerbs() int { return strings.Count(string(p), "%d") }

func (p Pattern) validate(name string) error {
	if p == "" {
		return nil
	}
	// Only %d and %% may appear; a stray verb would corrupt output paths.
	s := string(p)
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+1 >= len(s) || (s[i+1] != 'd' && s[i+1] != '%') {
			return errors.Errorf("%s: pattern %q: only %%d placeholders are allowed", name, p)
		}
		i++
	}
	if n := p.NumVerbs(); n < 1 || n > 2 {
		return errors.Errorf("%s: pattern %q must contain one or two %%d placeholders", name, p)
	}
	return nil
}

// IntList accepts either a YAML sequence or a comma-delimited scalar such as
// "0,1,2,3".
type IntList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IntList) UnmarshalYAML(value *yaml.Node) error {
	strs, err := splitListNode(value)
	if err != nil {
		return err
	}
	out := make([]int, 0, len(strs))
	for _, s := range strs {
		v, err := strconv.Atoi(s)
		if err != nil {
			return errors.Errorf("invalid integer %q in list", s)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// FloatList accepts either a YAML sequence or a comma-delimited scalar such
// as "0.9,0.95".
type FloatList []float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *FloatList) UnmarshalYAML(value *yaml.Node) error {
	strs, err := splitListNode(value)
	if err != nil {
		return err
	}
	out := make([]float64, 0, len(strs))
	for _, s := range strs {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Errorf("invalid number %q in list", s)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

func splitListNode(value *yaml.Node) ([]string, error) {
	switch value.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, s := range strings.Split(value.Value, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, n := range value.Content {
			out = append(out, strings.TrimSpace(n.Value))
		}
		return out, nil
	}
	return nil, errors.New("expected scalar or sequence")
}

// Load reads and validates a configuration document from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close() // nolint: errcheck
	cfg, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Read parses and validates a configuration document.
func Read(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the fail-fast checks from the error-handling contract:
// ill-posed settings are rejected before any iteration begins.
func (c *Config) Validate() error {
	if c.Data.NChrom < 0 {
		return errors.New("data: n_chrom must be non-negative")
	}
	if c.Prior.K0 < 0 || c.Prior.A0 <= 0 || c.Prior.B0 <= 0 {
		return errors.New("prior: require k0 >= 0, a0 > 0, b0 > 0")
	}
	p := &c.EstimationParams
	if p.BlockWidth < 0 {
		return errors.New("estimation_params: block_width must be non-negative")
	}
	if p.Tol <= 0 {
		return errors.New("estimation_params: tol must be positive")
	}
	if p.MinIter < 0 || p.MaxIter < p.MinIter {
		return errors.New("estimation_params: require 0 <= min_iter <= max_iter")
	}
	if p.MaxMem < 0 {
		return errors.New("estimation_params: max_mem must be non-negative")
	}
	m := &c.MCMCParams
	if m.MCMCIterations < 0 || m.NBurnin < 0 {
		return errors.New("mcmc_params: iteration counts must be non-negative")
	}
	if m.NBurnin >= m.MCMCIterations && m.MCMCIterations > 0 {
		return errors.Errorf("mcmc_params: n_burnin (%d) must be less than mcmc_iterations (%d)",
			m.NBurnin, m.MCMCIterations)
	}
	d := &c.DetectionParams
	if d.Alpha < 0 || d.Alpha > 1 {
		return errors.New("detection_params: alpha must be in [0, 1]")
	}
	switch d.MethodFDR {
	case "", "crude", "direct", "bh":
	default:
		return errors.Errorf("detection_params: unknown method_fdr %q", d.MethodFDR)
	}
	if d.NProc < 0 {
		return errors.New("detection_params: n_proc must be non-negative")
	}
	s := &c.MCMCSummaries
	if s.WidthLocal < 0 || s.ClusterWidth < 0 || s.ClusterMinSpace < 0 {
		return errors.New("mcmc_summaries: widths and spacing must be non-negative")
	}
	for _, q := range s.QSparsity {
		if q <= 0 || q >= 1 {
			return errors.Errorf("mcmc_summaries: q_sparsity value %g outside (0, 1)", q)
		}
	}
	for name, section := range map[string]OutputPatterns{
		"mcmc_output":       c.MCMCOutput,
		"estimation_output": c.EstimationOutput,
		"detection_output":  c.DetectionOutput,
		"processing_output": c.ProcessingOutput,
	} {
		for key, pat := range section {
			if err := pat.validate(name + "." + key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pattern returns the named pattern from section, or an error naming both.
func (o OutputPatterns) Pattern(section, name string) (Pattern, error) {
	p, ok := o[name]
	if !ok || p == "" {
		return "", errors.Errorf("%s: missing output pattern %q", section, name)
	}
	return p, nil
}
