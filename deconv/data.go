package deconv

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/chromstat/occupancy/config"
)

// Region is a labeled contiguous index interval from the external
// segmentation.  Region ids are rebased to start at 0.
type Region struct {
	ID         int
	Start, End int
}

// Size returns the number of positions in the region.
func (r Region) Size() int { return r.End - r.Start }

// Prior holds the Normal-Inverse-Gamma hyperparameters in engine form.
// Mu0 == nil requests per-region prior means derived from observed
// coverage.
type Prior struct {
	Mu0 *float64
	K0  float64
	A0  float64
	B0  float64
}

// PriorFromConfig converts the configuration prior section.
func PriorFromConfig(p config.Prior) Prior {
	return Prior{Mu0: p.Mu0, K0: p.K0, A0: p.A0, B0: p.B0}
}

// Means returns the per-region prior means.  With a fixed Mu0 every region
// gets that constant; with the local-derivation sentinel, regions with
// positive mean coverage get log(coverage) - sigmasq0/2 (sigmasq0 = b0/a0)
// and zero-coverage regions stay at 0.
func (p Prior) Means(y []float64, regions []Region) []float64 {
	means := make([]float64, len(regions))
	if p.Mu0 != nil {
		for i := range means {
			means[i] = *p.Mu0
		}
		return means
	}
	sigmasq0 := p.B0 / p.A0
	for i, r := range regions {
		cov := 0.0
		for j := r.Start; j < r.End; j++ {
			cov += y[j]
		}
		cov /= float64(r.Size())
		if cov > 0 {
			means[i] = math.Log(cov) - sigmasq0/2
		}
	}
	return means
}

// ChromData bundles the immutable inputs for one (chromosome, null)
// estimation unit.
type ChromData struct {
	Chrom int
	Null  bool
	// Y holds read-center counts per position.
	Y []float64
	// RegionTypes maps each position to its region id.
	RegionTypes []int
	Regions     []Region
	Template    Template
}

// Length returns the chromosome length in positions.
func (d *ChromData) Length() int { return len(d.Y) }

// LoadChromData reads the counts, regions, and template for one chromosome
// (1-based index) from the configured paths.  When null is set, the null
// count path is used in place of the observed one.
func LoadChromData(cfg *config.Config, chrom int, null bool) (*ChromData, error) {
	countPath := cfg.Data.ChromPath
	if null {
		countPath = cfg.Data.NullPath
	}
	y, err := readCountsLine(countPath, chrom, ",")
	if err != nil {
		return nil, err
	}
	regionTypes, err := readIntsLine(cfg.Data.RegionsPath, chrom)
	if err != nil {
		return nil, err
	}
	tmpl, err := LoadTemplate(cfg.Data.TemplatePath)
	if err != nil {
		return nil, err
	}
	return NewChromData(chrom, null, y, regionTypes, tmpl)
}

// NewChromData validates counts and region types, truncates both to their
// common length, and derives the region index ranges.
func NewChromData(chrom int, null bool, y []float64, regionTypes []int, tmpl Template) (*ChromData, error) {
	if len(y) == 0 {
		return nil, errors.Errorf("chrom %d: empty count vector", chrom)
	}
	if len(regionTypes) == 0 {
		return nil, errors.Errorf("chrom %d: empty region vector", chrom)
	}
	// Counts and regions may disagree in length; use the shorter.
	n := len(y)
	if len(regionTypes) < n {
		n = len(regionTypes)
	}
	y = y[:n]
	regionTypes = append([]int(nil), regionTypes[:n]...)

	for i, v := range y {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("chrom %d: invalid count %g at position %d", chrom, v, i)
		}
	}

	// Rebase region ids at 0 for array indexing.
	minID := regionTypes[0]
	for _, id := range regionTypes {
		if id < minID {
			minID = id
		}
	}
	maxID := 0
	for i := range regionTypes {
		regionTypes[i] -= minID
		if regionTypes[i] > maxID {
			maxID = regionTypes[i]
		}
	}

	regions := make([]Region, maxID+1)
	for i := range regions {
		regions[i] = Region{ID: i, Start: -1}
	}
	for pos, id := range regionTypes {
		r := &regions[id]
		if r.Start < 0 {
			r.Start = pos
		} else if pos != r.End {
			return nil, errors.Errorf("chrom %d: region %d is not contiguous at position %d", chrom, id+minID, pos)
		}
		r.End = pos + 1
	}
	for _, r := range regions {
		if r.Start < 0 {
			return nil, errors.Errorf("chrom %d: region id %d has no positions", chrom, r.ID+minID)
		}
	}

	return &ChromData{
		Chrom:       chrom,
		Null:        null,
		Y:           y,
		RegionTypes: regionTypes,
		Regions:     regions,
		Template:    tmpl,
	}, nil
}

// openMaybeGzip opens path, transparently decompressing .gz files.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, err
	}
	return &gzipReadCloser{gz: gz, f: f}, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	err := g.gz.Close()
	if e := g.f.Close(); err == nil {
		err = e
	}
	return err
}

func readLine(path string, line int) (string, error) {
	f, err := openMaybeGzip(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close() // nolint: errcheck
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<28)
	read := 0
	for sc.Scan() {
		read++
		if read == line {
			return strings.TrimSpace(sc.Text()), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return "", errors.Errorf("%s: fewer than %d lines", path, line)
}

func readCountsLine(path string, line int, sep string) ([]float64, error) {
	text, err := readLine(path, line)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(text, sep)
	y := make([]float64, 0, len(fields))
	for _, s := range fields {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d: bad count %q", path, line, s)
		}
		y = append(y, v)
	}
	return y, nil
}

func readIntsLine(path string, line int) ([]int, error) {
	text, err := readLine(path, line)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	for _, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d: bad region id %q", path, line, s)
		}
		out = append(out, v)
	}
	return out, nil
}
