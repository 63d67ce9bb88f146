package deconv

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Template is the spatial kernel relating one unit of latent occupancy to
// the observed read-center counts at neighboring positions.  Its support is
// odd and centered: entry i contributes at offset i - Radius().
type Template struct {
	w    []float64
	mass float64
}

// NewTemplate validates and wraps a kernel vector.  Values must be
// non-negative and finite with positive total mass, and the support must be
// odd so that the kernel has a center position.
func NewTemplate(w []float64) (Template, error) {
	if len(w) == 0 {
		return Template{}, errors.New("template: empty kernel")
	}
	if len(w)%2 == 0 {
		return Template{}, errors.Errorf("template: support must be odd, got %d", len(w))
	}
	mass := 0.0
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Template{}, errors.Errorf("template: invalid value %g at offset %d", v, i-len(w)/2)
		}
		mass += v
	}
	if mass <= 0 {
		return Template{}, errors.New("template: zero total mass")
	}
	return Template{w: append([]float64(nil), w...), mass: mass}, nil
}

// Radius returns the half-width of the kernel support.
func (t Template) Radius() int { return len(t.w) / 2 }

// Len returns the full support width.
func (t Template) Len() int { return len(t.w) }

// Mass returns the kernel's total mass.
func (t Template) Mass() float64 { return t.mass }

// At returns the kernel value at the given offset from center,
// zero outside the support.
func (t Template) At(offset int) float64 {
	i := offset + t.Radius()
	if i < 0 || i >= len(t.w) {
		return 0
	}
	return t.w[i]
}

// ConvolveSame convolves x with the kernel, same-length output.  out must
// have len(x); it is overwritten.
func (t Template) ConvolveSame(x, out []float64) {
	r := t.Radius()
	for i := range out {
		s := 0.0
		lo := i - r
		if lo < 0 {
			lo = 0
		}
		hi := i + r
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		for j := lo; j <= hi; j++ {
			s += t.w[i-j+r] * x[j]
		}
		out[i] = s
	}
}

// ReadTemplate parses a whitespace-delimited kernel, one value per line.
func ReadTemplate(r io.Reader) (Template, error) {
	var w []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, field := range strings.Fields(line) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Template{}, errors.Wrapf(err, "template: bad value %q", field)
			}
			w = append(w, v)
		}
	}
	if err := sc.Err(); err != nil {
		return Template{}, errors.Wrap(err, "template")
	}
	return NewTemplate(w)
}

// LoadTemplate reads a kernel from a file.
func LoadTemplate(path string) (Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return Template{}, errors.Wrapf(err, "template: open %s", path)
	}
	defer f.Close() // nolint: errcheck
	t, err := ReadTemplate(f)
	if err != nil {
		return Template{}, errors.Wrapf(err, "template: %s", path)
	}
	return t, nil
}
