package deconv

import (
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// testChromData builds a small single-region dataset with pseudo-random
// counts.
func testChromData(t *testing.T, n int, seed uint64) *ChromData {
	t.Helper()
	tmpl := testTemplate(t)
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	regionTypes := make([]int, n)
	for i := range y {
		y[i] = float64(rng.Intn(6))
	}
	d, err := NewChromData(1, false, y, regionTypes, tmpl)
	expect.NoError(t, err)
	return d
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	d := testChromData(t, 40, 7)
	n := d.Length()
	mu := []float64{-0.2}
	sigmasq := []float64{0.8}

	theta := make([]float64, n)
	rng := rand.New(rand.NewSource(11))
	for j := range theta {
		theta[j] = 0.3*rng.Float64() - 0.4
	}

	win := windowFor(Block{Start: 0, End: n, PadStart: 0, PadEnd: n}, d.Template.Radius(), n)
	b := make([]float64, n)
	lambda := make([]float64, n)
	condMean(theta, d.Template, b, lambda)
	g := make([]float64, n)
	gradient(theta, d.Y, b, lambda, d.Template, d.RegionTypes, mu, sigmasq, win.SLo, win.SHi, g)

	const h = 1e-6
	for j := 0; j < n; j++ {
		up := append([]float64(nil), theta...)
		dn := append([]float64(nil), theta...)
		up[j] += h
		dn[j] -= h
		fd := (penLogLik(up, d.Y, d.Template, d.RegionTypes, mu, sigmasq, win.LLLo, win.LLHi, win.SLo, win.SHi) -
			penLogLik(dn, d.Y, d.Template, d.RegionTypes, mu, sigmasq, win.LLLo, win.LLHi, win.SLo, win.SHi)) / (2 * h)
		if math.Abs(fd-g[j]) > 1e-4*(1+math.Abs(fd)) {
			t.Errorf("position %d: gradient %g, finite difference %g", j, g[j], fd)
		}
	}
}

func TestInformationDiagMatchesDense(t *testing.T) {
	d := testChromData(t, 30, 3)
	n := d.Length()
	sigmasq := []float64{1}
	theta := make([]float64, n)
	for j := range theta {
		theta[j] = math.Log(d.Y[j] + 1)
	}
	win := windowFor(Block{Start: 0, End: n, PadStart: 0, PadEnd: n}, d.Template.Radius(), n)

	b := make([]float64, n)
	lambda := make([]float64, n)
	condMean(theta, d.Template, b, lambda)

	diag := make([]float64, n)
	informationDiag(theta, d.Y, b, lambda, d.Template, d.RegionTypes, sigmasq, win.SLo, win.SHi, diag)

	info := mat.NewSymDense(n, nil)
	information(theta, d.Y, b, lambda, d.Template, d.RegionTypes, sigmasq, win.SLo, win.SHi, info)
	for j := 0; j < n; j++ {
		if math.Abs(diag[j]-info.At(j, j)) > 1e-10 {
			t.Errorf("position %d: diag %g, dense diagonal %g", j, diag[j], info.At(j, j))
		}
	}
}

func TestObjectiveFinite(t *testing.T) {
	d := testChromData(t, 25, 5)
	theta := make([]float64, d.Length())
	priorMeans := []float64{-0.1}
	obj := objective(d, theta, []float64{-0.1}, []float64{0.5}, priorMeans, Prior{K0: 1, A0: 2, B0: 1})
	expect.False(t, math.IsNaN(obj) || math.IsInf(obj, 0))
}
