package summarize

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/chromstat/occupancy/deconv"
)

// GaussianWindow builds a normalized Gaussian kernel of half-width h and
// standard deviation sigma.
func GaussianWindow(h int, sigma float64) []float64 {
	w := make([]float64, 2*h+1)
	sum := 0.0
	for i := range w {
		d := float64(i - h)
		w[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// FindMaxima flags strict low-high-low local maxima.  With boundary set,
// the endpoints qualify when they exceed their single neighbor.
func FindMaxima(x []float64, boundary bool) []bool {
	n := len(x)
	maxima := make([]bool, n)
	for i := 1; i < n-1; i++ {
		maxima[i] = x[i] > x[i-1] && x[i+1] < x[i]
	}
	if boundary && n > 1 {
		maxima[0] = x[1] < x[0]
		maxima[n-1] = x[n-1] > x[n-2]
	}
	return maxima
}

// GreedyMaximaSearch picks local maxima of x in descending value order,
// skipping any candidate within minSpacing of an already-selected peak.
// removeBoundary positions at each end are excluded.  Returns the selected
// positions in ascending order.
func GreedyMaximaSearch(x []float64, minSpacing, removeBoundary int) []int {
	var candidates []int
	for i, isMax := range FindMaxima(x, false) {
		if isMax && i >= removeBoundary && i < len(x)-removeBoundary {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(a, b int) bool { return x[candidates[a]] > x[candidates[b]] })

	peaks := []int{candidates[0]}
	for _, cand := range candidates[1:] {
		minDist := math.MaxInt32
		for _, p := range peaks {
			d := cand - p
			if d < 0 {
				d = -d
			}
			if d < minDist {
				minDist = d
			}
		}
		if minDist > minSpacing {
			peaks = append(peaks, cand)
		}
	}
	sort.Ints(peaks)
	return peaks
}

// convolveSame convolves x with an odd centered window, same-length output.
func convolveSame(x, window []float64) []float64 {
	h := len(window) / 2
	out := make([]float64, len(x))
	for i := range x {
		s := 0.0
		for j := -h; j <= h; j++ {
			k := i + j
			if k < 0 || k >= len(x) {
				continue
			}
			s += window[h-j] * x[k]
		}
		out[i] = s
	}
	return out
}

// ClusterCenters finds cluster centers by Parzen smoothing of the
// occupancy profile followed by a spacing-constrained greedy maximum
// search.  Edge correction divides by the window mass inside the sequence,
// making the smoothing a local mean near the boundaries.
func ClusterCenters(x, window []float64, minSpacing int, edgeCorrection bool) []int {
	s := convolveSame(x, window)
	if edgeCorrection {
		ones := make([]float64, len(x))
		for i := range ones {
			ones[i] = 1
		}
		baseline := convolveSame(ones, window)
		for i := range s {
			s[i] /= baseline[i]
		}
	}
	return GreedyMaximaSearch(s, minSpacing, minSpacing/2)
}

// CondenseDetections merges adjacent detected positions (gap < 2) into
// count-weighted centers, repeating until all centers are at least 2 apart.
// Returns the centers with the number of detections behind each.
func CondenseDetections(detected []int) (centers []float64, counts []int) {
	centers = make([]float64, len(detected))
	counts = make([]int, len(detected))
	for i, d := range detected {
		centers[i] = float64(d)
		counts[i] = 1
	}
	for {
		first := -1
		for i := 0; i+1 < len(centers); i++ {
			if centers[i+1]-centers[i] < 2 {
				first = i
				break
			}
		}
		if first < 0 {
			return centers, counts
		}
		last := first + 1
		for last < len(centers) && centers[last]-centers[last-1] < 2 {
			last++
		}
		wsum, nsum := 0.0, 0
		for i := first; i < last; i++ {
			wsum += centers[i] * float64(counts[i])
			nsum += counts[i]
		}
		merged := append(centers[:first], wsum/float64(nsum))
		centers = append(merged, centers[last:]...)
		mergedN := append(counts[:first], nsum)
		counts = append(mergedN, counts[last:]...)
	}
}

// Cluster is the posterior summary of one detected cluster.
type Cluster struct {
	Center int
	Length int
	// Occupancy is the posterior mean total occupancy in the cluster
	// window; the SE fields are posterior standard deviations of the
	// per-draw statistics.
	Occupancy      float64
	OccupancySE    float64
	Localization   float64
	LocalizationSE float64
	Structure      float64
	StructureSE    float64
	// Sparsity and NLarge are indexed by Opts.QSparsity and
	// Opts.PThreshold respectively.
	Sparsity   []float64
	SparsitySE []float64
	NLarge     []float64
	NLargeSE   []float64
}

// SummarizeClusters clusters the posterior mean occupancy profile and
// computes per-draw localization, structure, and sparsity indices within a
// fixed window around each center, reporting their posterior means and
// standard deviations.
func SummarizeClusters(ds *deconv.DrawSet, opts Opts) ([]Cluster, error) {
	T := ds.PostBurnin()
	if T < 2 {
		return nil, errors.Errorf("summarize: need at least 2 post-burn-in draws, got %d", T)
	}
	draws := ds.Theta[ds.NBurnin:]
	n := len(draws[0])
	h := opts.ClusterWidth / 2

	bMean := make([]float64, n)
	for k := 0; k < n; k++ {
		for t := 0; t < T; t++ {
			bMean[k] += math.Exp(draws[t][k])
		}
		bMean[k] /= float64(T)
	}

	window := GaussianWindow(h, opts.ClusterBw)
	centers := ClusterCenters(bMean, window, opts.ClusterMinSpace, true)

	clusters := make([]Cluster, 0, len(centers))
	occ := make([]float64, T)
	loc := make([]float64, T)
	str := make([]float64, T)
	spq := make([][]float64, len(opts.QSparsity))
	nlp := make([][]float64, len(opts.PThreshold))
	for i := range spq {
		spq[i] = make([]float64, T)
	}
	for i := range nlp {
		nlp[i] = make([]float64, T)
	}
	for _, center := range centers {
		lo := center - h
		if lo < 0 {
			lo = 0
		}
		hi := center + h + 1
		if hi > n {
			hi = n
		}
		size := hi - lo

		b := make([]float64, size)
		p := make([]float64, size)
		for t := 0; t < T; t++ {
			sum := 0.0
			for j := 0; j < size; j++ {
				b[j] = math.Exp(draws[t][lo+j])
				sum += b[j]
			}
			occ[t] = sum
			for j := range p {
				p[j] = b[j] / sum
			}
			loc[t] = localizationIndex(p)
			str[t] = structureIndex(p)
			for i, q := range opts.QSparsity {
				spq[i][t] = sparsityIndex(p, q)
			}
			for i, pt := range opts.PThreshold {
				nlp[i][t] = float64(nLarge(p, pt))
			}
		}

		cl := Cluster{Center: center, Length: size}
		cl.Occupancy = mean(occ)
		cl.OccupancySE = stddev(occ, cl.Occupancy)
		cl.Localization = mean(loc)
		cl.LocalizationSE = stddev(loc, cl.Localization)
		cl.Structure = mean(str)
		cl.StructureSE = stddev(str, cl.Structure)
		for i := range opts.QSparsity {
			m := mean(spq[i])
			cl.Sparsity = append(cl.Sparsity, m)
			cl.SparsitySE = append(cl.SparsitySE, stddev(spq[i], m))
		}
		for i := range opts.PThreshold {
			m := mean(nlp[i])
			cl.NLarge = append(cl.NLarge, m)
			cl.NLargeSE = append(cl.NLargeSE, stddev(nlp[i], m))
		}
		clusters = append(clusters, cl)
	}
	return clusters, nil
}

// localizationIndex measures spread from the cluster's probability-weighted
// center as 1 - MAD/(n/4): 1 for a single spike, negative for mass split
// between the boundaries.
func localizationIndex(p []float64) float64 {
	center := 0.0
	for j, pj := range p {
		center += float64(j) * pj
	}
	mad := 0.0
	for j, pj := range p {
		mad += pj * math.Abs(float64(j)-center)
	}
	return 1 - mad/(float64(len(p))/4)
}

// structureIndex is the entropy-based counterpart: 1 - E/log2(n), with 0
// for a locally uniform profile and 1 for a spike.
func structureIndex(p []float64) float64 {
	e := 0.0
	for _, pj := range p {
		if pj > 0 {
			e -= pj * math.Log2(pj)
		}
	}
	return 1 - e/math.Log2(float64(len(p)))
}

// sparsityIndex is 1 - n_q/(q*n), where n_q is the number of top positions
// needed to capture q of the cluster's mass.
func sparsityIndex(p []float64, q float64) float64 {
	sorted := append([]float64(nil), p...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	cum := 0.0
	nq := 0
	for _, v := range sorted {
		cum += v
		if cum >= q {
			break
		}
		nq++
	}
	return 1 - float64(nq)/(q*float64(len(p)))
}

// nLarge counts positions holding more than threshold of the total mass.
func nLarge(p []float64, threshold float64) int {
	n := 0
	for _, v := range p {
		if v > threshold {
			n++
		}
	}
	return n
}
