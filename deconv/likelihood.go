package deconv

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// The observation model is a Poisson convolution with log-link:
//
//   y_i ~ Poisson(lambda_i),  lambda_i = sum_j template[i-j] * exp(theta_j)
//
// penalized by a conditional Normal prior theta_j ~ N(mu_r(j), sigmasq_r(j))
// within each region, with (mu_r, sigmasq_r) under a Normal-Inverse-Gamma
// hyperprior.  All functions below operate on a padded block window in local
// coordinates: theta, y, and regionTypes are slices over [PadStart, PadEnd),
// and [sLo, sHi) marks the owned interior whose coefficients are being
// updated.  mu and sigmasq are indexed by the global region id stored in
// regionTypes.

// condMean fills lambda with the convolution of exp(theta) and the template
// over the local window.
func condMean(theta []float64, tmpl Template, b, lambda []float64) {
	for j, th := range theta {
		b[j] = math.Exp(th)
	}
	tmpl.ConvolveSame(b, lambda)
}

// poissonLogLik returns sum over [lo, hi) of y*log(lambda) - lambda,
// dropping the data-only factorial constant.
func poissonLogLik(y, lambda []float64, lo, hi int) float64 {
	ll := 0.0
	for i := lo; i < hi; i++ {
		if y[i] > 0 {
			ll += y[i] * math.Log(lambda[i])
		}
		ll -= lambda[i]
	}
	return ll
}

// penLogLik returns the block objective: Poisson log-likelihood over
// [llLo, llHi) plus the Normal penalty on the coefficients in [sLo, sHi).
// The likelihood range is every count the owned coefficients touch (owned
// range plus template radius); the local window must extend a further
// radius beyond it so lambda is exact there.
func penLogLik(theta, y []float64, tmpl Template, regionTypes []int, mu, sigmasq []float64, llLo, llHi, sLo, sHi int) float64 {
	n := len(theta)
	b := make([]float64, n)
	lambda := make([]float64, n)
	condMean(theta, tmpl, b, lambda)
	ll := poissonLogLik(y, lambda, llLo, llHi)
	for j := sLo; j < sHi; j++ {
		r := regionTypes[j]
		d := theta[j] - mu[r]
		ll -= d * d / (2 * sigmasq[r])
	}
	return ll
}

// gradient fills g (length sHi-sLo) with the derivative of the penalized
// objective with respect to the interior coefficients.  b and lambda must
// already hold exp(theta) and its convolution.
func gradient(theta, y, b, lambda []float64, tmpl Template, regionTypes []int, mu, sigmasq []float64, sLo, sHi int, g []float64) {
	r := tmpl.Radius()
	n := len(theta)
	for j := sLo; j < sHi; j++ {
		s := 0.0
		lo := j - r
		if lo < 0 {
			lo = 0
		}
		hi := j + r
		if hi > n-1 {
			hi = n - 1
		}
		for i := lo; i <= hi; i++ {
			s += tmpl.At(i-j) * (y[i]/lambda[i] - 1)
		}
		reg := regionTypes[j]
		g[j-sLo] = b[j]*s - (theta[j]-mu[reg])/sigmasq[reg]
	}
}

// information fills info with the observed information (negative Hessian) of
// the penalized objective over the interior coefficients.  The matrix is
// banded with bandwidth 2*radius; entries outside the band are zero.
func information(theta, y, b, lambda []float64, tmpl Template, regionTypes []int, sigmasq []float64, sLo, sHi int, info *mat.SymDense) {
	r := tmpl.Radius()
	n := len(theta)
	m := sHi - sLo
	for jj := 0; jj < m; jj++ {
		j := sLo + jj
		kmax := jj + 2*r
		if kmax > m-1 {
			kmax = m - 1
		}
		for kk := jj; kk <= kmax; kk++ {
			k := sLo + kk
			lo := j - r
			if k-r > lo {
				lo = k - r
			}
			if lo < 0 {
				lo = 0
			}
			hi := j + r
			if k+r < hi {
				hi = k + r
			}
			if hi > n-1 {
				hi = n - 1
			}
			s := 0.0
			for i := lo; i <= hi; i++ {
				s += tmpl.At(i-j) * tmpl.At(i-k) * y[i] / (lambda[i] * lambda[i])
			}
			v := b[j] * b[k] * s
			if jj == kk {
				// Diagonal picks up the score term and the prior curvature.
				gs := 0.0
				glo := j - r
				if glo < 0 {
					glo = 0
				}
				ghi := j + r
				if ghi > n-1 {
					ghi = n - 1
				}
				for i := glo; i <= ghi; i++ {
					gs += tmpl.At(i-j) * (y[i]/lambda[i] - 1)
				}
				v -= b[j] * gs
				v += 1 / sigmasq[regionTypes[j]]
			}
			info.SetSym(jj, kk, v)
		}
	}
}

// informationDiag fills diag (length sHi-sLo) with the diagonal of the
// observed information, the memory-bounded curvature approximation.
func informationDiag(theta, y, b, lambda []float64, tmpl Template, regionTypes []int, sigmasq []float64, sLo, sHi int, diag []float64) {
	r := tmpl.Radius()
	n := len(theta)
	for j := sLo; j < sHi; j++ {
		lo := j - r
		if lo < 0 {
			lo = 0
		}
		hi := j + r
		if hi > n-1 {
			hi = n - 1
		}
		curv, score := 0.0, 0.0
		for i := lo; i <= hi; i++ {
			w := tmpl.At(i - j)
			curv += w * w * y[i] / (lambda[i] * lambda[i])
			score += w * (y[i]/lambda[i] - 1)
		}
		diag[j-sLo] = b[j]*b[j]*curv - b[j]*score + 1/sigmasq[regionTypes[j]]
	}
}

// nigLogPrior returns the log Normal-Inverse-Gamma prior density of the
// region parameters, dropping constants.
func nigLogPrior(mu, sigmasq []float64, priorMeans []float64, p Prior) float64 {
	lp := 0.0
	for r := range mu {
		d := mu[r] - priorMeans[r]
		lp += -(p.A0+1.5)*math.Log(sigmasq[r]) - p.B0/sigmasq[r] - p.K0*d*d/(2*sigmasq[r])
	}
	return lp
}

// objective returns the full penalized log posterior for convergence
// tracking and the monotonicity guarantee: Poisson log-likelihood plus the
// Normal penalty on every coefficient plus the NIG hyperprior.
func objective(d *ChromData, theta, mu, sigmasq, priorMeans []float64, p Prior) float64 {
	n := d.Length()
	b := make([]float64, n)
	lambda := make([]float64, n)
	condMean(theta, d.Template, b, lambda)
	ll := poissonLogLik(d.Y, lambda, 0, n)
	for j := 0; j < n; j++ {
		r := d.RegionTypes[j]
		diff := theta[j] - mu[r]
		ll -= 0.5*math.Log(sigmasq[r]) + diff*diff/(2*sigmasq[r])
	}
	return ll + nigLogPrior(mu, sigmasq, priorMeans, p)
}
