package cluster

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when a component covariance cannot be
// factorised even after regularisation.
var ErrNotPositiveDefinite = errors.New("covariance not positive definite")

// GMM fits a full-covariance Gaussian mixture by expectation maximisation.
type GMM struct {
	Components int
	MaxIter    int
	Tol        float64 // on the change of mean log-likelihood
	RegCovar   float64 // added to every covariance diagonal
}

// GMMResult is a fitted mixture.
type GMMResult struct {
	Labels        []int
	Weights       []float64
	Means         [][]float64
	LogLikelihood float64 // mean per sample
	BIC           float64
	Iterations    int
	Converged     bool
}

// DefaultGMM returns the settings used across the analyzer.
func DefaultGMM(components int) GMM {
	return GMM{Components: components, MaxIter: 100, Tol: 1e-3, RegCovar: 1e-6}
}

// minComponentWeight keeps empty components from dividing by zero.
const minComponentWeight = 10 * 0x1p-52

type gaussian struct {
	weight float64
	mean   []float64
	chol   mat.Cholesky
	logDet float64
}

// Fit runs EM from a Ward partition and labels every point with its most
// responsible component. The fit is deterministic.
func (g GMM) Fit(points [][]float64) (GMMResult, error) {
	n := len(points)
	if n == 0 {
		return GMMResult{}, errors.New("no points")
	}
	k := min(max(g.Components, 1), n)
	maxIter := max(g.MaxIter, 1)

	start := Ward(points, k)
	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
		resp[i][start[i]] = 1
	}

	comps, err := g.mStep(points, resp)
	if err != nil {
		return GMMResult{}, err
	}

	res := GMMResult{}
	lowerBound := math.Inf(-1)
	for res.Iterations < maxIter {
		res.Iterations++

		ll := eStep(points, comps, resp)
		if comps, err = g.mStep(points, resp); err != nil {
			return GMMResult{}, fmt.Errorf("iteration %d: %w", res.Iterations, err)
		}

		change := ll - lowerBound
		lowerBound = ll
		if math.Abs(change) < g.Tol {
			res.Converged = true
			break
		}
	}

	res.LogLikelihood = eStep(points, comps, resp)
	res.Labels = make([]int, n)
	for i, r := range resp {
		res.Labels[i] = floats.MaxIdx(r)
	}

	d := len(points[0])
	res.BIC = -2*res.LogLikelihood*float64(n) + float64(gmmParams(k, d))*math.Log(float64(n))
	for _, c := range comps {
		res.Weights = append(res.Weights, c.weight)
		res.Means = append(res.Means, c.mean)
	}
	return res, nil
}

// gmmParams counts free parameters of a full-covariance mixture.
func gmmParams(k, d int) int {
	return k*d + k*d*(d+1)/2 + k - 1
}

func (g GMM) mStep(points [][]float64, resp [][]float64) ([]gaussian, error) {
	n, d, k := len(points), len(points[0]), len(resp[0])

	comps := make([]gaussian, k)
	for c := 0; c < k; c++ {
		nk := minComponentWeight
		for i := range points {
			nk += resp[i][c]
		}

		mean := make([]float64, d)
		for i, p := range points {
			floats.AddScaled(mean, resp[i][c], p)
		}
		floats.Scale(1/nk, mean)

		cov := mat.NewSymDense(d, nil)
		diff := make([]float64, d)
		for i, p := range points {
			if resp[i][c] == 0 {
				continue
			}
			floats.SubTo(diff, p, mean)
			cov.SymRankOne(cov, resp[i][c]/nk, mat.NewVecDense(d, diff))
		}
		for j := 0; j < d; j++ {
			cov.SetSym(j, j, cov.At(j, j)+g.RegCovar)
		}

		comps[c].weight = nk / float64(n)
		comps[c].mean = mean
		if ok := comps[c].chol.Factorize(cov); !ok {
			return nil, fmt.Errorf("component %d: %w", c, ErrNotPositiveDefinite)
		}
		comps[c].logDet = comps[c].chol.LogDet()
	}
	return comps, nil
}

// eStep fills resp with posterior probabilities and returns the mean
// log-likelihood.
func eStep(points [][]float64, comps []gaussian, resp [][]float64) float64 {
	d := len(points[0])
	logNorm := float64(d) * math.Log(2*math.Pi)

	diff := mat.NewVecDense(d, nil)
	sol := mat.NewVecDense(d, nil)
	logp := make([]float64, len(comps))

	var total float64
	for i, p := range points {
		for c := range comps {
			floats.SubTo(diff.RawVector().Data, p, comps[c].mean)
			maha := math.Inf(1)
			// An ill-conditioned solve still yields a usable result.
			var cond mat.Condition
			if err := comps[c].chol.SolveVecTo(sol, diff); err == nil || errors.As(err, &cond) {
				maha = mat.Dot(diff, sol)
			}
			logp[c] = math.Log(comps[c].weight) - 0.5*(logNorm+comps[c].logDet+maha)
		}

		lse := floats.LogSumExp(logp)
		total += lse
		for c := range comps {
			resp[i][c] = math.Exp(logp[c] - lse)
		}
	}
	return total / float64(len(points))
}
