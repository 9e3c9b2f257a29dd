// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Distances closer than this to the M-th distance count as ties
const matchTieTol = 1e-10

// neighbor is a candidate match and its distance to the unit being matched.
type neighbor struct {
	idx  int
	dist float64
}

// MatchEstimate estimates the average treatment effect by nearest-neighbour
// matching with replacement (Abadie-Imbens). Every unit is matched to the
// opts.NumMatches closest units of the other arm under an inverse-variance
// scaled Euclidean distance, keeping all ties at the last distance.
// rng drives the matched-balance bootstrap only.
// Returns: unadjusted and bias-adjusted estimates with standard errors and a
// per-covariate balance report
func MatchEstimate(ds *Dataset, opts MatchOptions, rng *rand.Rand) (*MatchResult, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	M := opts.NumMatches
	if M < 1 {
		return nil, fmt.Errorf("number of matches must be >= 1, got %d: %w", M, ErrConfig)
	}
	if opts.BalanceBoots < 0 {
		return nil, fmt.Errorf("balance bootstrap count must be >= 0, got %d: %w", opts.BalanceBoots, ErrConfig)
	}

	N := ds.Len()
	n1, n0 := ds.Counts()
	// M matches from the other arm, M same-arm neighbours for the variance
	if n1 <= M || n0 <= M {
		return nil, fmt.Errorf("%d treated and %d control units for %d matches: %w", n1, n0, M, ErrShape)
	}

	_, p := ds.Covariates.Dims()
	z, y := ds.Treatment, ds.Outcome

	// 1. Inverse-variance weights for the distance
	invVar := make([]float64, p)
	col := make([]float64, N)
	for j := 0; j < p; j++ {
		for i := 0; i < N; i++ {
			col[i] = ds.Covariates.At(i, j)
		}
		if v := stat.Variance(col, nil); v > 0 {
			invVar[j] = 1 / v
		}
	}
	dist := func(a, b int) float64 {
		ra, rb := ds.Covariates.RawRowView(a), ds.Covariates.RawRowView(b)
		d := 0.0
		for j := range ra {
			diff := ra[j] - rb[j]
			d += invVar[j] * diff * diff
		}
		return math.Sqrt(d)
	}

	var treated, control []int
	for i := 0; i < N; i++ {
		if z[i] == 1 {
			treated = append(treated, i)
		} else {
			control = append(control, i)
		}
	}

	// 2. Match sets J(i) from the opposite arm and the times-used weights K
	J := make([][]int, N)
	K := make([]float64, N)
	for i := 0; i < N; i++ {
		pool := control
		if z[i] == 0 {
			pool = treated
		}
		J[i] = nearest(i, pool, M, dist)
		share := 1 / float64(len(J[i]))
		for _, l := range J[i] {
			K[l] += share
		}
	}

	// 3. Per-arm regressions for the bias correction
	w1 := make([]float64, N)
	w0 := make([]float64, N)
	for i := range z {
		w1[i] = z[i]
		w0[i] = 1 - z[i]
	}
	fit1, err := FitGLM(y, ds.Covariates, GLMSpec{Family: Gaussian, Weights: w1})
	if err != nil {
		return nil, fmt.Errorf("bias correction (treated): %w", err)
	}
	fit0, err := FitGLM(y, ds.Covariates, GLMSpec{Family: Gaussian, Weights: w0})
	if err != nil {
		return nil, fmt.Errorf("bias correction (control): %w", err)
	}
	mu1, mu0 := fit1.Fitted, fit0.Fitted

	// 4. Imputed potential outcomes, with and without the correction
	y1, y0 := make([]float64, N), make([]float64, N)
	b1, b0 := make([]float64, N), make([]float64, N)
	for i := 0; i < N; i++ {
		var m, mb float64
		for _, l := range J[i] {
			m += y[l]
			if z[i] == 1 {
				mb += y[l] + mu0[i] - mu0[l]
			} else {
				mb += y[l] + mu1[i] - mu1[l]
			}
		}
		m /= float64(len(J[i]))
		mb /= float64(len(J[i]))

		if z[i] == 1 {
			y1[i], y0[i] = y[i], m
			b1[i], b0[i] = y[i], mb
		} else {
			y1[i], y0[i] = m, y[i]
			b1[i], b0[i] = mb, y[i]
		}
	}

	// 5. Conditional variances from M same-arm neighbours
	sigma2 := make([]float64, N)
	for i := 0; i < N; i++ {
		pool := treated
		if z[i] == 0 {
			pool = control
		}
		nb := nearest(i, pool, M, dist)
		mean := 0.0
		for _, l := range nb {
			mean += y[l]
		}
		mean /= float64(len(nb))
		r := y[i] - mean
		cnt := float64(len(nb))
		sigma2[i] = cnt / (cnt + 1) * r * r
	}

	res := &MatchResult{
		NumMatches:   M,
		Unadjusted:   abadieImbens(y1, y0, K, sigma2, M),
		BiasAdjusted: abadieImbens(b1, b0, K, sigma2, M),
	}

	// 6. Balance before and after matching
	for j := 0; j < p; j++ {
		res.Balance = append(res.Balance, matchBalance(ds, j, J, K, opts.BalanceBoots, rng))
	}
	return res, nil
}

// nearest returns the M closest members of pool to unit i, excluding i
// itself, plus every further member tied with the M-th distance.
func nearest(i int, pool []int, M int, dist func(a, b int) float64) []int {
	cands := make([]neighbor, 0, len(pool))
	for _, l := range pool {
		if l == i {
			continue
		}
		cands = append(cands, neighbor{idx: l, dist: dist(i, l)})
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	if M > len(cands) {
		M = len(cands)
	}
	cut := cands[M-1].dist
	out := make([]int, 0, M)
	for _, c := range cands {
		if c.dist > cut+matchTieTol {
			break
		}
		out = append(out, c.idx)
	}
	return out
}

// abadieImbens computes the matching estimate and its standard error
//
//	V = 1/N^2 sum_i [ (Y1_i - Y0_i - tau)^2 + (K_i^2 + (2M-1)/M K_i) sigma2_i ]
func abadieImbens(y1, y0, K, sigma2 []float64, M int) EffectEstimate {
	N := float64(len(y1))
	tau := 0.0
	for i := range y1 {
		tau += y1[i] - y0[i]
	}
	tau /= N

	c := float64(2*M-1) / float64(M)
	v := 0.0
	for i := range y1 {
		d := y1[i] - y0[i] - tau
		v += d*d + (K[i]*K[i]+c*K[i])*sigma2[i]
	}
	v /= N * N
	return EffectEstimate{Estimate: tau, StdError: math.Sqrt(math.Max(0, v))}
}

// matchBalance reports covariate j before matching and in the matched sample.
// In the matched sample a unit counts once for itself and K_i times as a match.
func matchBalance(ds *Dataset, j int, J [][]int, K []float64, boots int, rng *rand.Rand) MatchBalanceRow {
	N := ds.Len()
	z := ds.Treatment

	var xT, xC, wT, wC []float64
	for i := 0; i < N; i++ {
		x := ds.Covariates.At(i, j)
		if z[i] == 1 {
			xT = append(xT, x)
			wT = append(wT, 1+K[i])
		} else {
			xC = append(xC, x)
			wC = append(wC, 1+K[i])
		}
	}

	row := MatchBalanceRow{Covariate: ds.CovNames[j], BootPValue: math.NaN()}

	m1, v1 := stat.MeanVariance(xT, nil)
	m0, v0 := stat.MeanVariance(xC, nil)
	row.MeanTreated, row.MeanControl = m1, m0
	row.StdDiff = standardizedDifference(m1, m0, v1, v0)
	row.PValue = roundBalance(balancePValue(xT, xC))

	mm1, mv1 := stat.MeanVariance(xT, wT)
	mm0, mv0 := stat.MeanVariance(xC, wC)
	row.MatchedMeanTreated, row.MatchedMeanControl = mm1, mm0
	row.MatchedStdDiff = standardizedDifference(mm1, mm0, mv1, mv0)

	if boots == 0 || rng == nil {
		return row
	}

	// Pair differences: unit i against the mean of its matches
	d := make([]float64, N)
	for i := 0; i < N; i++ {
		m := 0.0
		for _, l := range J[i] {
			m += ds.Covariates.At(l, j)
		}
		m /= float64(len(J[i]))
		x := ds.Covariates.At(i, j)
		if z[i] == 1 {
			d[i] = x - m
		} else {
			d[i] = m - x
		}
	}
	obs := stat.Mean(d, nil)

	// Centered pair bootstrap of the mean difference
	extreme := 0
	for b := 0; b < boots; b++ {
		s := 0.0
		for k := 0; k < N; k++ {
			s += d[rng.IntN(N)]
		}
		if math.Abs(s/float64(N)-obs) >= math.Abs(obs)-matchTieTol {
			extreme++
		}
	}
	row.BootPValue = float64(extreme) / float64(boots)
	return row
}
