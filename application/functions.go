// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Validate checks a model specification before any fitting happens.
func (spec ModelSpec) Validate() error {
	t := spec.Truncation
	if t.Lower < 0 || t.Upper > 1 || t.Lower >= t.Upper {
		return fmt.Errorf("truncation must satisfy 0 <= lower < upper <= 1, got [%v, %v]: %w", t.Lower, t.Upper, ErrConfig)
	}
	if spec.NumStrata < 1 {
		return fmt.Errorf("number of strata must be >= 1, got %d: %w", spec.NumStrata, ErrConfig)
	}
	if spec.Link != Gaussian && spec.Link != Binomial {
		return fmt.Errorf("unknown outcome family %d: %w", spec.Link, ErrConfig)
	}
	return nil
}

func (e *ObsEstimator) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Estimate computes the six point estimates of the average treatment effect,
// the propensity strata and the covariate balance table.
// ds: Dataset with treatment, outcome and covariates
// spec: ModelSpec with the model knobs
// Returns: EstimateResult, or an error naming the stage that failed
func (e *ObsEstimator) Estimate(ctx context.Context, ds *Dataset, spec ModelSpec) (*EstimateResult, error) {
	ctx, span := tracer.Start(ctx, "Estimate")
	defer span.End()

	res, err := e.estimate(ctx, ds, spec, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("units", ds.Len()),
		attribute.Int("strata.realized", res.Realized),
	)
	return res, nil
}

// estimate is the point-estimate engine. The bootstrap calls it with
// withBalance == false since it discards the balance table anyway.
func (e *ObsEstimator) estimate(ctx context.Context, ds *Dataset, spec ModelSpec, withBalance bool) (*EstimateResult, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	N := ds.Len()
	if N < spec.NumStrata {
		return nil, fmt.Errorf("%d units for %d strata: %w", N, spec.NumStrata, ErrShape)
	}
	z, y := ds.Treatment, ds.Outcome

	// 1. Propensity model: logistic regression of treatment on covariates
	propTerms := LinearTerms
	if spec.QuadraticPropensity {
		propTerms = QuadraticTerms
	}
	start := time.Now()
	propFit, err := FitGLM(z, ds.Covariates, GLMSpec{Family: Binomial, Terms: propTerms})
	if err != nil {
		return nil, fmt.Errorf("propensity fit: %w", err)
	}
	e.Metrics.observeFit("propensity", propFit, time.Since(start))
	if withBalance {
		e.logger().Debug("propensity model fitted",
			"iterations", propFit.Iterations, "deviance", propFit.Deviance)
	}

	ps := make([]float64, N)
	for i, p := range propFit.Fitted {
		ps[i] = spec.Truncation.Clip(p)
	}

	// 2. Outcome models, one per arm through case weights, evaluated for everyone
	outTerms := LinearTerms
	if spec.QuadraticOutcome {
		outTerms = QuadraticTerms
	}
	w1 := make([]float64, N)
	w0 := make([]float64, N)
	for i := range z {
		w1[i] = z[i]
		w0[i] = 1 - z[i]
	}

	start = time.Now()
	fit1, err := FitGLM(y, ds.Covariates, GLMSpec{Family: spec.Link, Terms: outTerms, Weights: w1})
	if err != nil {
		return nil, fmt.Errorf("outcome fit (treated): %w", err)
	}
	e.Metrics.observeFit("outcome_treated", fit1, time.Since(start))

	start = time.Now()
	fit0, err := FitGLM(y, ds.Covariates, GLMSpec{Family: spec.Link, Terms: outTerms, Weights: w0})
	if err != nil {
		return nil, fmt.Errorf("outcome fit (control): %w", err)
	}
	e.Metrics.observeFit("outcome_control", fit0, time.Since(start))

	mu1, mu0 := fit1.Fitted, fit0.Fitted

	var est Estimates

	// 3. Regression imputation
	diff := make([]float64, N)
	floats.SubTo(diff, mu1, mu0)
	est[RegImpute] = stat.Mean(diff, nil)

	// 4-6. Weighting estimators
	var (
		ht, dr                 float64
		num1, den1, num0, den0 float64
	)
	for i := 0; i < N; i++ {
		e1 := z[i] / ps[i]
		e0 := (1 - z[i]) / (1 - ps[i])

		ht += e1*y[i] - e0*y[i]
		dr += e1*(y[i]-mu1[i]) - e0*(y[i]-mu0[i])

		num1 += e1 * y[i]
		den1 += e1
		num0 += e0 * y[i]
		den0 += e0
	}
	est[IPW1] = ht / float64(N)
	est[IPW2] = num1/den1 - num0/den0
	est[DoublyRobust] = est[RegImpute] + dr/float64(N)

	// 7-8. Stratification and balance
	strata, balance, err := stratify(ctx, ds, ps, spec, withBalance)
	if err != nil {
		return nil, err
	}
	for _, s := range strata {
		est[StratUnadj] += s.Weight * s.Unadjusted
		est[StratAdj] += s.Weight * s.Adjusted
	}

	return &EstimateResult{
		Estimates:  est,
		Propensity: ps,
		Mu1:        mu1,
		Mu0:        mu0,
		Strata:     strata,
		Balance:    balance,
		NumStrata:  spec.NumStrata,
		Realized:   len(strata),
	}, nil
}

// stratumBreaks returns the bin boundaries for k strata of the scores:
// -Inf, the k-1 quantile cut-points at j/k, +Inf. Equal cut-points are
// collapsed, so fewer than k bins may come back.
func stratumBreaks(ps []float64, k int) []float64 {
	breaks := []float64{math.Inf(-1)}
	for j := 1; j < k; j++ {
		c := empiricalQuantile(ps, float64(j)/float64(k))
		if c > breaks[len(breaks)-1] {
			breaks = append(breaks, c)
		}
	}
	return append(breaks, math.Inf(1))
}

// assignStrata maps each score to its bin (breaks[b], breaks[b+1]].
func assignStrata(ps, breaks []float64) []int {
	upper := breaks[1:]
	bins := make([]int, len(ps))
	for i, p := range ps {
		bins[i] = sort.SearchFloat64s(upper, p)
	}
	return bins
}

// stratify bins units by propensity score and computes the per-stratum
// unadjusted and covariate-adjusted effects and, optionally, the balance table.
// Single-arm strata keep their weight but contribute zero effect.
func stratify(ctx context.Context, ds *Dataset, ps []float64, spec ModelSpec, withBalance bool) ([]StratumResult, *BalanceTable, error) {
	_, span := tracer.Start(ctx, "stratify")
	defer span.End()

	N := ds.Len()
	_, p := ds.Covariates.Dims()

	breaks := stratumBreaks(ps, spec.NumStrata)
	bins := assignStrata(ps, breaks)

	members := make([][]int, len(breaks)-1)
	for i, b := range bins {
		members[b] = append(members[b], i)
	}

	var balance *BalanceTable
	if withBalance {
		balance = &BalanceTable{
			Covariates: ds.CovNames,
			PValues:    make([][]float64, p),
		}
	}

	var strata []StratumResult
	for b, idx := range members {
		if len(idx) == 0 {
			continue
		}
		s := StratumResult{
			Index:        len(strata),
			Lower:        breaks[b],
			Upper:        breaks[b+1],
			N:            len(idx),
			Weight:       float64(len(idx)) / float64(N),
			InteractionF: math.NaN(),
			InteractionP: math.NaN(),
		}

		var yT, yC []float64
		for _, i := range idx {
			if ds.Treatment[i] == 1 {
				yT = append(yT, ds.Outcome[i])
			} else {
				yC = append(yC, ds.Outcome[i])
			}
		}
		s.NTreated, s.NControl = len(yT), len(yC)

		if s.NTreated == 0 || s.NControl == 0 {
			s.Degenerate = true
		} else {
			s.Unadjusted = stat.Mean(yT, nil) - stat.Mean(yC, nil)
			adj, err := adjustedStratumEffect(ds, idx, &s, spec.DropAliased)
			if err != nil {
				recordSpanError(span, err)
				return nil, nil, fmt.Errorf("stratum %d regression: %w", s.Index, err)
			}
			s.Adjusted = adj
		}

		if balance != nil {
			for j := 0; j < p; j++ {
				var xT, xC []float64
				for _, i := range idx {
					if ds.Treatment[i] == 1 {
						xT = append(xT, ds.Covariates.At(i, j))
					} else {
						xC = append(xC, ds.Covariates.At(i, j))
					}
				}
				balance.PValues[j] = append(balance.PValues[j], roundBalance(balancePValue(xT, xC)))
			}
		}

		strata = append(strata, s)
	}

	span.SetAttributes(
		attribute.Int("strata.requested", spec.NumStrata),
		attribute.Int("strata.realized", len(strata)),
	)
	return strata, balance, nil
}

// adjustedStratumEffect regresses the outcome on (1, T, Xc, T*Xc) inside one
// stratum, with Xc the covariates centered at the stratum means, and returns
// the coefficient on T. It also fills in the F-test of the interaction block.
func adjustedStratumEffect(ds *Dataset, idx []int, s *StratumResult, dropAliased bool) (float64, error) {
	n := len(idx)
	_, p := ds.Covariates.Dims()

	// Stratum covariate means
	means := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for k, i := range idx {
			col[k] = ds.Covariates.At(i, j)
		}
		means[j] = stat.Mean(col, nil)
	}

	// Columns: 0 intercept, 1 treatment, 2..p+1 centered covariates,
	// p+2..2p+1 interactions
	m := 2 + 2*p
	D := mat.NewDense(n, m, nil)
	y := make([]float64, n)
	for k, i := range idx {
		t := ds.Treatment[i]
		D.Set(k, 0, 1)
		D.Set(k, 1, t)
		for j := 0; j < p; j++ {
			xc := ds.Covariates.At(i, j) - means[j]
			D.Set(k, 2+j, xc)
			D.Set(k, 2+p+j, t*xc)
		}
		y[k] = ds.Outcome[i]
	}

	keep := make([]int, m)
	for j := range keep {
		keep[j] = j
	}
	if dropAliased {
		var err error
		keep, err = identifiableColumns(D, 2)
		if err != nil {
			return 0, err
		}
	}

	full := selectColumns(D, keep)
	beta, rssFull, err := olsFit(full, y)
	if err != nil {
		return 0, err
	}

	// Interaction F-test: restricted model drops the T*Xc block
	var restrictedCols []int
	q := 0
	for _, j := range keep {
		if j >= 2+p {
			q++
		} else {
			restrictedCols = append(restrictedCols, j)
		}
	}
	dof := n - len(keep)
	if q > 0 && dof > 0 {
		if _, rssRestricted, err := olsFit(selectColumns(D, restrictedCols), y); err == nil {
			s.InteractionF, s.InteractionP = fTest(rssRestricted, rssFull, q, dof)
		}
	}

	// Column 1 (treatment) is never dropped and stays at position 1
	return beta[1], nil
}

// identifiableColumns walks the columns left to right and keeps each one
// that is not a linear combination of the columns already kept. The first
// `protected` columns must all be kept.
func identifiableColumns(D *mat.Dense, protected int) ([]int, error) {
	_, m := D.Dims()
	var keep []int
	for j := 0; j < m; j++ {
		trial := append(append([]int(nil), keep...), j)
		if fullColumnRank(selectColumns(D, trial)) {
			keep = trial
		} else if j < protected {
			return nil, fmt.Errorf("column %d is aliased: %w", j, ErrRankDeficient)
		}
	}
	return keep, nil
}

func fullColumnRank(D *mat.Dense) bool {
	n, m := D.Dims()
	if n < m {
		return false
	}
	eq := mat.DenseCopyOf(D)
	for j := 0; j < m; j++ {
		col := eq.ColView(j)
		norm := math.Sqrt(mat.Dot(col, col))
		if norm == 0 {
			return false
		}
		for i := 0; i < n; i++ {
			eq.Set(i, j, eq.At(i, j)/norm)
		}
	}
	var svd mat.SVD
	if !svd.Factorize(eq, mat.SVDNone) {
		return false
	}
	return svd.Rank(rankTol) == m
}

func selectColumns(D *mat.Dense, cols []int) *mat.Dense {
	n, _ := D.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for k, j := range cols {
		for i := 0; i < n; i++ {
			out.Set(i, k, D.At(i, j))
		}
	}
	return out
}

// fTest compares nested least squares fits with q restrictions and dof
// residual degrees of freedom in the unrestricted model.
// Returns the F-statistic and its p-value.
func fTest(rssRestricted, rssUnrestricted float64, q, dof int) (float64, float64) {
	// In theory rssRestricted >= rssUnrestricted, clamp rounding noise
	num := rssRestricted - rssUnrestricted
	if num < 0 {
		num = 0
	}
	den := rssUnrestricted / float64(dof)
	if den <= 0 || num == 0 {
		return 0, 1
	}
	f := (num / float64(q)) / den
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, 1
	}
	fDist := distuv.F{D1: float64(q), D2: float64(dof)}
	pValue := 1.0 - fDist.CDF(f)
	return f, math.Min(math.Max(pValue, 0), 1)
}

// empiricalQuantile returns the q-quantile of samples (0 <= q <= 1)
// using linear interpolation between order statistics.
func empiricalQuantile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	tmp := make([]float64, n)
	copy(tmp, samples)
	sort.Float64s(tmp)

	if q <= 0 {
		return tmp[0]
	}
	if q >= 1 {
		return tmp[n-1]
	}

	pos := q * float64(n-1)
	idxBelow := int(math.Floor(pos))
	idxAbove := int(math.Ceil(pos))

	if idxAbove == idxBelow {
		return tmp[idxBelow]
	}

	weight := pos - float64(idxBelow)
	return tmp[idxBelow]*(1.0-weight) + tmp[idxAbove]*weight
}
