// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// IRLS controls, the same defaults R's glm.control uses
const (
	maxIRLSIter = 25
	irlsTol     = 1e-8

	// Relative singular value below which a column counts as dependent
	rankTol = 1e-9

	// Floor on the binomial variance mu(1-mu) inside IRLS
	minBinomialVar = 1e-10
)

// FitGLM fits a generalized linear model of y on the covariates X.
// The design matrix is an intercept plus the columns of X (plus their squares
// when spec.Terms is QuadraticTerms). Rows with zero weight do not enter the
// fit but still get fitted values.
// Returns: GLMFit with coefficients (intercept first) and fitted means
func FitGLM(y []float64, X mat.Matrix, spec GLMSpec) (*GLMFit, error) {
	if X == nil {
		return nil, fmt.Errorf("covariates not provided: %w", ErrShape)
	}
	n, _ := X.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("response has %d rows, covariates have %d: %w", len(y), n, ErrShape)
	}
	if spec.Weights != nil && len(spec.Weights) != n {
		return nil, fmt.Errorf("weights have %d rows, covariates have %d: %w", len(spec.Weights), n, ErrShape)
	}

	D := designMatrix(X, spec.Terms)

	switch spec.Family {
	case Gaussian:
		beta, err := weightedLeastSquares(D, y, spec.Weights)
		if err != nil {
			return nil, err
		}
		fitted := linearPredictor(D, beta)
		return &GLMFit{
			Spec:       spec,
			Coef:       beta,
			Fitted:     fitted,
			Iterations: 1,
			Deviance:   gaussianDeviance(y, fitted, spec.Weights),
		}, nil
	case Binomial:
		return fitBinomial(D, y, spec)
	}
	return nil, fmt.Errorf("unknown family %d", spec.Family)
}

// Predict evaluates the fitted mean at new covariate rows.
func (f *GLMFit) Predict(X mat.Matrix) []float64 {
	D := designMatrix(X, f.Spec.Terms)
	eta := linearPredictor(D, f.Coef)
	if f.Spec.Family == Binomial {
		for i := range eta {
			eta[i] = logistic(eta[i])
		}
	}
	return eta
}

// designMatrix builds [1, X] or [1, X, X^2].
func designMatrix(X mat.Matrix, terms Terms) *mat.Dense {
	n, p := X.Dims()
	cols := 1 + p
	if terms == QuadraticTerms {
		cols += p
	}

	D := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		D.Set(i, 0, 1.0)
		for j := 0; j < p; j++ {
			x := X.At(i, j)
			D.Set(i, 1+j, x)
			if terms == QuadraticTerms {
				D.Set(i, 1+p+j, x*x)
			}
		}
	}
	return D
}

// linearPredictor returns D * beta as a slice.
func linearPredictor(D *mat.Dense, beta []float64) []float64 {
	n, _ := D.Dims()
	var eta mat.VecDense
	eta.MulVec(D, mat.NewVecDense(len(beta), beta))
	out := make([]float64, n)
	for i := range out {
		out[i] = eta.AtVec(i)
	}
	return out
}

// weightedLeastSquares minimizes sum_i w_i (y_i - D_i beta)^2.
// w == nil means unit weights. Columns are equilibrated before the SVD so
// the rank test is not fooled by covariates on very different scales
// (earnings in dollars next to 0/1 indicators).
func weightedLeastSquares(D *mat.Dense, y, w []float64) ([]float64, error) {
	n, m := D.Dims()
	if n < m {
		return nil, fmt.Errorf("%d rows for %d parameters: %w", n, m, ErrRankDeficient)
	}

	// Dw = sqrt(W) D, yw = sqrt(W) y
	Dw := mat.NewDense(n, m, nil)
	yw := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		if wi < 0 || math.IsNaN(wi) {
			return nil, fmt.Errorf("invalid weight %v at row %d: %w", wi, i, ErrShape)
		}
		s := math.Sqrt(wi)
		for j := 0; j < m; j++ {
			Dw.Set(i, j, s*D.At(i, j))
		}
		yw.Set(i, 0, s*y[i])
	}

	// Column equilibration
	scale := make([]float64, m)
	for j := 0; j < m; j++ {
		col := Dw.ColView(j)
		scale[j] = math.Sqrt(mat.Dot(col, col))
		if scale[j] == 0 {
			return nil, fmt.Errorf("column %d is zero on the weighted rows: %w", j, ErrRankDeficient)
		}
		for i := 0; i < n; i++ {
			Dw.Set(i, j, Dw.At(i, j)/scale[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(Dw, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization failed: %w", ErrRankDeficient)
	}
	rank := svd.Rank(rankTol)
	if rank < m {
		return nil, fmt.Errorf("rank %d for %d parameters: %w", rank, m, ErrRankDeficient)
	}

	var B mat.Dense
	svd.SolveTo(&B, yw, rank)

	beta := make([]float64, m)
	for j := range beta {
		beta[j] = B.At(j, 0) / scale[j]
	}
	return beta, nil
}

// olsFit is an unweighted least squares fit on a ready-made design.
// Returns the coefficients and the residual sum of squares.
func olsFit(D *mat.Dense, y []float64) ([]float64, float64, error) {
	beta, err := weightedLeastSquares(D, y, nil)
	if err != nil {
		return nil, 0, err
	}
	return beta, gaussianDeviance(y, linearPredictor(D, beta), nil), nil
}

// fitBinomial runs IRLS with the logit link, starting from beta = 0.
func fitBinomial(D *mat.Dense, y []float64, spec GLMSpec) (*GLMFit, error) {
	n, m := D.Dims()
	for i, yi := range y {
		if yi < 0 || yi > 1 {
			return nil, fmt.Errorf("binomial response must be in [0, 1], row %d is %v: %w", i, yi, ErrShape)
		}
	}

	beta := make([]float64, m)
	eta := make([]float64, n)
	mu := make([]float64, n)
	for i := range mu {
		mu[i] = 0.5
	}
	dev := binomialDeviance(y, mu, spec.Weights)

	z := make([]float64, n)
	w := make([]float64, n)
	for iter := 1; iter <= maxIRLSIter; iter++ {
		// Working response and working weights
		for i := 0; i < n; i++ {
			v := mu[i] * (1 - mu[i])
			if v < minBinomialVar {
				v = minBinomialVar
			}
			z[i] = eta[i] + (y[i]-mu[i])/v
			prior := 1.0
			if spec.Weights != nil {
				prior = spec.Weights[i]
			}
			w[i] = prior * v
		}

		var err error
		beta, err = weightedLeastSquares(D, z, w)
		if err != nil {
			return nil, err
		}

		eta = linearPredictor(D, beta)
		for i := range mu {
			mu[i] = logistic(eta[i])
		}

		newDev := binomialDeviance(y, mu, spec.Weights)
		if math.Abs(newDev-dev)/(math.Abs(newDev)+0.1) < irlsTol {
			return &GLMFit{
				Spec:       spec,
				Coef:       beta,
				Fitted:     mu,
				Iterations: iter,
				Deviance:   newDev,
			}, nil
		}
		dev = newDev
	}

	return nil, fmt.Errorf("IRLS stopped after %d iterations (deviance %g): %w", maxIRLSIter, dev, ErrNotConverged)
}

func logistic(eta float64) float64 {
	return 1.0 / (1.0 + math.Exp(-eta))
}

func gaussianDeviance(y, fitted, w []float64) float64 {
	dev := 0.0
	for i := range y {
		r := y[i] - fitted[i]
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		dev += wi * r * r
	}
	return dev
}

// binomialDeviance is 2 * sum w [y log(y/mu) + (1-y) log((1-y)/(1-mu))],
// with 0 log 0 = 0.
func binomialDeviance(y, mu, w []float64) float64 {
	const eps = 1e-15
	dev := 0.0
	for i := range y {
		m := math.Min(math.Max(mu[i], eps), 1-eps)
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		if wi == 0 {
			continue
		}
		d := 0.0
		if y[i] > 0 {
			d += y[i] * math.Log(y[i]/m)
		}
		if y[i] < 1 {
			d += (1 - y[i]) * math.Log((1-y[i])/(1-m))
		}
		dev += 2 * wi * d
	}
	return dev
}
