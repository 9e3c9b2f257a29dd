// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Dataset holds one row per unit: treatment indicator, outcome and covariates.
type Dataset struct {
	// Treatment indicator, exactly 0 or 1 per unit
	Treatment []float64
	// Observed outcome per unit
	Outcome []float64
	// N x p covariate matrix, rows aligned with Treatment and Outcome
	Covariates *mat.Dense
	// Covariate names, one per column
	CovNames []string
}

// Family is the distribution family of a generalized linear model.
type Family int

// Families supported by FitGLM
const (
	Gaussian Family = iota
	Binomial
)

func (f Family) String() string {
	switch f {
	case Gaussian:
		return "gaussian"
	case Binomial:
		return "binomial"
	}
	return "unknown"
}

// Terms selects which covariate terms enter a design matrix.
type Terms int

// Terms: linear covariates, or linear plus each covariate squared
const (
	LinearTerms Terms = iota
	QuadraticTerms
)

// GLMSpec is the tagged model configuration handed to FitGLM.
type GLMSpec struct {
	Family Family
	Terms  Terms
	// Optional per-row prior weights (nil means all ones)
	Weights []float64
}

// GLMFit holds the result of fitting a generalized linear model.
type GLMFit struct {
	Spec GLMSpec
	// Coefficients, intercept first
	Coef []float64
	// Fitted mean for every row of the design, including zero-weight rows
	Fitted []float64
	// Number of IRLS iterations (1 for Gaussian)
	Iterations int
	// Weighted deviance at the solution
	Deviance float64
}

// Truncation is the closed interval propensity scores are clipped to.
type Truncation struct {
	Lower float64
	Upper float64
}

// Clip returns max(Lower, min(Upper, p)).
func (t Truncation) Clip(p float64) float64 {
	if p > t.Upper {
		p = t.Upper
	}
	if p < t.Lower {
		p = t.Lower
	}
	return p
}

// What kind of model to fit
type ModelSpec struct {
	// Family of the outcome model
	Link Family
	// Bounds propensity scores are clipped to
	Truncation Truncation
	// How many propensity strata?
	NumStrata int
	// Add squared covariates to the outcome model
	QuadraticOutcome bool
	// Add squared covariates to the propensity model
	QuadraticPropensity bool
	// Drop linearly dependent columns in the stratum regressions instead of failing
	DropAliased bool
}

// Index of each estimator in an Estimates vector
const (
	RegImpute = iota
	IPW1
	IPW2
	DoublyRobust
	StratUnadj
	StratAdj
	NumEstimators
)

// EstimatorNames are the printable names, in Estimates order
var EstimatorNames = [NumEstimators]string{
	"reg", "ipw1", "ipw2", "dr", "strat_unadj", "strat_adj",
}

// Estimates is the six-element result vector of one estimation run.
type Estimates [NumEstimators]float64

// StratumResult describes one realized propensity stratum.
type StratumResult struct {
	Index int // 0-based position among realized strata
	// Propensity interval (Lower, Upper]
	Lower, Upper float64

	N, NTreated, NControl int

	// Fraction of all units in this stratum
	Weight float64

	// Difference in mean outcome, treated minus control
	Unadjusted float64
	// Coefficient on treatment in the covariate-adjusted stratum regression
	Adjusted float64

	// True if the stratum holds only one treatment arm; effects are then 0
	Degenerate bool

	// F-test of the treatment x covariate interaction block (NaN if untestable)
	InteractionF float64
	InteractionP float64
}

// BalanceTable holds covariate balance p-values, rows are covariates and
// columns are realized strata.
type BalanceTable struct {
	Covariates []string
	PValues    [][]float64
}

// EstimateResult holds everything computed by one point-estimate run.
type EstimateResult struct {
	Estimates Estimates

	// Clipped propensity scores
	Propensity []float64
	// Fitted outcomes under treatment and control for every unit
	Mu1, Mu0 []float64

	Strata  []StratumResult
	Balance *BalanceTable

	// Requested and realized number of strata
	NumStrata int
	Realized  int
}

// Options for the bootstrap variance wrapper
type BootstrapOptions struct {
	// Number of bootstrap replications (>= 2)
	NReplications int

	// Parallel workers, 0 = runtime.NumCPU()
	Workers int

	// Skip and log failing replicates instead of aborting the run
	SkipFailed bool
}

// VarianceResult pairs the point estimates with their bootstrap variances.
type VarianceResult struct {
	Point *EstimateResult

	// NumEstimators x (successful replications) matrix of bootstrap draws
	Draws *mat.Dense

	Variance Estimates

	// Requested replications and how many failed (only with SkipFailed)
	Replications int
	Failed       int
}

// EstimateRow is one printable line of the final estimates table.
type EstimateRow struct {
	Name     string
	Estimate float64
	Variance float64
	StdError float64
}

// Options for the matching estimator
type MatchOptions struct {
	// Number of matches per unit (M)
	NumMatches int
	// Pair resamples for the matched balance test, 0 disables it
	BalanceBoots int
}

// EffectEstimate is a point estimate with its standard error.
type EffectEstimate struct {
	Estimate float64
	StdError float64
}

// MatchBalanceRow is the before/after matching balance of one covariate.
type MatchBalanceRow struct {
	Covariate string

	MeanTreated, MeanControl float64
	StdDiff                  float64
	PValue                   float64

	MatchedMeanTreated, MatchedMeanControl float64
	MatchedStdDiff                         float64
	BootPValue                             float64
}

// MatchResult holds the matching estimates and the balance report.
type MatchResult struct {
	NumMatches   int
	Unadjusted   EffectEstimate
	BiasAdjusted EffectEstimate
	Balance      []MatchBalanceRow
}

// Estimator is the interface for an observational ATE estimator.
type Estimator interface {
	// Turns the data into the six point estimates
	Estimate(ctx context.Context, ds *Dataset, spec ModelSpec) (*EstimateResult, error)
	// Point estimates plus bootstrap variances
	EstimateWithVariance(ctx context.Context, ds *Dataset, spec ModelSpec, opts BootstrapOptions, rng *rand.Rand) (*VarianceResult, error)
}

// ObsEstimator implements Estimator with GLM-based nuisance models.
type ObsEstimator struct {
	// Logger for progress and skipped replicates, nil uses slog.Default()
	Logger *slog.Logger
	// Optional run metrics, nil disables them
	Metrics *runMetrics
}

var _ Estimator = (*ObsEstimator)(nil)
