// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import "errors"

// Sentinel errors. Callers wrap them with the failing stage, e.g.
// fmt.Errorf("propensity fit: %w", ErrRankDeficient), and match with errors.Is.
var (
	// ErrShape is returned when treatment, outcome and covariates disagree in
	// length, the data is empty, or the treatment is not exactly 0/1.
	ErrShape = errors.New("obscausal: input shape mismatch")

	// ErrRankDeficient is returned when a weighted design matrix has fewer
	// independent columns than parameters.
	ErrRankDeficient = errors.New("obscausal: rank-deficient design matrix")

	// ErrNotConverged is returned when IRLS hits its iteration limit.
	ErrNotConverged = errors.New("obscausal: model fit did not converge")

	// ErrBootstrapSize is returned when fewer than two replicates are available.
	ErrBootstrapSize = errors.New("obscausal: need at least 2 bootstrap replicates")

	// ErrConfig is returned for an invalid configuration.
	ErrConfig = errors.New("obscausal: invalid configuration")
)
