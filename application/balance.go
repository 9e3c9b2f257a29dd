// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Balance p-values are reported to this many decimals
const balanceDigits = 3

// balancePValue runs a two-sided Welch t-test for equal means of a covariate
// between the treated and control units of a stratum.
// Degenerate inputs get a sentinel instead of a test:
//
//	both groups have zero variance          -> 0
//	a group has at most one member          -> 1
//	the group means are identical           -> 1
func balancePValue(treated, control []float64) float64 {
	n1, n0 := len(treated), len(control)

	if n1 >= 2 && n0 >= 2 {
		if stat.Variance(treated, nil) == 0 && stat.Variance(control, nil) == 0 {
			return 0
		}
	}
	if n1 <= 1 || n0 <= 1 {
		return 1
	}

	m1, v1 := stat.MeanVariance(treated, nil)
	m0, v0 := stat.MeanVariance(control, nil)
	if m1 == m0 {
		return 1
	}

	return welchPValue(m1-m0, v1, v0, n1, n0)
}

// welchPValue is the two-sided p-value of a mean difference d between two
// samples with variances v1, v0 and sizes n1, n0.
func welchPValue(d, v1, v0 float64, n1, n0 int) float64 {
	a := v1 / float64(n1)
	b := v0 / float64(n0)
	se := math.Sqrt(a + b)
	if se == 0 {
		return 1
	}
	t := d / se

	// Welch-Satterthwaite degrees of freedom
	df := (a + b) * (a + b) / (a*a/float64(n1-1) + b*b/float64(n0-1))

	studentT := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - studentT.CDF(math.Abs(t)))
	return math.Min(math.Max(p, 0), 1)
}

func roundBalance(p float64) float64 {
	if math.IsNaN(p) {
		return p
	}
	return scalar.Round(p, balanceDigits)
}

// standardizedDifference is the difference in means over the pooled standard
// deviation sqrt((v1 + v0) / 2). Returns 0 when both variances are zero.
func standardizedDifference(m1, m0, v1, v0 float64) float64 {
	pooled := math.Sqrt((v1 + v0) / 2)
	if pooled == 0 {
		return 0
	}
	return (m1 - m0) / pooled
}
