// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchEstimateExact(t *testing.T) {
	ds, err := NewDataset(
		[]float64{1, 1, 1, 1, 0, 0, 0, 0},
		[]float64{2, 2, 2, 2, 0, 0, 0, 0},
		[][]float64{{1}, {2}, {3}, {4}, {1}, {2}, {3}, {4}},
		nil,
	)
	require.NoError(t, err)

	mr, err := MatchEstimate(ds, MatchOptions{NumMatches: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, mr.NumMatches)
	assert.InDelta(t, 2.0, mr.Unadjusted.Estimate, 1e-12)
	assert.InDelta(t, 0.0, mr.Unadjusted.StdError, 1e-12)
	assert.InDelta(t, 2.0, mr.BiasAdjusted.Estimate, 1e-9)
	assert.InDelta(t, 0.0, mr.BiasAdjusted.StdError, 1e-9)

	require.Len(t, mr.Balance, 1)
	assert.Equal(t, 1.0, mr.Balance[0].PValue)
	assert.True(t, math.IsNaN(mr.Balance[0].BootPValue))
}

// handMatchedData is small enough to work out by hand:
//
//	treated x = 0, 2 with y = 5, 9
//	control x = 1, 4 with y = 1, 3
//
// The control at x = 1 is equidistant from both treated units.
func handMatchedData(t *testing.T) *Dataset {
	t.Helper()
	ds, err := NewDataset(
		[]float64{1, 1, 0, 0},
		[]float64{5, 9, 1, 3},
		[][]float64{{0}, {2}, {1}, {4}},
		[]string{"x"},
	)
	require.NoError(t, err)
	return ds
}

func TestMatchEstimateTiesAndVariance(t *testing.T) {
	mr, err := MatchEstimate(handMatchedData(t), MatchOptions{NumMatches: 1}, nil)
	require.NoError(t, err)

	// Imputed effects 4, 8, 6, 6
	assert.InDelta(t, 6.0, mr.Unadjusted.Estimate, 1e-12)
	assert.InDelta(t, math.Sqrt(3.5), mr.Unadjusted.StdError, 1e-12)

	// Per-arm lines: mu1 = 5 + 2x, mu0 = 1 + 2(x-1)/3
	assert.InDelta(t, 7.0, mr.BiasAdjusted.Estimate, 1e-9)
	assert.InDelta(t, math.Sqrt(572.0/144.0), mr.BiasAdjusted.StdError, 1e-9)
}

func TestMatchBalanceReport(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	mr, err := MatchEstimate(handMatchedData(t), MatchOptions{NumMatches: 1, BalanceBoots: 200}, rng)
	require.NoError(t, err)
	require.Len(t, mr.Balance, 1)

	row := mr.Balance[0]
	assert.Equal(t, "x", row.Covariate)
	assert.InDelta(t, 1.0, row.MeanTreated, 1e-12)
	assert.InDelta(t, 2.5, row.MeanControl, 1e-12)
	assert.InDelta(t, -1.5/math.Sqrt(3.25), row.StdDiff, 1e-12)

	// Matched sample: weights 1.5, 2.5 for treated and 3, 1 for control
	assert.InDelta(t, 1.25, row.MatchedMeanTreated, 1e-12)
	assert.InDelta(t, 1.75, row.MatchedMeanControl, 1e-12)

	assert.False(t, math.IsNaN(row.BootPValue))
	assert.GreaterOrEqual(t, row.BootPValue, 0.0)
	assert.LessOrEqual(t, row.BootPValue, 1.0)
}

func TestMatchEstimateMoreMatches(t *testing.T) {
	ds := simulatedData(t, 60, 21)
	mr, err := MatchEstimate(ds, MatchOptions{NumMatches: 3, BalanceBoots: 50}, rand.New(rand.NewPCG(8, 8)))
	require.NoError(t, err)

	assert.Equal(t, 3, mr.NumMatches)
	assert.Greater(t, mr.Unadjusted.StdError, 0.0)
	assert.Greater(t, mr.BiasAdjusted.StdError, 0.0)

	// Simulated effect is 2; the bias-corrected estimate should land nearby
	assert.InDelta(t, 2.0, mr.BiasAdjusted.Estimate, 1.0)
	require.Len(t, mr.Balance, 2)
}

func TestMatchEstimateErrors(t *testing.T) {
	ds := handMatchedData(t)

	_, err := MatchEstimate(ds, MatchOptions{NumMatches: 0}, nil)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = MatchEstimate(ds, MatchOptions{NumMatches: 1, BalanceBoots: -1}, nil)
	assert.ErrorIs(t, err, ErrConfig)

	// Two units per arm cannot supply two same-arm neighbours
	_, err = MatchEstimate(ds, MatchOptions{NumMatches: 2}, nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNearestKeepsTies(t *testing.T) {
	x := []float64{0, 1, -1, 3, 1}
	dist := func(a, b int) float64 { return math.Abs(x[a] - x[b]) }

	got := nearest(0, []int{1, 2, 3, 4}, 1, dist)
	assert.ElementsMatch(t, []int{1, 2, 4}, got)

	got = nearest(3, []int{0, 1, 2, 3, 4}, 2, dist)
	assert.ElementsMatch(t, []int{1, 4}, got)
}
