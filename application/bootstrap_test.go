// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulatedData draws n units with two covariates, a logistic treatment
// assignment and outcome = 1 + 2 T + x1 - 0.5 x2 + noise.
func simulatedData(t *testing.T, n int, seed uint64) *Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 42))

	z := make([]float64, n)
	y := make([]float64, n)
	x := make([][]float64, n)
	for i := 0; i < n; i++ {
		x1 := rng.NormFloat64()
		x2 := rng.Float64() * 4
		p := logistic(0.5*x1 - 0.25*(x2-2))
		if rng.Float64() < p {
			z[i] = 1
		}
		x[i] = []float64{x1, x2}
		y[i] = 1 + 2*z[i] + x1 - 0.5*x2 + 0.3*rng.NormFloat64()
	}
	ds, err := NewDataset(z, y, x, []string{"x1", "x2"})
	require.NoError(t, err)
	return ds
}

func bootSpec() ModelSpec {
	spec := defaultSpec(2)
	spec.DropAliased = true
	return spec
}

func TestEstimateWithVariance(t *testing.T) {
	ds := simulatedData(t, 80, 7)
	opts := BootstrapOptions{NReplications: 30, Workers: 4, SkipFailed: true}

	vr, err := (&ObsEstimator{}).EstimateWithVariance(context.Background(), ds, bootSpec(), opts, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	rows, cols := vr.Draws.Dims()
	assert.Equal(t, NumEstimators, rows)
	assert.Equal(t, opts.NReplications, cols+vr.Failed)
	assert.Equal(t, opts.NReplications, vr.Replications)

	for k, name := range EstimatorNames {
		v := vr.Variance[k]
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
	}

	// The point estimate is the plain Estimate on the original data
	point, err := (&ObsEstimator{}).Estimate(context.Background(), ds, bootSpec())
	require.NoError(t, err)
	assert.Equal(t, point.Estimates, vr.Point.Estimates)
	assert.NotNil(t, vr.Point.Balance)

	table := vr.Table()
	require.Len(t, table, NumEstimators)
	for k, row := range table {
		assert.Equal(t, EstimatorNames[k], row.Name)
		assert.Equal(t, vr.Point.Estimates[k], row.Estimate)
		assert.InDelta(t, math.Sqrt(row.Variance), row.StdError, 1e-15)
	}
}

func TestEstimateWithVarianceReproducible(t *testing.T) {
	ds := simulatedData(t, 60, 11)
	est := &ObsEstimator{}

	run := func(workers int) Estimates {
		opts := BootstrapOptions{NReplications: 12, Workers: workers, SkipFailed: true}
		vr, err := est.EstimateWithVariance(context.Background(), ds, bootSpec(), opts, rand.New(rand.NewPCG(99, 0)))
		require.NoError(t, err)
		return vr.Variance
	}

	// Same seed, same variances, whatever the number of workers
	assert.Equal(t, run(1), run(6))
}

func TestEstimateWithVarianceTooFewReplications(t *testing.T) {
	ds := simulatedData(t, 40, 3)
	for _, b := range []int{0, 1} {
		_, err := (&ObsEstimator{}).EstimateWithVariance(context.Background(), ds, bootSpec(),
			BootstrapOptions{NReplications: b}, rand.New(rand.NewPCG(1, 1)))
		assert.ErrorIs(t, err, ErrBootstrapSize)
	}
}

func TestEstimateWithVarianceReplicateFailure(t *testing.T) {
	// Six units fit on the full data, but almost every resample loses a
	// distinct covariate value in one arm of the single stratum
	ds, err := NewDataset(
		[]float64{1, 0, 1, 0, 1, 0},
		[]float64{3, 1, 4, 2, 6, 2},
		[][]float64{{1}, {2}, {3}, {4}, {5}, {6}},
		nil,
	)
	require.NoError(t, err)

	spec := defaultSpec(1)
	_, err = (&ObsEstimator{}).Estimate(context.Background(), ds, spec)
	require.NoError(t, err)

	opts := BootstrapOptions{NReplications: 50, Workers: 2}
	_, err = (&ObsEstimator{}).EstimateWithVariance(context.Background(), ds, spec, opts, rand.New(rand.NewPCG(5, 5)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap replicate")
}

func TestEstimateWithVarianceCancelled(t *testing.T) {
	ds := simulatedData(t, 40, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&ObsEstimator{}).EstimateWithVariance(ctx, ds, bootSpec(),
		BootstrapOptions{NReplications: 10}, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}
