// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// EstimateWithVariance computes the point estimates once on the data, then
// re-runs the engine on opts.NReplications nonparametric bootstrap resamples
// and returns the per-estimator sample variance of the replicates.
// rng drives the resampling; the same seed gives the same variances
// regardless of the number of workers.
func (e *ObsEstimator) EstimateWithVariance(
	ctx context.Context,
	ds *Dataset,
	spec ModelSpec,
	opts BootstrapOptions,
	rng *rand.Rand,
) (*VarianceResult, error) {

	ctx, span := tracer.Start(ctx, "EstimateWithVariance")
	defer span.End()

	if opts.NReplications < 2 {
		err := fmt.Errorf("%d replications requested: %w", opts.NReplications, ErrBootstrapSize)
		recordSpanError(span, err)
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	// 1. Point estimate on the original data
	point, err := e.estimate(ctx, ds, spec, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	B := opts.NReplications
	log := e.logger()

	// 2. Per-replication seeds, so the RNG is not shared across goroutines
	seeds := make([]uint64, B)
	for b := range seeds {
		seeds[b] = rng.Uint64()
	}

	// 3. Worker pool over the replications
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > B {
		numWorkers = B
	}

	draws := make([]*Estimates, B)
	var failed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for b := 0; b < B; b++ {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			local := rand.New(rand.NewPCG(seeds[b], uint64(b)))
			start := time.Now()
			res, err := e.estimate(gCtx, ds.Resample(local), spec, false)
			e.Metrics.observeReplicate(err, time.Since(start))
			if err != nil {
				if opts.SkipFailed {
					failed.Add(1)
					log.Warn("skipping bootstrap replicate", "replicate", b, "error", err)
					return nil
				}
				return fmt.Errorf("bootstrap replicate %d: %w", b, err)
			}
			draws[b] = &res.Estimates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// 4. Stack the successful replicates into a NumEstimators x B' matrix
	var ok []*Estimates
	for _, d := range draws {
		if d != nil {
			ok = append(ok, d)
		}
	}
	if len(ok) < 2 {
		err := fmt.Errorf("%d of %d replicates succeeded: %w", len(ok), B, ErrBootstrapSize)
		recordSpanError(span, err)
		return nil, err
	}

	D := mat.NewDense(NumEstimators, len(ok), nil)
	for b, d := range ok {
		D.SetCol(b, d[:])
	}

	// 5. Per-estimator sample variance (n - 1 denominator)
	var variance Estimates
	for k := 0; k < NumEstimators; k++ {
		v := stat.Variance(D.RawRowView(k), nil)
		variance[k] = math.Max(0, v)
	}

	span.SetAttributes(
		attribute.Int("bootstrap.replications", B),
		attribute.Int("bootstrap.failed", int(failed.Load())),
		attribute.Int("bootstrap.workers", numWorkers),
	)
	log.Info("bootstrap finished", "replications", B, "failed", failed.Load(), "workers", numWorkers)

	return &VarianceResult{
		Point:        point,
		Draws:        D,
		Variance:     variance,
		Replications: B,
		Failed:       int(failed.Load()),
	}, nil
}

// Table pairs every estimator name with its estimate, variance and
// standard error, in canonical order.
func (vr *VarianceResult) Table() []EstimateRow {
	rows := make([]EstimateRow, NumEstimators)
	for k := range rows {
		rows[k] = EstimateRow{
			Name:     EstimatorNames[k],
			Estimate: vr.Point.Estimates[k],
			Variance: vr.Variance[k],
			StdError: math.Sqrt(vr.Variance[k]),
		}
	}
	return rows
}
