// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// main runs the command-line tool. A typical call is
//
//	obscausal --treatment treat --outcome re78 -b 500 -o ../Files/Output lalonde.csv
//
// The run has 9 steps: setting up logging and tracing, loading the CSV,
// printing a summary, computing the point estimates, the bootstrap variances,
// the optional matching estimator, printing the tables, writing CSV reports
// and writing the metrics file.
func main() {
	Execute()
}

// run executes one analysis with a validated configuration. Tables go to
// out, logs and trace spans go to errOut.
func run(ctx context.Context, cfg Config, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Logging, tracing and metrics
	logger, err := newLogger(errOut, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = logger.With("run_id", uuid.NewString())

	if cfg.Output.Trace {
		shutdown, err := setupTracing(errOut)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown failed", "error", err)
			}
		}()
	}

	var metrics *runMetrics
	if cfg.Output.MetricsFile != "" {
		metrics = newRunMetrics()
	}
	est := &ObsEstimator{Logger: logger, Metrics: metrics}

	// 2. Load CSV into a Dataset
	ds, err := LoadCSVToDataset(cfg.Data.Path, cfg.Data.Treatment, cfg.Data.Outcome, cfg.Data.Covariates)
	if err != nil {
		return err
	}
	treated, control := ds.Counts()
	logger.Info("loaded dataset", "path", cfg.Data.Path, "units", ds.Len(),
		"treated", treated, "control", control, "covariates", ds.CovNames)

	// 3. Summary
	spec := cfg.ModelSpec()
	Summary(out, ds, spec)

	// 4-5. Point estimates, with bootstrap variances unless disabled
	var (
		point *EstimateResult
		rows  []EstimateRow
	)
	start := time.Now()
	if cfg.Bootstrap.Replications > 0 {
		seed := cfg.Bootstrap.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		logger.Info("running bootstrap", "replications", cfg.Bootstrap.Replications,
			"workers", cfg.Bootstrap.Workers, "seed", seed)

		vr, err := est.EstimateWithVariance(ctx, ds, spec, cfg.BootstrapOptions(), rand.New(rand.NewPCG(seed, 0)))
		if err != nil {
			return err
		}
		point, rows = vr.Point, vr.Table()
	} else {
		point, err = est.Estimate(ctx, ds, spec)
		if err != nil {
			return err
		}
		rows = PointRows(point.Estimates)
	}
	logger.Info("estimation finished", "elapsed", time.Since(start), "strata", point.Realized)
	if point.Realized < spec.NumStrata {
		logger.Warn("tied propensity cut-points collapsed strata",
			"requested", spec.NumStrata, "realized", point.Realized)
	}

	// 6. Matching
	var mr *MatchResult
	if cfg.Matching.Enabled {
		seed := cfg.Bootstrap.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		mr, err = MatchEstimate(ds, cfg.MatchOptions(), rand.New(rand.NewPCG(seed, 1)))
		if err != nil {
			return fmt.Errorf("matching: %w", err)
		}
	}

	// 7. Print tables
	PrintEstimates(out, rows)
	PrintStrata(out, point.Strata)
	PrintBalance(out, point.Balance)
	PrintMatch(out, mr)

	// 8. Output CSV reports
	if dir := cfg.Output.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := OutputEstimatesToCSV(filepath.Join(dir, "estimates.csv"), rows); err != nil {
			return err
		}
		if err := OutputStrataToCSV(filepath.Join(dir, "strata.csv"), point.Strata); err != nil {
			return err
		}
		if err := OutputBalanceToCSV(filepath.Join(dir, "balance.csv"), point.Balance); err != nil {
			return err
		}
		if mr != nil {
			if err := OutputMatchToCSV(filepath.Join(dir, "matching.csv"), mr); err != nil {
				return err
			}
		}
		logger.Info("reports written", "dir", dir)
	}

	// 9. Metrics textfile
	if cfg.Output.MetricsFile != "" {
		if err := metrics.writeTextfile(cfg.Output.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
