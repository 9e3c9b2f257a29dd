// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"errors"
	"runtime"

	"github.com/spf13/cobra"
)

// cmdConfig holds the raw flag values before they are merged into a Config.
type cmdConfig struct {
	configPath string

	treatment  string
	outcome    string
	covariates []string

	link       string
	truncLower float64
	truncUpper float64
	strata     int

	quadOutcome    bool
	quadPropensity bool
	dropAliased    bool

	bootstrap  int
	workers    int
	seed       uint64
	skipFailed bool

	match        bool
	numMatches   int
	balanceBoots int

	outDir      string
	metricsFile string
	trace       bool

	verbose bool
	quiet   bool
}

// LogLevel maps -v / -q to a slog level name.
func (c *cmdConfig) LogLevel() string {
	if c.verbose {
		return "debug"
	}
	if c.quiet {
		return "warn"
	}
	return "info"
}

// Execute builds the root command and runs it. Called by main.main().
func Execute() {
	rootCmd := prepareRootCmd()
	cobra.CheckErr(rootCmd.Execute())
}

func prepareRootCmd() *cobra.Command {

	var config = cmdConfig{}

	var rootCmd = &cobra.Command{
		SilenceUsage:  true,
		SilenceErrors: true,

		Use: "obscausal [flags] [data.csv]",

		Short: "Estimates average treatment effects from observational data",
		Long: `Estimates the average treatment effect of a binary treatment with
regression imputation, inverse probability weighting, doubly robust and
propensity-stratified estimators, with bootstrap variances and an optional
nearest-neighbour matching estimator.`,

		RunE: func(cmd *cobra.Command, args []string) error {

			if config.quiet && config.verbose {
				return errors.New("quiet and verbose cannot be enforced simultaneously")
			}
			if len(args) > 1 {
				_ = cmd.Usage()
				return errors.New("too many arguments")
			}

			cfg := DefaultConfig()
			if config.configPath != "" {
				var err error
				if cfg, err = LoadConfig(config.configPath); err != nil {
					return err
				}
			}
			if len(args) == 1 {
				cfg.Data.Path = args[0]
			}
			config.apply(cmd, &cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	defaults := DefaultConfig()
	flags := rootCmd.Flags()

	flags.StringVar(&config.configPath, "config", "", "read settings from a YAML file; flags override it")

	flags.StringVar(&config.treatment, "treatment", "treat", "name of the 0/1 treatment column")
	flags.StringVar(&config.outcome, "outcome", "re78", "name of the outcome column")
	flags.StringSliceVar(&config.covariates, "covariates", nil, "covariate columns (default: every other column)")

	flags.StringVar(&config.link, "link", defaults.Model.Link, "outcome model family: gaussian or binomial")
	flags.Float64Var(&config.truncLower, "trunc-lower", defaults.Model.TruncLower, "lower clipping bound for propensity scores")
	flags.Float64Var(&config.truncUpper, "trunc-upper", defaults.Model.TruncUpper, "upper clipping bound for propensity scores")
	flags.IntVarP(&config.strata, "strata", "k", defaults.Model.NumStrata, "number of propensity strata")

	flags.BoolVar(&config.quadOutcome, "quad-outcome", false, "add squared covariates to the outcome model")
	flags.BoolVar(&config.quadPropensity, "quad-propensity", false, "add squared covariates to the propensity model")
	flags.BoolVar(&config.dropAliased, "drop-aliased", false, "drop aliased columns in stratum regressions instead of failing")

	flags.IntVarP(&config.bootstrap, "bootstrap", "b", defaults.Bootstrap.Replications, "bootstrap replications for the variances, 0 to skip")
	flags.IntVarP(&config.workers, "workers", "j", runtime.NumCPU(), "parallel bootstrap workers")
	flags.Uint64Var(&config.seed, "seed", 0, "random seed, 0 for a time-based seed")
	flags.BoolVar(&config.skipFailed, "skip-failed", false, "skip bootstrap replicates whose fit fails instead of aborting")

	flags.BoolVar(&config.match, "match", false, "also run the nearest-neighbour matching estimator")
	flags.IntVarP(&config.numMatches, "num-matches", "m", defaults.Matching.NumMatches, "matches per unit")
	flags.IntVar(&config.balanceBoots, "balance-boots", defaults.Matching.BalanceBoots, "bootstrap resamples for the matched balance test")

	flags.StringVarP(&config.outDir, "out-dir", "o", "", "write CSV reports to this directory")
	flags.StringVar(&config.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	flags.BoolVar(&config.trace, "trace", false, "print stage trace spans to stderr")

	flags.BoolVarP(&config.verbose, "verbose", "v", false, "print more details")
	flags.BoolVarP(&config.quiet, "quiet", "q", false, "print less details")

	return rootCmd
}

// apply copies every flag the user set onto cfg. Flags left at their
// default do not override the config file, except the column names which
// only fill in what the file left empty.
func (c *cmdConfig) apply(cmd *cobra.Command, cfg *Config) {
	set := cmd.Flags().Changed

	if set("treatment") || cfg.Data.Treatment == "" {
		cfg.Data.Treatment = c.treatment
	}
	if set("outcome") || cfg.Data.Outcome == "" {
		cfg.Data.Outcome = c.outcome
	}
	if set("covariates") {
		cfg.Data.Covariates = c.covariates
	}

	if set("link") {
		cfg.Model.Link = c.link
	}
	if set("trunc-lower") {
		cfg.Model.TruncLower = c.truncLower
	}
	if set("trunc-upper") {
		cfg.Model.TruncUpper = c.truncUpper
	}
	if set("strata") {
		cfg.Model.NumStrata = c.strata
	}
	if set("quad-outcome") {
		cfg.Model.QuadraticOutcome = c.quadOutcome
	}
	if set("quad-propensity") {
		cfg.Model.QuadraticPropensity = c.quadPropensity
	}
	if set("drop-aliased") {
		cfg.Model.DropAliased = c.dropAliased
	}

	if set("bootstrap") {
		cfg.Bootstrap.Replications = c.bootstrap
	}
	if set("workers") {
		cfg.Bootstrap.Workers = c.workers
	}
	if set("seed") {
		cfg.Bootstrap.Seed = c.seed
	}
	if set("skip-failed") {
		cfg.Bootstrap.SkipFailed = c.skipFailed
	}

	if set("match") {
		cfg.Matching.Enabled = c.match
	}
	if set("num-matches") {
		cfg.Matching.NumMatches = c.numMatches
	}
	if set("balance-boots") {
		cfg.Matching.BalanceBoots = c.balanceBoots
	}

	if set("out-dir") {
		cfg.Output.Dir = c.outDir
	}
	if set("metrics-file") {
		cfg.Output.MetricsFile = c.metricsFile
	}
	if set("trace") {
		cfg.Output.Trace = c.trace
	}

	if set("verbose") || set("quiet") {
		cfg.LogLevel = c.LogLevel()
	}
}
