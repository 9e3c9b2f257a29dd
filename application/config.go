// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var configValidate = validator.New()

// Config is the full run configuration. It is read from YAML and then
// overridden by command-line flags.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Model     ModelConfig     `yaml:"model"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Matching  MatchingConfig  `yaml:"matching"`
	Output    OutputConfig    `yaml:"output"`
	LogLevel  string          `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DataConfig names the input file and its columns.
type DataConfig struct {
	Path       string   `yaml:"path" validate:"required"`
	Treatment  string   `yaml:"treatment" validate:"required"`
	Outcome    string   `yaml:"outcome" validate:"required,nefield=Treatment"`
	Covariates []string `yaml:"covariates" validate:"dive,required"`
}

// ModelConfig mirrors ModelSpec.
type ModelConfig struct {
	Link                string  `yaml:"link" validate:"oneof=gaussian binomial"`
	TruncLower          float64 `yaml:"trunc_lower" validate:"gte=0,lt=1"`
	TruncUpper          float64 `yaml:"trunc_upper" validate:"gt=0,lte=1,gtfield=TruncLower"`
	NumStrata           int     `yaml:"strata" validate:"gte=1"`
	QuadraticOutcome    bool    `yaml:"quadratic_outcome"`
	QuadraticPropensity bool    `yaml:"quadratic_propensity"`
	DropAliased         bool    `yaml:"drop_aliased"`
}

// BootstrapConfig controls the variance bootstrap. Replications == 0 skips it.
type BootstrapConfig struct {
	Replications int    `yaml:"replications" validate:"gte=0,ne=1"`
	Workers      int    `yaml:"workers" validate:"gte=0"`
	Seed         uint64 `yaml:"seed"`
	SkipFailed   bool   `yaml:"skip_failed"`
}

// MatchingConfig controls the optional matching estimator.
type MatchingConfig struct {
	Enabled      bool `yaml:"enabled"`
	NumMatches   int  `yaml:"num_matches" validate:"gte=1"`
	BalanceBoots int  `yaml:"balance_boots" validate:"gte=0"`
}

// OutputConfig says where results go. Empty fields disable that output.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	MetricsFile string `yaml:"metrics_file"`
	Trace       bool   `yaml:"trace"`
}

// DefaultConfig returns the configuration used when neither a file nor a
// flag sets a value.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Link:       "gaussian",
			TruncLower: 0.01,
			TruncUpper: 0.99,
			NumStrata:  5,
		},
		Bootstrap: BootstrapConfig{
			Replications: 200,
			Workers:      runtime.NumCPU(),
		},
		Matching: MatchingConfig{
			NumMatches:   1,
			BalanceBoots: 100,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from
// the file keep their defaults. The result is not validated yet since
// flags may still fill in required fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %v: %w", path, err, ErrConfig)
	}
	return cfg, nil
}

// Validate checks the configuration. Every failure wraps ErrConfig.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), ErrConfig)
		}
		return fmt.Errorf("%v: %w", err, ErrConfig)
	}
	return nil
}

// ModelSpec converts the model section into a ModelSpec.
func (c Config) ModelSpec() ModelSpec {
	link := Gaussian
	if c.Model.Link == "binomial" {
		link = Binomial
	}
	return ModelSpec{
		Link:                link,
		Truncation:          Truncation{Lower: c.Model.TruncLower, Upper: c.Model.TruncUpper},
		NumStrata:           c.Model.NumStrata,
		QuadraticOutcome:    c.Model.QuadraticOutcome,
		QuadraticPropensity: c.Model.QuadraticPropensity,
		DropAliased:         c.Model.DropAliased,
	}
}

// BootstrapOptions converts the bootstrap section.
func (c Config) BootstrapOptions() BootstrapOptions {
	return BootstrapOptions{
		NReplications: c.Bootstrap.Replications,
		Workers:       c.Bootstrap.Workers,
		SkipFailed:    c.Bootstrap.SkipFailed,
	}
}

// MatchOptions converts the matching section.
func (c Config) MatchOptions() MatchOptions {
	return MatchOptions{
		NumMatches:   c.Matching.NumMatches,
		BalanceBoots: c.Matching.BalanceBoots,
	}
}
