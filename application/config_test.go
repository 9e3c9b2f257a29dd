// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Data = DataConfig{Path: "data.csv", Treatment: "treat", Outcome: "re78"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gaussian", cfg.Model.Link)
	assert.Equal(t, 0.01, cfg.Model.TruncLower)
	assert.Equal(t, 0.99, cfg.Model.TruncUpper)
	assert.Equal(t, 5, cfg.Model.NumStrata)
	assert.Equal(t, 200, cfg.Bootstrap.Replications)
	assert.False(t, cfg.Matching.Enabled)
	assert.Equal(t, 1, cfg.Matching.NumMatches)

	require.NoError(t, validConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeTemp(t, "run.yaml", `
data:
  path: lalonde.csv
  treatment: treat
  outcome: re78
  covariates: [age, educ, re74]
model:
  link: binomial
  strata: 3
  drop_aliased: true
bootstrap:
  replications: 50
  seed: 12345
matching:
  enabled: true
  num_matches: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"age", "educ", "re74"}, cfg.Data.Covariates)
	assert.Equal(t, uint64(12345), cfg.Bootstrap.Seed)

	// Keys missing from the file keep their defaults
	assert.Equal(t, 0.01, cfg.Model.TruncLower)
	assert.Equal(t, 100, cfg.Matching.BalanceBoots)

	spec := cfg.ModelSpec()
	assert.Equal(t, Binomial, spec.Link)
	assert.Equal(t, 3, spec.NumStrata)
	assert.True(t, spec.DropAliased)
	assert.Equal(t, Truncation{Lower: 0.01, Upper: 0.99}, spec.Truncation)

	assert.Equal(t, 50, cfg.BootstrapOptions().NReplications)
	assert.Equal(t, 2, cfg.MatchOptions().NumMatches)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeTemp(t, "bad.yaml", "model:\n  strata: [1, 2]\n")
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrConfig)

	path = writeTemp(t, "unknown.yaml", "model:\n  lags: 4\n")
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing data path", func(c *Config) { c.Data.Path = "" }},
		{"outcome equals treatment", func(c *Config) { c.Data.Outcome = "treat" }},
		{"unknown link", func(c *Config) { c.Model.Link = "poisson" }},
		{"inverted truncation", func(c *Config) { c.Model.TruncLower, c.Model.TruncUpper = 0.8, 0.2 }},
		{"upper above one", func(c *Config) { c.Model.TruncUpper = 1.5 }},
		{"zero strata", func(c *Config) { c.Model.NumStrata = 0 }},
		{"one replication", func(c *Config) { c.Bootstrap.Replications = 1 }},
		{"negative workers", func(c *Config) { c.Bootstrap.Workers = -1 }},
		{"zero matches", func(c *Config) { c.Matching.NumMatches = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}

	// Zero replications turns the bootstrap off and is valid
	cfg := validConfig()
	cfg.Bootstrap.Replications = 0
	assert.NoError(t, cfg.Validate())
}
