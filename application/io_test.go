// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `treat,age,educ,re78
1,37,11,9930.05
0,22,9,3595.89
1,30,12,24909.45
0,27,11,7506.15
true,33,8,289.79
false,19,10,4056.49
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestLoadCSVToDataset(t *testing.T) {
	path := writeTemp(t, "data.csv", sampleCSV)

	ds, err := LoadCSVToDataset(path, "treat", "re78", nil)
	require.NoError(t, err)

	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, []string{"age", "educ"}, ds.CovNames)
	assert.Equal(t, []float64{1, 0, 1, 0, 1, 0}, ds.Treatment)
	assert.InDelta(t, 9930.05, ds.Outcome[0], 1e-9)
	assert.Equal(t, 11.0, ds.Covariates.At(0, 1))

	treated, control := ds.Counts()
	assert.Equal(t, 3, treated)
	assert.Equal(t, 3, control)
}

func TestLoadCSVToDatasetSelectedCovariates(t *testing.T) {
	path := writeTemp(t, "data.csv", sampleCSV)

	ds, err := LoadCSVToDataset(path, "treat", "re78", []string{"educ"})
	require.NoError(t, err)
	_, p := ds.Covariates.Dims()
	assert.Equal(t, 1, p)
	assert.Equal(t, 9.0, ds.Covariates.At(1, 0))
}

func TestLoadCSVToDatasetErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCSVToDataset(filepath.Join(t.TempDir(), "nope.csv"), "treat", "re78", nil)
		assert.Error(t, err)
	})

	t.Run("unknown column", func(t *testing.T) {
		path := writeTemp(t, "data.csv", sampleCSV)
		_, err := LoadCSVToDataset(path, "treated", "re78", nil)
		assert.ErrorIs(t, err, ErrShape)

		_, err = LoadCSVToDataset(path, "treat", "re78", []string{"income"})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("non-binary treatment", func(t *testing.T) {
		path := writeTemp(t, "data.csv", "treat,x,y\n1,1,1\n2,2,2\n")
		_, err := LoadCSVToDataset(path, "treat", "y", nil)
		assert.ErrorIs(t, err, ErrShape)
		assert.Contains(t, err.Error(), "row 3")
	})

	t.Run("bad number", func(t *testing.T) {
		path := writeTemp(t, "data.csv", "treat,x,y\n1,abc,1\n")
		_, err := LoadCSVToDataset(path, "treat", "y", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "col x")
	})

	t.Run("no rows", func(t *testing.T) {
		path := writeTemp(t, "data.csv", "treat,x,y\n")
		_, err := LoadCSVToDataset(path, "treat", "y", nil)
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestPrinters(t *testing.T) {
	ds := degenerateData(t)
	spec := defaultSpec(3)
	res, err := (&ObsEstimator{}).Estimate(t.Context(), ds, spec)
	require.NoError(t, err)

	var b bytes.Buffer
	Summary(&b, ds, spec)
	PrintEstimates(&b, PointRows(res.Estimates))
	PrintStrata(&b, res.Strata)
	PrintBalance(&b, res.Balance)

	mr, err := MatchEstimate(handMatchedData(t), MatchOptions{NumMatches: 1}, nil)
	require.NoError(t, err)
	PrintMatch(&b, mr)

	out := b.String()
	for _, name := range EstimatorNames {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "(single arm)")
	assert.Contains(t, out, "match_biasadj")
	assert.Contains(t, out, "Outcome family:        gaussian")
}

func TestOutputCSVReports(t *testing.T) {
	dir := t.TempDir()
	ds := degenerateData(t)
	res, err := (&ObsEstimator{}).Estimate(t.Context(), ds, defaultSpec(3))
	require.NoError(t, err)

	estPath := filepath.Join(dir, "estimates.csv")
	require.NoError(t, OutputEstimatesToCSV(estPath, PointRows(res.Estimates)))
	records := readCSV(t, estPath)
	require.Len(t, records, NumEstimators+1)
	assert.Equal(t, []string{"Estimator", "Estimate", "Variance", "StdError"}, records[0])
	assert.Equal(t, "strat_adj", records[NumEstimators][0])

	strataPath := filepath.Join(dir, "strata.csv")
	require.NoError(t, OutputStrataToCSV(strataPath, res.Strata))
	records = readCSV(t, strataPath)
	require.Len(t, records, len(res.Strata)+1)
	assert.Equal(t, "true", records[3][9])

	balPath := filepath.Join(dir, "balance.csv")
	require.NoError(t, OutputBalanceToCSV(balPath, res.Balance))
	records = readCSV(t, balPath)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"Covariate", "S1", "S2", "S3"}, records[0])
	assert.Equal(t, "1.000", records[1][3])

	mr, err := MatchEstimate(handMatchedData(t), MatchOptions{NumMatches: 1}, nil)
	require.NoError(t, err)
	matchPath := filepath.Join(dir, "matching.csv")
	require.NoError(t, OutputMatchToCSV(matchPath, mr))
	records = readCSV(t, matchPath)
	require.Len(t, records, 4)
	assert.Equal(t, "match", records[1][0])
	assert.True(t, strings.HasPrefix(records[1][1], "6.0"))

	assert.Error(t, OutputBalanceToCSV(filepath.Join(dir, "x.csv"), nil))
}

func TestPointRowsHaveNoVariance(t *testing.T) {
	rows := PointRows(Estimates{1, 2, 3, 4, 5, 6})
	require.Len(t, rows, NumEstimators)
	assert.Equal(t, 4.0, rows[DoublyRobust].Estimate)
	assert.True(t, math.IsNaN(rows[0].Variance))
	assert.Equal(t, "-", formatOptional(rows[0].StdError))
}
