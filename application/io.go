// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LoadCSVToDataset loads a CSV file with a header row into a Dataset.
// treatment and outcome name the treatment and outcome columns; covariates
// names the covariate columns, and an empty list means every other column.
func LoadCSVToDataset(path, treatment, outcome string, covariates []string) (*Dataset, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// 2. Make CSV reader
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	// 3. Read header row and resolve the column indices
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header in %s: %w", path, ErrShape)
	}
	colIdx := make(map[string]int, len(header))
	for j, name := range header {
		colIdx[strings.TrimSpace(name)] = j
	}

	tCol, ok := colIdx[treatment]
	if !ok {
		return nil, fmt.Errorf("treatment column %q not in %s: %w", treatment, path, ErrShape)
	}
	yCol, ok := colIdx[outcome]
	if !ok {
		return nil, fmt.Errorf("outcome column %q not in %s: %w", outcome, path, ErrShape)
	}

	if len(covariates) == 0 {
		for _, name := range header {
			name = strings.TrimSpace(name)
			if name != treatment && name != outcome {
				covariates = append(covariates, name)
			}
		}
	}
	if len(covariates) == 0 {
		return nil, fmt.Errorf("no covariate columns in %s: %w", path, ErrShape)
	}
	xCols := make([]int, len(covariates))
	for k, name := range covariates {
		j, ok := colIdx[name]
		if !ok {
			return nil, fmt.Errorf("covariate column %q not in %s: %w", name, path, ErrShape)
		}
		xCols[k] = j
	}

	K := len(header)
	p := len(xCols)

	var (
		z, y []float64 // treatment and outcome
		data []float64 // flat covariate data for mat.Dense
		row  int       // row counter
	)

	// 4. Read each data row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != K {
			return nil, fmt.Errorf(
				"row %d: expected %d columns, got %d: %w",
				row+2, K, len(record), ErrShape,
			)
		}

		zi, err := parseTreatment(record[tCol])
		if err != nil {
			return nil, fmt.Errorf("row %d col %s: %w", row+2, treatment, err)
		}
		yi, err := strconv.ParseFloat(record[yCol], 64)
		if err != nil {
			return nil, fmt.Errorf("parse float at row %d col %s (%q): %w", row+2, outcome, record[yCol], err)
		}
		z = append(z, zi)
		y = append(y, yi)

		for k, j := range xCols {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf(
					"parse float at row %d col %s (%q): %w",
					row+2, covariates[k], record[j], err,
				)
			}
			data = append(data, v)
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows in %s: %w", path, ErrShape)
	}

	// 5. Build the Dataset
	ds := &Dataset{
		Treatment:  z,
		Outcome:    y,
		Covariates: mat.NewDense(row, p, data),
		CovNames:   append([]string(nil), covariates...),
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// parseTreatment accepts 0/1 and the boolean spellings strconv understands.
func parseTreatment(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return 0, fmt.Errorf("treatment must be 0 or 1, got %q: %w", s, ErrShape)
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

// PrintEstimates prints the estimate table, with variances when available.
func PrintEstimates(w io.Writer, rows []EstimateRow) {
	fmt.Fprintln(w, "\n=== Average Treatment Effect Estimates ===")
	fmt.Fprintf(w, "%-12s | %12s | %12s | %12s\n", "Estimator", "Estimate", "Variance", "Std. Error")
	fmt.Fprintln(w, "-----------------------------------------------------------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-12s | %12.6f | %12s | %12s\n",
			r.Name, r.Estimate, formatOptional(r.Variance), formatOptional(r.StdError))
	}
	fmt.Fprintln(w)
}

// PointRows turns point estimates into table rows without variances.
func PointRows(est Estimates) []EstimateRow {
	rows := make([]EstimateRow, NumEstimators)
	for k := range rows {
		rows[k] = EstimateRow{
			Name:     EstimatorNames[k],
			Estimate: est[k],
			Variance: math.NaN(),
			StdError: math.NaN(),
		}
	}
	return rows
}

func formatOptional(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6f", v)
}

// PrintStrata prints one line per realized propensity stratum.
func PrintStrata(w io.Writer, strata []StratumResult) {
	fmt.Fprintln(w, "\n=== Propensity Strata ===")
	fmt.Fprintf(w, "%-3s | %-21s | %5s | %5s | %5s | %7s | %11s | %11s | %9s\n",
		"k", "Score interval", "N", "Trt", "Ctl", "Weight", "Unadjusted", "Adjusted", "Int. P")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------------")
	for _, s := range strata {
		note := ""
		if s.Degenerate {
			note = "  (single arm)"
		}
		fmt.Fprintf(w, "%-3d | (%8.4f, %8.4f] | %5d | %5d | %5d | %7.4f | %11.6f | %11.6f | %9s%s\n",
			s.Index+1, s.Lower, s.Upper, s.N, s.NTreated, s.NControl, s.Weight,
			s.Unadjusted, s.Adjusted, formatOptional(s.InteractionP), note)
	}
	fmt.Fprintln(w)
}

// PrintBalance prints the covariate by stratum table of balance p-values.
func PrintBalance(w io.Writer, bt *BalanceTable) {
	if bt == nil {
		return
	}
	fmt.Fprintln(w, "\n=== Covariate Balance (p-values by stratum) ===")
	fmt.Fprintln(w, "Null Hypothesis: treated and control covariate means are equal")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-20s", "Covariate")
	if len(bt.PValues) > 0 {
		for k := range bt.PValues[0] {
			fmt.Fprintf(w, "%8s", fmt.Sprintf("S%d", k+1))
		}
	}
	fmt.Fprintln(w)

	for j, name := range bt.Covariates {
		fmt.Fprintf(w, "%-20s", name)
		for _, p := range bt.PValues[j] {
			fmt.Fprintf(w, "%8.3f", p)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// PrintMatch prints the matching estimates and the balance report.
func PrintMatch(w io.Writer, mr *MatchResult) {
	if mr == nil {
		return
	}
	fmt.Fprintf(w, "\n=== Nearest-Neighbour Matching (M = %d) ===\n", mr.NumMatches)
	fmt.Fprintf(w, "%-14s | %12s | %12s\n", "Estimator", "Estimate", "Std. Error")
	fmt.Fprintln(w, "----------------------------------------------")
	fmt.Fprintf(w, "%-14s | %12.6f | %12.6f\n", "match", mr.Unadjusted.Estimate, mr.Unadjusted.StdError)
	fmt.Fprintf(w, "%-14s | %12.6f | %12.6f\n", "match_biasadj", mr.BiasAdjusted.Estimate, mr.BiasAdjusted.StdError)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-20s | %10s %10s %8s %7s | %10s %10s %8s %7s\n",
		"Covariate", "Mean Trt", "Mean Ctl", "Std.Diff", "P",
		"Mean Trt", "Mean Ctl", "Std.Diff", "Boot P")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------------------")
	for _, r := range mr.Balance {
		fmt.Fprintf(w, "%-20s | %10.4f %10.4f %8.4f %7.3f | %10.4f %10.4f %8.4f %7s\n",
			r.Covariate, r.MeanTreated, r.MeanControl, r.StdDiff, r.PValue,
			r.MatchedMeanTreated, r.MatchedMeanControl, r.MatchedStdDiff, formatOptional(r.BootPValue))
	}
	fmt.Fprintln(w)
}

// Summary prints an overview of the dataset and the model specification.
func Summary(w io.Writer, ds *Dataset, spec ModelSpec) {
	if ds == nil {
		fmt.Fprintln(w, "dataset is nil")
		return
	}
	fmt.Fprintln(w, "      Observational Study Summary      ")

	treated, control := ds.Counts()
	_, p := ds.Covariates.Dims()

	fmt.Fprintf(w, "Number of units (N):     %d\n", ds.Len())
	fmt.Fprintf(w, "Treated / control:       %d / %d\n", treated, control)
	fmt.Fprintf(w, "Number of covariates:    %d\n", p)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Covariates:")
	fmt.Fprintf(w, "  %s\n", strings.Join(ds.CovNames, ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Model specification:")
	fmt.Fprintf(w, "  Outcome family:        %s\n", spec.Link)
	fmt.Fprintf(w, "  Truncation:            [%g, %g]\n", spec.Truncation.Lower, spec.Truncation.Upper)
	fmt.Fprintf(w, "  Strata:                %d\n", spec.NumStrata)
	fmt.Fprintf(w, "  Quadratic outcome:     %v\n", spec.QuadraticOutcome)
	fmt.Fprintf(w, "  Quadratic propensity:  %v\n", spec.QuadraticPropensity)
	fmt.Fprintf(w, "  Drop aliased columns:  %v\n", spec.DropAliased)
	fmt.Fprintln(w, "=======================================")
}

// OutputEstimatesToCSV writes the estimate table.
// Columns: Estimator, Estimate, Variance, StdError
func OutputEstimatesToCSV(path string, rows []EstimateRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Estimator", "Estimate", "Variance", "StdError"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Name,
			fmt.Sprintf("%f", r.Estimate),
			fmt.Sprintf("%f", r.Variance),
			fmt.Sprintf("%f", r.StdError),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// OutputStrataToCSV writes one row per realized stratum.
func OutputStrataToCSV(path string, strata []StratumResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Stratum", "Lower", "Upper", "N", "NTreated", "NControl",
		"Weight", "Unadjusted", "Adjusted", "Degenerate", "InteractionF", "InteractionP",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, s := range strata {
		rec := []string{
			strconv.Itoa(s.Index + 1),
			fmt.Sprintf("%f", s.Lower),
			fmt.Sprintf("%f", s.Upper),
			strconv.Itoa(s.N),
			strconv.Itoa(s.NTreated),
			strconv.Itoa(s.NControl),
			fmt.Sprintf("%f", s.Weight),
			fmt.Sprintf("%f", s.Unadjusted),
			fmt.Sprintf("%f", s.Adjusted),
			fmt.Sprintf("%t", s.Degenerate),
			fmt.Sprintf("%f", s.InteractionF),
			fmt.Sprintf("%f", s.InteractionP),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// OutputBalanceToCSV writes the balance table in wide format.
// Columns: Covariate, S1, ..., SK
func OutputBalanceToCSV(path string, bt *BalanceTable) error {
	if bt == nil {
		return fmt.Errorf("balance table not provided")
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Covariate"}
	if len(bt.PValues) > 0 {
		for k := range bt.PValues[0] {
			header = append(header, fmt.Sprintf("S%d", k+1))
		}
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for j, name := range bt.Covariates {
		rec := []string{name}
		for _, p := range bt.PValues[j] {
			rec = append(rec, strconv.FormatFloat(p, 'f', balanceDigits, 64))
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// OutputMatchToCSV writes the matching balance report, one row per
// covariate, preceded by the two estimate rows.
func OutputMatchToCSV(path string, mr *MatchResult) error {
	if mr == nil {
		return fmt.Errorf("match result not provided")
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Row", "Estimate", "StdError",
		"MeanTreated", "MeanControl", "StdDiff", "PValue",
		"MatchedMeanTreated", "MatchedMeanControl", "MatchedStdDiff", "BootPValue",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	estimates := []struct {
		name string
		e    EffectEstimate
	}{
		{"match", mr.Unadjusted},
		{"match_biasadj", mr.BiasAdjusted},
	}
	for _, est := range estimates {
		rec := []string{est.name, fmt.Sprintf("%f", est.e.Estimate), fmt.Sprintf("%f", est.e.StdError),
			"", "", "", "", "", "", "", ""}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}

	for _, r := range mr.Balance {
		rec := []string{
			r.Covariate, "", "",
			fmt.Sprintf("%f", r.MeanTreated),
			fmt.Sprintf("%f", r.MeanControl),
			fmt.Sprintf("%f", r.StdDiff),
			fmt.Sprintf("%f", r.PValue),
			fmt.Sprintf("%f", r.MatchedMeanTreated),
			fmt.Sprintf("%f", r.MatchedMeanControl),
			fmt.Sprintf("%f", r.MatchedStdDiff),
			fmt.Sprintf("%f", r.BootPValue),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
