// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// NewDataset builds a Dataset from plain slices. covariates[i] is the
// covariate vector of unit i.
func NewDataset(treatment, outcome []float64, covariates [][]float64, names []string) (*Dataset, error) {
	n := len(covariates)
	if n == 0 {
		return nil, fmt.Errorf("no covariate rows: %w", ErrShape)
	}
	p := len(covariates[0])
	data := make([]float64, 0, n*p)
	for i, row := range covariates {
		if len(row) != p {
			return nil, fmt.Errorf("covariate row %d has %d values, expected %d: %w", i, len(row), p, ErrShape)
		}
		data = append(data, row...)
	}
	if p == 0 {
		return nil, fmt.Errorf("no covariates: %w", ErrShape)
	}
	if names == nil {
		names = make([]string, p)
		for j := range names {
			names[j] = fmt.Sprintf("x%d", j+1)
		}
	}

	ds := &Dataset{
		Treatment:  append([]float64(nil), treatment...),
		Outcome:    append([]float64(nil), outcome...),
		Covariates: mat.NewDense(n, p, data),
		CovNames:   names,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Len returns the number of units.
func (ds *Dataset) Len() int { return len(ds.Treatment) }

// Validate checks that the three parts of the dataset line up and that the
// treatment is a 0/1 indicator.
func (ds *Dataset) Validate() error {
	if ds == nil || ds.Covariates == nil {
		return fmt.Errorf("dataset not provided: %w", ErrShape)
	}
	n := len(ds.Treatment)
	if n == 0 {
		return fmt.Errorf("empty dataset: %w", ErrShape)
	}
	if len(ds.Outcome) != n {
		return fmt.Errorf("treatment has %d rows, outcome has %d: %w", n, len(ds.Outcome), ErrShape)
	}
	r, c := ds.Covariates.Dims()
	if r != n {
		return fmt.Errorf("treatment has %d rows, covariates have %d: %w", n, r, ErrShape)
	}
	if len(ds.CovNames) != c {
		return fmt.Errorf("%d covariate names for %d columns: %w", len(ds.CovNames), c, ErrShape)
	}
	for i := 0; i < n; i++ {
		if z := ds.Treatment[i]; z != 0 && z != 1 {
			return fmt.Errorf("row %d: treatment must be 0 or 1, got %v: %w", i, z, ErrShape)
		}
		if y := ds.Outcome[i]; math.IsNaN(y) || math.IsInf(y, 0) {
			return fmt.Errorf("row %d: outcome is not finite: %w", i, ErrShape)
		}
		for j := 0; j < c; j++ {
			if x := ds.Covariates.At(i, j); math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("row %d: covariate %s is not finite: %w", i, ds.CovNames[j], ErrShape)
			}
		}
	}
	return nil
}

// Counts returns the number of treated and control units.
func (ds *Dataset) Counts() (treated, control int) {
	for _, z := range ds.Treatment {
		if z == 1 {
			treated++
		} else {
			control++
		}
	}
	return treated, control
}

// Rows returns a new dataset holding the given rows, in order. Rows may repeat.
func (ds *Dataset) Rows(idx []int) *Dataset {
	_, p := ds.Covariates.Dims()
	out := &Dataset{
		Treatment:  make([]float64, len(idx)),
		Outcome:    make([]float64, len(idx)),
		Covariates: mat.NewDense(len(idx), p, nil),
		CovNames:   ds.CovNames,
	}
	for i, src := range idx {
		out.Treatment[i] = ds.Treatment[src]
		out.Outcome[i] = ds.Outcome[src]
		out.Covariates.SetRow(i, ds.Covariates.RawRowView(src))
	}
	return out
}

// Resample draws N rows uniformly with replacement.
func (ds *Dataset) Resample(rng *rand.Rand) *Dataset {
	n := ds.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return ds.Rows(idx)
}
