// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ensemble holds tabular collections of simulated models, one
// row per model: a parameter vector plus a measured feature vector.
// The Fisher and emulator engines consume a shared Ensemble by
// composition.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/lensmap/pkg/validation"
)

// Sentinel errors for ensemble operations.
var (
	// ErrShapeMismatch indicates a row whose parameter count or feature
	// width differs from the rows already stored.
	ErrShapeMismatch = errors.New("row shape mismatch")

	// ErrEmpty indicates an operation that needs at least one row.
	ErrEmpty = errors.New("empty ensemble")
)

// Ensemble is an ordered collection of (parameters, features) rows.
//
// Every row shares the same parameter count and the same feature width.
// Features are stored flattened; FeatureShape records the logical
// multi-dimensional shape so engines can reshape their outputs.
type Ensemble struct {
	params       [][]float64
	features     [][]float64
	featureShape []int
}

// FromFeatures builds an ensemble from per-row feature vectors and
// matching parameter vectors. A nil params assigns each row a single
// synthetic index parameter (0, 1, 2, ...).
func FromFeatures(features [][]float64, params [][]float64) (*Ensemble, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no feature rows", ErrEmpty)
	}
	if params == nil {
		params = make([][]float64, len(features))
		for i := range params {
			params[i] = []float64{float64(i)}
		}
	}
	if len(params) != len(features) {
		return nil, fmt.Errorf("%w: %d parameter rows vs %d feature rows",
			ErrShapeMismatch, len(params), len(features))
	}

	e := &Ensemble{featureShape: []int{len(features[0])}}
	for i := range features {
		if err := e.AddModel(params[i], features[i]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return e, nil
}

// FromFeatureVector builds a single-row ensemble from one feature
// vector, the 1D convenience form of FromFeatures.
func FromFeatureVector(feature []float64, params []float64) (*Ensemble, error) {
	var p [][]float64
	if params != nil {
		p = [][]float64{params}
	}
	return FromFeatures([][]float64{feature}, p)
}

// SetFeatureShape records the logical shape of the flattened feature
// vectors. The product of the dimensions must equal the feature width.
func (e *Ensemble) SetFeatureShape(shape []int) error {
	size := 1
	for _, d := range shape {
		if d < 1 {
			return fmt.Errorf("%w: dimension %d in shape %v", ErrShapeMismatch, d, shape)
		}
		size *= d
	}
	if size != e.NumBins() {
		return fmt.Errorf("%w: shape %v flattens to %d, feature width is %d",
			ErrShapeMismatch, shape, size, e.NumBins())
	}
	own := make([]int, len(shape))
	copy(own, shape)
	e.featureShape = own
	return nil
}

// AddModel appends one row, shape-checked against the stored rows.
func (e *Ensemble) AddModel(params, feature []float64) error {
	if len(e.params) > 0 {
		if err := validation.ValidateVectorLen("params", params, len(e.params[0])); err != nil {
			return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		if err := validation.ValidateVectorLen("feature", feature, len(e.features[0])); err != nil {
			return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
	} else {
		if len(params) == 0 || len(feature) == 0 {
			return fmt.Errorf("%w: empty parameter or feature vector", ErrShapeMismatch)
		}
		if e.featureShape == nil {
			e.featureShape = []int{len(feature)}
		}
	}
	p := make([]float64, len(params))
	copy(p, params)
	f := make([]float64, len(feature))
	copy(f, feature)
	e.params = append(e.params, p)
	e.features = append(e.features, f)
	return nil
}

// AddModels appends several rows, failing on the first mismatch.
func (e *Ensemble) AddModels(params, features [][]float64) error {
	if len(params) != len(features) {
		return fmt.Errorf("%w: %d parameter rows vs %d feature rows",
			ErrShapeMismatch, len(params), len(features))
	}
	for i := range params {
		if err := e.AddModel(params[i], features[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// Find returns the indices of rows whose parameter vector matches the
// target within elementwise relative tolerance rtol. Components are
// close when |a-b| <= rtol*max(|a|,|b|), so exact zeros only match
// exact zeros.
func (e *Ensemble) Find(params []float64, rtol float64) ([]int, error) {
	if len(e.params) == 0 {
		return nil, ErrEmpty
	}
	if err := validation.ValidateVectorLen("params", params, len(e.params[0])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	var matches []int
	for i, row := range e.params {
		ok := true
		for k := range row {
			if math.Abs(row[k]-params[k]) > rtol*math.Max(math.Abs(row[k]), math.Abs(params[k])) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

// Reparametrize applies fn to every parameter vector and returns a new
// ensemble with transformed parameters and unchanged features. Every
// transformed row must come back with the same width.
func (e *Ensemble) Reparametrize(fn func(params []float64) []float64) (*Ensemble, error) {
	if len(e.params) == 0 {
		return nil, ErrEmpty
	}
	out := &Ensemble{featureShape: e.FeatureShape()}
	width := -1
	for i := range e.params {
		p := fn(e.Params(i))
		if width < 0 {
			width = len(p)
		}
		if len(p) != width || width == 0 {
			return nil, fmt.Errorf("%w: transformed row %d has width %d, expected %d",
				ErrShapeMismatch, i, len(p), width)
		}
		if err := out.AddModel(p, e.features[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Transform applies fn to every feature vector and returns a new
// ensemble with transformed features and unchanged parameters. The
// feature shape resets to a flat vector of the new width.
func (e *Ensemble) Transform(fn func(features []float64) []float64) (*Ensemble, error) {
	if len(e.params) == 0 {
		return nil, ErrEmpty
	}
	out := &Ensemble{}
	width := -1
	for i := range e.features {
		f := fn(e.Features(i))
		if width < 0 {
			width = len(f)
		}
		if len(f) != width || width == 0 {
			return nil, fmt.Errorf("%w: transformed row %d has width %d, expected %d",
				ErrShapeMismatch, i, len(f), width)
		}
		if err := out.AddModel(e.params[i], f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Len returns the number of rows.
func (e *Ensemble) Len() int { return len(e.params) }

// NumParams returns the parameter vector length, 0 when empty.
func (e *Ensemble) NumParams() int {
	if len(e.params) == 0 {
		return 0
	}
	return len(e.params[0])
}

// NumBins returns the flattened feature width, 0 when empty.
func (e *Ensemble) NumBins() int {
	if len(e.features) == 0 {
		return 0
	}
	return len(e.features[0])
}

// FeatureShape returns a copy of the logical feature shape.
func (e *Ensemble) FeatureShape() []int {
	out := make([]int, len(e.featureShape))
	copy(out, e.featureShape)
	return out
}

// Params returns a copy of row i's parameter vector.
func (e *Ensemble) Params(i int) []float64 {
	out := make([]float64, len(e.params[i]))
	copy(out, e.params[i])
	return out
}

// Features returns a copy of row i's flattened feature vector.
func (e *Ensemble) Features(i int) []float64 {
	out := make([]float64, len(e.features[i]))
	copy(out, e.features[i])
	return out
}

// ParamMatrix returns the parameter block as a rows x P dense matrix.
func (e *Ensemble) ParamMatrix() *mat.Dense {
	if len(e.params) == 0 {
		return nil
	}
	m := mat.NewDense(len(e.params), len(e.params[0]), nil)
	for i, row := range e.params {
		m.SetRow(i, row)
	}
	return m
}

// FeatureMatrix returns the feature block as a rows x bins dense matrix.
func (e *Ensemble) FeatureMatrix() *mat.Dense {
	if len(e.features) == 0 {
		return nil
	}
	m := mat.NewDense(len(e.features), len(e.features[0]), nil)
	for i, row := range e.features {
		m.SetRow(i, row)
	}
	return m
}
