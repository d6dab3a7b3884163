// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validators for numerical operations.
//
// This package contains the eager precondition checks shared by the
// measurement and inference packages: bin-edge ordering, grid shape
// agreement, and covariance shape agreement. Every check runs up front
// at the start of an operation so failures surface with enough context
// to diagnose without re-running.
package validation

import (
	"fmt"
	"math"
)

// ValidateIncreasing verifies that vals is strictly increasing.
//
// The name is included in the error message so the caller's argument
// can be identified ("thresholds", "l_edges", ...).
func ValidateIncreasing(name string, vals []float64) error {
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return fmt.Errorf("%s must be strictly increasing: %s[%d]=%g, %s[%d]=%g",
				name, name, i-1, vals[i-1], name, i, vals[i])
		}
	}
	return nil
}

// ValidateGrid verifies that a flat pixel buffer matches its declared
// 2D dimensions and that both dimensions are usable for finite
// differences (at least 2 pixels each way).
func ValidateGrid(data []float64, rows, cols int) error {
	if rows < 2 || cols < 2 {
		return fmt.Errorf("grid must be at least 2x2, got %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return fmt.Errorf("grid buffer length %d does not match %dx%d=%d pixels",
			len(data), rows, cols, rows*cols)
	}
	return nil
}

// ValidateSameShape verifies that two grids share dimensions.
func ValidateSameShape(rows1, cols1, rows2, cols2 int) error {
	if rows1 != rows2 || cols1 != cols2 {
		return fmt.Errorf("shape mismatch: %dx%d vs %dx%d", rows1, cols1, rows2, cols2)
	}
	return nil
}

// ValidateVectorLen verifies that a vector has the expected length.
func ValidateVectorLen(name string, vec []float64, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%s has length %d, want %d", name, len(vec), want)
	}
	return nil
}

// ValidateFinite verifies that vals contains no NaN or Inf entries.
func ValidateFinite(name string, vals []float64) error {
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s[%d] is not finite: %g", name, i, v)
		}
	}
	return nil
}

// ValidatePositive verifies that a scalar parameter is > 0.
func ValidatePositive(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%s must be positive, got %g", name, v)
	}
	return nil
}
