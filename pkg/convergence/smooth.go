// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import (
	"fmt"
	"math"
)

// Kernel selects the smoothing kernel.
type Kernel string

const (
	// KernelGaussian is the only supported smoothing kernel.
	KernelGaussian Kernel = "gaussian"
)

// Smooth convolves the map with the named kernel. The scale is the
// kernel width in arcminutes, converted to pixels through the map's
// angular extent. Returns a new smoothed map; the receiver is left
// untouched.
func (m *Map) Smooth(scaleArcmin float64, kernel Kernel) (*Map, error) {
	out := m.Clone()
	if err := out.SmoothInPlace(scaleArcmin, kernel); err != nil {
		return nil, err
	}
	return out, nil
}

// SmoothInPlace convolves the map in place, invalidating any cached
// derivatives. Only the Gaussian kernel is supported; other kernel
// names return ErrUnsupportedKernel.
func (m *Map) SmoothInPlace(scaleArcmin float64, kernel Kernel) error {
	if kernel != KernelGaussian {
		return fmt.Errorf("%w: %q", ErrUnsupportedKernel, kernel)
	}
	if scaleArcmin <= 0 {
		return fmt.Errorf("smoothing scale must be positive, got %g", scaleArcmin)
	}

	sigmaPix := scaleArcmin * float64(m.rows) / (m.sideAngle * 60.0)
	weights := gaussianWeights(sigmaPix)

	hadGrad, hadHess := m.grad != nil, m.hess != nil

	tmp := make([]float64, len(m.kappa))
	convolveRows(m.kappa, tmp, m.rows, m.cols, weights)
	convolveCols(tmp, m.kappa, m.rows, m.cols, weights)

	m.invalidate()
	m.refreshDerived(hadGrad, hadHess)
	return nil
}

// gaussianWeights builds a normalized 1-D Gaussian tap set truncated at
// four standard deviations.
func gaussianWeights(sigma float64) []float64 {
	radius := int(math.Ceil(4.0 * sigma))
	if radius < 1 {
		radius = 1
	}
	w := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2.0 * sigma * sigma))
		w[i+radius] = v
		sum += v
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// reflectIndex maps an out-of-range index back into [0, n) by mirror
// reflection about the array edges.
func reflectIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

func convolveRows(src, dst []float64, rows, cols int, w []float64) {
	radius := len(w) / 2
	for i := 0; i < rows; i++ {
		base := i * cols
		for j := 0; j < cols; j++ {
			acc := 0.0
			for t, wt := range w {
				jj := reflectIndex(j+t-radius, cols)
				acc += wt * src[base+jj]
			}
			dst[base+j] = acc
		}
	}
}

func convolveCols(src, dst []float64, rows, cols int, w []float64) {
	radius := len(w) / 2
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			acc := 0.0
			for t, wt := range w {
				ii := reflectIndex(i+t-radius, rows)
				acc += wt * src[ii*cols+j]
			}
			dst[i*cols+j] = acc
		}
	}
}
