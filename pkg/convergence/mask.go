// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import "fmt"

// ApplyMask zeroes the pixels where the mask map is 0 and records the
// mask for boundary diagnostics. Mask pixels must be exactly 0 or 1;
// 1 keeps the pixel. Returns the masked fraction, the fraction of
// pixels that were zeroed out. Cached derivatives are invalidated.
func (m *Map) ApplyMask(mask *Map) (float64, error) {
	if err := m.compatible(mask); err != nil {
		return 0, err
	}

	keep := make([]bool, len(mask.kappa))
	kept := 0
	for i, v := range mask.kappa {
		switch v {
		case 0:
		case 1:
			keep[i] = true
			kept++
		default:
			return 0, fmt.Errorf("%w: pixel %d has value %g", ErrMaskNotBinary, i, v)
		}
	}

	for i := range m.kappa {
		if !keep[i] {
			m.kappa[i] = 0
		}
	}
	m.invalidate()
	m.maskKeep = keep

	return 1.0 - float64(kept)/float64(len(keep)), nil
}

// MaskedFraction returns the fraction of pixels zeroed by the last
// applied mask, or ErrNoMask if none was applied.
func (m *Map) MaskedFraction() (float64, error) {
	if m.maskKeep == nil {
		return 0, ErrNoMask
	}
	kept := 0
	for _, k := range m.maskKeep {
		if k {
			kept++
		}
	}
	return 1.0 - float64(kept)/float64(len(m.maskKeep)), nil
}

// MaskBoundaries locates the mask edges through the finite-difference
// derivatives of the binary mask: a pixel is on the gradient boundary
// when the mask gradient is nonzero there, and on the wider Hessian
// boundary when any second derivative is nonzero. Both boolean maps are
// cached on the field. Returns the perimeter-to-area ratio, gradient
// boundary pixels over kept pixels.
//
// Requires a previously applied mask.
func (m *Map) MaskBoundaries() (float64, error) {
	if m.maskKeep == nil {
		return 0, ErrNoMask
	}

	maskField := make([]float64, len(m.maskKeep))
	kept := 0
	for i, k := range m.maskKeep {
		if k {
			maskField[i] = 1
			kept++
		}
	}

	gx := diffX(maskField, m.rows, m.cols)
	gy := diffY(maskField, m.rows, m.cols)
	hxx := diffX(gx, m.rows, m.cols)
	hyy := diffY(gy, m.rows, m.cols)
	hxy := diffY(gx, m.rows, m.cols)

	m.gradBoundary = make([]bool, len(maskField))
	m.hessBoundary = make([]bool, len(maskField))
	perimeter := 0
	for i := range maskField {
		if gx[i] != 0 || gy[i] != 0 {
			m.gradBoundary[i] = true
			perimeter++
		}
		if hxx[i] != 0 || hyy[i] != 0 || hxy[i] != 0 {
			m.hessBoundary[i] = true
		}
	}

	if kept == 0 {
		return 0, fmt.Errorf("mask keeps no pixels, perimeter/area undefined")
	}
	return float64(perimeter) / float64(kept), nil
}

// GradientBoundary reports whether pixel (i, j) lies on the mask
// gradient boundary. MaskBoundaries must have been called.
func (m *Map) GradientBoundary(i, j int) (bool, error) {
	if m.gradBoundary == nil {
		return false, ErrNoMask
	}
	return m.gradBoundary[i*m.cols+j], nil
}

// HessianBoundary reports whether pixel (i, j) lies on the mask
// Hessian boundary. MaskBoundaries must have been called.
func (m *Map) HessianBoundary(i, j int) (bool, error) {
	if m.hessBoundary == nil {
		return false, ErrNoMask
	}
	return m.hessBoundary[i*m.cols+j], nil
}
