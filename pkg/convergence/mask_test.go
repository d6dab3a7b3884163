// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halfMask keeps the left keepCols columns of a rows x cols grid.
func halfMask(t *testing.T, rows, cols, keepCols int) *Map {
	t.Helper()
	return rampMap(t, rows, cols, func(i, j int) float64 {
		if j < keepCols {
			return 1.0
		}
		return 0.0
	})
}

func TestApplyMask(t *testing.T) {
	m := gaussianMap(t, 8, 8, 11)
	mask := halfMask(t, 8, 8, 4)
	mask.sideAngle = m.SideAngle()

	frac, err := m.ApplyMask(mask)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, frac, 1e-12)

	for i := 0; i < 8; i++ {
		for j := 4; j < 8; j++ {
			assert.Zero(t, m.At(i, j))
		}
		assert.NotZero(t, m.At(i, 0))
	}

	got, err := m.MaskedFraction()
	require.NoError(t, err)
	assert.Equal(t, frac, got)
}

func TestApplyMaskMatchesMultiply(t *testing.T) {
	m := gaussianMap(t, 8, 8, 12)
	mask := halfMask(t, 8, 8, 3)
	mask.sideAngle = m.SideAngle()

	product, err := m.Multiply(mask)
	require.NoError(t, err)

	_, err = m.ApplyMask(mask)
	require.NoError(t, err)
	assert.Equal(t, product.Values(), m.Values())
}

func TestApplyMaskRejectsNonBinary(t *testing.T) {
	m := gaussianMap(t, 4, 4, 13)
	bad := rampMap(t, 4, 4, func(i, j int) float64 { return 0.5 })
	bad.sideAngle = m.SideAngle()

	_, err := m.ApplyMask(bad)
	assert.ErrorIs(t, err, ErrMaskNotBinary)
}

func TestMaskBoundaries(t *testing.T) {
	m := gaussianMap(t, 8, 8, 14)
	mask := halfMask(t, 8, 8, 4)
	mask.sideAngle = m.SideAngle()

	_, err := m.ApplyMask(mask)
	require.NoError(t, err)

	ratio, err := m.MaskBoundaries()
	require.NoError(t, err)

	// The step mask has nonzero gradient in the two columns around the
	// edge: perimeter 2*rows over area 4*rows.
	assert.InDelta(t, 0.5, ratio, 1e-12)

	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			grad, err := m.GradientBoundary(i, j)
			require.NoError(t, err)
			hess, err := m.HessianBoundary(i, j)
			require.NoError(t, err)
			assert.Equal(t, j == 3 || j == 4, grad, "gradient boundary at the mask step")
			if grad {
				assert.True(t, hess, "hessian boundary contains the gradient boundary")
			}
		}
	}
}

func TestMaskBoundariesRequireMask(t *testing.T) {
	m := gaussianMap(t, 4, 4, 15)

	_, err := m.MaskBoundaries()
	assert.ErrorIs(t, err, ErrNoMask)
	_, err = m.MaskedFraction()
	assert.ErrorIs(t, err, ErrNoMask)
	_, err = m.GradientBoundary(0, 0)
	assert.ErrorIs(t, err, ErrNoMask)
}
