// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lensmap/pkg/binning"
)

func TestFFT2Real_ConstantField(t *testing.T) {
	const n = 16
	data := make([]float64, n*n)
	for i := range data {
		data[i] = 2.5
	}

	ft, err := FFT2Real(data, n, n)
	require.NoError(t, err)

	// All signal sits in the DC component.
	assert.InDelta(t, 2.5*float64(n*n), real(ft[0][0]), 1e-9)
	assert.InDelta(t, 0.0, imag(ft[0][0]), 1e-9)
	assert.InDelta(t, 0.0, real(ft[3][5]), 1e-9)
	assert.InDelta(t, 0.0, imag(ft[3][5]), 1e-9)
}

func TestFFT2Real_RejectsBadShape(t *testing.T) {
	_, err := FFT2Real(make([]float64, 10), 4, 4)
	assert.Error(t, err)
}

// A single-mode sinusoid must concentrate its power in the multipole bin
// containing that mode.
func TestBinAzimuthal_SinusoidConcentration(t *testing.T) {
	const (
		n         = 64
		mode      = 8
		sideAngle = 2.0 // degrees
	)
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data[i*n+j] = math.Cos(2.0 * math.Pi * float64(mode) * float64(j) / n)
		}
	}

	ft, err := FFT2Real(data, n, n)
	require.NoError(t, err)

	lpix := 360.0 / sideAngle
	target := lpix * float64(mode)
	edges, err := binning.Linear(lpix*1.0, lpix*20.0, 19)
	require.NoError(t, err)

	power, err := BinAzimuthal(ft, ft, sideAngle, edges)
	require.NoError(t, err)
	require.Len(t, power, edges.Bins())

	targetBin := edges.FindBin(target)
	require.GreaterOrEqual(t, targetBin, 0)
	require.False(t, math.IsNaN(power[targetBin]))
	assert.Greater(t, power[targetBin], 0.0)

	for k, p := range power {
		if k == targetBin || math.IsNaN(p) {
			continue
		}
		assert.Less(t, p, power[targetBin]*1e-6,
			"bin %d should carry negligible power compared to the mode bin", k)
	}
}

func TestBinAzimuthal_EmptyBinsAreNaN(t *testing.T) {
	const n = 8
	data := make([]float64, n*n)
	data[0] = 1.0

	ft, err := FFT2Real(data, n, n)
	require.NoError(t, err)

	// Multipoles far above anything an 8x8 grid can populate.
	edges, err := binning.Linear(1e6, 2e6, 4)
	require.NoError(t, err)

	power, err := BinAzimuthal(ft, ft, 3.0, edges)
	require.NoError(t, err)
	for k, p := range power {
		assert.True(t, math.IsNaN(p), "empty bin %d should be NaN, got %g", k, p)
	}
}

func TestBinAzimuthal_ShapeMismatch(t *testing.T) {
	a, err := FFT2Real(make([]float64, 16), 4, 4)
	require.NoError(t, err)
	b, err := FFT2Real(make([]float64, 64), 8, 8)
	require.NoError(t, err)

	edges, err := binning.Linear(100, 1000, 3)
	require.NoError(t, err)

	_, err = BinAzimuthal(a, b, 3.0, edges)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestBinAzimuthal_RejectsNonPositiveAngle(t *testing.T) {
	ft, err := FFT2Real(make([]float64, 16), 4, 4)
	require.NoError(t, err)
	edges, err := binning.Linear(100, 1000, 3)
	require.NoError(t, err)

	_, err = BinAzimuthal(ft, ft, 0.0, edges)
	assert.Error(t, err)
}
