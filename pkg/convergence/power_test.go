// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lensmap/pkg/binning"
)

// sinusoidMap builds a pure cosine along the x direction. With side
// angle 2 deg the fundamental multipole is 180, so mode k sits at
// l = 180*k exactly.
func sinusoidMap(t *testing.T, n, mode int) *Map {
	t.Helper()
	buf := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			buf[i*n+j] = math.Cos(2 * math.Pi * float64(mode*j) / float64(n))
		}
	}
	m, err := New(buf, n, n, 2.0)
	require.NoError(t, err)
	return m
}

func TestPowerSpectrumSinusoid(t *testing.T) {
	m := sinusoidMap(t, 64, 8)

	// Mode 8 lands at l = 1440, inside the [1400, 1500) bin.
	lEdges, err := binning.Linear(1000, 2000, 10)
	require.NoError(t, err)
	l, power, err := m.PowerSpectrum(lEdges)
	require.NoError(t, err)
	require.Len(t, l, 10)

	peak := 4
	assert.InDelta(t, 1450.0, l[peak], 1e-12)
	assert.Greater(t, power[peak], 0.0)
	for k := range power {
		if k == peak || math.IsNaN(power[k]) {
			continue
		}
		assert.Less(t, power[k], power[peak]*1e-6, "power concentrates in the sinusoid bin")
	}
}

func TestCrossEqualsAuto(t *testing.T) {
	m := gaussianMap(t, 32, 32, 16)
	other := m.Clone()

	lEdges, err := binning.Linear(200, 5000, 12)
	require.NoError(t, err)

	_, auto, err := m.PowerSpectrum(lEdges)
	require.NoError(t, err)
	_, cross, err := m.CrossPowerSpectrum(other, lEdges)
	require.NoError(t, err)

	require.Len(t, cross, len(auto))
	for k := range auto {
		if math.IsNaN(auto[k]) {
			assert.True(t, math.IsNaN(cross[k]))
			continue
		}
		assert.InDelta(t, auto[k], cross[k], math.Abs(auto[k])*1e-9+1e-18)
	}
}

func TestPowerSpectrumIncompatible(t *testing.T) {
	m := gaussianMap(t, 32, 32, 17)
	other := gaussianMap(t, 16, 16, 18)

	lEdges, err := binning.Linear(200, 5000, 12)
	require.NoError(t, err)
	_, _, err = m.CrossPowerSpectrum(other, lEdges)
	assert.ErrorIs(t, err, ErrIncompatibleMaps)
}
