// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package spectrum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/AleutianAI/lensmap/pkg/binning"
	"github.com/AleutianAI/lensmap/pkg/validation"
)

// ErrGridMismatch indicates two Fourier grids with different shapes.
var ErrGridMismatch = errors.New("fourier grids have different shapes")

// BinAzimuthal averages the cross power of two 2D Fourier transforms
// over rings of constant multipole and applies the flat-sky estimator
// normalization.
//
// ft1 and ft2 must come from FFT2Real on grids of equal shape; for an
// auto spectrum pass the same transform twice. sideAngleDeg is the
// physical angular size of the map's row dimension in degrees, which
// fixes the multipole of one pixel frequency at l_pix = 360/sideAngleDeg.
//
// For each bin of lEdges the estimator is
//
//	P(l) = (theta_rad^2 / Npix^2) * < Re(ft1 * conj(ft2)) >_ring
//
// where Npix = rows*cols and the average runs over the non-redundant
// half plane (columns 0..cols/2, the real-input FFT layout).
//
// Contract: bins into which no Fourier cell falls yield NaN, never zero,
// so an empty annulus is distinguishable from a genuinely null spectrum.
// The output always has length lEdges.Bins().
func BinAzimuthal(ft1, ft2 [][]complex128, sideAngleDeg float64, lEdges binning.Edges) ([]float64, error) {
	if err := validation.ValidatePositive("side_angle", sideAngleDeg); err != nil {
		return nil, err
	}
	rows, cols, err := gridShape(ft1)
	if err != nil {
		return nil, err
	}
	rows2, cols2, err := gridShape(ft2)
	if err != nil {
		return nil, err
	}
	if rows != rows2 || cols != cols2 {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrGridMismatch, rows, cols, rows2, cols2)
	}

	lpix := 360.0 / sideAngleDeg
	nbins := lEdges.Bins()
	power := make([]float64, nbins)
	hits := make([]int, nbins)

	half := cols / 2
	for i := 0; i < rows; i++ {
		ki := i
		if i > rows/2 {
			ki = i - rows
		}
		for j := 0; j <= half; j++ {
			l := lpix * math.Hypot(float64(ki), float64(j))
			bin := lEdges.FindBin(l)
			if bin < 0 {
				continue
			}
			power[bin] += real(ft1[i][j] * cmplx.Conj(ft2[i][j]))
			hits[bin]++
		}
	}

	thetaRad := sideAngleDeg * math.Pi / 180.0
	npix := float64(rows * cols)
	norm := thetaRad * thetaRad / (npix * npix)
	for k := 0; k < nbins; k++ {
		if hits[k] == 0 {
			power[k] = math.NaN()
			continue
		}
		power[k] = power[k] / float64(hits[k]) * norm
	}

	return power, nil
}

func gridShape(ft [][]complex128) (rows, cols int, err error) {
	rows = len(ft)
	if rows == 0 {
		return 0, 0, errors.New("empty fourier grid")
	}
	cols = len(ft[0])
	for i := 1; i < rows; i++ {
		if len(ft[i]) != cols {
			return 0, 0, errors.New("ragged fourier grid")
		}
	}
	if cols == 0 {
		return 0, 0, errors.New("empty fourier grid")
	}
	return rows, cols, nil
}
