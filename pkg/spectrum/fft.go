// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package spectrum converts 2D Fourier transforms of convergence maps
// into 1D multipole power spectra by azimuthal averaging.
package spectrum

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/AleutianAI/lensmap/pkg/validation"
)

// FFT2Real computes the unnormalized 2D discrete Fourier transform of a
// real-valued row-major grid.
//
// The transform is built by composing gonum's 1D complex FFT over rows
// and then columns. The output grid has the same rows x cols layout with
// the DC component at [0][0]; row frequencies wrap at rows/2 and column
// frequencies at cols/2 (standard fft2 layout). Consumers interested in
// the real-input redundancy should traverse only columns 0..cols/2.
func FFT2Real(data []float64, rows, cols int) ([][]complex128, error) {
	if err := validation.ValidateGrid(data, rows, cols); err != nil {
		return nil, fmt.Errorf("fft2: %w", err)
	}

	ft := make([][]complex128, rows)
	for i := range ft {
		ft[i] = make([]complex128, cols)
		for j := 0; j < cols; j++ {
			ft[i][j] = complex(data[i*cols+j], 0)
		}
	}

	rowFFT := fourier.NewCmplxFFT(cols)
	for i := 0; i < rows; i++ {
		rowFFT.Coefficients(ft[i], ft[i])
	}

	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = ft[i][j]
		}
		colFFT.Coefficients(col, col)
		for i := 0; i < rows; i++ {
			ft[i][j] = col[i]
		}
	}

	return ft, nil
}
