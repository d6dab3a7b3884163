// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import (
	"fmt"

	"github.com/AleutianAI/lensmap/pkg/binning"
	"github.com/AleutianAI/lensmap/pkg/spectrum"
)

// PowerSpectrum measures the azimuthally averaged flat-sky power
// spectrum P(l) over the multipole bins. Returns the bin midpoints and
// the band powers; bins with no Fourier modes hold NaN.
func (m *Map) PowerSpectrum(lEdges binning.Edges) (l, power []float64, err error) {
	return m.CrossPowerSpectrum(m, lEdges)
}

// CrossPowerSpectrum measures the cross power spectrum of two maps with
// the same shape and angular size. The cross spectrum of a map with
// itself equals its power spectrum.
func (m *Map) CrossPowerSpectrum(other *Map, lEdges binning.Edges) (l, power []float64, err error) {
	if err := m.compatible(other); err != nil {
		return nil, nil, err
	}

	ft1, err := spectrum.FFT2Real(m.kappa, m.rows, m.cols)
	if err != nil {
		return nil, nil, fmt.Errorf("transforming first map: %w", err)
	}
	ft2 := ft1
	if other != m {
		ft2, err = spectrum.FFT2Real(other.kappa, other.rows, other.cols)
		if err != nil {
			return nil, nil, fmt.Errorf("transforming second map: %w", err)
		}
	}

	power, err = spectrum.BinAzimuthal(ft1, ft2, m.sideAngle, lEdges)
	if err != nil {
		return nil, nil, err
	}
	return lEdges.Midpoints(), power, nil
}
