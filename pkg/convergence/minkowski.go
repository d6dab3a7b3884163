// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

import (
	"math"

	"github.com/AleutianAI/lensmap/pkg/binning"
)

// MinkowskiFunctionals measures the three Minkowski functionals of the
// map excursion sets over the given threshold binning.
//
// With norm set, thresholds are in units of the map standard deviation
// and the field is rescaled to nu = kappa/sigma before binning.
//
// Per threshold bin (midpoint nu, width w):
//
//   - V0: fractional area of the excursion set, the fraction of pixels
//     with nu above the bin midpoint.
//   - V1: boundary length, sum of |grad nu| over pixels whose value
//     falls inside the bin, divided by 4*N*w. The bin sum approximates
//     the delta function at the threshold.
//   - V2: genus characteristic from the discretized Gauss-Bonnet
//     integrand (2 gx gy hxy - gx^2 hyy - gy^2 hxx)/(gx^2+gy^2),
//     summed over pixels inside the bin and divided by 2*pi*N*w.
//
// Pixels with zero gradient magnitude carry no boundary and are skipped
// in V1 and V2, which keeps the curvature division safe.
//
// Gradient and Hessian are computed on demand if not already cached.
// Returns the bin midpoints and the three functionals, all evaluated in
// input threshold units.
func (m *Map) MinkowskiFunctionals(thresholds binning.Edges, norm bool) (mids, v0, v1, v2 []float64, err error) {
	sigma, err := m.sigmaFactor(norm)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	gx, gy := m.Gradient()
	hxx, hyy, hxy := m.Hessian()

	nbins := thresholds.Bins()
	mids = thresholds.Midpoints()
	widths := thresholds.Widths()
	v0 = make([]float64, nbins)
	v1 = make([]float64, nbins)
	v2 = make([]float64, nbins)

	n := float64(len(m.kappa))

	for p, v := range m.kappa {
		nu := v / sigma
		for k := 0; k < nbins; k++ {
			if nu > mids[k] {
				v0[k]++
			}
		}

		bin := thresholds.FindBin(nu)
		if bin < 0 {
			continue
		}
		g2 := gx[p]*gx[p] + gy[p]*gy[p]
		if g2 == 0 {
			continue
		}
		v1[bin] += math.Sqrt(g2) / sigma
		curv := (2.0*gx[p]*gy[p]*hxy[p] - gx[p]*gx[p]*hyy[p] - gy[p]*gy[p]*hxx[p]) / g2
		v2[bin] += curv / sigma
	}

	for k := 0; k < nbins; k++ {
		v0[k] /= n
		v1[k] /= 4.0 * n * widths[k]
		v2[k] /= 2.0 * math.Pi * n * widths[k]
	}
	return mids, v0, v1, v2, nil
}
