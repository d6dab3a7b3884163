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

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/lensmap/pkg/binning"
)

// sigmaFactor resolves the threshold normalization: the map standard
// deviation when norm is set, 1 otherwise.
func (m *Map) sigmaFactor(norm bool) (float64, error) {
	if !norm {
		return 1.0, nil
	}
	sigma := m.Std()
	if sigma == 0 {
		return 0, fmt.Errorf("%w: cannot normalize thresholds", ErrZeroVariance)
	}
	return sigma, nil
}

// PDF computes the one-point probability density of the convergence over
// the given threshold binning.
//
// With norm set, thresholds are interpreted in units of the map standard
// deviation. The density is conditioned on the binning range: it is
// divided by the count of pixels that land inside it, so
// sum(density * width) == 1 whichever units are used and however many
// pixels fall outside. Returns ErrEmptyRange when no pixel lands in any
// bin. Returns the bin midpoints and the density at the midpoints.
func (m *Map) PDF(thresholds binning.Edges, norm bool) (mids, density []float64, err error) {
	sigma, err := m.sigmaFactor(norm)
	if err != nil {
		return nil, nil, err
	}
	scaled, err := thresholds.Scaled(sigma)
	if err != nil {
		return nil, nil, err
	}

	counts := make([]float64, scaled.Bins())
	total := 0.0
	for _, v := range m.kappa {
		if bin := scaled.FindBin(v); bin >= 0 {
			counts[bin]++
			total++
		}
	}
	if total == 0 {
		return nil, nil, fmt.Errorf("%w: thresholds [%g, %g]", ErrEmptyRange, thresholds.Min(), thresholds.Max())
	}

	widths := thresholds.Widths()
	density = make([]float64, len(counts))
	for i, c := range counts {
		density[i] = c / (total * widths[i])
	}
	return thresholds.Midpoints(), density, nil
}

// PeakCount counts local maxima of the map in each threshold bin.
//
// A peak is an interior pixel strictly greater than all 8 of its
// neighbors. With norm set, thresholds are in units of the map standard
// deviation. Returns the bin midpoints and the differential counts
// (raw counts divided by the bin width in input threshold units).
func (m *Map) PeakCount(thresholds binning.Edges, norm bool) (mids, counts []float64, err error) {
	sigma, err := m.sigmaFactor(norm)
	if err != nil {
		return nil, nil, err
	}
	scaled, err := thresholds.Scaled(sigma)
	if err != nil {
		return nil, nil, err
	}

	raw := make([]float64, scaled.Bins())
	for i := 1; i < m.rows-1; i++ {
		for j := 1; j < m.cols-1; j++ {
			v := m.kappa[i*m.cols+j]
			if !m.isPeak(i, j, v) {
				continue
			}
			if bin := scaled.FindBin(v); bin >= 0 {
				raw[bin]++
			}
		}
	}

	widths := thresholds.Widths()
	counts = make([]float64, len(raw))
	for i, c := range raw {
		counts[i] = c / widths[i]
	}
	return thresholds.Midpoints(), counts, nil
}

func (m *Map) isPeak(i, j int, v float64) bool {
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			if di == 0 && dj == 0 {
				continue
			}
			if m.kappa[(i+di)*m.cols+(j+dj)] >= v {
				return false
			}
		}
	}
	return true
}

// Moments holds the first nine moments of a convergence map: two
// quadratic, three cubic (skewness-type) and four quartic
// (kurtosis-type) combinations of the field and its derivatives.
type Moments struct {
	Sigma0 float64 // std of kappa
	Sigma1 float64 // rms of |grad kappa|
	S0     float64 // <kappa^3>
	S1     float64 // <kappa^2 lap(kappa)>
	S2     float64 // <|grad kappa|^2 lap(kappa)>
	K0     float64 // <kappa^4>
	K1     float64 // <kappa^3 lap(kappa)>
	K2     float64 // <kappa |grad kappa|^2 lap(kappa)>
	K3     float64 // <|grad kappa|^4>
}

// Vector returns the moments as the conventional 9-vector
// [sigma0, sigma1, S0, S1, S2, K0, K1, K2, K3].
func (mo Moments) Vector() []float64 {
	return []float64{mo.Sigma0, mo.Sigma1, mo.S0, mo.S1, mo.S2, mo.K0, mo.K1, mo.K2, mo.K3}
}

// ComputeMoments measures the quadratic, cubic and quartic moments of
// the map, computing gradient and Hessian on demand.
//
// With connected set, the Gaussian-field contributions are subtracted
// from the quartic moments so they vanish for a Gaussian random field.
// With dimensionless set, every moment is divided by the appropriate
// powers of sigma0 and sigma1.
func (m *Map) ComputeMoments(connected, dimensionless bool) (Moments, error) {
	gx, gy := m.Gradient()
	hxx, hyy, _ := m.Hessian()

	n := float64(len(m.kappa))
	var mo Moments

	mean := stat.Mean(m.kappa, nil)
	mo.Sigma0 = math.Sqrt(stat.MomentAbout(2, m.kappa, mean, nil))

	var gradSq, s0, s1, s2, k0, k1, k2, k3 float64
	for p, v := range m.kappa {
		g2 := gx[p]*gx[p] + gy[p]*gy[p]
		lap := hxx[p] + hyy[p]
		gradSq += g2
		s0 += v * v * v
		s1 += v * v * lap
		s2 += g2 * lap
		k0 += v * v * v * v
		k1 += v * v * v * lap
		k2 += v * g2 * lap
		k3 += g2 * g2
	}
	mo.Sigma1 = math.Sqrt(gradSq / n)
	mo.S0 = s0 / n
	mo.S1 = s1 / n
	mo.S2 = s2 / n
	mo.K0 = k0 / n
	mo.K1 = k1 / n
	mo.K2 = k2 / n
	mo.K3 = k3 / n

	sig0sq := mo.Sigma0 * mo.Sigma0
	sig1sq := mo.Sigma1 * mo.Sigma1

	if connected {
		mo.K0 -= 3 * sig0sq * sig0sq
		mo.K1 += 3 * sig0sq * sig1sq
		mo.K2 += sig1sq * sig1sq
		mo.K3 -= 2 * sig1sq * sig1sq
	}

	if dimensionless {
		if mo.Sigma0 == 0 || mo.Sigma1 == 0 {
			return Moments{}, fmt.Errorf("%w: cannot form dimensionless moments", ErrZeroVariance)
		}
		mo.S0 /= sig0sq * mo.Sigma0
		mo.S1 /= mo.Sigma0 * sig1sq
		mo.S2 *= mo.Sigma0 / (sig1sq * sig1sq)
		mo.K0 /= sig0sq * sig0sq
		mo.K1 /= sig0sq * sig1sq
		mo.K2 /= sig1sq * sig1sq
		mo.K3 /= sig1sq * sig1sq
		mo.Sigma0 = 1
		mo.Sigma1 = 1
	}

	return mo, nil
}
