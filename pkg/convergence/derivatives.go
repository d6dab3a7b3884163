// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package convergence

// Finite-difference derivatives on the pixel grid: central differences
// in the interior, one-sided at the borders. The x direction runs along
// columns, y along rows; spacing is one pixel.

// Gradient returns the first derivatives (d/dx, d/dy) of the map,
// caching both arrays on the field. Repeated calls return the cache.
func (m *Map) Gradient() (gx, gy []float64) {
	if m.grad == nil {
		m.grad = &gradientCache{
			x: diffX(m.kappa, m.rows, m.cols),
			y: diffY(m.kappa, m.rows, m.cols),
		}
	}
	return m.grad.x, m.grad.y
}

// Hessian returns the second derivatives (d2/dx2, d2/dy2, d2/dxdy),
// caching all three. The mixed derivative is the y derivative of the
// x gradient.
func (m *Map) Hessian() (hxx, hyy, hxy []float64) {
	if m.hess == nil {
		gx, gy := m.Gradient()
		m.hess = &hessianCache{
			xx: diffX(gx, m.rows, m.cols),
			yy: diffY(gy, m.rows, m.cols),
			xy: diffY(gx, m.rows, m.cols),
		}
	}
	return m.hess.xx, m.hess.yy, m.hess.xy
}

// refreshDerived recomputes any caches that were populated before an
// in-place mutation, preserving the original lazy state otherwise.
func (m *Map) refreshDerived(hadGrad, hadHess bool) {
	if hadGrad {
		m.Gradient()
	}
	if hadHess {
		m.Hessian()
	}
}

func diffX(field []float64, rows, cols int) []float64 {
	out := make([]float64, len(field))
	for i := 0; i < rows; i++ {
		row := i * cols
		out[row] = field[row+1] - field[row]
		for j := 1; j < cols-1; j++ {
			out[row+j] = 0.5 * (field[row+j+1] - field[row+j-1])
		}
		out[row+cols-1] = field[row+cols-1] - field[row+cols-2]
	}
	return out
}

func diffY(field []float64, rows, cols int) []float64 {
	out := make([]float64, len(field))
	for j := 0; j < cols; j++ {
		out[j] = field[cols+j] - field[j]
		for i := 1; i < rows-1; i++ {
			out[i*cols+j] = 0.5 * (field[(i+1)*cols+j] - field[(i-1)*cols+j])
		}
		last := (rows - 1) * cols
		out[last+j] = field[last+j] - field[last-cols+j]
	}
	return out
}
