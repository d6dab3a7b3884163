// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package convergence implements topological and statistical descriptors
// of 2D weak-lensing convergence maps: one-point PDF, peak counts,
// Minkowski functionals, moments, and power spectra.
//
// A Map owns its pixel buffer and its derived first/second derivative
// caches. The caches are computed lazily on first use and invalidated
// whenever the pixel buffer is mutated in place (smoothing, masking).
// Concurrent reads are safe once the caches are populated; mutation
// requires exclusive ownership.
package convergence

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/lensmap/pkg/validation"
)

// Sentinel errors for map operations.
var (
	// ErrIncompatibleMaps indicates two maps with different pixel shapes
	// or different angular sizes.
	ErrIncompatibleMaps = errors.New("incompatible maps")

	// ErrUnsupportedKernel indicates a smoothing kernel other than Gaussian.
	ErrUnsupportedKernel = errors.New("unsupported smoothing kernel")

	// ErrNoMask indicates a boundary computation requested before any
	// mask was applied.
	ErrNoMask = errors.New("no mask applied")

	// ErrMaskNotBinary indicates a mask map containing values other than 0 and 1.
	ErrMaskNotBinary = errors.New("mask is not binary")

	// ErrZeroVariance indicates a sigma-normalized measurement on a
	// constant map.
	ErrZeroVariance = errors.New("map has zero variance")

	// ErrEmptyRange indicates a binning that captures no pixel of the map.
	ErrEmptyRange = errors.New("no pixels fall inside the binning")
)

// Map is a 2D convergence field with a physical angular size.
//
// Pixels are stored row-major; the pixel scale is uniform in both
// directions and sideAngle refers to the row dimension, matching the
// loader contract.
type Map struct {
	kappa     []float64
	rows      int
	cols      int
	sideAngle float64 // degrees

	grad *gradientCache
	hess *hessianCache

	// maskKeep records the last applied mask (true = kept pixel).
	maskKeep []bool
	// Boundary diagnostic maps, populated by MaskBoundaries.
	gradBoundary []bool
	hessBoundary []bool
}

type gradientCache struct {
	x, y []float64
}

type hessianCache struct {
	xx, yy, xy []float64
}

// Loader is the external collaborator that produces a convergence map.
// Arguments (file names, HDU indices, ...) are captured by the closure;
// the core requires only this contract.
type Loader func() (sideAngle float64, kappa []float64, rows, cols int, err error)

// New creates a Map from a row-major pixel buffer.
//
// The buffer is copied. Fails if the buffer does not match rows x cols,
// either dimension is below 2, or sideAngle is not positive.
func New(kappa []float64, rows, cols int, sideAngle float64) (*Map, error) {
	if err := validation.ValidateGrid(kappa, rows, cols); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("side_angle", sideAngle); err != nil {
		return nil, err
	}
	own := make([]float64, len(kappa))
	copy(own, kappa)
	return &Map{kappa: own, rows: rows, cols: cols, sideAngle: sideAngle}, nil
}

// FromLoader creates a Map by invoking the loader collaborator.
func FromLoader(load Loader) (*Map, error) {
	angle, kappa, rows, cols, err := load()
	if err != nil {
		return nil, fmt.Errorf("loading convergence map: %w", err)
	}
	return New(kappa, rows, cols, angle)
}

// Rows returns the number of pixel rows.
func (m *Map) Rows() int { return m.rows }

// Cols returns the number of pixel columns.
func (m *Map) Cols() int { return m.cols }

// SideAngle returns the angular size in degrees.
func (m *Map) SideAngle() float64 { return m.sideAngle }

// At returns the pixel value at row i, column j.
func (m *Map) At(i, j int) float64 { return m.kappa[i*m.cols+j] }

// Values returns a copy of the pixel buffer.
func (m *Map) Values() []float64 {
	out := make([]float64, len(m.kappa))
	copy(out, m.kappa)
	return out
}

// Mean returns the mean convergence.
func (m *Map) Mean() float64 { return stat.Mean(m.kappa, nil) }

// Std returns the population standard deviation of the convergence.
func (m *Map) Std() float64 {
	mean := stat.Mean(m.kappa, nil)
	return math.Sqrt(stat.MomentAbout(2, m.kappa, mean, nil))
}

// Clone returns a deep copy of the map without derived caches.
func (m *Map) Clone() *Map {
	c := &Map{rows: m.rows, cols: m.cols, sideAngle: m.sideAngle}
	c.kappa = make([]float64, len(m.kappa))
	copy(c.kappa, m.kappa)
	return c
}

// invalidate drops every derived quantity after an in-place mutation.
func (m *Map) invalidate() {
	m.grad = nil
	m.hess = nil
	m.gradBoundary = nil
	m.hessBoundary = nil
}

// compatible verifies shape and angular size agreement with another map.
func (m *Map) compatible(other *Map) error {
	if err := validation.ValidateSameShape(m.rows, m.cols, other.rows, other.cols); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatibleMaps, err)
	}
	if m.sideAngle != other.sideAngle {
		return fmt.Errorf("%w: side angles %g deg vs %g deg", ErrIncompatibleMaps, m.sideAngle, other.sideAngle)
	}
	return nil
}

// Add returns a new map with the pixel-wise sum of m and other.
func (m *Map) Add(other *Map) (*Map, error) {
	if err := m.compatible(other); err != nil {
		return nil, err
	}
	out := m.Clone()
	for i := range out.kappa {
		out.kappa[i] += other.kappa[i]
	}
	return out, nil
}

// AddScalar returns a new map with the scalar added to every pixel.
func (m *Map) AddScalar(v float64) *Map {
	out := m.Clone()
	for i := range out.kappa {
		out.kappa[i] += v
	}
	return out
}

// AddValues returns a new map with a raw buffer of matching length added
// pixel-wise.
func (m *Map) AddValues(vals []float64) (*Map, error) {
	if err := validation.ValidateVectorLen("addend", vals, len(m.kappa)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleMaps, err)
	}
	out := m.Clone()
	for i := range out.kappa {
		out.kappa[i] += vals[i]
	}
	return out, nil
}

// Multiply returns a new map with the pixel-wise product of m and other.
// Multiplying by a binary mask map reproduces masking without mutating m.
func (m *Map) Multiply(other *Map) (*Map, error) {
	if err := m.compatible(other); err != nil {
		return nil, err
	}
	out := m.Clone()
	for i := range out.kappa {
		out.kappa[i] *= other.kappa[i]
	}
	return out, nil
}
