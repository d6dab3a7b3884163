// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package binning provides ordered bin-edge sequences for histogram-style
// measurements.
//
// The same Edges type backs convergence-threshold binning (PDF, peak
// counts, Minkowski functionals) and multipole binning (power spectra).
// Edges are validated once at construction; every consumer can then rely
// on them being strictly increasing with at least one bin.
package binning

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/lensmap/pkg/validation"
)

// ErrInvalidEdges indicates an edge sequence that cannot define a binning.
var ErrInvalidEdges = errors.New("invalid bin edges")

// Edges is an immutable, strictly increasing sequence of bin edges.
//
// N edges define N-1 bins. Bin i covers the half-open interval
// [edge[i], edge[i+1]); the final bin is closed on the right so the
// maximum value is not dropped.
type Edges struct {
	edges []float64
}

// New builds an Edges value from the given sequence.
//
// Returns ErrInvalidEdges (wrapped with detail) if fewer than two edges
// are supplied or the sequence is not strictly increasing.
func New(edges []float64) (Edges, error) {
	if len(edges) < 2 {
		return Edges{}, fmt.Errorf("%w: need at least 2 edges, got %d", ErrInvalidEdges, len(edges))
	}
	if err := validation.ValidateIncreasing("edges", edges); err != nil {
		return Edges{}, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
	}
	own := make([]float64, len(edges))
	copy(own, edges)
	return Edges{edges: own}, nil
}

// Linear builds bins evenly spaced edges over [min, max] with the given
// number of bins.
func Linear(min, max float64, bins int) (Edges, error) {
	if bins < 1 {
		return Edges{}, fmt.Errorf("%w: need at least 1 bin, got %d", ErrInvalidEdges, bins)
	}
	if max <= min {
		return Edges{}, fmt.Errorf("%w: max %g must exceed min %g", ErrInvalidEdges, max, min)
	}
	edges := make([]float64, bins+1)
	step := (max - min) / float64(bins)
	for i := range edges {
		edges[i] = min + float64(i)*step
	}
	edges[bins] = max
	return Edges{edges: edges}, nil
}

// Bins returns the number of bins (len(edges)-1).
func (e Edges) Bins() int {
	if len(e.edges) == 0 {
		return 0
	}
	return len(e.edges) - 1
}

// Slice returns a copy of the edge sequence.
func (e Edges) Slice() []float64 {
	out := make([]float64, len(e.edges))
	copy(out, e.edges)
	return out
}

// Midpoints returns the pairwise averages of consecutive edges.
func (e Edges) Midpoints() []float64 {
	mids := make([]float64, e.Bins())
	for i := range mids {
		mids[i] = 0.5 * (e.edges[i] + e.edges[i+1])
	}
	return mids
}

// Widths returns the width of each bin.
func (e Edges) Widths() []float64 {
	widths := make([]float64, e.Bins())
	for i := range widths {
		widths[i] = e.edges[i+1] - e.edges[i]
	}
	return widths
}

// Min returns the lowest edge.
func (e Edges) Min() float64 { return e.edges[0] }

// Max returns the highest edge.
func (e Edges) Max() float64 { return e.edges[len(e.edges)-1] }

// Scaled returns a new Edges with every edge multiplied by factor.
// The factor must be positive to preserve ordering.
func (e Edges) Scaled(factor float64) (Edges, error) {
	if factor <= 0 {
		return Edges{}, fmt.Errorf("%w: scale factor must be positive, got %g", ErrInvalidEdges, factor)
	}
	scaled := make([]float64, len(e.edges))
	for i, v := range e.edges {
		scaled[i] = v * factor
	}
	return Edges{edges: scaled}, nil
}

// FindBin returns the index of the bin containing v, or -1 if v lies
// outside the binning. The last bin includes its upper edge.
func (e Edges) FindBin(v float64) int {
	n := e.Bins()
	if n == 0 || v < e.edges[0] || v > e.edges[n] {
		return -1
	}
	if v == e.edges[n] {
		return n - 1
	}
	// Binary search over the half-open bins.
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if v >= e.edges[mid] {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
