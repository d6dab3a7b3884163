// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package emulator

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedKernel indicates an unknown radial basis function name.
var ErrUnsupportedKernel = errors.New("unsupported radial basis function")

// Kernel selects the radial basis function used for interpolation.
type Kernel string

// Supported radial basis functions. With no smoothing term all of them
// interpolate exactly at the training nodes.
const (
	KernelMultiquadric Kernel = "multiquadric"
	KernelGaussian     Kernel = "gaussian"
	KernelLinear       Kernel = "linear"
	KernelCubic        Kernel = "cubic"
	KernelThinPlate    Kernel = "thin-plate"
)

func (k Kernel) validate() error {
	switch k {
	case KernelMultiquadric, KernelGaussian, KernelLinear, KernelCubic, KernelThinPlate:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKernel, k)
	}
}

// eval applies the basis function at radius r with shape parameter eps.
func (k Kernel) eval(r, eps float64) float64 {
	switch k {
	case KernelMultiquadric:
		s := r / eps
		return math.Sqrt(s*s + 1)
	case KernelGaussian:
		s := r / eps
		return math.Exp(-s * s)
	case KernelLinear:
		return r
	case KernelCubic:
		return r * r * r
	case KernelThinPlate:
		if r == 0 {
			return 0
		}
		return r * r * math.Log(r)
	default:
		return math.NaN()
	}
}

// distance is the Euclidean norm between two parameter points.
func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// autoEpsilon estimates the kernel shape parameter as the average
// node spacing: the bounding-box volume per node, taken to the root of
// the number of non-degenerate dimensions.
func autoEpsilon(nodes [][]float64) float64 {
	if len(nodes) == 0 {
		return 1
	}
	dims := len(nodes[0])
	volume := 1.0
	active := 0
	for d := 0; d < dims; d++ {
		lo, hi := nodes[0][d], nodes[0][d]
		for _, n := range nodes[1:] {
			lo = math.Min(lo, n[d])
			hi = math.Max(hi, n[d])
		}
		if hi > lo {
			volume *= hi - lo
			active++
		}
	}
	if active == 0 {
		return 1
	}
	return math.Pow(volume/float64(len(nodes)), 1.0/float64(active))
}
