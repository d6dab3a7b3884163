// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fisher

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/lensmap/pkg/validation"
)

// ErrNotPositiveDefinite indicates a full covariance matrix that cannot
// be factorized.
var ErrNotPositiveDefinite = errors.New("covariance is not positive definite")

// Covariance is a feature covariance in one of two shapes: a diagonal
// variance vector or a full symmetric matrix. Full matrices are
// Cholesky-factorized once at construction; solves reuse the factor.
type Covariance struct {
	diag []float64
	chol *mat.Cholesky
	dim  int
}

// Diagonal builds a covariance from per-bin variances, all positive.
func Diagonal(variances []float64) (*Covariance, error) {
	if len(variances) == 0 {
		return nil, fmt.Errorf("%w: empty variance vector", ErrNotPositiveDefinite)
	}
	for i, v := range variances {
		if err := validation.ValidatePositive(fmt.Sprintf("variance[%d]", i), v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
		}
	}
	own := make([]float64, len(variances))
	copy(own, variances)
	return &Covariance{diag: own, dim: len(own)}, nil
}

// Full builds a covariance from a symmetric positive definite matrix.
func Full(m *mat.SymDense) (*Covariance, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrNotPositiveDefinite)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(m); !ok {
		return nil, ErrNotPositiveDefinite
	}
	return &Covariance{chol: &chol, dim: m.SymmetricDim()}, nil
}

// Dim returns the feature dimension the covariance applies to.
func (c *Covariance) Dim() int { return c.dim }

// solveVec returns C^{-1} v.
func (c *Covariance) solveVec(v []float64) ([]float64, error) {
	if c.diag != nil {
		out := make([]float64, len(v))
		for i := range v {
			out[i] = v[i] / c.diag[i]
		}
		return out, nil
	}
	var dst mat.VecDense
	if err := c.chol.SolveVecTo(&dst, mat.NewVecDense(len(v), v)); err != nil {
		return nil, fmt.Errorf("covariance solve: %w", err)
	}
	return dst.RawVector().Data, nil
}

// solveMatrix returns C^{-1} B for a dim x k right-hand side.
func (c *Covariance) solveMatrix(b *mat.Dense) (*mat.Dense, error) {
	r, k := b.Dims()
	if c.diag != nil {
		out := mat.NewDense(r, k, nil)
		for i := 0; i < r; i++ {
			inv := 1.0 / c.diag[i]
			for j := 0; j < k; j++ {
				out.Set(i, j, b.At(i, j)*inv)
			}
		}
		return out, nil
	}
	var dst mat.Dense
	if err := c.chol.SolveTo(&dst, b); err != nil {
		return nil, fmt.Errorf("covariance solve: %w", err)
	}
	return &dst, nil
}

// mulTransposed returns C * B^T for a k x dim matrix B.
func (c *Covariance) mulTransposed(b *mat.Dense) *mat.Dense {
	k, _ := b.Dims()
	out := mat.NewDense(c.dim, k, nil)
	if c.diag != nil {
		for i := 0; i < c.dim; i++ {
			for j := 0; j < k; j++ {
				out.Set(i, j, c.diag[i]*b.At(j, i))
			}
		}
		return out
	}
	var full mat.SymDense
	c.chol.ToSym(&full)
	out.Mul(&full, b.T())
	return out
}

// quadraticForm returns diff^T C^{-1} diff.
func (c *Covariance) quadraticForm(diff []float64) (float64, error) {
	solved, err := c.solveVec(diff)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := range diff {
		total += diff[i] * solved[i]
	}
	return total, nil
}
