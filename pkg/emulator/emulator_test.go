// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package emulator

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/lensmap/pkg/ensemble"
	"github.com/AleutianAI/lensmap/pkg/logging"
)

// trainingEnsemble builds a 2-parameter grid of models with a smooth
// nonlinear feature response of width 3.
func trainingEnsemble(t *testing.T) *ensemble.Ensemble {
	t.Helper()
	var params, features [][]float64
	for _, x := range []float64{0.0, 0.5, 1.0} {
		for _, y := range []float64{0.0, 1.0} {
			params = append(params, []float64{x, y})
			features = append(features, []float64{
				math.Sin(x) + y,
				x*x - 0.5*y,
				math.Exp(-x * y),
			})
		}
	}
	e, err := ensemble.FromFeatures(features, params)
	require.NoError(t, err)
	return e
}

func identityCovariance(n int) *mat.SymDense {
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		c.SetSym(i, i, 1)
	}
	return c
}

func TestPredictExactAtNodes(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)
	require.NoError(t, eng.Train(context.Background(), nil))

	for i := 0; i < ens.Len(); i++ {
		got, err := eng.Predict(context.Background(), ens.Params(i))
		require.NoError(t, err)
		want := ens.Features(i)
		for k := range want {
			assert.InDelta(t, want[k], got[k], 1e-8, "node %d bin %d", i, k)
		}
	}
}

func TestPredictExactAtNodesAllKernels(t *testing.T) {
	ens := trainingEnsemble(t)
	for _, kernel := range []Kernel{KernelGaussian, KernelLinear, KernelCubic, KernelThinPlate} {
		eng, err := New(ens, WithKernel(kernel))
		require.NoError(t, err)
		require.NoError(t, eng.Train(context.Background(), nil))

		got, err := eng.Predict(context.Background(), ens.Params(3))
		require.NoError(t, err)
		want := ens.Features(3)
		for k := range want {
			assert.InDelta(t, want[k], got[k], 1e-6, "kernel %s bin %d", kernel, k)
		}
	}
}

func TestPredictAutoTrains(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)
	assert.False(t, eng.Trained())

	_, err = eng.Predict(context.Background(), ens.Params(0))
	require.NoError(t, err)
	assert.True(t, eng.Trained())
	assert.Equal(t, []int{0, 1}, eng.UsedParams())
}

func TestTrainParameterSubset(t *testing.T) {
	// The second parameter is constant; train over the first only.
	ens, err := ensemble.FromFeatures(
		[][]float64{{0}, {1}, {4}, {9}},
		[][]float64{{0.0, 7.0}, {1.0, 7.0}, {2.0, 7.0}, {3.0, 7.0}},
	)
	require.NoError(t, err)

	eng, err := New(ens)
	require.NoError(t, err)
	require.NoError(t, eng.Train(context.Background(), []int{0}))

	got, err := eng.Predict(context.Background(), []float64{4.0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got[0], 1e-8)

	_, err = eng.Predict(context.Background(), []float64{4.0, 7.0})
	assert.ErrorIs(t, err, ErrShapeMismatch, "points live in the trained subspace")
}

func TestTrainRejectsBadParameterIndices(t *testing.T) {
	eng, err := New(trainingEnsemble(t))
	require.NoError(t, err)

	assert.ErrorIs(t, eng.Train(context.Background(), []int{2}), ErrShapeMismatch)
	assert.ErrorIs(t, eng.Train(context.Background(), []int{0, 0}), ErrShapeMismatch)
}

func TestNewRejectsUnknownKernel(t *testing.T) {
	_, err := New(trainingEnsemble(t), WithKernel(Kernel("quintic")))
	assert.ErrorIs(t, err, ErrUnsupportedKernel)
}

func TestChi2AtTrainingNode(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)

	cov := identityCovariance(3)
	chi2, err := eng.Chi2(context.Background(), [][]float64{ens.Params(2)}, ens.Features(2), cov, 0)
	require.NoError(t, err)
	require.Len(t, chi2, 1)
	assert.InDelta(t, 0.0, chi2[0], 1e-10, "interpolation is exact at nodes")

	like := eng.Likelihood(chi2)
	assert.InDelta(t, 1.0, like[0], 1e-10)
}

func TestChi2ChunkingInvariant(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)
	cov := identityCovariance(3)

	points := [][]float64{
		{0.1, 0.2}, {0.4, 0.8}, {0.7, 0.1}, {0.9, 0.9},
		{0.2, 0.5}, {0.6, 0.3}, {0.3, 0.9}, {0.8, 0.6},
	}
	observed := ens.Features(0)

	unchunked, err := eng.Chi2(context.Background(), points, observed, cov, 0)
	require.NoError(t, err)
	one, err := eng.Chi2(context.Background(), points, observed, cov, 1)
	require.NoError(t, err)
	four, err := eng.Chi2(context.Background(), points, observed, cov, 4)
	require.NoError(t, err)

	for i := range unchunked {
		assert.Equal(t, unchunked[i], one[i])
		assert.Equal(t, unchunked[i], four[i])
	}
}

func TestChi2ChunkMismatch(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)
	cov := identityCovariance(3)

	points := [][]float64{{0.1, 0.2}, {0.4, 0.8}, {0.7, 0.1}}
	_, err = eng.Chi2(context.Background(), points, ens.Features(0), cov, 2)
	assert.ErrorIs(t, err, ErrChunkMismatch)
}

func TestChi2Preconditions(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)

	_, err = eng.Chi2(context.Background(), [][]float64{{0, 0}}, ens.Features(0), nil, 0)
	assert.ErrorIs(t, err, ErrNoCovariance)

	_, err = eng.Chi2(context.Background(), [][]float64{{0, 0}}, []float64{1}, identityCovariance(3), 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = eng.Chi2(context.Background(), nil, ens.Features(0), identityCovariance(3), 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestChi2ContributionsSumToChi2(t *testing.T) {
	ens := trainingEnsemble(t)
	eng, err := New(ens)
	require.NoError(t, err)

	cov := mat.NewSymDense(3, []float64{
		2.0, 0.3, 0.0,
		0.3, 1.0, 0.1,
		0.0, 0.1, 0.5,
	})
	point := []float64{0.3, 0.4}
	observed := []float64{1.0, -0.5, 0.25}

	contrib, err := eng.Chi2Contributions(context.Background(), point, observed, cov)
	require.NoError(t, err)

	sum := 0.0
	r, c := contrib.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += contrib.At(i, j)
		}
	}
	chi2, err := eng.Chi2(context.Background(), [][]float64{point}, observed, cov, 0)
	require.NoError(t, err)
	assert.InDelta(t, chi2[0], sum, 1e-9)
}

func TestSetLikelihood(t *testing.T) {
	eng, err := New(trainingEnsemble(t))
	require.NoError(t, err)

	assert.Error(t, eng.SetLikelihood(nil))
	require.NoError(t, eng.SetLikelihood(func(chi2 float64) float64 { return -chi2 }))
	out := eng.Likelihood([]float64{2.0})
	assert.Equal(t, []float64{-2.0}, out)
}

func TestUnsupportedEntryPoints(t *testing.T) {
	eng, err := New(trainingEnsemble(t))
	require.NoError(t, err)

	assert.ErrorIs(t, eng.SetToModel([]float64{0, 0}), ErrUnsupported)
	_, err = eng.Emulate([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTrainLogsThroughInjectedLogger(t *testing.T) {
	dir := t.TempDir()
	logger := logging.New(logging.Config{
		Level:   logging.LevelDebug,
		LogDir:  dir,
		Service: "lensmap",
		Quiet:   true,
	})

	eng, err := New(trainingEnsemble(t), WithLogger(logger.Slog()))
	require.NoError(t, err)
	require.NoError(t, eng.Train(context.Background(), nil))
	require.NoError(t, logger.Close())

	name := "lensmap_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "trained emulator")
	assert.Contains(t, string(data), `"kernel":"multiquadric"`)
}
