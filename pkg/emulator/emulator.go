// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package emulator interpolates ensemble features across parameter
// space with one radial basis function interpolant per feature bin,
// producing chi2 and likelihood surfaces at arbitrary parameter points.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/lensmap/pkg/ensemble"
	"github.com/AleutianAI/lensmap/pkg/validation"
)

var tracer = otel.Tracer("lensmap.emulator")

var (
	trainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lensmap_emulator_train_duration_seconds",
		Help:    "RBF interpolator training duration",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})

	chi2Points = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lensmap_emulator_chi2_points",
		Help:    "Parameter points per chi2 evaluation",
		Buckets: []float64{1, 10, 100, 1000, 10000},
	})
)

// Sentinel errors for the emulator engine.
var (
	// ErrNoCovariance indicates a chi2 request without a covariance.
	ErrNoCovariance = errors.New("covariance is required")

	// ErrShapeMismatch indicates input dimensions that do not match the
	// trained ensemble.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrChunkMismatch indicates a chunk count that does not evenly
	// divide the number of parameter points.
	ErrChunkMismatch = errors.New("chunk count must evenly divide the number of points")

	// ErrSingularNodes indicates training nodes that do not admit a
	// unique interpolant, typically duplicated parameter points.
	ErrSingularNodes = errors.New("training nodes are singular")

	// ErrUnsupported marks entry points carried for interface parity but
	// never implemented.
	ErrUnsupported = errors.New("operation not supported")
)

// GaussianLikelihood is the default chi2 to likelihood map.
func GaussianLikelihood(chi2 float64) float64 {
	return math.Exp(-0.5 * chi2)
}

// Engine emulates ensemble features between simulated parameter points.
//
// Training builds one RBF interpolant per flattened feature bin over a
// chosen parameter subset. All interpolants share the same node matrix,
// so a single LU factorization with a multi-RHS solve covers every bin.
// Trained state is immutable; Chi2 fans chunks out over goroutines that
// only read it.
type Engine struct {
	ens        *ensemble.Ensemble
	kernel     Kernel
	epsilon    float64
	likelihood func(float64) float64
	log        *slog.Logger

	// Trained state; weights == nil means untrained.
	nodes      [][]float64
	weights    *mat.Dense
	useParams  []int
	trainedEps float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithKernel selects the radial basis function, multiquadric by default.
func WithKernel(k Kernel) Option {
	return func(e *Engine) { e.kernel = k }
}

// WithEpsilon overrides the kernel shape parameter; non-positive values
// fall back to the average node spacing.
func WithEpsilon(eps float64) Option {
	return func(e *Engine) { e.epsilon = eps }
}

// WithLogger injects a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New wraps an existing ensemble.
func New(ens *ensemble.Ensemble, opts ...Option) (*Engine, error) {
	if ens == nil || ens.Len() == 0 {
		return nil, fmt.Errorf("%w: empty ensemble", ErrShapeMismatch)
	}
	e := &Engine{
		ens:        ens,
		kernel:     KernelMultiquadric,
		likelihood: GaussianLikelihood,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.kernel.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Ensemble returns the underlying ensemble.
func (e *Engine) Ensemble() *ensemble.Ensemble { return e.ens }

// Trained reports whether interpolants have been built.
func (e *Engine) Trained() bool { return e.weights != nil }

// Train builds the per-bin interpolants over the given parameter
// indices; nil uses every parameter. Retraining replaces the previous
// interpolants.
func (e *Engine) Train(ctx context.Context, useParams []int) error {
	_, span := tracer.Start(ctx, "Emulator.Train",
		trace.WithAttributes(
			attribute.Int("models", e.ens.Len()),
			attribute.Int("bins", e.ens.NumBins()),
			attribute.String("kernel", string(e.kernel)),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { trainDuration.Observe(time.Since(start).Seconds()) }()

	if useParams == nil {
		useParams = make([]int, e.ens.NumParams())
		for i := range useParams {
			useParams[i] = i
		}
	}
	seen := make(map[int]bool, len(useParams))
	for _, p := range useParams {
		if p < 0 || p >= e.ens.NumParams() || seen[p] {
			return fmt.Errorf("%w: parameter index %d in %v", ErrShapeMismatch, p, useParams)
		}
		seen[p] = true
	}

	n := e.ens.Len()
	nodes := make([][]float64, n)
	for i := 0; i < n; i++ {
		full := e.ens.Params(i)
		node := make([]float64, len(useParams))
		for d, p := range useParams {
			node[d] = full[p]
		}
		nodes[i] = node
	}

	eps := e.epsilon
	if eps <= 0 {
		eps = autoEpsilon(nodes)
	}

	// Shared node matrix: A[i][j] = phi(|x_i - x_j|).
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, e.kernel.eval(distance(nodes[i], nodes[j]), eps))
		}
	}

	var lu mat.LU
	lu.Factorize(a)
	var weights mat.Dense
	if err := lu.SolveTo(&weights, false, e.ens.FeatureMatrix()); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularNodes, err)
	}

	e.nodes = nodes
	e.weights = &weights
	e.useParams = useParams
	e.trainedEps = eps
	e.log.Debug("trained emulator",
		"kernel", string(e.kernel), "epsilon", eps,
		"nodes", n, "bins", e.ens.NumBins(), "parameters", len(useParams))
	return nil
}

// UsedParams returns the parameter indices of the trained subspace.
func (e *Engine) UsedParams() []int {
	out := make([]int, len(e.useParams))
	copy(out, e.useParams)
	return out
}

// ensureTrained trains with defaults when untrained.
func (e *Engine) ensureTrained(ctx context.Context) error {
	if e.weights != nil {
		return nil
	}
	return e.Train(ctx, nil)
}

// evalPoint evaluates every bin interpolant at one parameter point.
func (e *Engine) evalPoint(point []float64) []float64 {
	bins := e.ens.NumBins()
	out := make([]float64, bins)
	for i, node := range e.nodes {
		phi := e.kernel.eval(distance(point, node), e.trainedEps)
		for k := 0; k < bins; k++ {
			out[k] += phi * e.weights.At(i, k)
		}
	}
	return out
}

// Predict evaluates the emulated feature vector at one point of the
// trained parameter subspace. Point width must equal the number of used
// parameters. Trains with defaults when untrained; reshape the flat
// result with Ensemble().FeatureShape().
func (e *Engine) Predict(ctx context.Context, point []float64) ([]float64, error) {
	if err := e.ensureTrained(ctx); err != nil {
		return nil, err
	}
	if err := validation.ValidateVectorLen("parameter point", point, len(e.useParams)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	return e.evalPoint(point), nil
}

// evalContext is the read-only state a chi2 worker needs: trained
// interpolants, the observation and the covariance inverse.
type evalContext struct {
	engine   *Engine
	observed []float64
	covInv   *mat.Dense
}

// chi2At computes (obs - model) C^{-1} (obs - model)^T at one point.
func (c *evalContext) chi2At(point []float64) float64 {
	model := c.engine.evalPoint(point)
	bins := len(model)
	resid := make([]float64, bins)
	for k := range resid {
		resid[k] = c.observed[k] - model[k]
	}
	total := 0.0
	for i := 0; i < bins; i++ {
		row := 0.0
		for j := 0; j < bins; j++ {
			row += c.covInv.At(i, j) * resid[j]
		}
		total += resid[i] * row
	}
	return total
}

// checkObservation validates the observed feature and covariance, and
// returns the covariance inverse. The emulator requires the full matrix
// form.
func (e *Engine) checkObservation(observed []float64, cov *mat.SymDense) (*mat.Dense, error) {
	if cov == nil {
		return nil, ErrNoCovariance
	}
	if err := validation.ValidateVectorLen("observed feature", observed, e.ens.NumBins()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if cov.SymmetricDim() != e.ens.NumBins() {
		return nil, fmt.Errorf("%w: covariance dim %d, feature width %d",
			ErrShapeMismatch, cov.SymmetricDim(), e.ens.NumBins())
	}
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		return nil, fmt.Errorf("inverting the feature covariance: %w", err)
	}
	return &inv, nil
}

// Chi2 computes the chi2 surface over a list of parameter points.
//
// The covariance inverse is computed once and shared. With splitChunks
// above zero the points are partitioned into that many equal chunks,
// evaluated concurrently; the chunk count must evenly divide the point
// count. splitChunks <= 0 evaluates everything in one chunk. Chunking
// never changes the result, only the scheduling.
func (e *Engine) Chi2(ctx context.Context, points [][]float64, observed []float64, cov *mat.SymDense, splitChunks int) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "Emulator.Chi2",
		trace.WithAttributes(
			attribute.Int("points", len(points)),
			attribute.Int("chunks", splitChunks),
		),
	)
	defer span.End()
	chi2Points.Observe(float64(len(points)))

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no parameter points", ErrShapeMismatch)
	}
	covInv, err := e.checkObservation(observed, cov)
	if err != nil {
		return nil, err
	}
	if err := e.ensureTrained(ctx); err != nil {
		return nil, err
	}
	for i, p := range points {
		if len(p) != len(e.useParams) {
			return nil, fmt.Errorf("%w: point %d has width %d, trained on %d parameters",
				ErrShapeMismatch, i, len(p), len(e.useParams))
		}
	}

	chunks := splitChunks
	if chunks <= 0 {
		chunks = 1
	}
	if len(points)%chunks != 0 {
		return nil, fmt.Errorf("%w: %d points into %d chunks", ErrChunkMismatch, len(points), chunks)
	}
	chunkLen := len(points) / chunks

	ec := &evalContext{engine: e, observed: observed, covInv: covInv}
	out := make([]float64, len(points))

	g, _ := errgroup.WithContext(ctx)
	for c := 0; c < chunks; c++ {
		lo := c * chunkLen
		g.Go(func() error {
			for i := lo; i < lo+chunkLen; i++ {
				out[i] = ec.chi2At(points[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Chi2Contributions decomposes the chi2 at one parameter point into its
// per-bin-pair contributions: outer(resid, resid) * C^{-1} elementwise.
// Summing every element recovers the chi2.
func (e *Engine) Chi2Contributions(ctx context.Context, point []float64, observed []float64, cov *mat.SymDense) (*mat.Dense, error) {
	covInv, err := e.checkObservation(observed, cov)
	if err != nil {
		return nil, err
	}
	model, err := e.Predict(ctx, point)
	if err != nil {
		return nil, err
	}

	bins := len(model)
	resid := make([]float64, bins)
	for k := range resid {
		resid[k] = observed[k] - model[k]
	}
	out := mat.NewDense(bins, bins, nil)
	for i := 0; i < bins; i++ {
		for j := 0; j < bins; j++ {
			out.Set(i, j, resid[i]*resid[j]*covInv.At(i, j))
		}
	}
	return out, nil
}

// Likelihood maps chi2 values through the configured likelihood
// function, Gaussian exp(-chi2/2) by default.
func (e *Engine) Likelihood(chi2 []float64) []float64 {
	out := make([]float64, len(chi2))
	for i, v := range chi2 {
		out[i] = e.likelihood(v)
	}
	return out
}

// SetLikelihood replaces the likelihood function.
func (e *Engine) SetLikelihood(fn func(float64) float64) error {
	if fn == nil {
		return fmt.Errorf("%w: nil likelihood function", ErrShapeMismatch)
	}
	e.likelihood = fn
	return nil
}

// SetToModel is carried for parity with the analysis surface but was
// never implemented.
func (e *Engine) SetToModel(point []float64) error {
	return fmt.Errorf("%w: SetToModel", ErrUnsupported)
}

// Emulate is carried for parity with the analysis surface but was
// never implemented.
func (e *Engine) Emulate(newLabels []float64) ([]float64, error) {
	return nil, fmt.Errorf("%w: Emulate", ErrUnsupported)
}
