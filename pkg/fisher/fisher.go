// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fisher estimates parameter constraints from an ensemble of
// simulated models via first-order finite differences around a fiducial
// model: chi2 evaluation, generalized least squares fitting, Fisher
// matrices and min-chi2 classification.
package fisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/lensmap/pkg/ensemble"
	"github.com/AleutianAI/lensmap/pkg/validation"
)

var tracer = otel.Tracer("lensmap.fisher")

var (
	derivativeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lensmap_fisher_derivative_duration_seconds",
		Help:    "Finite difference derivative computation duration",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})

	fitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lensmap_fisher_fit_duration_seconds",
		Help:    "Generalized least squares fit duration",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})
)

// Sentinel errors for the Fisher engine.
var (
	// ErrTooFewModels indicates a derivative computation over fewer than
	// two models.
	ErrTooFewModels = errors.New("need at least two models")

	// ErrHigherOrder indicates a parameter varied in more than one model,
	// which would require higher than first-order finite differences.
	ErrHigherOrder = errors.New("higher order finite differences not supported")

	// ErrSimultaneousVariation indicates a model that varies more than
	// one parameter relative to the fiducial.
	ErrSimultaneousVariation = errors.New("more than one parameter varied in a single model")

	// ErrFiducialOutOfRange indicates a fiducial index past the last row.
	ErrFiducialOutOfRange = errors.New("fiducial index out of range")

	// ErrNoCovariance indicates a chi2, fit or Fisher matrix request
	// without a covariance.
	ErrNoCovariance = errors.New("covariance is required")

	// ErrShapeMismatch indicates an observed feature or covariance whose
	// dimension does not match the ensemble features.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNoVariations indicates an ensemble where no parameter differs
	// from the fiducial model.
	ErrNoVariations = errors.New("no parameter variations around the fiducial")
)

// Engine performs Fisher inference over a shared ensemble.
//
// The derivative cache goes stale whenever a model is added or the
// fiducial changes, and is rebuilt by ComputeDerivatives (or lazily by
// Fit and FisherMatrix).
type Engine struct {
	ens      *ensemble.Ensemble
	fiducial int
	log      *slog.Logger

	// Derivative cache; derivs == nil means stale.
	derivs *mat.Dense
	varied []int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New wraps an existing ensemble; the fiducial model defaults to row 0.
func New(ens *ensemble.Ensemble, opts ...Option) (*Engine, error) {
	if ens == nil || ens.Len() == 0 {
		return nil, fmt.Errorf("%w: empty ensemble", ErrTooFewModels)
	}
	e := &Engine{ens: ens, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ensemble returns the underlying ensemble.
func (e *Engine) Ensemble() *ensemble.Ensemble { return e.ens }

// Fiducial returns the current fiducial row index.
func (e *Engine) Fiducial() int { return e.fiducial }

// SetFiducial designates row n as the fiducial model, invalidating the
// derivative cache.
func (e *Engine) SetFiducial(n int) error {
	if n < 0 || n >= e.ens.Len() {
		return fmt.Errorf("%w: %d with %d models", ErrFiducialOutOfRange, n, e.ens.Len())
	}
	e.fiducial = n
	e.invalidate()
	return nil
}

// AddModel appends a model to the ensemble, invalidating the derivative
// cache.
func (e *Engine) AddModel(params, feature []float64) error {
	if err := e.ens.AddModel(params, feature); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

func (e *Engine) invalidate() {
	e.derivs = nil
	e.varied = nil
}

// variationRows maps each varied parameter index to the rows that vary
// it. Errors on any row varying more than one parameter at once.
func (e *Engine) variationRows() (map[int][]int, error) {
	fid := e.ens.Params(e.fiducial)
	byParam := make(map[int][]int)
	for n := 0; n < e.ens.Len(); n++ {
		row := e.ens.Params(n)
		var changed []int
		for p := range row {
			if row[p] != fid[p] {
				changed = append(changed, p)
			}
		}
		if len(changed) > 1 {
			return nil, fmt.Errorf("%w: model %d varies parameters %v", ErrSimultaneousVariation, n, changed)
		}
		if len(changed) == 1 {
			byParam[changed[0]] = append(byParam[changed[0]], n)
		}
	}
	return byParam, nil
}

// Check verifies the one-parameter-at-a-time layout of the ensemble.
// Returns 0 when every parameter is varied at most once, 1 when some
// parameter has two or more distinct variations (first-order
// derivatives are then unavailable). A model varying several parameters
// simultaneously is an error.
func (e *Engine) Check() (int, error) {
	byParam, err := e.variationRows()
	if err != nil {
		return 0, err
	}
	for _, rows := range byParam {
		if len(rows) >= 2 {
			return 1, nil
		}
	}
	return 0, nil
}

// VariedParams returns the sorted indices of the parameters varied
// around the fiducial. Valid after ComputeDerivatives.
func (e *Engine) VariedParams() []int {
	out := make([]int, len(e.varied))
	copy(out, e.varied)
	return out
}

// Derivatives returns the cached derivative matrix, one row per varied
// parameter, or an error when the cache is stale.
func (e *Engine) Derivatives() (*mat.Dense, error) {
	if e.derivs == nil {
		return nil, fmt.Errorf("derivatives are stale: call ComputeDerivatives")
	}
	var out mat.Dense
	out.CloneFrom(e.derivs)
	return &out, nil
}

// ComputeDerivatives builds the feature derivatives with respect to
// every varied parameter using one-sided first-order finite
// differences about the fiducial model.
func (e *Engine) ComputeDerivatives(ctx context.Context) (*mat.Dense, error) {
	_, span := tracer.Start(ctx, "Fisher.ComputeDerivatives",
		trace.WithAttributes(
			attribute.Int("models", e.ens.Len()),
			attribute.Int("parameters", e.ens.NumParams()),
			attribute.Int("bins", e.ens.NumBins()),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { derivativeDuration.Observe(time.Since(start).Seconds()) }()

	if e.ens.Len() < 2 {
		return nil, fmt.Errorf("%w: have %d", ErrTooFewModels, e.ens.Len())
	}
	byParam, err := e.variationRows()
	if err != nil {
		return nil, err
	}
	if len(byParam) == 0 {
		return nil, ErrNoVariations
	}
	for p, rows := range byParam {
		if len(rows) >= 2 {
			return nil, fmt.Errorf("%w: parameter %d varied in models %v", ErrHigherOrder, p, rows)
		}
	}

	varied := make([]int, 0, len(byParam))
	for p := range byParam {
		varied = append(varied, p)
	}
	sort.Ints(varied)

	fidParams := e.ens.Params(e.fiducial)
	fidFeature := e.ens.Features(e.fiducial)
	derivs := mat.NewDense(len(varied), e.ens.NumBins(), nil)
	for n, p := range varied {
		row := byParam[p][0]
		step := e.ens.Params(row)[p] - fidParams[p]
		feature := e.ens.Features(row)
		for k := range feature {
			derivs.Set(n, k, (feature[k]-fidFeature[k])/step)
		}
	}

	e.derivs = derivs
	e.varied = varied
	e.log.Debug("computed finite difference derivatives",
		"varied", len(varied), "bins", e.ens.NumBins(), "fiducial", e.fiducial)

	var out mat.Dense
	out.CloneFrom(derivs)
	return &out, nil
}

// ensureDerivatives computes the cache when stale.
func (e *Engine) ensureDerivatives(ctx context.Context) error {
	if e.derivs != nil {
		return nil
	}
	_, err := e.ComputeDerivatives(ctx)
	return err
}

// checkObservation validates an observed feature and covariance against
// the ensemble feature width.
func (e *Engine) checkObservation(observed []float64, cov *Covariance) error {
	if cov == nil {
		return ErrNoCovariance
	}
	if err := validation.ValidateVectorLen("observed feature", observed, e.ens.NumBins()); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if cov.Dim() != e.ens.NumBins() {
		return fmt.Errorf("%w: covariance dim %d, feature width %d",
			ErrShapeMismatch, cov.Dim(), e.ens.NumBins())
	}
	return nil
}

// chi2Against computes the chi2 of one observation against row n's
// feature vector.
func (e *Engine) chi2Against(n int, observed []float64, cov *Covariance) (float64, error) {
	ref := e.ens.Features(n)
	diff := make([]float64, len(observed))
	for i := range diff {
		diff[i] = observed[i] - ref[i]
	}
	return cov.quadraticForm(diff)
}

// Chi2 computes the chi2 between an observed feature and the fiducial
// feature under the given covariance, diagonal or full.
func (e *Engine) Chi2(observed []float64, cov *Covariance) (float64, error) {
	if err := e.checkObservation(observed, cov); err != nil {
		return 0, err
	}
	return e.chi2Against(e.fiducial, observed, cov)
}

// Fit solves the generalized least squares problem linearized about the
// fiducial model and returns the best-fit values of the varied
// parameters: fiducial value plus the fitted displacement.
// Derivatives are computed on demand.
func (e *Engine) Fit(ctx context.Context, observed []float64, cov *Covariance) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "Fisher.Fit",
		trace.WithAttributes(attribute.Int("bins", e.ens.NumBins())),
	)
	defer span.End()
	start := time.Now()
	defer func() { fitDuration.Observe(time.Since(start).Seconds()) }()

	if err := e.checkObservation(observed, cov); err != nil {
		return nil, err
	}
	if err := e.ensureDerivatives(ctx); err != nil {
		return nil, err
	}

	// Y = C^{-1} D^T, XY = D Y; solving XY dp = Y^T (obs - fid) gives
	// the GLS displacement in the varied parameters.
	y, err := cov.solveMatrix(denseTranspose(e.derivs))
	if err != nil {
		return nil, err
	}
	var xy mat.Dense
	xy.Mul(e.derivs, y)

	fidFeature := e.ens.Features(e.fiducial)
	diff := mat.NewVecDense(len(observed), nil)
	for i := range observed {
		diff.SetVec(i, observed[i]-fidFeature[i])
	}
	var rhs mat.VecDense
	rhs.MulVec(y.T(), diff)

	var dp mat.VecDense
	if err := dp.SolveVec(&xy, &rhs); err != nil {
		return nil, fmt.Errorf("normal equations solve: %w", err)
	}

	fidParams := e.ens.Params(e.fiducial)
	out := make([]float64, len(e.varied))
	for n, p := range e.varied {
		out[n] = fidParams[p] + dp.AtVec(n)
	}
	return out, nil
}

// FisherMatrix computes D C^{-1} D^T over the varied parameters.
//
// With a distinct observation covariance the propagated parameter
// covariance M C_obs M^T is formed instead and its inverse returned,
// where M maps feature residuals to parameter displacements. A nil
// obsCov reuses simCov. Derivatives are computed on demand.
func (e *Engine) FisherMatrix(ctx context.Context, simCov, obsCov *Covariance) (*mat.Dense, error) {
	ctx, span := tracer.Start(ctx, "Fisher.FisherMatrix",
		trace.WithAttributes(attribute.Int("bins", e.ens.NumBins())),
	)
	defer span.End()

	if simCov == nil {
		return nil, ErrNoCovariance
	}
	if simCov.Dim() != e.ens.NumBins() {
		return nil, fmt.Errorf("%w: covariance dim %d, feature width %d",
			ErrShapeMismatch, simCov.Dim(), e.ens.NumBins())
	}
	if err := e.ensureDerivatives(ctx); err != nil {
		return nil, err
	}

	y, err := simCov.solveMatrix(denseTranspose(e.derivs))
	if err != nil {
		return nil, err
	}
	var xy mat.Dense
	xy.Mul(e.derivs, y)

	if obsCov == nil {
		return &xy, nil
	}
	if obsCov.Dim() != e.ens.NumBins() {
		return nil, fmt.Errorf("%w: observation covariance dim %d, feature width %d",
			ErrShapeMismatch, obsCov.Dim(), e.ens.NumBins())
	}

	// M = XY^{-1} Y^T, parameter covariance = M C_obs M^T.
	var m mat.Dense
	if err := m.Solve(&xy, denseTranspose(y)); err != nil {
		return nil, fmt.Errorf("solving for the residual projector: %w", err)
	}
	covMT := obsCov.mulTransposed(&m)
	var paramCov mat.Dense
	paramCov.Mul(&m, covMT)

	var inv mat.Dense
	if err := inv.Inverse(&paramCov); err != nil {
		return nil, fmt.Errorf("inverting the parameter covariance: %w", err)
	}
	return &inv, nil
}

// Classify assigns each observation the label whose model (used as the
// fiducial) minimizes the chi2. Labels are row indices of the ensemble.
func (e *Engine) Classify(ctx context.Context, observations [][]float64, cov *Covariance, labels []int) ([]int, error) {
	_, span := tracer.Start(ctx, "Fisher.Classify",
		trace.WithAttributes(
			attribute.Int("observations", len(observations)),
			attribute.Int("labels", len(labels)),
		),
	)
	defer span.End()

	if len(observations) == 0 || len(labels) == 0 {
		return nil, fmt.Errorf("%w: need observations and labels", ErrShapeMismatch)
	}
	for _, l := range labels {
		if l < 0 || l >= e.ens.Len() {
			return nil, fmt.Errorf("%w: label %d", ErrFiducialOutOfRange, l)
		}
	}

	out := make([]int, len(observations))
	for i, obs := range observations {
		if err := e.checkObservation(obs, cov); err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		best := labels[0]
		bestChi2, err := e.chi2Against(labels[0], obs, cov)
		if err != nil {
			return nil, err
		}
		for _, l := range labels[1:] {
			c, err := e.chi2Against(l, obs, cov)
			if err != nil {
				return nil, err
			}
			if c < bestChi2 {
				bestChi2, best = c, l
			}
		}
		out[i] = best
	}
	return out, nil
}

// ClassifyConfusion runs Classify and returns, per label, the fraction
// of observations assigned to it; the fractions sum to 1.
func (e *Engine) ClassifyConfusion(ctx context.Context, observations [][]float64, cov *Covariance, labels []int) ([]float64, error) {
	classes, err := e.Classify(ctx, observations, cov, labels)
	if err != nil {
		return nil, err
	}
	fractions := make([]float64, len(labels))
	for n, l := range labels {
		count := 0
		for _, c := range classes {
			if c == l {
				count++
			}
		}
		fractions[n] = float64(count) / float64(len(classes))
	}
	return fractions, nil
}

// denseTranspose materializes the transpose of a dense matrix.
func denseTranspose(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.T())
	return out
}
