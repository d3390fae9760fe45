// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grains

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/instrument"
	"github.com/curioloop/grainfit/leastsq"
	"github.com/curioloop/grainfit/numdiff"
	"github.com/curioloop/grainfit/reflections"
	"github.com/curioloop/grainfit/rotations"
)

var (
	// ErrOmePeriodUnsupported is returned when a fit is asked to remap omegas.
	ErrOmePeriodUnsupported = errors.New("omega period specification is not yet implemented")
	// ErrNoFreeParams is returned for a mask without free parameters.
	ErrNoFreeParams = errors.New("mask has no free parameters")
	// ErrUnknownDetector is returned for reflections keyed by a detector the
	// instrument does not have.
	ErrUnknownDetector = errors.New("reflections for unknown detector")
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

type fitConfig struct {
	mask      Mask
	scale     Scale
	omePeriod *rotations.Period
	factor    float64
	xtol      float64
	ftol      float64
	maxEval   int
	jacobian  numdiff.Method
	logger    *leastsq.Logger
}

// Option configures FitGrain.
type Option func(*fitConfig)

// WithMask sets the free parameters. Default AllFree.
func WithMask(m Mask) Option { return func(c *fitConfig) { c.mask = m } }

// WithScale sets per-parameter step weights. Default DefaultScale.
func WithScale(s Scale) Option { return func(c *fitConfig) { c.scale = s } }

// WithOmePeriod requests omega remapping into period. Fitting with a period
// is not supported and FitGrain fails before any evaluation.
func WithOmePeriod(p rotations.Period) Option {
	return func(c *fitConfig) { c.omePeriod = &p }
}

// WithFactor sets the initial step bound factor. Default 0.1.
func WithFactor(f float64) Option { return func(c *fitConfig) { c.factor = f } }

// WithXTol sets the relative parameter tolerance. Default √ε.
func WithXTol(tol float64) Option { return func(c *fitConfig) { c.xtol = tol } }

// WithFTol sets the relative sum of squares tolerance. Default √ε.
func WithFTol(tol float64) Option { return func(c *fitConfig) { c.ftol = tol } }

// WithMaxEvaluations caps residual evaluations. Zero keeps the minimizer
// default.
func WithMaxEvaluations(n int) Option { return func(c *fitConfig) { c.maxEval = n } }

// WithCentralDifferences estimates the Jacobian with central differences.
// Each estimate costs twice the residual evaluations of the default forward
// scheme.
func WithCentralDifferences() Option { return func(c *fitConfig) { c.jacobian = numdiff.Central } }

// WithLogger routes minimizer and fit diagnostics to logger.
func WithLogger(logger *leastsq.Logger) Option { return func(c *fitConfig) { c.logger = logger } }

// Diagnostics are computed from the residual at the solution, normalized by
// point count.
type Diagnostics struct {
	NPts   int
	RMS    float64
	RMSXY  float64
	RMSOme float64
}

// FitResult is the refined grain.
type FitResult struct {
	Params      Params
	Converged   bool
	Diagnostics Diagnostics
	leastsq.Summary
}

// FitGrain refines the free parameters of full against the reflections
// measured on the detectors of inst. Reflection data is normalized once
// before fitting.
//
// A residual failure during the fit aborts it; the error wraps either an
// *InfeasibleHKLError or ErrInfeasibleProjection. A fit that stops without
// converging is not an error; check FitResult.Converged.
func FitGrain(full Params, inst *instrument.Instrument, refl map[string]reflections.Source,
	bMat *r3.Mat, wavelength float64, opts ...Option) (*FitResult, error) {

	cfg := fitConfig{
		mask:   AllFree,
		scale:  DefaultScale,
		factor: 0.1,
		xtol:   sqrtEps,
		ftol:   sqrtEps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger != nil {
		logger := *cfg.logger
		cfg.logger = &logger
	}

	if cfg.omePeriod != nil {
		return nil, ErrOmePeriodUnsupported
	}

	sets, err := reflections.NormalizeAll(refl)
	if err != nil {
		return nil, err
	}
	for name := range sets {
		if _, ok := inst.Detector(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, name)
		}
	}

	nfree := cfg.mask.NumFree()
	if nfree == 0 {
		return nil, ErrNoFreeParams
	}

	obj := &Objective{
		Instrument:  inst,
		Reflections: sets,
		BMat:        bMat,
		Wavelength:  wavelength,
		Full:        full,
		Mask:        cfg.mask,
	}
	npts := obj.NumPoints()

	diag, err := cfg.scale.diag(cfg.mask)
	if err != nil {
		return nil, err
	}

	problem := leastsq.Problem{
		N:    nfree,
		M:    3 * npts,
		Eval: obj.Residual,
		Stop: leastsq.Termination{
			FTol:           cfg.ftol,
			XTol:           cfg.xtol,
			MaxEvaluations: cfg.maxEval,
		},
		Diag:     diag,
		Factor:   cfg.factor,
		Jacobian: cfg.jacobian,
	}
	optimizer, err := problem.New(cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("grain fit setup: %w", err)
	}

	res, err := optimizer.Fit(cfg.mask.Extract(full), optimizer.Init())
	if err != nil {
		return nil, fmt.Errorf("grain fit aborted after %d evaluations: %w", res.NumEval, err)
	}

	params, err := cfg.mask.Overlay(full, res.X)
	if err != nil {
		return nil, err
	}

	result := &FitResult{
		Params:      params,
		Converged:   res.OK,
		Diagnostics: diagnosticsOf(res.FVec),
		Summary:     res.Summary,
	}
	logDiagnostics(cfg.logger, result.Diagnostics)
	return result, nil
}

// diag returns the minimizer weights 1/scale of the free parameters.
func (s Scale) diag(m Mask) ([]float64, error) {
	d := make([]float64, 0, m.NumFree())
	for i, free := range m {
		if !free {
			continue
		}
		if v := s[i]; !(v > 0) || math.IsInf(v, 1) {
			return nil, fmt.Errorf("scale of parameter %d must be positive, got %g", i, v)
		}
		d = append(d, 1/s[i])
	}
	return d, nil
}

func diagnosticsOf(fvec []float64) Diagnostics {
	npts := len(fvec) / 3
	var ssq, sxy, some float64
	for i := 0; i < npts; i++ {
		dx, dy, dw := fvec[3*i], fvec[3*i+1], fvec[3*i+2]
		sxy += dx*dx + dy*dy
		some += dw * dw
	}
	if npts == 0 {
		return Diagnostics{}
	}
	ssq = sxy + some
	n := float64(npts)
	return Diagnostics{
		NPts:   npts,
		RMS:    math.Sqrt(ssq / n),
		RMSXY:  math.Sqrt(sxy / n),
		RMSOme: math.Sqrt(some / n),
	}
}

func logDiagnostics(logger *leastsq.Logger, d Diagnostics) {
	if logger == nil || logger.Level < leastsq.LogLast || logger.Msg == nil {
		return
	}
	_, _ = fmt.Fprintf(logger.Msg, "\nnpts: %d\n", d.NPts)
	_, _ = fmt.Fprintf(logger.Msg, "rms: %.6e\nrms xy: %.6e\nrms ome: %.6e deg\n",
		d.RMS, d.RMSXY, d.RMSOme*180/math.Pi)
}
