// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/grainfit/numdiff"
)

const (
	zero  = 0.0
	one   = 1.0
	p1    = 0.1
	p5    = 0.5
	p25   = 0.25
	p75   = 0.75
	p0001 = 1e-4
)

var epsmch = math.Nextafter(1, 2) - 1

// Status is the termination state of a fit, numbered as MINPACK info codes.
type Status int

const (
	// Running is the state before termination.
	Running Status = iota
	// ConvFTol both actual and predicted relative reductions in the sum of squares are at most FTol.
	ConvFTol
	// ConvXTol relative error between two consecutive iterates is at most XTol.
	ConvXTol
	// ConvBoth both ConvFTol and ConvXTol hold.
	ConvBoth
	// ConvGTol the residual is orthogonal to the Jacobian columns to machine precision.
	ConvGTol
	// OverEvalLimit number of residual evaluations reached MaxEvaluations.
	OverEvalLimit
	// FTolTooSmall no further reduction in the sum of squares is possible.
	FTolTooSmall
	// XTolTooSmall no further improvement in the approximate solution x is possible.
	XTolTooSmall
	// GTolTooSmall the residual is orthogonal to the Jacobian columns to machine precision.
	GTolTooSmall
	// HaltEvalError the residual function returned an error.
	HaltEvalError
	// HaltSingular the scaled Jacobian could not be factorized.
	HaltSingular
)

// Converged reports whether s is one of the convergence states.
func (s Status) Converged() bool {
	return s >= ConvFTol && s <= ConvGTol
}

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case ConvFTol:
		return "CONVERGENCE: RELATIVE_REDUCTION_OF_SSQ_<=_FTOL"
	case ConvXTol:
		return "CONVERGENCE: RELATIVE_STEP_<=_XTOL"
	case ConvBoth:
		return "CONVERGENCE: RELATIVE_REDUCTION_<=_FTOL_AND_STEP_<=_XTOL"
	case ConvGTol:
		return "CONVERGENCE: COSINE_OF_RESIDUAL_AND_JACOBIAN_<=_GTOL"
	case OverEvalLimit:
		return "STOP: TOTAL NO. of RESIDUAL EVALUATIONS EXCEEDS LIMIT"
	case FTolTooSmall:
		return "STOP: FTOL TOO SMALL, NO FURTHER REDUCTION POSSIBLE"
	case XTolTooSmall:
		return "STOP: XTOL TOO SMALL, NO FURTHER IMPROVEMENT POSSIBLE"
	case GTolTooSmall:
		return "STOP: GTOL TOO SMALL, RESIDUAL ORTHOGONAL TO JACOBIAN"
	case HaltEvalError:
		return "STOP: RESIDUAL FUNCTION FAILED"
	case HaltSingular:
		return "STOP: JACOBIAN FACTORIZATION FAILED"
	default:
		return "UNKNOWN STATUS"
	}
}

// lmSpec is the validated problem definition shared by every workspace.
type lmSpec struct {
	n, m   int
	eval   Residual
	stop   Termination
	diag   []float64 // nil selects automatic scaling
	factor float64
	relStp float64
	method numdiff.Method
	logger Logger
}

// lmLoc is the current iterate.
type lmLoc struct {
	x     []float64
	fvec  []float64
	fnorm float64
}

// lmCtx holds the iteration state and the buffers of one fit.
type lmCtx struct {
	iter, nfev int

	diag  []float64 // variable scales in use
	cnorm []float64 // Jacobian column norms
	fjac  []float64 // m×n row-major Jacobian
	jac   mat.Dense // Jacobian in scaled variables
	svd   mat.SVD
	u, v  mat.Dense
	sv    []float64 // singular values
	utf   []float64 // Uᵀ·f
	step  []float64 // trial step in x
	xt    []float64 // trial point
	ft    []float64 // residuals at trial point

	approx numdiff.ApproxSpec
	delta  float64 // trust region radius in scaled variables
	par    float64 // Levenberg-Marquardt parameter
}

func (c *lmCtx) init(n, m int) {
	c.iter, c.nfev = 0, 0
	c.diag = make([]float64, n)
	c.cnorm = make([]float64, n)
	c.fjac = make([]float64, m*n)
	c.jac = *mat.NewDense(m, n, nil)
	c.sv = make([]float64, n)
	c.utf = make([]float64, n)
	c.step = make([]float64, n)
	c.xt = make([]float64, n)
	c.ft = make([]float64, m)
	c.delta, c.par = zero, zero
}
