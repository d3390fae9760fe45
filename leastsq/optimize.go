// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leastsq minimizes a sum of squares of m nonlinear functions in n
// variables with the Levenberg-Marquardt method. The Jacobian is estimated by
// forward differences, or central differences on request.
//
// The iteration follows MINPACK lmdif: a trust region in the scaled
// variables D·x whose radius starts at Factor·‖D·x₀‖, with convergence
// tested on relative reduction of the sum of squares (FTol), relative change
// of the scaled solution (XTol) and orthogonality of the residual to the
// Jacobian columns (GTol).
//
// # Reference:
//
//   - Moré, J.J. The Levenberg-Marquardt algorithm: implementation and theory.
//     Numerical Analysis, Lecture Notes in Mathematics 630, 1978.
//   - https://www.netlib.org/minpack/lmdif.f
package leastsq

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/curioloop/grainfit/numdiff"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the exit message
	LogLast LogLevel = 0
	// LogEval print also the sum of squares of every accepted step
	LogEval LogLevel = 1
	// LogTrace print details of every trial step
	LogTrace LogLevel = 99
	// LogVerbose print details of every iteration including x
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the optimizer.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Msg, format, a...)
}

func (l *Logger) out(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Out, format, a...)
}

// Residual computes the m residuals f(x) into y.
// A non-nil error aborts the optimization.
type Residual func(x, y []float64) error

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when both the actual and predicted relative
	// reductions in the sum of squares are at most FTol.
	FTol float64
	// The iteration stop when the relative error between two consecutive
	// iterates is at most XTol.
	XTol float64
	// The iteration stop when the cosine of the angle between the residual
	// and any Jacobian column is at most GTol.
	GTol float64
	// The iteration stop when the number of residual evaluations exceeds limit.
	// Zero selects 200×(n+1).
	MaxEvaluations int
}

// Problem specifies the problem for the Levenberg-Marquardt optimizer.
type Problem struct {
	N, M int         // Number of variables and residuals, M ≥ N
	Eval Residual    // Residual function
	Stop Termination // Stop condition
	// Optional positive scale factors of the variables. When nil the scales
	// are set from the Jacobian column norms and may grow during the fit.
	Diag []float64
	// Initial step bound as a multiple of ‖D·x₀‖, in [0.1, 100].
	// Zero selects 100.
	Factor float64
	// Relative step of the forward difference Jacobian. Zero selects √ε.
	EpsFcn float64
	// Finite difference scheme of the Jacobian. Central costs twice the
	// evaluations of Forward and ignores EpsFcn.
	Jacobian numdiff.Method
}

// New creates a new optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	n, m := p.N, p.M
	stop, factor := p.Stop, p.Factor

	if factor == 0 {
		factor = 100
	}
	if stop.MaxEvaluations <= 0 {
		stop.MaxEvaluations = 200 * (n + 1)
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m < n:
		err = errors.New("residual number must not less than problem dimension")
	case p.Eval == nil:
		err = errors.New("residual function is required")
	case stop.FTol < zero || math.IsNaN(stop.FTol):
		err = errors.New("ftol must not less than 0")
	case stop.XTol < zero || math.IsNaN(stop.XTol):
		err = errors.New("xtol must not less than 0")
	case stop.GTol < zero || math.IsNaN(stop.GTol):
		err = errors.New("gtol must not less than 0")
	case factor <= zero:
		err = errors.New("step bound factor must greater than 0")
	case p.Jacobian != numdiff.Forward && p.Jacobian != numdiff.Central:
		err = errors.New("unknown jacobian method")
	case p.Diag != nil && len(p.Diag) != n:
		err = errors.New("diag size must equal to n")
	}

	for k, d := range p.Diag {
		if !(d > zero) {
			err = errors.New(fmt.Sprintf("diag at %d must greater than 0", k))
			break
		}
	}

	if err != nil {
		return
	}

	epsfcn := p.EpsFcn
	if epsfcn < epsmch {
		epsfcn = epsmch
	}

	optimizer = &Optimizer{
		lmSpec{
			n: n, m: m,
			eval:   p.Eval,
			stop:   stop,
			diag:   slices.Clone(p.Diag),
			factor: factor,
			relStp: math.Sqrt(epsfcn),
			method: p.Jacobian,
			logger: *logger,
		},
	}
	return
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	lmSpec
}

// Workspace holds the buffers of one optimization.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
type Workspace struct {
	n, m int
	lmCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	X       []float64 // Final solution.
	FVec    []float64 // Residuals at X.
	FNorm   float64   // Euclidean norm of FVec.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  Status // Final status after optimization.
	NumIter int    // Number of accepted steps.
	NumEval int    // Number of residual evaluations, Jacobian included.
}

// Init allocate the workspace for the optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.n, o.m
	w.init(w.n, w.m)
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
// An error from the residual function stops the fit and is returned as is,
// together with the best point reached so far.
func (o *Optimizer) Fit(x []float64, w *Workspace) (*Result, error) {

	if len(x) != o.n {
		panic("initial x dimension not match problem")
	}

	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match problem")
	}

	loc := lmLoc{
		x:    slices.Clone(x),
		fvec: make([]float64, o.m),
	}

	driver := lmDriver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	status, err := driver.mainLoop()
	return &Result{
		OK:    status.Converged(),
		X:     loc.x,
		FVec:  loc.fvec,
		FNorm: loc.fnorm,
		Summary: Summary{
			Status:  status,
			NumIter: w.iter,
			NumEval: w.nfev,
		},
	}, err
}
