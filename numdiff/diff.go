// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates Jacobians of vector valued functions by finite
// differences. The function may fail at a perturbed point; the failure is
// reported to the caller instead of leaking into the estimate.
package numdiff

import (
	"errors"
	"fmt"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Function computes an m-vector y from an n-vector x.
// A non-nil error aborts the estimation.
type Function func(x, y []float64) error

// ApproxSpec estimates the m×n Jacobian of Object. The entry for output j and
// variable i is stored row-major at diff[i+j*N].
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type ApproxSpec struct {
	N, M int
	// Function of which to estimate the derivatives.
	Object Function
	// Finite difference method to use.
	Method Method
	// Relative step size. Zero selects √ε for Forward and ∛ε for Central,
	// applied as h = RelStep · sign(x) · max(1, |x|); otherwise
	// h = RelStep · sign(x) · |x|.
	RelStep float64
	// Absolute step size; overrides RelStep when non-zero. Central ignores
	// its sign.
	AbsStep float64
	// Number of function evaluations performed by the last Diff.
	NumEval int

	f0, f1, f2 []float64
	step       []float64
}

// Check validates the spec against x0 and diff and sizes the scratch space.
func (as *ApproxSpec) Check(x0, diff []float64) error {
	switch {
	case as.N <= 0 || as.M <= 0:
		return errors.New("negative dimensions")
	case as.Method != Forward && as.Method != Central:
		return errors.New("unknown method")
	case as.Object == nil:
		return errors.New("object function is required")
	case as.N != len(x0):
		return errors.New("invalid x0 dimensions")
	case as.N*as.M != len(diff):
		return errors.New("invalid diff dimensions")
	}
	as.f0 = resize(as.f0, as.M)
	as.f1 = resize(as.f1, as.M)
	if as.Method == Central {
		as.f2 = resize(as.f2, as.M)
	}
	as.step = resize(as.step, as.N)
	return nil
}

// Diff estimates the Jacobian at x0 into diff. x0 is restored before
// returning, also on failure.
func (as *ApproxSpec) Diff(x0, diff []float64) error {
	return as.diff(x0, nil, diff)
}

// DiffAt is Diff for a caller that already holds f(x0) in f0, which saves one
// function evaluation.
func (as *ApproxSpec) DiffAt(x0, f0, diff []float64) error {
	if len(f0) != as.M {
		return errors.New("invalid f0 dimensions")
	}
	return as.diff(x0, f0, diff)
}

func (as *ApproxSpec) diff(x0, f0, diff []float64) error {
	if err := as.Check(x0, diff); err != nil {
		return err
	}
	as.steps(x0)

	as.NumEval = 0
	if f0 != nil {
		copy(as.f0, f0)
	} else if err := as.eval(x0, as.f0, -1); err != nil {
		return err
	}

	for i, h := range as.step {
		var err error
		if as.Method == Central {
			err = as.central(x0, diff, i, h)
		} else {
			err = as.forward(x0, diff, i, h)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (as *ApproxSpec) eval(x, y []float64, col int) error {
	as.NumEval++
	if err := as.Object(x, y); err != nil {
		if col < 0 {
			return fmt.Errorf("numdiff: evaluating at x0: %w", err)
		}
		return fmt.Errorf("numdiff: evaluating step of variable %d: %w", col, err)
	}
	return nil
}

// steps fills the absolute step of every variable.
func (as *ApproxSpec) steps(x0 []float64) {
	eps := sqrtEps
	if as.Method == Central {
		eps = cubeEps
	}
	auto := func(v float64) float64 { return math.Copysign(eps, v) * math.Max(1.0, math.Abs(v)) }

	for i, v := range x0 {
		h := as.AbsStep
		switch {
		case h == 0 && as.RelStep == 0:
			h = auto(v)
		case h == 0:
			h = math.Copysign(as.RelStep, v) * math.Abs(v)
		}
		// a step lost to rounding falls back to the automatic one
		if (v+h)-v == 0 {
			h = auto(v)
		}
		if as.Method == Central {
			h = math.Abs(h)
		}
		as.step[i] = h
	}
}

func (as *ApproxSpec) forward(x0, df []float64, i int, h float64) error {
	x := x0[i]
	x0[i] = x + h
	err := as.eval(x0, as.f1, i)
	x0[i] = x
	if err != nil {
		return err
	}
	d := 1.0 / h
	for j, f := range as.f1 {
		df[i+j*as.N] = (f - as.f0[j]) * d
	}
	return nil
}

func (as *ApproxSpec) central(x0, df []float64, i int, h float64) error {
	x := x0[i]
	x0[i] = x - h
	err := as.eval(x0, as.f1, i)
	if err == nil {
		x0[i] = x + h
		err = as.eval(x0, as.f2, i)
	}
	x0[i] = x
	if err != nil {
		return err
	}
	d := 1.0 / (2 * h)
	for j, f := range as.f2 {
		df[i+j*as.N] = (f - as.f1[j]) * d
	}
	return nil
}

func resize(s []float64, n int) []float64 {
	if len(s) != n {
		return make([]float64, n)
	}
	return s
}
