// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func objV2(x, y []float64) error {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
	return nil
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func TestComputeAbsStp(t *testing.T) {

	x0 := []float64{1e-5, 0, 1, 1e5}
	dummy := make([]float64, 4)

	for method, relStep := range map[Method]float64{
		Forward: sqrtEps,
		Central: cubeEps,
	} {
		expected := []float64{relStep, relStep, relStep, relStep * x0[3]}

		as := ApproxSpec{N: 4, M: 1, Method: method, Object: objV2}
		_ = as.Check(x0, dummy)
		as.steps(x0)
		if !relativeEqual(as.step, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}
	}

	as := ApproxSpec{N: 4, M: 1, Method: Forward, Object: objV2, RelStep: 0.1}
	_ = as.Check(x0, dummy)
	as.steps(x0)
	if !relativeEqual(as.step, []float64{0.1 * x0[0], sqrtEps, 0.1, 0.1 * x0[3]}, 1e-12) {
		t.Fatal("unexpected rel step")
	}

	as = ApproxSpec{N: 4, M: 1, Method: Central, Object: objV2, AbsStep: -0.01}
	_ = as.Check(x0, dummy)
	as.steps(x0)
	if !relativeEqual(as.step, []float64{0.01, 0.01, 0.01, 0.01}, 0) {
		t.Fatal("central step sign not dropped")
	}
}

func TestVector(t *testing.T) {

	x0 := []float64{-100.0, 0.2}
	jac1 := jacV2(x0)
	jac2 := make([]float64, 6)
	jac3 := make([]float64, 6)

	as := ApproxSpec{N: 2, M: 3, Method: Forward, Object: objV2}
	if err := as.Diff(x0, jac2); err != nil {
		t.Fatal("approx vector failed", err)
	}
	if as.NumEval != 3 {
		t.Fatal("unexpected forward evaluation count", as.NumEval)
	}
	as = ApproxSpec{N: 2, M: 3, Method: Central, Object: objV2}
	if err := as.Diff(x0, jac3); err != nil {
		t.Fatal("approx vector failed", err)
	}
	if as.NumEval != 5 {
		t.Fatal("unexpected central evaluation count", as.NumEval)
	}
	if !relativeEqual(jac1, jac2, 1e-5) {
		t.Fatal("unexpected approx vector result")
	}
	if !relativeEqual(jac1, jac3, 1e-6) {
		t.Fatal("unexpected approx vector result")
	}
	if !relativeEqual(x0, []float64{-100.0, 0.2}, 0) {
		t.Fatal("x0 not restored")
	}
}

func TestDiffAt(t *testing.T) {

	x0 := []float64{1.0, 2.0}
	f0 := make([]float64, 3)
	_ = objV2(x0, f0)
	want := jacV2(x0)

	for method, evals := range map[Method]int{Forward: 2, Central: 4} {
		jac := make([]float64, 6)
		as := ApproxSpec{N: 2, M: 3, Method: method, Object: objV2}
		if err := as.DiffAt(x0, f0, jac); err != nil {
			t.Fatal("approx at f0 failed", err)
		}
		if as.NumEval != evals {
			t.Fatal("f0 should not be re-evaluated", as.NumEval)
		}
		if !relativeEqual(jac, want, 1e-5) {
			t.Fatal("unexpected approx at f0 result", method)
		}
		if err := as.DiffAt(x0, f0[:2], jac); err == nil {
			t.Fatal("short f0 accepted")
		}
	}
}

func TestObjectError(t *testing.T) {

	errInfeasible := errors.New("infeasible")
	obj := func(x, y []float64) error {
		if x[1] > 1 {
			return errInfeasible
		}
		y[0] = x[0] + x[1]
		return nil
	}

	x0 := []float64{0.5, 1.0}
	jac := make([]float64, 2)

	as := ApproxSpec{N: 2, M: 1, Method: Forward, Object: obj}
	err := as.Diff(x0, jac)
	if !errors.Is(err, errInfeasible) {
		t.Fatal("object error not propagated", err)
	}
	if x0[1] != 1.0 {
		t.Fatal("x0 not restored after failure")
	}

	as.Method = Central
	if err = as.Diff(x0, jac); !errors.Is(err, errInfeasible) {
		t.Fatal("central object error not propagated", err)
	}
	if x0[1] != 1.0 {
		t.Fatal("x0 not restored after central failure")
	}

	x0 = []float64{0.5, 2.0}
	if err = as.Diff(x0, jac); !errors.Is(err, errInfeasible) {
		t.Fatal("object error at x0 not propagated", err)
	}
}

func TestCheck(t *testing.T) {
	x0 := []float64{0, 0}
	for _, as := range []ApproxSpec{
		{N: 0, M: 1, Object: objV2},
		{N: 2, M: 3, Method: 7, Object: objV2},
		{N: 2, M: 3},
		{N: 3, M: 3, Object: objV2},
		{N: 2, M: 2, Object: objV2},
	} {
		if err := as.Check(x0, make([]float64, 6)); err == nil {
			t.Fatal("invalid ApproxSpec accepted", as.N, as.M)
		}
	}
}

func relativeEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinRel := func(a, b float64) bool {
		if a == b {
			return true
		}
		delta := math.Abs(a - b)
		return delta/math.Max(math.Abs(a), math.Abs(b)) <= tol
	}
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Float64:
		return equalWithinRel(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinRel(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}
