// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rotations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func matEqual(t *testing.T, want []float64, got *r3.Mat, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[3*i+j], got.At(i, j), tol, "element (%d,%d)", i, j)
		}
	}
}

func TestRMatOfExpMap(t *testing.T) {
	matEqual(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, RMatOfExpMap(r3.Vec{}), 0)

	// quarter turn about z takes x to y
	r := RMatOfExpMap(r3.Vec{Z: math.Pi / 2})
	matEqual(t, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	}, r, 1e-12)

	v := r.MulVec(r3.Vec{X: 1})
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, 1, v.Y, 1e-12)

	// half turn about x
	matEqual(t, []float64{
		1, 0, 0,
		0, -1, 0,
		0, 0, -1,
	}, RMatOfExpMap(r3.Vec{X: math.Pi}), 1e-12)
}

func TestRMatOfExpMapOrthonormal(t *testing.T) {
	for _, e := range []r3.Vec{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 1.2, Y: 0.4, Z: -2.0},
		{X: -0.01, Y: 0, Z: 0.002},
	} {
		r := RMatOfExpMap(e)
		rtr := r3.NewMat(nil)
		rtr.Mul(r.T(), r)
		matEqual(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, rtr, 1e-12)
		// the axis is invariant
		a := r.MulVec(e)
		assert.InDelta(t, e.X, a.X, 1e-12)
		assert.InDelta(t, e.Y, a.Y, 1e-12)
		assert.InDelta(t, e.Z, a.Z, 1e-12)
	}
}

func TestSymmFromMV(t *testing.T) {
	v := [6]float64{1, 2, 3, 4 * sqrt2, 5 * sqrt2, 6 * sqrt2}
	m := SymmFromMV(v)
	matEqual(t, []float64{
		1, 6, 5,
		6, 2, 4,
		5, 4, 3,
	}, m, 1e-12)

	back := MVFromSymm(m)
	for i := range v {
		assert.InDelta(t, v[i], back[i], 1e-12)
	}

	matEqual(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, SymmFromMV([6]float64{1, 1, 1, 0, 0, 0}), 0)
}

func TestUnitVector(t *testing.T) {
	u := UnitVector(r3.Vec{X: 3, Y: 4})
	assert.InDelta(t, 0.6, u.X, 1e-15)
	assert.InDelta(t, 0.8, u.Y, 1e-15)
	assert.Equal(t, r3.Vec{}, UnitVector(r3.Vec{}))
}

func TestAngularDifference(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{0.1, -0.1, 0.2},
		{-0.1, 0.1, 0.2},
		{math.Pi - 0.05, -math.Pi + 0.05, 0.1},
		{3 * math.Pi, math.Pi, 0},
		{0, 1.5 * math.Pi, 0.5 * math.Pi},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, AngularDifference(c.a, c.b), 1e-12, "a=%v b=%v", c.a, c.b)
		assert.InDelta(t, c.want, AngularDifference(c.b, c.a), 1e-12, "symmetric a=%v b=%v", c.a, c.b)
	}
	assert.True(t, math.IsNaN(AngularDifference(math.NaN(), 0)))
}

func TestPeriod(t *testing.T) {
	require.NoError(t, Period{0, 2 * math.Pi}.Validate())
	require.Error(t, Period{0, math.Pi}.Validate())

	p := Period{0, 2 * math.Pi}
	assert.InDelta(t, 1.5*math.Pi, p.Map(-0.5*math.Pi), 1e-12)
	assert.InDelta(t, 0.25, p.Map(0.25+4*math.Pi), 1e-12)

	assert.InDelta(t, -0.5*math.Pi, MapAngle(1.5*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi, MapAngle(math.Pi), 1e-12)
}
