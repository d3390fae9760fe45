// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rotations provides the small rotation and tensor helpers shared by
// the diffraction kernel and the grain fitting objective.
//
// # Inverse stretch packing
//
// Symmetric tensors travel as Mandel-Voigt 6-vectors:
//
//	v = [ T₀₀, T₁₁, T₂₂, √2·T₁₂, √2·T₀₂, √2·T₀₁ ]
//
// The identity stretch is therefore [1, 1, 1, 0, 0, 0].
package rotations

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	epsf   = math.Nextafter(1, 2) - 1
	sqrt2  = math.Sqrt2
	twoPi  = 2 * math.Pi
	errPer = errors.New("period must span exactly 2π")
)

// Identity returns a new 3×3 identity matrix.
func Identity() *r3.Mat {
	return r3.NewMat([]float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

// RMatOfExpMap converts an exponential map (axis × angle) into a rotation
// matrix. The rotation is built as the exponential of the pure quaternion
// e/2, which is the unit quaternion for angle |e| about e/|e|.
func RMatOfExpMap(e r3.Vec) *r3.Mat {
	if r3.Norm(e) < epsf {
		return Identity()
	}
	q := quat.Exp(quat.Number{Imag: e.X / 2, Jmag: e.Y / 2, Kmag: e.Z / 2})
	return RMatOfQuat(q)
}

// RMatOfQuat returns the rotation matrix of a unit quaternion.
func RMatOfQuat(q quat.Number) *r3.Mat {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return r3.NewMat([]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// SymmFromMV rebuilds the symmetric tensor packed as a Mandel-Voigt 6-vector.
func SymmFromMV(v [6]float64) *r3.Mat {
	yz, xz, xy := v[3]/sqrt2, v[4]/sqrt2, v[5]/sqrt2
	return r3.NewMat([]float64{
		v[0], xy, xz,
		xy, v[1], yz,
		xz, yz, v[2],
	})
}

// MVFromSymm packs the upper triangle of a symmetric tensor into a
// Mandel-Voigt 6-vector. It is the inverse of SymmFromMV.
func MVFromSymm(m *r3.Mat) [6]float64 {
	return [6]float64{
		m.At(0, 0), m.At(1, 1), m.At(2, 2),
		sqrt2 * m.At(1, 2), sqrt2 * m.At(0, 2), sqrt2 * m.At(0, 1),
	}
}

// UnitVector normalizes v. Vectors with a norm below machine epsilon are
// returned unchanged.
func UnitVector(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n <= epsf {
		return v
	}
	return r3.Scale(1/n, v)
}

// Mul returns the product a·b as a new matrix.
func Mul(a, b *r3.Mat) *r3.Mat {
	m := r3.NewMat(nil)
	m.Mul(a, b)
	return m
}

// AngularDifference returns the smallest non-negative separation of two
// angles in radians on the 2π circle.
func AngularDifference(a, b float64) float64 {
	d := mod(a-b, twoPi)
	return math.Min(d, twoPi-d)
}

// Period is a half-open angular window [lo, lo+2π) used to remap angles.
type Period [2]float64

// Validate reports whether the window spans exactly one turn.
func (p Period) Validate() error {
	if math.Abs(p[1]-p[0]-twoPi) > 1e-8 {
		return errPer
	}
	return nil
}

// Map wraps ang into the window.
func (p Period) Map(ang float64) float64 {
	return mod(ang-p[0], twoPi) + p[0]
}

// MapAngle wraps ang into [-π, π).
func MapAngle(ang float64) float64 {
	return Period{-math.Pi, math.Pi}.Map(ang)
}

func mod(a, p float64) float64 {
	r := math.Mod(a, p)
	if r < 0 {
		r += p
	}
	return r
}
