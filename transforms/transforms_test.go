// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transforms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/rotations"
)

const (
	latticeA   = 4.0 // Å, cubic
	wavelength = 0.2 // Å
	distance   = 1000.0
)

var vInvRef = [6]float64{1, 1, 1, 0, 0, 0}

func cubicBMat() *r3.Mat {
	return r3.NewMat([]float64{
		1 / latticeA, 0, 0,
		0, 1 / latticeA, 0,
		0, 0, 1 / latticeA,
	})
}

func TestMakeSampleRmat(t *testing.T) {
	m := MakeSampleRmat(0.3, 0)
	want := r3.NewMat(nil)
	want.Mul(rotations.RMatOfExpMap(r3.Vec{X: 0.3}), rotations.Identity())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want.At(i, j), m.At(i, j), 1e-14)
		}
	}

	m = MakeSampleRmat(0, 0.7)
	want = rotations.RMatOfExpMap(r3.Vec{Y: 0.7})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want.At(i, j), m.At(i, j), 1e-14)
		}
	}
}

func TestMakeBeamRmatDefault(t *testing.T) {
	m := MakeBeamRmat(BeamVec, EtaVec)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, m.At(i, j), 1e-15)
		}
	}
}

func TestOscillAnglesSatisfyBragg(t *testing.T) {
	hkls := [][3]float64{{1, 1, 1}, {2, 0, 0}, {2, 2, 0}, {3, 1, 1}, {1, -3, 1}}
	rMatC := rotations.RMatOfExpMap(r3.Vec{X: 0.2, Y: -0.4, Z: 0.9})
	bMat := cubicBMat()
	chi := 0.01

	oangs0, oangs1 := OscillAnglesOfHKLs(hkls, chi, rMatC, bMat, wavelength, vInvRef, BeamVec, EtaVec)
	require.Len(t, oangs0, len(hkls))
	require.Len(t, oangs1, len(hkls))

	for i, hkl := range hkls {
		g := rotations.UnitVector(rMatC.MulVec(bMat.MulVec(r3.Vec{X: hkl[0], Y: hkl[1], Z: hkl[2]})))
		gLen := r3.Norm(bMat.MulVec(r3.Vec{X: hkl[0], Y: hkl[1], Z: hkl[2]}))
		sinTht := 0.5 * wavelength * gLen
		for _, a := range []Angles{oangs0[i], oangs1[i]} {
			require.False(t, a.IsNaN(), "hkl %v", hkl)
			assert.InDelta(t, 2*math.Asin(sinTht), a.TTh, 1e-12)
			gL := MakeSampleRmat(chi, a.Ome).MulVec(g)
			assert.InDelta(t, sinTht, -r3.Dot(BeamVec, gL), 1e-12, "hkl %v", hkl)
		}
		assert.NotEqual(t, oangs0[i].Ome, oangs1[i].Ome)
	}
}

func TestOscillAnglesInfeasible(t *testing.T) {
	hkls := [][3]float64{{1, 1, 1}, {30, 30, 30}, {0, 0, 0}}
	oangs0, oangs1 := OscillAnglesOfHKLs(hkls, 0, rotations.Identity(), cubicBMat(), wavelength,
		vInvRef, BeamVec, EtaVec)

	assert.False(t, oangs0[0].IsNaN())
	assert.True(t, oangs0[1].IsNaN())
	assert.True(t, oangs1[1].IsNaN())
	assert.True(t, oangs0[2].IsNaN())
	assert.True(t, oangs1[2].IsNaN())
}

func TestGvecToXYMatchesBraggCone(t *testing.T) {
	hkls := [][3]float64{{1, 1, 1}, {2, 0, 0}, {2, 2, 0}, {3, 1, 1}}
	rMatC := rotations.RMatOfExpMap(r3.Vec{X: -0.3, Y: 0.1, Z: 0.5})
	bMat := cubicBMat()

	oangs0, _ := OscillAnglesOfHKLs(hkls, 0, rMatC, bMat, wavelength, vInvRef, BeamVec, EtaVec)

	gHatC := make([]r3.Vec, len(hkls))
	rMatS := make([]*r3.Mat, len(hkls))
	for i, hkl := range hkls {
		gHatC[i] = rotations.UnitVector(bMat.MulVec(r3.Vec{X: hkl[0], Y: hkl[1], Z: hkl[2]}))
		rMatS[i] = MakeSampleRmat(0, oangs0[i].Ome)
	}

	xy := GvecToXY(gHatC, rotations.Identity(), rMatS, rMatC,
		r3.Vec{Z: -distance}, r3.Vec{}, r3.Vec{}, BeamVec)

	for i := range hkls {
		rho := math.Hypot(xy[i][0], xy[i][1])
		assert.InDelta(t, distance*math.Tan(oangs0[i].TTh), rho, 1e-8)
		assert.InDelta(t, 0, rotations.AngularDifference(oangs0[i].Eta, math.Atan2(xy[i][1], xy[i][0])), 1e-10)
	}
}

func TestGvecToXYMissesDetector(t *testing.T) {
	// a g-vector parallel to the beam cannot diffract
	xy := GvecToXY([]r3.Vec{{Z: 1}}, rotations.Identity(), []*r3.Mat{rotations.Identity()},
		rotations.Identity(), r3.Vec{Z: -distance}, r3.Vec{}, r3.Vec{}, BeamVec)
	assert.True(t, math.IsNaN(xy[0][0]))
	assert.True(t, math.IsNaN(xy[0][1]))

	assert.Panics(t, func() {
		GvecToXY([]r3.Vec{{Z: 1}}, rotations.Identity(), nil,
			rotations.Identity(), r3.Vec{}, r3.Vec{}, r3.Vec{}, BeamVec)
	})
}

func TestMakeBMatrix(t *testing.T) {
	right := math.Pi / 2
	cubic := MakeBMatrix(latticeA, latticeA, latticeA, right, right, right)
	want := cubicBMat()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want.At(i, j), cubic.At(i, j), 1e-15)
		}
	}

	// hexagonal: |a*| = 2/(√3·a), |c*| = 1/c
	a, c := 2.95, 4.68
	hex := MakeBMatrix(a, a, c, right, right, 2*math.Pi/3)
	aStar := r3.Vec{X: hex.At(0, 0), Y: hex.At(1, 0), Z: hex.At(2, 0)}
	cStar := r3.Vec{X: hex.At(0, 2), Y: hex.At(1, 2), Z: hex.At(2, 2)}
	assert.InDelta(t, 2/(math.Sqrt(3)*a), r3.Norm(aStar), 1e-12)
	assert.InDelta(t, 1/c, r3.Norm(cStar), 1e-12)
	bDirect := r3.Vec{X: a * math.Cos(2*math.Pi/3), Y: a * math.Sin(2*math.Pi/3)}
	assert.InDelta(t, 0, r3.Dot(aStar, bDirect), 1e-12)
	assert.InDelta(t, 1, r3.Dot(aStar, r3.Vec{X: a}), 1e-12)
}
