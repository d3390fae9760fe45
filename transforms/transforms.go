// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transforms implements the diffraction geometry kernel: the
// oscillation angles at which a set of reciprocal lattice vectors satisfies
// the Bragg condition, and the projection of diffracted beams onto a flat
// area detector.
//
// Frames follow the usual HEDM conventions:
//
//   - LAB: fixed; the beam travels along BeamVec by default.
//   - SAMPLE: LAB rotated by chi about X, then by omega about Y.
//   - CRYSTAL: SAMPLE rotated by the grain orientation rMat_c.
//   - DETECTOR: LAB rotated by rMat_d and translated by tVec_d; the detector
//     plane is spanned by the first two columns of rMat_d.
//
// Infeasible geometry never panics or errors: the affected entries are NaN so
// that callers can diagnose which inputs failed.
package transforms

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/rotations"
)

var (
	// BeamVec is the default beam propagation direction in the LAB frame.
	BeamVec = r3.Vec{X: 0, Y: 0, Z: -1}
	// EtaVec is the default azimuthal reference direction in the LAB frame.
	EtaVec = r3.Vec{X: 1, Y: 0, Z: 0}
)

var epsf = math.Nextafter(1, 2) - 1

// Angles holds one diffraction solution: Bragg angle 2θ, azimuth η and
// oscillation angle ω, all in radians.
type Angles struct {
	TTh, Eta, Ome float64
}

// IsNaN reports whether the solution is infeasible.
func (a Angles) IsNaN() bool {
	return math.IsNaN(a.TTh) || math.IsNaN(a.Eta) || math.IsNaN(a.Ome)
}

var nanAngles = Angles{math.NaN(), math.NaN(), math.NaN()}

// MakeSampleRmat returns the SAMPLE to LAB rotation for tilt chi about X
// followed by oscillation ome about Y.
func MakeSampleRmat(chi, ome float64) *r3.Mat {
	c, s := math.Cos(chi), math.Sin(chi)
	cw, sw := math.Cos(ome), math.Sin(ome)
	return r3.NewMat([]float64{
		cw, 0, sw,
		s * sw, c, -s * cw,
		-c * sw, s, c * cw,
	})
}

// MakeBeamRmat returns the BEAM to LAB rotation whose Z axis points against
// the beam and whose X axis lies in the plane of the beam and eta reference.
func MakeBeamRmat(beam, eta r3.Vec) *r3.Mat {
	zb := rotations.UnitVector(r3.Scale(-1, beam))
	yb := rotations.UnitVector(r3.Cross(zb, rotations.UnitVector(eta)))
	xb := r3.Cross(yb, zb)
	return r3.NewMat([]float64{
		xb.X, yb.X, zb.X,
		xb.Y, yb.Y, zb.Y,
		xb.Z, yb.Z, zb.Z,
	})
}

// MakeBinaryRmat returns the half-turn rotation about axis, 2·a·aᵀ - I.
func MakeBinaryRmat(axis r3.Vec) *r3.Mat {
	a := rotations.UnitVector(axis)
	return r3.NewMat([]float64{
		2*a.X*a.X - 1, 2 * a.X * a.Y, 2 * a.X * a.Z,
		2 * a.Y * a.X, 2*a.Y*a.Y - 1, 2 * a.Y * a.Z,
		2 * a.Z * a.X, 2 * a.Z * a.Y, 2*a.Z*a.Z - 1,
	})
}

// OscillAnglesOfHKLs solves the Bragg condition for each HKL.
//
// The reciprocal lattice vector bMat·hkl is rotated into the SAMPLE frame by
// rMatC and stretched by the inverse stretch vInv (Mandel-Voigt packed). Its
// length fixes sin θ = λ|g|/2; the two oscillation angles that bring it into
// diffracting position are returned as oangs0 and oangs1. HKLs with no
// solution get NaN in both branches.
func OscillAnglesOfHKLs(hkls [][3]float64, chi float64, rMatC, bMat *r3.Mat, wavelength float64,
	vInv [6]float64, beam, eta r3.Vec) (oangs0, oangs1 []Angles) {

	oangs0 = make([]Angles, len(hkls))
	oangs1 = make([]Angles, len(hkls))

	bHat := rotations.UnitVector(beam)
	rMatE := MakeBeamRmat(beam, eta)
	vMatS := rotations.SymmFromMV(vInv)

	// beam in the chi-tilted frame, before the omega rotation
	bChi := MakeSampleRmat(chi, 0).MulVecTrans(bHat)

	for i, hkl := range hkls {
		gC := bMat.MulVec(r3.Vec{X: hkl[0], Y: hkl[1], Z: hkl[2]})
		gS := vMatS.MulVec(rMatC.MulVec(gC))
		nrm := r3.Norm(gS)
		sinTht := 0.5 * wavelength * nrm
		if nrm <= epsf || math.Abs(sinTht) > 1 || math.IsNaN(sinTht) {
			oangs0[i], oangs1[i] = nanAngles, nanAngles
			continue
		}
		g := r3.Scale(1/nrm, gS)

		// a·cos ω + b·sin ω = c
		a := bChi.X*g.X + bChi.Z*g.Z
		b := bChi.X*g.Z - bChi.Z*g.X
		c := -sinTht - bChi.Y*g.Y
		r := math.Hypot(a, b)
		if r <= epsf || math.Abs(c) > r {
			oangs0[i], oangs1[i] = nanAngles, nanAngles
			continue
		}
		phi := math.Atan2(b, a)
		delta := math.Acos(c / r)
		tth := 2 * math.Asin(sinTht)

		for k, ome := range [2]float64{phi + delta, phi - delta} {
			gL := MakeSampleRmat(chi, ome).MulVec(g)
			gB := rMatE.MulVecTrans(gL)
			ang := Angles{
				TTh: tth,
				Eta: rotations.MapAngle(math.Atan2(gB.Y, gB.X)),
				Ome: rotations.MapAngle(ome),
			}
			if k == 0 {
				oangs0[i] = ang
			} else {
				oangs1[i] = ang
			}
		}
	}
	return
}

// GvecToXY projects unit reciprocal lattice vectors given in the CRYSTAL
// frame to detector coordinates. rMatS holds one SAMPLE rotation per vector.
// The crystal sits at tVecS + rMatS·tVecC in the LAB frame. Vectors that do
// not diffract, or whose diffracted beam misses the detector plane, map to
// NaN.
func GvecToXY(gHatC []r3.Vec, rMatD *r3.Mat, rMatS []*r3.Mat, rMatC *r3.Mat,
	tVecD, tVecS, tVecC r3.Vec, beam r3.Vec) [][2]float64 {

	if len(rMatS) != len(gHatC) {
		panic("sample rotation count not match g-vector count")
	}

	bHat := rotations.UnitVector(beam)
	nVec := r3.Vec{X: rMatD.At(0, 2), Y: rMatD.At(1, 2), Z: rMatD.At(2, 2)}

	xy := make([][2]float64, len(gHatC))
	for i, gc := range gHatC {
		xy[i] = [2]float64{math.NaN(), math.NaN()}

		rS := rMatS[i]
		p0 := r3.Add(tVecS, rS.MulVec(tVecC))
		gL := rS.MulVec(rMatC.MulVec(gc))

		bDot := -r3.Dot(bHat, gL)
		if bDot < epsf || bDot > 1-epsf {
			continue
		}
		dVec := r3.Scale(-1, MakeBinaryRmat(gL).MulVec(bHat))
		denom := r3.Dot(nVec, dVec)
		if denom > -epsf {
			continue
		}
		u := r3.Dot(nVec, r3.Sub(tVecD, p0)) / denom
		p2 := r3.Add(p0, r3.Scale(u, dVec))
		p2d := rMatD.MulVecTrans(r3.Sub(p2, tVecD))
		xy[i] = [2]float64{p2d.X, p2d.Y}
	}
	return xy
}

// MakeBMatrix returns the reciprocal lattice basis of a unit cell with edge
// lengths a, b, c and angles alpha, beta, gamma in radians. The columns are
// a*, b*, c* in a crystal frame with a along X and b in the XY plane;
// reciprocal lengths carry no 2π.
func MakeBMatrix(a, b, c, alpha, beta, gamma float64) *r3.Mat {
	ca, cb, cg, sg := math.Cos(alpha), math.Cos(beta), math.Cos(gamma), math.Sin(gamma)
	cy := (ca - cb*cg) / sg
	a1 := r3.Vec{X: a}
	a2 := r3.Vec{X: b * cg, Y: b * sg}
	a3 := r3.Vec{X: c * cb, Y: c * cy, Z: c * math.Sqrt(1-cb*cb-cy*cy)}

	vol := r3.Dot(a1, r3.Cross(a2, a3))
	s1 := r3.Scale(1/vol, r3.Cross(a2, a3))
	s2 := r3.Scale(1/vol, r3.Cross(a3, a1))
	s3 := r3.Scale(1/vol, r3.Cross(a1, a2))
	return r3.NewMat([]float64{
		s1.X, s2.X, s3.X,
		s1.Y, s2.Y, s3.Y,
		s1.Z, s2.Z, s3.Z,
	})
}
