// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grains

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/reflections"
	"github.com/curioloop/grainfit/rotations"
	"github.com/curioloop/grainfit/transforms"
)

// InfeasibleHKLError lists reflections for which the trial grain has no
// diffraction solution.
type InfeasibleHKLError struct {
	HKLs [][3]float64
}

func (e *InfeasibleHKLError) Error() string {
	var b strings.Builder
	b.WriteString("infeasible parameters for hkls:\n")
	for _, hkl := range e.HKLs {
		fmt.Fprintf(&b, "%g  %g  %g\n", hkl[0], hkl[1], hkl[2])
	}
	b.WriteString("you may need to deselect this hkl family.")
	return b.String()
}

// Crystal is the trial grain geometry needed to predict oscillation angles.
type Crystal struct {
	RMat       *r3.Mat    // CRYSTAL to SAMPLE rotation
	VInv       [6]float64 // packed inverse stretch
	BMat       *r3.Mat    // reciprocal lattice basis
	Wavelength float64
	Chi        float64
	Beam, Eta  r3.Vec
}

// MatchOmegas predicts both oscillation solutions of each HKL and keeps the
// one closest to the measured ω. match[i] flags the branch chosen for
// reflection i; a tie keeps branch 0.
//
// With a non-nil period both measured and predicted angles are remapped
// into it before comparison. Any HKL without a solution fails the whole
// call with an *InfeasibleHKLError naming every offender. Mismatched omega
// and HKL counts fail with reflections.ErrShape.
func MatchOmegas(measOmes []float64, hkls [][3]float64, c Crystal, period *rotations.Period) (calc []float64, match [][2]bool, err error) {
	if len(measOmes) != len(hkls) {
		return nil, nil, fmt.Errorf("%w: %d measured omegas but %d hkls", reflections.ErrShape, len(measOmes), len(hkls))
	}

	oangs0, oangs1 := transforms.OscillAnglesOfHKLs(hkls, c.Chi, c.RMat, c.BMat, c.Wavelength, c.VInv, c.Beam, c.Eta)

	var bad [][3]float64
	for i := range hkls {
		if oangs0[i].IsNaN() || oangs1[i].IsNaN() {
			bad = append(bad, hkls[i])
		}
	}
	if len(bad) > 0 {
		return nil, nil, &InfeasibleHKLError{HKLs: bad}
	}

	calc = make([]float64, len(hkls))
	match = make([][2]bool, len(hkls))
	for i, meas := range measOmes {
		o0, o1 := oangs0[i].Ome, oangs1[i].Ome
		if period != nil {
			meas, o0, o1 = period.Map(meas), period.Map(o0), period.Map(o1)
		}
		if rotations.AngularDifference(meas, o1) < rotations.AngularDifference(meas, o0) {
			calc[i], match[i][1] = o1, true
		} else {
			calc[i], match[i][0] = o0, true
		}
	}
	return calc, match, nil
}
