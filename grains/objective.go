// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grains

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/curioloop/grainfit/instrument"
	"github.com/curioloop/grainfit/reflections"
	"github.com/curioloop/grainfit/rotations"
	"github.com/curioloop/grainfit/transforms"
)

// ErrInfeasibleProjection reports a predicted reflection that misses its
// detector plane.
var ErrInfeasibleProjection = errors.New("infeasible parameters: may want to scale back finite difference step size")

// Mode selects what Objective.Eval returns.
type Mode int

const (
	// ModeResidual flat [dx, dy, dω] per reflection; dω is the wrap-aware
	// angular difference.
	ModeResidual Mode = iota
	// ModeSimulate stacked calculated [x, y, ω] per reflection.
	ModeSimulate
	// ModeSimulateDetail calculated xy and ω grouped by detector.
	ModeSimulateDetail
	// ModeSumAbs sum of absolute residuals.
	ModeSumAbs
	// ModeChiSq sum of squared residuals over the degrees of freedom.
	ModeChiSq
	// ModeChiSqPlus ModeChiSq together with fit statistics.
	ModeChiSqPlus
)

// Stats summarizes the agreement between predicted and measured spots.
type Stats struct {
	NPts    int
	RMS     float64 // over every residual component
	RMSXY   float64 // detector distance per point
	OmeMax  float64
	OmeMin  float64
	OmeMean float64
	DiffOme []float64 // |Δω| per point, radians
}

// DetectorSimulation is the prediction for one detector.
type DetectorSimulation struct {
	Name     string
	CalcXY   [][2]float64
	CalcOmes []float64
}

// Outcome is the result of one evaluation; only the fields of the requested
// mode are set.
type Outcome struct {
	Residual  []float64
	Simulated [][3]float64
	Detectors []DetectorSimulation
	Value     float64
	Stats     *Stats
}

// Objective predicts spot positions of a trial grain on every detector and
// compares them to measurements.
//
// Eval overlays the free values on a copy of Full and never mutates the
// objective, so one Objective may be shared by concurrent evaluations.
type Objective struct {
	Instrument  *instrument.Instrument
	Reflections map[string]reflections.Set
	BMat        *r3.Mat
	Wavelength  float64
	Full        Params
	Mask        Mask
	OmePeriod   *rotations.Period
}

// predicted is the per-point stack of one evaluation, in detector order
// then reflection order.
type predicted struct {
	meas [][3]float64
	calc [][3]float64
	dets []DetectorSimulation
}

func (o *Objective) predict(free []float64) (*predicted, error) {
	p, err := o.Mask.Overlay(o.Full, free)
	if err != nil {
		return nil, err
	}
	inst := o.Instrument

	rMatC := rotations.RMatOfExpMap(p.ExpMap())
	tVecC := p.Position()
	vInv := p.VInv()
	vMatS := rotations.SymmFromMV(vInv)

	out := new(predicted)
	for _, det := range inst.Detectors {
		refl, err := reflections.Normalize(o.Reflections[det.Name])
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", det.Name, err)
		}
		n := refl.Len()
		if n == 0 {
			continue
		}
		tr := det.Params.Transform()

		meas := make([][3]float64, n)
		copy(meas, refl.MeasXYO)
		if det.Distortion != nil {
			xy := make([][2]float64, n)
			for i, m := range meas {
				xy[i] = [2]float64{m[0], m[1]}
			}
			xy = det.Distortion.Apply(xy)
			for i := range meas {
				meas[i][0], meas[i][1] = xy[i][0], xy[i][1]
			}
		}

		measOmes := make([]float64, n)
		gHatC := make([]r3.Vec, n)
		for i, hkl := range refl.HKLs {
			measOmes[i] = meas[i][2]
			gC := o.BMat.MulVec(r3.Vec{X: hkl[0], Y: hkl[1], Z: hkl[2]})
			gS := vMatS.MulVec(rMatC.MulVec(gC))
			gHatC[i] = rotations.UnitVector(rMatC.MulVecTrans(gS))
		}

		crystal := Crystal{
			RMat:       rMatC,
			VInv:       vInv,
			BMat:       o.BMat,
			Wavelength: inst.EnergyCorrection.Apply(o.Wavelength, tr.TVecS, tVecC),
			Chi:        tr.Chi,
			Beam:       inst.BeamVector,
			Eta:        inst.EtaVector,
		}
		calcOmes, _, err := MatchOmegas(measOmes, refl.HKLs, crystal, o.OmePeriod)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", det.Name, err)
		}

		rMatS := make([]*r3.Mat, n)
		for i, ome := range calcOmes {
			rMatS[i] = transforms.MakeSampleRmat(tr.Chi, ome)
		}
		calcXY := transforms.GvecToXY(gHatC, tr.RMat, rMatS, rMatC, tr.TVec, tr.TVecS, tVecC, inst.BeamVector)

		for i := range calcXY {
			out.calc = append(out.calc, [3]float64{calcXY[i][0], calcXY[i][1], calcOmes[i]})
		}
		out.meas = append(out.meas, meas...)
		out.dets = append(out.dets, DetectorSimulation{Name: det.Name, CalcXY: calcXY, CalcOmes: calcOmes})
	}

	for _, c := range out.calc {
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil, ErrInfeasibleProjection
		}
	}
	return out, nil
}

// Eval evaluates the objective at the free parameters for the given mode.
func (o *Objective) Eval(free []float64, mode Mode) (*Outcome, error) {
	pr, err := o.predict(free)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeSimulate:
		return &Outcome{Simulated: pr.calc}, nil
	case ModeSimulateDetail:
		return &Outcome{Detectors: pr.dets}, nil
	}

	res := pr.residual()
	switch mode {
	case ModeResidual:
		return &Outcome{Residual: res}, nil
	case ModeSumAbs:
		s := 0.0
		for _, v := range res {
			s += math.Abs(v)
		}
		return &Outcome{Value: s}, nil
	case ModeChiSq, ModeChiSqPlus:
		chi2 := floats.Dot(res, res) / dof(len(pr.calc), len(free))
		if mode == ModeChiSq {
			return &Outcome{Value: chi2}, nil
		}
		return &Outcome{Value: chi2, Stats: statsOf(res)}, nil
	default:
		return nil, fmt.Errorf("unknown objective mode %d", mode)
	}
}

// Residual writes the ModeResidual vector into y. It satisfies
// leastsq.Residual.
func (o *Objective) Residual(x, y []float64) error {
	pr, err := o.predict(x)
	if err != nil {
		return err
	}
	if 3*len(pr.calc) != len(y) {
		return fmt.Errorf("residual length %d, expected %d", 3*len(pr.calc), len(y))
	}
	pr.residualTo(y)
	return nil
}

// NumPoints returns the number of reflections on detectors of the
// instrument.
func (o *Objective) NumPoints() int {
	n := 0
	for _, det := range o.Instrument.Detectors {
		n += o.Reflections[det.Name].Len()
	}
	return n
}

func (pr *predicted) residual() []float64 {
	res := make([]float64, 3*len(pr.calc))
	pr.residualTo(res)
	return res
}

func (pr *predicted) residualTo(res []float64) {
	for i, c := range pr.calc {
		m := pr.meas[i]
		res[3*i] = c[0] - m[0]
		res[3*i+1] = c[1] - m[1]
		res[3*i+2] = rotations.AngularDifference(c[2], m[2])
	}
}

// dof is the degrees of freedom 3·npts − nfree − 1, or 1 when that is zero.
func dof(npts, nfree int) float64 {
	d := 3*npts - nfree - 1
	if d == 0 {
		return 1
	}
	return float64(d)
}

// statsOf summarizes a flat [dx, dy, dω] residual vector.
func statsOf(res []float64) *Stats {
	n := len(res) / 3
	s := &Stats{NPts: n, DiffOme: make([]float64, n)}
	dxy2 := 0.0
	for i := 0; i < n; i++ {
		dx, dy := res[3*i], res[3*i+1]
		dxy2 += dx*dx + dy*dy
		s.DiffOme[i] = res[3*i+2]
	}
	if n > 0 {
		s.RMS = math.Sqrt(floats.Dot(res, res) / float64(n))
		s.RMSXY = math.Sqrt(dxy2 / float64(n))
		s.OmeMax = floats.Max(s.DiffOme)
		s.OmeMin = floats.Min(s.DiffOme)
		s.OmeMean = stat.Mean(s.DiffOme, nil)
	}
	return s
}
