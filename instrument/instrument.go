// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package instrument describes the HEDM rig consumed by grain fitting: beam
// and eta reference vectors, the oscillation stage, and an ordered list of
// area detectors with their transforms and optional distortion models.
package instrument

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/rotations"
	"github.com/curioloop/grainfit/transforms"
)

// KeVToAngstrom converts between photon energy in keV and wavelength in Å.
// The relation is its own inverse.
const KeVToAngstrom = 12.39841984

// NumDetectorParams is the length of a packed detector parameter vector.
const NumDetectorParams = 10

// ErrDetectorParams reports a detector parameter slice that is too short.
var ErrDetectorParams = errors.New("detector parameter vector needs at least 10 values")

// DetectorParams packs a detector transform as
//
//	[0:3]  tilt as an exponential map
//	[3:6]  detector translation in LAB
//	[6]    oscillation stage chi
//	[7:10] sample stage translation in LAB
type DetectorParams [NumDetectorParams]float64

// Transform is the unpacked form of DetectorParams.
type Transform struct {
	RMat  *r3.Mat // DETECTOR to LAB rotation
	TVec  r3.Vec  // detector origin in LAB
	Chi   float64 // stage tilt about LAB X
	TVecS r3.Vec  // sample stage origin in LAB
}

// Transform unpacks p.
func (p DetectorParams) Transform() Transform {
	return Transform{
		RMat:  rotations.RMatOfExpMap(r3.Vec{X: p[0], Y: p[1], Z: p[2]}),
		TVec:  r3.Vec{X: p[3], Y: p[4], Z: p[5]},
		Chi:   p[6],
		TVecS: r3.Vec{X: p[7], Y: p[8], Z: p[9]},
	}
}

// ExtractDetectorTransformation unpacks a raw parameter slice, rejecting
// slices too short to hold a full transform.
func ExtractDetectorTransformation(params []float64) (Transform, error) {
	if len(params) < NumDetectorParams {
		return Transform{}, fmt.Errorf("%w: got %d", ErrDetectorParams, len(params))
	}
	var p DetectorParams
	copy(p[:], params)
	return p.Transform(), nil
}

// Distortion maps measured detector coordinates into the undistorted frame.
type Distortion interface {
	Apply(xy [][2]float64) [][2]float64
}

// RadialPolynomial scales each point radially about the detector origin by
// 1 + k₀r² + k₁r⁴ + …
type RadialPolynomial struct {
	Coeffs []float64
}

// Apply implements Distortion.
func (d *RadialPolynomial) Apply(xy [][2]float64) [][2]float64 {
	out := make([][2]float64, len(xy))
	for i, p := range xy {
		r2 := p[0]*p[0] + p[1]*p[1]
		f, rn := 1.0, r2
		for _, k := range d.Coeffs {
			f += k * rn
			rn *= r2
		}
		out[i] = [2]float64{f * p[0], f * p[1]}
	}
	return out
}

// EnergyCorrection models a beam energy gradient across the sample: the
// energy seen by a grain shifts by Slope keV per unit length along Axis,
// measured from Intercept.
type EnergyCorrection struct {
	Axis      int // 0, 1 or 2 for LAB X, Y, Z
	Intercept float64
	Slope     float64
}

// Apply returns the wavelength seen by a grain at tVecC in a sample stage
// translated by tVecS. A nil correction leaves the wavelength unchanged.
func (c *EnergyCorrection) Apply(wavelength float64, tVecS, tVecC r3.Vec) float64 {
	if c == nil {
		return wavelength
	}
	pos := r3.Add(tVecS, tVecC)
	var p float64
	switch c.Axis {
	case 0:
		p = pos.X
	case 1:
		p = pos.Y
	case 2:
		p = pos.Z
	default:
		return math.NaN()
	}
	energy := KeVToAngstrom/wavelength + c.Slope*(p-c.Intercept)
	return KeVToAngstrom / energy
}

// Detector is one area detector of the instrument.
type Detector struct {
	Name       string
	Params     DetectorParams
	Distortion Distortion // nil when the detector is undistorted
}

// Instrument is an ordered collection of detectors sharing one beam and
// oscillation stage. Detector order is significant: grain fitting stacks
// per-detector results in this order.
type Instrument struct {
	BeamEnergy       float64 // keV, 0 when unknown
	BeamVector       r3.Vec
	EtaVector        r3.Vec
	Chi              float64
	TVec             r3.Vec // sample stage translation
	EnergyCorrection *EnergyCorrection
	Detectors        []*Detector
}

// New creates an instrument with the default beam and eta vectors.
func New() *Instrument {
	return &Instrument{
		BeamVector: transforms.BeamVec,
		EtaVector:  transforms.EtaVec,
	}
}

// AddDetector appends a detector whose transform is built from the given
// tilt and translation plus the instrument's stage chi and translation.
func (in *Instrument) AddDetector(name string, tilt, translation r3.Vec, distortion Distortion) *Detector {
	d := &Detector{
		Name: name,
		Params: DetectorParams{
			tilt.X, tilt.Y, tilt.Z,
			translation.X, translation.Y, translation.Z,
			in.Chi,
			in.TVec.X, in.TVec.Y, in.TVec.Z,
		},
		Distortion: distortion,
	}
	in.Detectors = append(in.Detectors, d)
	return d
}

// Detector looks a detector up by name.
func (in *Instrument) Detector(name string) (*Detector, bool) {
	for _, d := range in.Detectors {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// DetectorNames returns detector names in instrument order.
func (in *Instrument) DetectorNames() []string {
	names := make([]string, len(in.Detectors))
	for i, d := range in.Detectors {
		names[i] = d.Name
	}
	return names
}

// Wavelength returns the nominal beam wavelength in Å, or NaN when the
// energy is unknown.
func (in *Instrument) Wavelength() float64 {
	if in.BeamEnergy <= 0 {
		return math.NaN()
	}
	return KeVToAngstrom / in.BeamEnergy
}
