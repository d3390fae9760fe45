// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/instrument"
	"github.com/curioloop/grainfit/reflections"
	"github.com/curioloop/grainfit/rotations"
	"github.com/curioloop/grainfit/transforms"
)

const (
	latticeA   = 4.0 // Å, cubic
	wavelength = 0.2 // Å
	distance   = 1000.0
)

var (
	hklsA = [][3]float64{{1, 1, 1}, {2, 0, 0}, {0, 2, 2}}
	hklsB = [][3]float64{{3, 1, 1}, {2, 2, 0}, {1, -1, 3}, {-2, 0, 2}}
)

func cubicBMat() *r3.Mat {
	return r3.NewMat([]float64{
		1 / latticeA, 0, 0,
		0, 1 / latticeA, 0,
		0, 0, 1 / latticeA,
	})
}

// newInstrument returns an instrument with one detector per name, all facing
// the beam at the same distance.
func newInstrument(names ...string) *instrument.Instrument {
	inst := instrument.New()
	inst.BeamEnergy = instrument.KeVToAngstrom / wavelength
	for _, name := range names {
		inst.AddDetector(name, r3.Vec{}, r3.Vec{Z: -distance}, nil)
	}
	return inst
}

// synthesize returns measurements that the grain p reproduces exactly on
// detector name, taking the first oscillation branch.
func synthesize(t *testing.T, inst *instrument.Instrument, name string, p Params, hkls [][3]float64) reflections.Set {
	t.Helper()
	det, ok := inst.Detector(name)
	require.True(t, ok)

	tr := det.Params.Transform()
	oangs0, _ := transforms.OscillAnglesOfHKLs(hkls, tr.Chi, rotations.RMatOfExpMap(p.ExpMap()), cubicBMat(),
		wavelength, p.VInv(), inst.BeamVector, inst.EtaVector)

	meas := make([][3]float64, len(hkls))
	for i, a := range oangs0 {
		require.False(t, a.IsNaN(), "hkl %v", hkls[i])
		meas[i][2] = a.Ome
	}
	set := reflections.Set{HKLs: hkls, MeasXYO: meas}

	only := instrument.New()
	only.Detectors = []*instrument.Detector{{Name: name, Params: det.Params}}
	obj := &Objective{
		Instrument:  only,
		Reflections: map[string]reflections.Set{name: set},
		BMat:        cubicBMat(),
		Wavelength:  wavelength,
		Full:        p,
	}
	out, err := obj.Eval(nil, ModeSimulate)
	require.NoError(t, err)
	for i, c := range out.Simulated {
		meas[i][0], meas[i][1] = c[0], c[1]
	}
	return set
}

func TestMaskRoundTrip(t *testing.T) {
	p := Params{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	m := Mask{true, false, true, false, false, false, true, true, false, false, false, true}

	free := m.Extract(p)
	assert.Equal(t, []float64{1, 3, 7, 8, 12}, free)
	assert.Equal(t, 5, m.NumFree())

	q, err := m.Overlay(ParamsRef, free)
	require.NoError(t, err)
	assert.Equal(t, free, m.Extract(q))
	assert.Equal(t, Params{1, 0, 3, 0, 0, 0, 7, 8, 1, 0, 0, 12}, q)

	_, err = m.Overlay(p, []float64{1})
	assert.ErrorIs(t, err, ErrMaskLength)

	assert.Equal(t, p[:], AllFree.Extract(p))
}

func TestParamsAccessors(t *testing.T) {
	p := Params{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, p.ExpMap())
	assert.Equal(t, r3.Vec{X: 4, Y: 5, Z: 6}, p.Position())
	assert.Equal(t, [6]float64{7, 8, 9, 10, 11, 12}, p.VInv())
}
