// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grains refines grain orientation, position and inverse stretch
// against measured diffraction spots.
//
// A grain is described by 12 parameters:
//
//	[0:3]  orientation as an exponential map
//	[3:6]  centre of mass in the SAMPLE frame
//	[6:12] inverse stretch V⁻¹ of F = V·R, Mandel-Voigt packed
//	       as [xx, yy, zz, √2·yz, √2·xz, √2·xy]
//
// A Mask selects the parameters the optimizer may move; the rest keep the
// value of the full vector passed in.
package grains

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// NumParams is the length of a grain parameter vector.
const NumParams = 12

// Params is a full grain parameter vector.
type Params [NumParams]float64

// ParamsRef is an unrotated, unstrained grain at the origin.
var ParamsRef = Params{0, 0, 0, 0, 0, 0, 1, 1, 1, 0, 0, 0}

// ExpMap returns the orientation exponential map.
func (p Params) ExpMap() r3.Vec { return r3.Vec{X: p[0], Y: p[1], Z: p[2]} }

// Position returns the grain centre of mass.
func (p Params) Position() r3.Vec { return r3.Vec{X: p[3], Y: p[4], Z: p[5]} }

// VInv returns the packed inverse stretch.
func (p Params) VInv() [6]float64 {
	var v [6]float64
	copy(v[:], p[6:])
	return v
}

// Mask flags the free parameters of a fit.
type Mask [NumParams]bool

// AllFree refines every parameter.
var AllFree = Mask{true, true, true, true, true, true, true, true, true, true, true, true}

// ErrMaskLength reports a free parameter slice whose length differs from the
// mask's free count.
var ErrMaskLength = errors.New("free parameter count not match mask")

// NumFree returns the number of free parameters.
func (m Mask) NumFree() int {
	n := 0
	for _, f := range m {
		if f {
			n++
		}
	}
	return n
}

// Extract returns the free parameters of p in index order.
func (m Mask) Extract(p Params) []float64 {
	free := make([]float64, 0, NumParams)
	for i, f := range m {
		if f {
			free = append(free, p[i])
		}
	}
	return free
}

// Overlay returns a copy of p with the free positions replaced by free, in
// index order. Extract(Overlay(p, v)) == v for any v of the right length.
func (m Mask) Overlay(p Params, free []float64) (Params, error) {
	if len(free) != m.NumFree() {
		return p, fmt.Errorf("%w: got %d, mask has %d", ErrMaskLength, len(free), m.NumFree())
	}
	k := 0
	for i, f := range m {
		if f {
			p[i] = free[k]
			k++
		}
	}
	return p, nil
}

// Scale holds per-parameter step weights; the optimizer scales parameter i
// by 1/Scale[i].
type Scale [NumParams]float64

// DefaultScale weights every parameter equally.
var DefaultScale = Scale{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
