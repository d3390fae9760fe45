// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reflections normalizes per-detector reflection data into the one
// shape consumed by grain fitting.
//
// Three input shapes are accepted, all implementing Source:
//
//   - Records: one heterogeneous record per reflection.
//   - Table: a fixed-column numeric spots table.
//   - Set: the already normalized form.
//
// Normalize is meant to run once per detector before an optimization starts,
// never inside the objective.
package reflections

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape reports reflection data that cannot be normalized.
var ErrShape = errors.New("malformed reflection data")

// Set is the canonical per-detector reflection data: one HKL and one measured
// (x, y, ω) per reflection, index aligned.
type Set struct {
	HKLs    [][3]float64
	MeasXYO [][3]float64
}

// Len returns the number of reflections.
func (s Set) Len() int { return len(s.HKLs) }

// Source is reflection data in one of the accepted shapes.
type Source interface {
	normalize() (Set, error)
}

func (s Set) normalize() (Set, error) {
	if len(s.HKLs) != len(s.MeasXYO) {
		return Set{}, fmt.Errorf("%w: %d hkls but %d measurements", ErrShape, len(s.HKLs), len(s.MeasXYO))
	}
	return s, nil
}

// Record is one reflection as produced by spot matching.
type Record struct {
	ID       int
	GVecID   int
	HKL      [3]float64
	SumInt   float64
	MaxInt   float64
	PredAngs [3]float64 // predicted 2θ, η, ω
	MeasAngs [3]float64 // measured 2θ, η, ω
	MeasXY   [2]float64
}

// Records is a list of reflection records.
type Records []Record

func (rs Records) normalize() (Set, error) {
	s := Set{
		HKLs:    make([][3]float64, len(rs)),
		MeasXYO: make([][3]float64, len(rs)),
	}
	for i, r := range rs {
		s.HKLs[i] = r.HKL
		s.MeasXYO[i] = [3]float64{r.MeasXY[0], r.MeasXY[1], r.MeasAngs[2]}
	}
	return s, nil
}

// Spots table columns.
const (
	ColID      = 0
	ColPID     = 1
	ColH       = 2 // H, K, L occupy 2:5
	ColSumInt  = 5
	ColMaxInt  = 6
	ColPredTTh = 7 // predicted 2θ, η, ω occupy 7:10
	ColMeasTTh = 10
	ColMeasOme = 12
	ColPredX   = 13
	ColMeasX   = 15
	ColMeasY   = 16

	// NumColumns is the minimum width of a spots table row.
	NumColumns = 17
)

// Table is a numeric spots table, one row per reflection:
//
//	0:5    ID    PID    H    K    L
//	5:7    sum(int)    max(int)
//	7:10   pred tth    pred eta    pred ome
//	10:13  meas tth    meas eta    meas ome
//	13:15  pred X    pred Y
//	15:17  meas X    meas Y
type Table [][]float64

func (t Table) normalize() (Set, error) {
	s := Set{
		HKLs:    make([][3]float64, len(t)),
		MeasXYO: make([][3]float64, len(t)),
	}
	for i, row := range t {
		if len(row) < NumColumns {
			return Set{}, fmt.Errorf("%w: table row %d has %d columns, need %d", ErrShape, i, len(row), NumColumns)
		}
		s.HKLs[i] = [3]float64{row[ColH], row[ColH+1], row[ColH+2]}
		s.MeasXYO[i] = [3]float64{row[ColMeasX], row[ColMeasY], row[ColMeasOme]}
	}
	return s, nil
}

// Valid returns the rows that were matched to a measured spot: a
// non-negative ID and finite measured x, y and ω.
func (t Table) Valid() Table {
	var out Table
	for _, row := range t {
		if len(row) < NumColumns || row[ColID] < 0 {
			continue
		}
		if math.IsNaN(row[ColMeasX]) || math.IsNaN(row[ColMeasY]) || math.IsNaN(row[ColMeasOme]) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Normalize converts src into a Set.
func Normalize(src Source) (Set, error) {
	if src == nil {
		return Set{}, fmt.Errorf("%w: nil source", ErrShape)
	}
	return src.normalize()
}

// NormalizeAll normalizes every detector's data, keyed by detector name.
func NormalizeAll(srcs map[string]Source) (map[string]Set, error) {
	out := make(map[string]Set, len(srcs))
	for name, src := range srcs {
		s, err := Normalize(src)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}
