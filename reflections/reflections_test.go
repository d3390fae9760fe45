// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reflections

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() Records {
	return Records{
		{ID: 0, HKL: [3]float64{1, 1, 1}, MeasAngs: [3]float64{0.1, 0.2, 0.3}, MeasXY: [2]float64{10, 20}},
		{ID: 1, HKL: [3]float64{2, 0, 0}, MeasAngs: [3]float64{0.4, 0.5, -0.6}, MeasXY: [2]float64{-30, 40}},
	}
}

func TestShapesAgree(t *testing.T) {
	recs := sampleRecords()
	var tbl Table
	for _, r := range recs {
		row := make([]float64, NumColumns)
		row[ColID] = float64(r.ID)
		copy(row[ColH:ColH+3], r.HKL[:])
		copy(row[ColMeasTTh:ColMeasTTh+3], r.MeasAngs[:])
		row[ColMeasX], row[ColMeasY] = r.MeasXY[0], r.MeasXY[1]
		tbl = append(tbl, row)
	}

	want := Set{
		HKLs:    [][3]float64{{1, 1, 1}, {2, 0, 0}},
		MeasXYO: [][3]float64{{10, 20, 0.3}, {-30, 40, -0.6}},
	}

	for name, src := range map[string]Source{"records": recs, "table": tbl, "set": want} {
		got, err := Normalize(src)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestNormalizeErrors(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrShape)

	_, err = Normalize(Table{make([]float64, 12)})
	assert.ErrorIs(t, err, ErrShape)

	_, err = Normalize(Set{HKLs: make([][3]float64, 2), MeasXYO: make([][3]float64, 1)})
	assert.ErrorIs(t, err, ErrShape)

	_, err = NormalizeAll(map[string]Source{"ok": Records{}, "bad": Table{{1, 2}}})
	assert.ErrorIs(t, err, ErrShape)
	assert.ErrorContains(t, err, "bad")
}

func TestNormalizeEmpty(t *testing.T) {
	s, err := Normalize(Records{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

const spots = `# ID    PID    H    K    L    sum(int)    max(int)    pred tth    pred eta    pred ome    meas tth    meas eta    meas ome    pred X    pred Y    meas X    meas Y
0 3 1 1 1 100 20 0.1 0.2 0.3 0.11 0.21 0.31 1.0 2.0 1.1 2.1

-999 4 2 0 0 nan nan 0.4 0.5 0.6 nan nan nan 3.0 4.0 nan nan
2 5 2 2 0 50 10 0.7 0.8 0.9 0.71 0.81 0.91 5.0 6.0 5.1 6.1
`

func TestReadTable(t *testing.T) {
	tbl, err := ReadTable(strings.NewReader(spots))
	require.NoError(t, err)
	require.Len(t, tbl, 3)
	assert.True(t, math.IsNaN(tbl[1][ColMeasOme]))

	valid := tbl.Valid()
	require.Len(t, valid, 2)

	s, err := Normalize(valid)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 2, 0}, s.HKLs[1])
	assert.Equal(t, [3]float64{5.1, 6.1, 0.91}, s.MeasXYO[1])

	_, err = ReadTable(strings.NewReader("1 2 3\n"))
	assert.ErrorIs(t, err, ErrShape)

	_, err = ReadTable(strings.NewReader(strings.Repeat("x ", NumColumns)))
	assert.ErrorIs(t, err, ErrShape)
}
