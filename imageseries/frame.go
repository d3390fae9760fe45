// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imageseries stores detector image series as thresholded sparse
// frames. Frames use compressed sparse row layout and are persisted in a
// netCDF container, one named group of frames per series.
package imageseries

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ctessum/sparse"
)

// ErrFrame reports a malformed frame.
var ErrFrame = errors.New("malformed sparse frame")

// Frame is one image in compressed sparse row form. The values of row r are
// Data[Indptr[r]:Indptr[r+1]] at columns Indices[Indptr[r]:Indptr[r+1]],
// columns increasing within a row.
type Frame struct {
	Rows, Cols int
	Data       []float64
	Indices    []int32
	Indptr     []int32
}

// FromDense keeps the pixels of a 2-D image strictly greater than
// threshold.
func FromDense(img *sparse.DenseArray, threshold float64) (*Frame, error) {
	if len(img.Shape) != 2 {
		return nil, fmt.Errorf("%w: image has %d dimensions, want 2", ErrFrame, len(img.Shape))
	}
	rows, cols := img.Shape[0], img.Shape[1]
	f := &Frame{Rows: rows, Cols: cols, Indptr: make([]int32, rows+1)}
	for r := 0; r < rows; r++ {
		for c, v := range img.Elements[r*cols : (r+1)*cols] {
			if v > threshold {
				f.Data = append(f.Data, v)
				f.Indices = append(f.Indices, int32(c))
			}
		}
		f.Indptr[r+1] = int32(len(f.Data))
	}
	return f, nil
}

// NNZ returns the number of stored pixels.
func (f *Frame) NNZ() int { return len(f.Data) }

// At returns the pixel at row r, column c; unstored pixels are zero.
func (f *Frame) At(r, c int) float64 {
	if r < 0 || r >= f.Rows || c < 0 || c >= f.Cols {
		panic("frame index out of range")
	}
	lo, hi := f.Indptr[r], f.Indptr[r+1]
	if k, ok := slices.BinarySearch(f.Indices[lo:hi], int32(c)); ok {
		return f.Data[int(lo)+k]
	}
	return 0
}

// Dense expands the frame into a Rows×Cols array.
func (f *Frame) Dense() *sparse.DenseArray {
	img := sparse.ZerosDense(f.Rows, f.Cols)
	for r := 0; r < f.Rows; r++ {
		for k := f.Indptr[r]; k < f.Indptr[r+1]; k++ {
			img.Elements[r*f.Cols+int(f.Indices[k])] = f.Data[k]
		}
	}
	return img
}

// Region expands rows [r0, r1) and columns [c0, c1) of the frame.
func (f *Frame) Region(r0, r1, c0, c1 int) (*sparse.DenseArray, error) {
	if r0 < 0 || r1 > f.Rows || r0 > r1 || c0 < 0 || c1 > f.Cols || c0 > c1 {
		return nil, fmt.Errorf("region [%d:%d, %d:%d] outside %dx%d frame", r0, r1, c0, c1, f.Rows, f.Cols)
	}
	w := c1 - c0
	img := sparse.ZerosDense(r1-r0, w)
	for r := r0; r < r1; r++ {
		lo, hi := f.Indptr[r], f.Indptr[r+1]
		row := f.Indices[lo:hi]
		k0, _ := slices.BinarySearch(row, int32(c0))
		for k := k0; k < len(row) && int(row[k]) < c1; k++ {
			img.Elements[(r-r0)*w+int(row[k])-c0] = f.Data[int(lo)+k]
		}
	}
	return img, nil
}

// Validate checks the CSR invariants.
func (f *Frame) Validate() error {
	switch {
	case f.Rows < 0 || f.Cols < 0:
		return fmt.Errorf("%w: negative shape %dx%d", ErrFrame, f.Rows, f.Cols)
	case len(f.Indptr) != f.Rows+1:
		return fmt.Errorf("%w: indptr has %d entries for %d rows", ErrFrame, len(f.Indptr), f.Rows)
	case len(f.Data) != len(f.Indices):
		return fmt.Errorf("%w: %d values but %d indices", ErrFrame, len(f.Data), len(f.Indices))
	case f.Indptr[0] != 0 || int(f.Indptr[f.Rows]) != len(f.Data):
		return fmt.Errorf("%w: indptr does not span the data", ErrFrame)
	}
	for r := 0; r < f.Rows; r++ {
		lo, hi := f.Indptr[r], f.Indptr[r+1]
		if lo > hi {
			return fmt.Errorf("%w: indptr decreases at row %d", ErrFrame, r)
		}
		for k := lo; k < hi; k++ {
			if c := f.Indices[k]; c < 0 || int(c) >= f.Cols || k > lo && c <= f.Indices[k-1] {
				return fmt.Errorf("%w: bad column %d in row %d", ErrFrame, c, r)
			}
		}
	}
	return nil
}
