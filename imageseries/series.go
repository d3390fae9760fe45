// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageseries

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// SparseArraySeries is a read-only image series backed by one group of a
// sparse array file. All frames are loaded when the series is opened.
type SparseArraySeries struct {
	file   *SparseArrayFile
	frames []*Frame
}

// OpenSparseArray loads the series stored under group in path.
func OpenSparseArray(path, group string) (*SparseArraySeries, error) {
	if group == "" {
		return nil, fmt.Errorf("no value was given for the group of %s", path)
	}
	file, err := OpenSparseArrayFile(path, group)
	if err != nil {
		return nil, err
	}
	if !file.HasGroup() {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoGroup, group, path)
	}
	frames, err := file.Images()
	if err != nil {
		return nil, err
	}
	return &SparseArraySeries{file: file, frames: frames}, nil
}

// Len returns the number of frames.
func (s *SparseArraySeries) Len() int { return len(s.frames) }

// Shape returns the frame shape as rows, columns.
func (s *SparseArraySeries) Shape() [2]int { return [2]int{s.file.Shape[0], s.file.Shape[1]} }

// Dtype returns the pixel type recorded for the series.
func (s *SparseArraySeries) Dtype() string { return s.file.Dtype }

// Metadata returns the group attributes.
func (s *SparseArraySeries) Metadata() map[string]string { return s.file.Metadata() }

// Frame returns sparse frame i.
func (s *SparseArraySeries) Frame(i int) *Frame { return s.frames[i] }

// Image expands frame i.
func (s *SparseArraySeries) Image(i int) *sparse.DenseArray { return s.frames[i].Dense() }

// Region expands rows [r0, r1) and columns [c0, c1) of frame i.
func (s *SparseArraySeries) Region(i, r0, r1, c0, c1 int) (*sparse.DenseArray, error) {
	if i < 0 || i >= len(s.frames) {
		return nil, fmt.Errorf("frame %d outside series of %d", i, len(s.frames))
	}
	return s.frames[i].Region(r0, r1, c0, c1)
}
