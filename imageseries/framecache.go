// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageseries

import (
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
)

// FrameCache is an in-memory series of sparse frames sharing one shape.
type FrameCache struct {
	Shape  [2]int
	Dtype  string
	Frames []*Frame
}

// NewFrameCache thresholds each image into a sparse frame. dtype names the
// pixel type of the source images, e.g. "uint16".
func NewFrameCache(images []*sparse.DenseArray, threshold float64, dtype string) (*FrameCache, error) {
	if len(images) == 0 {
		return nil, errors.New("frame cache needs at least one image")
	}
	fc := &FrameCache{Dtype: dtype, Frames: make([]*Frame, len(images))}
	for i, img := range images {
		f, err := FromDense(img, threshold)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if i == 0 {
			fc.Shape = [2]int{f.Rows, f.Cols}
		} else if fc.Shape != [2]int{f.Rows, f.Cols} {
			return nil, fmt.Errorf("%w: image %d is %dx%d, series is %dx%d",
				ErrFrame, i, f.Rows, f.Cols, fc.Shape[0], fc.Shape[1])
		}
		fc.Frames[i] = f
	}
	return fc, nil
}

// Len returns the number of frames.
func (fc *FrameCache) Len() int { return len(fc.Frames) }
