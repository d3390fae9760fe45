// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageseries

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/cdf"
)

// ErrNoGroup reports a group missing from a sparse array file.
var ErrNoGroup = errors.New("group not found in sparse array file")

const (
	attrNFrames = "_nframes"
	attrShape   = "_shape"
	attrDtype   = "_dtype"
)

// DatasetNames returns the names of the value, column index and row pointer
// arrays of frame i within its group.
func DatasetNames(i int) (data, indices, indptr string) {
	return fmt.Sprintf("data_%d", i), fmt.Sprintf("indices_%d", i), fmt.Sprintf("indptr_%d", i)
}

// SparseArrayFile is one group of sparse frames in a netCDF file. netCDF
// classic has no groups, so every array and attribute name carries the
// group as a dotted prefix.
//
// When the group exists its core attributes are loaded on open; otherwise
// NFrames is zero, Shape is nil and Dtype is empty.
type SparseArrayFile struct {
	Path  string
	Group string

	NFrames int
	Shape   []int
	Dtype   string
}

// OpenSparseArrayFile binds path and group. A missing file or group is not
// an error.
func OpenSparseArrayFile(path, group string) (*SparseArrayFile, error) {
	if strings.Trim(group, "/") == "" {
		return nil, errors.New("sparse array group name is required")
	}
	s := &SparseArrayFile{Path: path, Group: group}

	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := cdf.Open(fh)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err = s.loadCoreAttrs(f.Header); err != nil && !errors.Is(err, ErrNoGroup) {
		return nil, err
	}
	return s, nil
}

// HasGroup reports whether the group was found in the file.
func (s *SparseArrayFile) HasGroup() bool { return s.Shape != nil }

func (s *SparseArrayFile) name(n string) string {
	return strings.ReplaceAll(strings.Trim(s.Group, "/"), "/", ".") + "." + n
}

func (s *SparseArrayFile) loadCoreAttrs(h *cdf.Header) error {
	attr := func(n string) (string, bool) {
		v, ok := h.GetAttribute("", s.name(n)).(string)
		return v, ok
	}
	nframes, ok := attr(attrNFrames)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGroup, s.Group)
	}
	shape, _ := attr(attrShape)
	dtype, _ := attr(attrDtype)

	n, err := strconv.Atoi(nframes)
	if err != nil {
		return fmt.Errorf("group %s: bad frame count %q", s.Group, nframes)
	}
	dims := make([]int, 0, 2)
	for _, d := range strings.Fields(shape) {
		v, err := strconv.Atoi(d)
		if err != nil {
			return fmt.Errorf("group %s: bad shape %q", s.Group, shape)
		}
		dims = append(dims, v)
	}
	if len(dims) != 2 {
		return fmt.Errorf("group %s: bad shape %q", s.Group, shape)
	}
	s.NFrames, s.Shape, s.Dtype = n, dims, dtype
	return nil
}

// Metadata returns the core attributes of the group, or nil when the group
// does not exist.
func (s *SparseArrayFile) Metadata() map[string]string {
	if !s.HasGroup() {
		return nil
	}
	return map[string]string{
		"nframes": strconv.Itoa(s.NFrames),
		"shape":   fmt.Sprintf("%d %d", s.Shape[0], s.Shape[1]),
		"dtype":   s.Dtype,
	}
}

// CopyFrameCache writes every frame of fc into the group, replacing the
// file.
func (s *SparseArrayFile) CopyFrameCache(fc *FrameCache) (err error) {
	for i, f := range fc.Frames {
		if err = f.Validate(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if f.Rows != fc.Shape[0] || f.Cols != fc.Shape[1] {
			return fmt.Errorf("%w: frame %d is %dx%d, series is %dx%d",
				ErrFrame, i, f.Rows, f.Cols, fc.Shape[0], fc.Shape[1])
		}
	}

	dims, lens := make([]string, 0, 2*fc.Len()), make([]int, 0, 2*fc.Len())
	for i, f := range fc.Frames {
		// zero length would make an unlimited dimension
		dims = append(dims, s.name(fmt.Sprintf("nnz_%d", i)), s.name(fmt.Sprintf("nptr_%d", i)))
		lens = append(lens, max(f.NNZ(), 1), f.Rows+1)
	}

	h := cdf.NewHeader(dims, lens)
	h.AddAttribute("", s.name(attrNFrames), strconv.Itoa(fc.Len()))
	h.AddAttribute("", s.name(attrShape), fmt.Sprintf("%d %d", fc.Shape[0], fc.Shape[1]))
	h.AddAttribute("", s.name(attrDtype), fc.Dtype)
	for i := range fc.Frames {
		dname, iname, pname := DatasetNames(i)
		h.AddVariable(s.name(dname), []string{dims[2*i]}, []float64{0})
		h.AddVariable(s.name(iname), []string{dims[2*i]}, []int32{0})
		h.AddVariable(s.name(pname), []string{dims[2*i+1]}, []int32{0})
	}
	h.Define()

	fh, err := os.Create(s.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()

	f, err := cdf.Create(fh, h)
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.Path, err)
	}

	for i, frame := range fc.Frames {
		dname, iname, pname := DatasetNames(i)
		n := max(frame.NNZ(), 1)
		data := make([]float64, n)
		indices := make([]int32, n)
		copy(data, frame.Data)
		copy(indices, frame.Indices)

		for _, v := range []struct {
			name string
			vals any
		}{
			{dname, data},
			{iname, indices},
			{pname, frame.Indptr},
		} {
			if err = writeVar(f, s.name(v.name), v.vals); err != nil {
				return fmt.Errorf("writing frame %d: %w", i, err)
			}
		}
	}

	s.NFrames = fc.Len()
	s.Shape = []int{fc.Shape[0], fc.Shape[1]}
	s.Dtype = fc.Dtype
	return nil
}

func writeVar(f *cdf.File, name string, vals any) error {
	end := f.Header.Lengths(name)
	w := f.Writer(name, make([]int, len(end)), end)
	_, err := w.Write(vals)
	return err
}

// Images reads every frame of the group. Frames are independent copies.
func (s *SparseArrayFile) Images() ([]*Frame, error) {
	fh, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := cdf.Open(fh)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	if err = s.loadCoreAttrs(f.Header); err != nil {
		return nil, err
	}

	frames := make([]*Frame, s.NFrames)
	for i := range frames {
		dname, iname, pname := DatasetNames(i)
		frame := &Frame{Rows: s.Shape[0], Cols: s.Shape[1]}

		frame.Indptr = make([]int32, s.Shape[0]+1)
		if err = readVar(f, s.name(pname), frame.Indptr); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		nnz := int(frame.Indptr[s.Shape[0]])
		n := max(nnz, 1)
		data, indices := make([]float64, n), make([]int32, n)
		if err = readVar(f, s.name(dname), data); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if err = readVar(f, s.name(iname), indices); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if nnz > 0 {
			frame.Data, frame.Indices = data[:nnz], indices[:nnz]
		}
		if err = frame.Validate(); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		frames[i] = frame
	}
	return frames, nil
}

func readVar(f *cdf.File, name string, dst any) error {
	lens := f.Header.Lengths(name)
	if len(lens) != 1 {
		return fmt.Errorf("%w: array %s missing", ErrFrame, name)
	}
	want := 0
	switch d := dst.(type) {
	case []float64:
		want = len(d)
	case []int32:
		want = len(d)
	}
	if lens[0] != want {
		return fmt.Errorf("%w: array %s has %d entries, want %d", ErrFrame, name, lens[0], want)
	}
	_, err := f.Reader(name, nil, nil).Read(dst)
	return err
}
