// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command fitgrain refines one grain against spots tables measured on the
// detectors of an instrument.
//
// Usage:
//
//	fitgrain -instrument rig.yml -spots ff1=spots_ff1.out -spots ff2=spots_ff2.out \
//	    -lattice 3.6,3.6,3.6,90,90,90 [-grain 0,0,0,0,0,0,1,1,1,0,0,0] [options]
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/grainfit/grains"
	"github.com/curioloop/grainfit/instrument"
	"github.com/curioloop/grainfit/leastsq"
	"github.com/curioloop/grainfit/reflections"
	"github.com/curioloop/grainfit/transforms"
)

// spotsFlag collects repeated detector=path pairs.
type spotsFlag map[string]string

func (s spotsFlag) String() string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (s spotsFlag) Set(v string) error {
	name, path, ok := strings.Cut(v, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("want detector=path, got %q", v)
	}
	s[name] = path
	return nil
}

var (
	flagInstrument = flag.String("instrument", "", "Instrument YAML file (required)")
	flagGrain      = flag.String("grain", "", "Initial grain parameters, 12 comma separated values")
	flagLattice    = flag.String("lattice", "", "Lattice parameters a,b,c,alpha,beta,gamma in Å and degrees (required)")
	flagMask       = flag.String("mask", "111111111111", "Free parameter flags, one 0/1 per parameter")
	flagMaxEval    = flag.Int("max-eval", 0, "Maximum residual evaluations, 0 for the default")
	flagVerbose    = flag.Int("v", int(leastsq.LogLast), "Log level: -1 quiet, 0 summary, 1 per step, 99 trial steps, 101 parameters")
	flagOut        = flag.String("out", "", "Write the fit result as YAML to this file")
	flagDebug      = flag.String("debug", "", "Write per-point omega differences in degrees to this file")
	flagSpots      = spotsFlag{}
)

func main() {
	flag.Var(flagSpots, "spots", "Spots table for a detector as name=path; repeatable")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fitgrain:", err)
		os.Exit(1)
	}
}

func run() error {
	if *flagInstrument == "" || *flagLattice == "" || len(flagSpots) == 0 {
		flag.Usage()
		return errors.New("-instrument, -lattice and at least one -spots are required")
	}

	inst, err := instrument.Load(*flagInstrument)
	if err != nil {
		return err
	}
	wavelength := inst.Wavelength()
	if math.IsNaN(wavelength) {
		return errors.New("instrument beam energy is not set")
	}

	lp, err := parseFloats(*flagLattice, 6)
	if err != nil {
		return fmt.Errorf("-lattice: %w", err)
	}
	deg := math.Pi / 180
	bMat := transforms.MakeBMatrix(lp[0], lp[1], lp[2], lp[3]*deg, lp[4]*deg, lp[5]*deg)

	full := grains.ParamsRef
	if *flagGrain != "" {
		vals, err := parseFloats(*flagGrain, grains.NumParams)
		if err != nil {
			return fmt.Errorf("-grain: %w", err)
		}
		copy(full[:], vals)
	}

	mask, err := parseMask(*flagMask)
	if err != nil {
		return fmt.Errorf("-mask: %w", err)
	}

	refl := make(map[string]reflections.Source, len(flagSpots))
	for name, path := range flagSpots {
		table, err := reflections.LoadTable(path)
		if err != nil {
			return fmt.Errorf("detector %s: %w", name, err)
		}
		refl[name] = table.Valid()
	}

	logger := &leastsq.Logger{Level: leastsq.LogLevel(*flagVerbose), Msg: os.Stdout, Out: os.Stdout}
	res, err := grains.FitGrain(full, inst, refl, bMat, wavelength,
		grains.WithMask(mask),
		grains.WithMaxEvaluations(*flagMaxEval),
		grains.WithLogger(logger))
	if err != nil {
		return err
	}

	if !res.Converged {
		fmt.Fprintf(os.Stderr, "fitgrain: warning: %s\n", res.Status)
	}
	if *flagOut != "" {
		if err = writeResult(*flagOut, res); err != nil {
			return err
		}
	} else {
		fmt.Println(formatParams(res.Params))
	}

	if *flagDebug != "" {
		return writeDiffOme(*flagDebug, inst, refl, bMat, wavelength, res.Params)
	}
	return nil
}

type resultDoc struct {
	Params      []float64 `yaml:"params"`
	Converged   bool      `yaml:"converged"`
	Status      string    `yaml:"status"`
	Iterations  int       `yaml:"iterations"`
	Evaluations int       `yaml:"evaluations"`
	NPts        int       `yaml:"npts"`
	RMS         float64   `yaml:"rms"`
	RMSXY       float64   `yaml:"rms_xy"`
	RMSOme      float64   `yaml:"rms_ome"`
}

func writeResult(path string, res *grains.FitResult) error {
	doc := resultDoc{
		Params:      res.Params[:],
		Converged:   res.Converged,
		Status:      res.Status.String(),
		Iterations:  res.NumIter,
		Evaluations: res.NumEval,
		NPts:        res.Diagnostics.NPts,
		RMS:         res.Diagnostics.RMS,
		RMSXY:       res.Diagnostics.RMSXY,
		RMSOme:      res.Diagnostics.RMSOme,
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// writeDiffOme dumps |Δω| of every point at the fitted grain.
func writeDiffOme(path string, inst *instrument.Instrument, refl map[string]reflections.Source,
	bMat *r3.Mat, wavelength float64, params grains.Params) error {

	sets, err := reflections.NormalizeAll(refl)
	if err != nil {
		return err
	}
	obj := &grains.Objective{
		Instrument:  inst,
		Reflections: sets,
		BMat:        bMat,
		Wavelength:  wavelength,
		Full:        params,
	}
	out, err := obj.Eval(nil, grains.ModeChiSqPlus)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, d := range out.Stats.DiffOme {
		fmt.Fprintf(&b, "%.8e\n", d*180/math.Pi)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func formatParams(p grains.Params) string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = strconv.FormatFloat(v, 'e', 10, 64)
	}
	return strings.Join(s, " ")
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	vals := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func parseMask(s string) (grains.Mask, error) {
	var m grains.Mask
	if len(s) != grains.NumParams {
		return m, fmt.Errorf("want %d flags, got %d", grains.NumParams, len(s))
	}
	for i, c := range s {
		switch c {
		case '1':
			m[i] = true
		case '0':
		default:
			return m, fmt.Errorf("flag %d is %q, want 0 or 1", i, c)
		}
	}
	return m, nil
}
