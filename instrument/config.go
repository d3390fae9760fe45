// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package instrument

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/grainfit/transforms"
)

type beamConfig struct {
	Energy float64 `yaml:"energy"`
	Vector *struct {
		Azimuth    float64 `yaml:"azimuth"`
		PolarAngle float64 `yaml:"polar_angle"`
	} `yaml:"vector"`
}

type stageConfig struct {
	Chi         float64    `yaml:"chi"`
	Translation [3]float64 `yaml:"translation"`
}

type distortionConfig struct {
	FunctionName string    `yaml:"function_name"`
	Parameters   []float64 `yaml:"parameters"`
}

type detectorConfig struct {
	Transform struct {
		Tilt        [3]float64 `yaml:"tilt"`
		Translation [3]float64 `yaml:"translation"`
	} `yaml:"transform"`
	Distortion *distortionConfig `yaml:"distortion"`
}

type energyCorrectionConfig struct {
	Axis      string  `yaml:"axis"`
	Intercept float64 `yaml:"intercept"`
	Slope     float64 `yaml:"slope"`
}

type config struct {
	Beam             beamConfig              `yaml:"beam"`
	EtaVector        *[3]float64             `yaml:"eta_vector"`
	Stage            stageConfig             `yaml:"oscillation_stage"`
	EnergyCorrection *energyCorrectionConfig `yaml:"energy_correction"`
	// kept as a node so that detector order survives decoding
	Detectors yaml.Node `yaml:"detectors"`
}

// ErrNoDetectors is returned for an instrument config without detectors.
var ErrNoDetectors = errors.New("instrument config has no detectors")

// BeamVectorOf returns the LAB beam direction for the given azimuth and
// polar angle in degrees. Azimuth 90, polar 90 is the default -Z beam.
func BeamVectorOf(azimuth, polar float64) r3.Vec {
	tht, phi := azimuth*math.Pi/180, polar*math.Pi/180
	return r3.Vec{
		X: -math.Sin(phi) * math.Cos(tht),
		Y: -math.Cos(phi),
		Z: -math.Sin(phi) * math.Sin(tht),
	}
}

// Load reads an instrument from a YAML file.
func Load(path string) (*Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads an instrument description in YAML from r. Detectors keep the
// order in which they appear in the document.
func Decode(r io.Reader) (*Instrument, error) {
	var cfg config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("instrument: decoding config: %w", err)
	}

	in := New()
	in.BeamEnergy = cfg.Beam.Energy
	if v := cfg.Beam.Vector; v != nil {
		in.BeamVector = BeamVectorOf(v.Azimuth, v.PolarAngle)
	}
	if e := cfg.EtaVector; e != nil {
		in.EtaVector = r3.Vec{X: e[0], Y: e[1], Z: e[2]}
	} else {
		in.EtaVector = transforms.EtaVec
	}
	in.Chi = cfg.Stage.Chi
	in.TVec = vec(cfg.Stage.Translation)

	if ec := cfg.EnergyCorrection; ec != nil {
		axis, ok := map[string]int{"x": 0, "y": 1, "z": 2}[ec.Axis]
		if !ok {
			return nil, fmt.Errorf("instrument: unknown energy correction axis %q", ec.Axis)
		}
		in.EnergyCorrection = &EnergyCorrection{Axis: axis, Intercept: ec.Intercept, Slope: ec.Slope}
	}

	node := &cfg.Detectors
	if node.Kind != yaml.MappingNode || len(node.Content) == 0 {
		return nil, ErrNoDetectors
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var dc detectorConfig
		if err := node.Content[i+1].Decode(&dc); err != nil {
			return nil, fmt.Errorf("instrument: detector %s: %w", name, err)
		}
		var dist Distortion
		if dc.Distortion != nil {
			var err error
			if dist, err = newDistortion(dc.Distortion); err != nil {
				return nil, fmt.Errorf("instrument: detector %s: %w", name, err)
			}
		}
		in.AddDetector(name, vec(dc.Transform.Tilt), vec(dc.Transform.Translation), dist)
	}
	return in, nil
}

func newDistortion(c *distortionConfig) (Distortion, error) {
	switch c.FunctionName {
	case "radial_polynomial":
		return &RadialPolynomial{Coeffs: append([]float64(nil), c.Parameters...)}, nil
	default:
		return nil, fmt.Errorf("unsupported distortion function %q", c.FunctionName)
	}
}

func vec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}
