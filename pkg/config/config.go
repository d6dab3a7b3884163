// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the YAML measurement configuration: smoothing
// scale, threshold and multipole binning, likelihood kernel selection.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lensmap/pkg/binning"
)

// MaxConfigBytes caps the config file size before parsing.
const MaxConfigBytes = 1 << 20

// ErrConfigTooLarge indicates a config file past the size cap.
var ErrConfigTooLarge = errors.New("config file too large")

var validate = validator.New()

// Range describes a linear binning in one measurement axis.
type Range struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max" validate:"gtfield=Min"`
	Bins int     `yaml:"bins" validate:"min=1"`
}

// Edges materializes the range as validated bin edges.
func (r Range) Edges() (binning.Edges, error) {
	return binning.Linear(r.Min, r.Max, r.Bins)
}

// Config is the measurement configuration.
type Config struct {
	// Smoothing scale in arcminutes; 0 disables smoothing.
	SmoothingArcmin float64 `yaml:"smoothing_arcmin" validate:"min=0"`

	// Thresholds bins the convergence axis for PDF, peak counts and
	// Minkowski functionals. Norm expresses the edges in units of the
	// map standard deviation.
	Thresholds Range `yaml:"thresholds" validate:"required"`
	Norm       bool  `yaml:"norm"`

	// Multipoles bins the power spectrum.
	Multipoles Range `yaml:"multipoles" validate:"required,multipoles_positive"`

	// LikelihoodKernel selects the emulator radial basis function.
	LikelihoodKernel string `yaml:"likelihood_kernel" validate:"omitempty,oneof=multiquadric gaussian linear cubic thin-plate"`
}

func init() {
	// Multipoles are spatial frequencies; negative edges are meaningless.
	_ = validate.RegisterValidation("multipoles_positive", func(fl validator.FieldLevel) bool {
		r, ok := fl.Field().Interface().(Range)
		if !ok {
			return false
		}
		return r.Min >= 0
	})
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		SmoothingArcmin:  1.0,
		Thresholds:       Range{Min: -0.1, Max: 0.5, Bins: 50},
		Multipoles:       Range{Min: 200, Max: 50000, Bins: 128},
		LikelihoodKernel: "multiquadric",
	}
}

// Parse decodes and validates a YAML document. Unknown fields are
// rejected.
func Parse(data []byte) (Config, error) {
	if len(data) > MaxConfigBytes {
		return Config{}, fmt.Errorf("%w: %d bytes", ErrConfigTooLarge, len(data))
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	if cfg.SmoothingArcmin == 0 {
		slog.Warn("smoothing disabled", "smoothing_arcmin", 0)
	}
	return cfg, nil
}

// Load reads and parses a config file.
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if info.Size() > MaxConfigBytes {
		return Config{}, fmt.Errorf("%w: %d bytes in %s", ErrConfigTooLarge, info.Size(), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}
