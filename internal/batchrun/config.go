// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/goccy/go-yaml"
)

// ErrInvalidConfiguration is returned when a batch submission is rejected
// before any worker is launched. The caller may fix the configuration and
// resubmit.
var ErrInvalidConfiguration = errors.New("invalid batch configuration")

// Method is the fitting algorithm used for every model in a batch.
type Method string

const (
	// MethodLSNMF is least-squares NMF.
	MethodLSNMF Method = "ls-nmf"
	// MethodWSNMF is weighted semi-NMF.
	MethodWSNMF Method = "ws-nmf"
)

// Default batch parameters, matching the values the original tooling offers.
const (
	DefaultModels        = 20
	DefaultFactors       = 6
	DefaultMaxIterations = 20000
	DefaultConvergeDelta = 0.1
	DefaultConvergeN     = 25
	DefaultInitMethod    = "col_means"

	maxDrawnSeed = 999999
)

// RunConfig is the immutable specification for one batch submission: N
// independent fits of the same dataset sharing factor count and convergence
// settings, differing only in random initialization.
type RunConfig struct {
	DatasetID     string  `yaml:"dataset"`
	Models        int     `yaml:"models"`
	Factors       int     `yaml:"factors"`
	Method        Method  `yaml:"method"`
	Seed          int64   `yaml:"seed"` // <= 0 means draw one at submission
	MaxIterations int     `yaml:"max_iterations"`
	InitMethod    string  `yaml:"init_method"`
	InitNorm      bool    `yaml:"init_norm"`
	ConvergeDelta float64 `yaml:"converge_delta"`
	ConvergeN     int     `yaml:"converge_n"`
}

// LoadConfigYAML parses a batch configuration document and fills defaults
// for omitted fields. It does not validate; Submit does.
func LoadConfigYAML(data []byte) (RunConfig, error) {
	var cfg RunConfig

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the standard defaults. The
// seed is left alone; an unset seed is drawn once at submission so the whole
// batch remains reproducible afterwards.
func (c *RunConfig) ApplyDefaults() {
	if c.Models == 0 {
		c.Models = DefaultModels
	}

	if c.Factors == 0 {
		c.Factors = DefaultFactors
	}

	if c.Method == "" {
		c.Method = MethodLSNMF
	}

	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}

	if c.InitMethod == "" {
		c.InitMethod = DefaultInitMethod
	}

	if c.ConvergeDelta == 0 {
		c.ConvergeDelta = DefaultConvergeDelta
	}

	if c.ConvergeN == 0 {
		c.ConvergeN = DefaultConvergeN
	}
}

// Validate checks the submission invariants.
func (c *RunConfig) Validate() error {
	if c.DatasetID == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidConfiguration)
	}

	if c.Models < 1 {
		return fmt.Errorf("%w: models must be >= 1, got %d", ErrInvalidConfiguration, c.Models)
	}

	if c.Factors < 1 {
		return fmt.Errorf("%w: factors must be >= 1, got %d", ErrInvalidConfiguration, c.Factors)
	}

	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1, got %d", ErrInvalidConfiguration, c.MaxIterations)
	}

	if c.Method != MethodLSNMF && c.Method != MethodWSNMF {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidConfiguration, c.Method)
	}

	if c.ConvergeN < 1 {
		return fmt.Errorf("%w: converge_n must be >= 1, got %d", ErrInvalidConfiguration, c.ConvergeN)
	}

	return nil
}

// resolveSeed returns the base seed, drawing one when unset.
func (c *RunConfig) resolveSeed() int64 {
	if c.Seed > 0 {
		return c.Seed
	}

	return rand.Int64N(maxDrawnSeed)
}

// modelSeed derives the per-model seed from the base seed, guaranteeing
// distinct, reproducible initializations across the batch.
func modelSeed(base int64, modelIndex int) int64 {
	return base + int64(modelIndex)
}
