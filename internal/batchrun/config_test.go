// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAMLFillsDefaults(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte("dataset: so2\n"))
	require.NoError(t, err)

	assert.Equal(t, "so2", cfg.DatasetID)
	assert.Equal(t, DefaultModels, cfg.Models)
	assert.Equal(t, DefaultFactors, cfg.Factors)
	assert.Equal(t, MethodLSNMF, cfg.Method)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultInitMethod, cfg.InitMethod)
	assert.False(t, cfg.InitNorm)
	assert.InDelta(t, DefaultConvergeDelta, cfg.ConvergeDelta, 1e-9)
	assert.Equal(t, DefaultConvergeN, cfg.ConvergeN)
	assert.Zero(t, cfg.Seed, "seed stays unset until submission")
}

func TestLoadConfigYAMLKeepsExplicitValues(t *testing.T) {
	doc := []byte(`
dataset: pm25
models: 5
factors: 8
method: ws-nmf
seed: 42
max_iterations: 1000
converge_delta: 0.5
converge_n: 10
`)

	cfg, err := LoadConfigYAML(doc)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Models)
	assert.Equal(t, 8, cfg.Factors)
	assert.Equal(t, MethodWSNMF, cfg.Method)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 1000, cfg.MaxIterations)
	assert.InDelta(t, 0.5, cfg.ConvergeDelta, 1e-9)
	assert.Equal(t, 10, cfg.ConvergeN)
}

func TestLoadConfigYAMLRejectsBadDocument(t *testing.T) {
	_, err := LoadConfigYAML([]byte("models: [not, an, int]"))
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestValidate(t *testing.T) {
	base := func() RunConfig {
		cfg := RunConfig{DatasetID: "so2"}
		cfg.ApplyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*RunConfig) {}},
		{name: "missing dataset", mutate: func(c *RunConfig) { c.DatasetID = "" }, wantErr: true},
		{name: "zero models", mutate: func(c *RunConfig) { c.Models = 0 }, wantErr: true},
		{name: "negative factors", mutate: func(c *RunConfig) { c.Factors = -1 }, wantErr: true},
		{name: "zero iterations", mutate: func(c *RunConfig) { c.MaxIterations = 0 }, wantErr: true},
		{name: "unknown method", mutate: func(c *RunConfig) { c.Method = "pca" }, wantErr: true},
		{name: "zero converge_n", mutate: func(c *RunConfig) { c.ConvergeN = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfiguration)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolveSeed(t *testing.T) {
	cfg := RunConfig{Seed: 42}
	assert.Equal(t, int64(42), cfg.resolveSeed())

	cfg.Seed = 0

	for range 100 {
		drawn := cfg.resolveSeed()
		assert.GreaterOrEqual(t, drawn, int64(0))
		assert.Less(t, drawn, int64(maxDrawnSeed))
	}
}

func TestModelSeed(t *testing.T) {
	assert.Equal(t, int64(101), modelSeed(100, 1))
	assert.Equal(t, int64(120), modelSeed(100, 20))
}
