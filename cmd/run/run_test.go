// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esat-tools/sabatch/internal/batchrun"
)

func TestLoadRunFile(t *testing.T) {
	doc := []byte(`
dataset: so2
concentration: testdata/so2-conc.csv
uncertainty: testdata/so2-unc.csv
models: 5
method: ws-nmf
`)

	rf, err := loadRunFile(doc)
	require.NoError(t, err)

	assert.Equal(t, "so2", rf.DatasetID)
	assert.Equal(t, "testdata/so2-conc.csv", rf.Concentration)
	assert.Equal(t, "testdata/so2-unc.csv", rf.Uncertainty)
	assert.Equal(t, 5, rf.Models)
	assert.Equal(t, batchrun.MethodWSNMF, rf.Method)
	assert.Equal(t, batchrun.DefaultFactors, rf.Factors, "defaults fill omitted fields")
	assert.Equal(t, batchrun.DefaultMaxIterations, rf.MaxIterations)
}

func TestLoadRunFileRequiresDatasetPaths(t *testing.T) {
	_, err := loadRunFile([]byte("dataset: so2\n"))
	require.ErrorIs(t, err, ErrBuildConfig)
}

func TestLoadRunFileRejectsBadYAML(t *testing.T) {
	_, err := loadRunFile([]byte("models: [oops"))
	require.ErrorIs(t, err, ErrBuildConfig)
}

func TestGetURLLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: so2\n"), 0o644))

	doc, err := getURL(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "dataset: so2\n", string(doc))
}

func TestGetURLEmpty(t *testing.T) {
	_, err := getURL(context.Background(), "")
	require.ErrorIs(t, err, ErrGetConfigFile)
}

func TestSplitFileNameFromGetterURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantURL  string
		wantFile string
	}{
		{
			name:     "git url with subpath",
			url:      "git::https://example.com/repo//configs/batch.yaml",
			wantURL:  "git::https://example.com/repo//configs",
			wantFile: "batch.yaml",
		},
		{
			name:     "git url with ref",
			url:      "git::https://example.com/repo//configs/batch.yaml?ref=v1",
			wantURL:  "git::https://example.com/repo//configs?ref=v1",
			wantFile: "batch.yaml",
		},
		{
			name:     "too few parts",
			url:      "https://example.com/batch.yaml",
			wantURL:  "",
			wantFile: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotFile := splitFileNameFromGetterURL(tt.url)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.wantFile, gotFile)
		})
	}
}
