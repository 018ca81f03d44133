// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dataset

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func newTestRegistry(t *testing.T) (*Registry, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()

	return NewRegistry(fs), fs
}

func TestLoadWithHeaderAndDateColumn(t *testing.T) {
	r, fs := newTestRegistry(t)

	writeFile(t, fs, "conc.csv", "date,SO2,NO2\n2020-01-01,1.5,2.5\n2020-01-02,3.5,4.5\n")
	writeFile(t, fs, "unc.csv", "date,SO2,NO2\n2020-01-01,0.1,0.2\n2020-01-02,0.3,0.4\n")

	d, err := r.Load("so2", "conc.csv", "unc.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"SO2", "NO2"}, d.Features)
	assert.Equal(t, 2, d.Samples())
	assert.Equal(t, [][]float64{{1.5, 2.5}, {3.5, 4.5}}, d.V)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, d.U)
}

func TestLoadBareNumericCSV(t *testing.T) {
	r, fs := newTestRegistry(t)

	writeFile(t, fs, "conc.csv", "1,2\n3,4\n")
	writeFile(t, fs, "unc.csv", "0.1,0.1\n0.1,0.1\n")

	d, err := r.Load("raw", "conc.csv", "unc.csv")
	require.NoError(t, err)

	assert.Empty(t, d.Features)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, d.V)
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	r, fs := newTestRegistry(t)

	writeFile(t, fs, "conc.csv", "1,2\n3,4\n")
	writeFile(t, fs, "unc.csv", "0.1,0.1\n")

	_, err := r.Load("bad", "conc.csv", "unc.csv")
	require.ErrorIs(t, err, ErrBadMatrix)
}

func TestLoadRejectsMissingFileAndGarbage(t *testing.T) {
	r, fs := newTestRegistry(t)

	writeFile(t, fs, "conc.csv", "1,2\n3,4\n")

	_, err := r.Load("bad", "conc.csv", "nope.csv")
	require.ErrorIs(t, err, ErrBadMatrix)

	writeFile(t, fs, "garbage.csv", "a,b\nc,d\n")

	_, err = r.Load("bad", "garbage.csv", "garbage.csv")
	require.ErrorIs(t, err, ErrBadMatrix)
}

func TestMatricesPreprocessesCopies(t *testing.T) {
	r, fs := newTestRegistry(t)

	// Missing concentration, zero and missing uncertainties.
	writeFile(t, fs, "conc.csv", "SO2,NO2\n1,2\n,6\n")
	writeFile(t, fs, "unc.csv", "SO2,NO2\n0,0.2\n0.3,\n")

	_, err := r.Load("so2", "conc.csv", "unc.csv")
	require.NoError(t, err)

	v, u, err := r.Matrices("so2")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, v[1][0], 1e-9, "missing concentration replaced with column mean")
	assert.InDelta(t, uncertaintyFloor, u[0][0], 1e-15, "zero uncertainty floored")
	assert.InDelta(t, uncertaintyFloor, u[1][1], 1e-15, "missing uncertainty floored")

	// The stored dataset keeps its raw values.
	d, err := r.Get("so2")
	require.NoError(t, err)
	assert.Zero(t, d.U[0][0])
}

func TestMatricesUnknownDataset(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, _, err := r.Matrices("nope")
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestIDs(t *testing.T) {
	r, fs := newTestRegistry(t)

	writeFile(t, fs, "conc.csv", "1,2\n")
	writeFile(t, fs, "unc.csv", "0.1,0.1\n")

	_, err := r.Load("a", "conc.csv", "unc.csv")
	require.NoError(t, err)
	_, err = r.Load("b", "conc.csv", "unc.csv")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, r.IDs())
}
