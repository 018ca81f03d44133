// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package dataset loads concentration/uncertainty matrix pairs from CSV
// files and serves them to batch submissions by dataset ID.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrNotLoaded is returned when a dataset ID has not been loaded.
	ErrNotLoaded = errors.New("dataset not loaded")
	// ErrBadMatrix is returned when a CSV file does not parse into a valid
	// matrix or the pair of matrices disagrees in shape.
	ErrBadMatrix = errors.New("invalid dataset matrix")
)

// uncertaintyFloor replaces nonpositive or missing uncertainty values so
// weighted fits never divide by zero.
const uncertaintyFloor = 1e-12

// Dataset is one loaded concentration/uncertainty pair. V and U have the
// same shape: samples by features.
type Dataset struct {
	ID       string
	Features []string
	V        [][]float64
	U        [][]float64
}

// Samples returns the row count.
func (d *Dataset) Samples() int {
	return len(d.V)
}

// Matrices returns preprocessed copies of V and U ready for job
// construction: missing concentrations are replaced with their column mean,
// and nonpositive or missing uncertainties with a small floor. The stored
// matrices are never mutated.
func (d *Dataset) Matrices() (v, u [][]float64) {
	v = copyMatrix(d.V)
	u = copyMatrix(d.U)

	if len(v) == 0 {
		return v, u
	}

	cols := len(v[0])
	for col := 0; col < cols; col++ {
		mean := columnMean(v, col)

		for row := range v {
			if math.IsNaN(v[row][col]) {
				v[row][col] = mean
			}

			if math.IsNaN(u[row][col]) || u[row][col] <= 0 {
				u[row][col] = uncertaintyFloor
			}
		}
	}

	return v, u
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}

	return out
}

func columnMean(m [][]float64, col int) float64 {
	sum := 0.0
	n := 0

	for _, row := range m {
		if !math.IsNaN(row[col]) {
			sum += row[col]
			n++
		}
	}

	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// Registry holds loaded datasets keyed by ID. Safe for concurrent use; it is
// the DatasetProvider handed to the batch coordinator.
type Registry struct {
	fs afero.Fs

	mu   sync.RWMutex
	sets map[string]*Dataset
}

// NewRegistry creates a registry reading from the given filesystem. A nil fs
// reads from the OS filesystem.
func NewRegistry(fs afero.Fs) *Registry {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Registry{
		fs:   fs,
		sets: make(map[string]*Dataset),
	}
}

// Load reads the concentration and uncertainty CSVs and registers them under
// the given ID, replacing any prior dataset with that ID.
func (r *Registry) Load(id, concentrationPath, uncertaintyPath string) (*Dataset, error) {
	features, v, err := r.readMatrix(concentrationPath)
	if err != nil {
		return nil, err
	}

	_, u, err := r.readMatrix(uncertaintyPath)
	if err != nil {
		return nil, err
	}

	if len(v) != len(u) || (len(v) > 0 && len(v[0]) != len(u[0])) {
		return nil, fmt.Errorf("%w: concentration is %dx%d but uncertainty is %dx%d",
			ErrBadMatrix, len(v), width(v), len(u), width(u))
	}

	if len(v) == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", ErrBadMatrix, concentrationPath)
	}

	d := &Dataset{
		ID:       id,
		Features: features,
		V:        v,
		U:        u,
	}

	r.mu.Lock()
	r.sets[id] = d
	r.mu.Unlock()

	return d, nil
}

// Get returns the dataset with the given ID.
func (r *Registry) Get(id string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	return d, nil
}

// Matrices implements the coordinator's dataset provider: it returns
// preprocessed matrix copies for the dataset ID.
func (r *Registry) Matrices(id string) ([][]float64, [][]float64, error) {
	d, err := r.Get(id)
	if err != nil {
		return nil, nil, err
	}

	v, u := d.Matrices()

	return v, u, nil
}

// IDs returns the loaded dataset IDs in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}

	return ids
}

// readMatrix parses one CSV file. An optional header row names the feature
// columns; a leading non-numeric column (sample timestamps or labels) is
// skipped. Empty cells and literal "nan" become NaN and are handled during
// preprocessing.
func (r *Registry) readMatrix(path string) ([]string, [][]float64, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadMatrix, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrBadMatrix, path, err)
	}

	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrBadMatrix, path)
	}

	var features []string

	if !numericRow(records[0]) {
		features = records[0]
		records = records[1:]
	}

	skipFirst := len(records) > 0 && len(records[0]) > 0 && !numericCell(records[0][0])
	if skipFirst && len(features) > 0 {
		features = features[1:]
	}

	rows := make([][]float64, 0, len(records))

	for i, record := range records {
		if skipFirst {
			record = record[1:]
		}

		row := make([]float64, len(record))

		for j, cell := range record {
			row[j], err = parseCell(cell)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s row %d column %d: %w", ErrBadMatrix, path, i+1, j+1, err)
			}
		}

		rows = append(rows, row)
	}

	return features, rows, nil
}

func parseCell(cell string) (float64, error) {
	if cell == "" {
		return math.NaN(), nil
	}

	return strconv.ParseFloat(cell, 64)
}

func numericRow(record []string) bool {
	for _, cell := range record[min(1, len(record)-1):] {
		if !numericCell(cell) && cell != "" {
			return false
		}
	}

	return true
}

func numericCell(cell string) bool {
	_, err := strconv.ParseFloat(cell, 64)

	return err == nil
}

func width(m [][]float64) int {
	if len(m) == 0 {
		return 0
	}

	return len(m[0])
}
