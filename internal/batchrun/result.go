// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/esat-tools/sabatch/internal/engine"
)

var (
	// ErrWriteGob is returned when writing a result to binary format fails.
	ErrWriteGob = errors.New("failed to write binary result")
	// ErrReadGob is returned when a binary result cannot be decoded.
	ErrReadGob = errors.New("failed to read binary result")
)

// Result is the output of one finished batch: the per-model fits that
// succeeded, the failures that were recorded, and the index of the best
// model. It is the unit stored in the Cache and handed to downstream
// analysis.
type Result struct {
	ID        string
	DatasetID string
	Config    RunConfig // seed resolved, so the batch is reproducible
	Models    []*engine.FittedModel
	Failures  map[int]string // model index -> error text
	BestModel int            // model index of the best fit; 0 when none succeeded
	Started   time.Time
	Finished  time.Time
}

// Model returns the fitted model with the given index, or nil.
func (r *Result) Model(modelIndex int) *engine.FittedModel {
	for _, m := range r.Models {
		if m.ModelIndex == modelIndex {
			return m
		}
	}

	return nil
}

// Best returns the best fitted model, or nil when none succeeded.
func (r *Result) Best() *engine.FittedModel {
	return r.Model(r.BestModel)
}

// bestModelIndex selects the fit with the lowest true loss among converged
// models, ties broken by lowest model index. When no model converged, the
// non-converged successes are considered so a finished batch always names a
// usable default.
func bestModelIndex(models []*engine.FittedModel) int {
	best := bestAmong(models, true)
	if best == 0 {
		best = bestAmong(models, false)
	}

	return best
}

func bestAmong(models []*engine.FittedModel, convergedOnly bool) int {
	best := 0

	var bestLoss float64

	for _, m := range models {
		if convergedOnly && !m.Converged {
			continue
		}

		if best == 0 || m.LossTrue < bestLoss || (m.LossTrue == bestLoss && m.ModelIndex < best) {
			best = m.ModelIndex
			bestLoss = m.LossTrue
		}
	}

	return best
}

// WriteBinary encodes the result as a gob stream.
func (r *Result) WriteBinary(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(r); err != nil {
		return errors.Join(ErrWriteGob, err)
	}

	return nil
}

// ReadBinaryResult decodes a result previously written with WriteBinary.
func ReadBinaryResult(rd io.Reader) (*Result, error) {
	var r Result

	if err := gob.NewDecoder(rd).Decode(&r); err != nil {
		return nil, errors.Join(ErrReadGob, err)
	}

	return &r, nil
}

// WriteText renders the completed-batch summary table: one row per model
// slot with iterations, losses and convergence, the best model marked.
func (r *Result) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Batch %s  dataset=%s  method=%s  factors=%d  seed=%d\n",
		r.ID, r.DatasetID, r.Config.Method, r.Config.Factors, r.Config.Seed)
	fmt.Fprintln(tw, "Model\tIterations\tQ(True)\tQ(Robust)\tMSE\tConverged\t")

	for _, row := range r.rows() {
		fmt.Fprintln(tw, row)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write result table: %w", err)
	}

	return nil
}

func (r *Result) rows() []string {
	indices := make([]int, 0, len(r.Models)+len(r.Failures))

	for _, m := range r.Models {
		indices = append(indices, m.ModelIndex)
	}

	for i := range r.Failures {
		indices = append(indices, i)
	}

	sort.Ints(indices)

	rows := make([]string, 0, len(indices))

	for _, i := range indices {
		if msg, ok := r.Failures[i]; ok {
			rows = append(rows, fmt.Sprintf("Model %d\t-\t-\t-\t-\tfailed: %s\t", i, msg))
			continue
		}

		m := r.Model(i)

		marker := ""
		if i == r.BestModel {
			marker = " *"
		}

		rows = append(rows, fmt.Sprintf("Model %d%s\t%d/%d\t%.4f\t%.4f\t%.4f\t%v\t",
			i, marker, m.Iterations, r.Config.MaxIterations, m.LossTrue, m.LossRobust, m.MSE, m.Converged))
	}

	return rows
}
