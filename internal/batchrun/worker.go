// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"context"

	"github.com/esat-tools/sabatch/internal/engine"
	"github.com/esat-tools/sabatch/internal/progress"
)

// fitWorker supervises one model fit: it feeds the engine's progress
// callbacks into the shared envelope queue and hands the fitted model back
// on the completion path. One worker per model slot, one goroutine per
// worker.
type fitWorker struct {
	job      engine.Job
	engine   engine.Engine
	reporter progress.Reporter
}

// run blocks until the fit finishes, fails, or ctx is canceled.
//
// Every published envelope is stamped with the worker's model index, and
// Completed is forwarded at most once even if the engine misbehaves. A
// successful fit is guaranteed to have published exactly one terminal
// envelope by the time run returns; a failed fit publishes none, and the
// slot reaches its terminal state through the completion handoff instead.
func (w *fitWorker) run(ctx context.Context) (*engine.FittedModel, error) {
	completedSent := false

	report := func(iteration, maxIterations int, lossTrue, lossRobust, mse float64, completed bool) {
		if completed {
			if completedSent {
				return
			}

			completedSent = true
		}

		w.reporter.Report(progress.Envelope{
			ModelIndex:    w.job.ModelIndex,
			Iteration:     iteration,
			MaxIterations: maxIterations,
			LossTrue:      lossTrue,
			LossRobust:    lossRobust,
			MSE:           mse,
			Completed:     completed,
		})
	}

	model, err := w.engine.Fit(ctx, w.job, report)
	if err != nil {
		return nil, err
	}

	// Engines are expected to emit the terminal update themselves; cover
	// for ones that return without it so the stream invariant holds.
	if !completedSent {
		report(model.Iterations, w.job.MaxIterations, model.LossTrue, model.LossRobust, model.MSE, true)
	}

	return model, nil
}
