// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package engine defines the boundary to the numerical factorization engine.
// The engine is an external collaborator: this package specifies the job it
// accepts, the progress callback it must invoke, and the fitted model it
// returns. Two implementations are provided: Solver, which supervises an
// external solver executable (the production path, one process per fit), and
// Func, which adapts an in-process function for tests and embedding.
package engine

import (
	"context"
	"errors"
)

// ErrNilFit is returned by Func.Fit when no function is set.
var ErrNilFit = errors.New("engine: nil fit function")

// Job is the immutable specification for one model fit.
type Job struct {
	ModelIndex    int         `json:"model_index"`
	V             [][]float64 `json:"v"` // concentration matrix, samples x features
	U             [][]float64 `json:"u"` // uncertainty matrix, same shape as V
	Factors       int         `json:"factors"`
	Method        string      `json:"method"` // "ls-nmf" or "ws-nmf"
	Seed          int64       `json:"seed"`
	MaxIterations int         `json:"max_iterations"`
	InitMethod    string      `json:"init_method"`
	InitNorm      bool        `json:"init_norm"`
	ConvergeDelta float64     `json:"converge_delta"`
	ConvergeN     int         `json:"converge_n"`
}

// FittedModel is the final output of one fit. It can be large (full factor
// matrices), so it is handed back on the completion path, never through the
// progress stream.
type FittedModel struct {
	ModelIndex int         `json:"model_index"`
	LossTrue   float64     `json:"loss_true"`
	LossRobust float64     `json:"loss_robust"`
	MSE        float64     `json:"mse"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	Seed       int64       `json:"seed"`
	W          [][]float64 `json:"w,omitempty"` // factor contributions
	H          [][]float64 `json:"h,omitempty"` // factor profiles
}

// ProgressFunc is invoked synchronously from inside the fit loop after every
// iteration. completed is true exactly once, on the final call.
type ProgressFunc func(iteration, maxIterations int, lossTrue, lossRobust, mse float64, completed bool)

// Engine runs one model-fitting job to completion or cancellation.
type Engine interface {
	// Fit blocks until the job finishes, fails, or ctx is canceled. A nil
	// report is permitted and means progress is discarded.
	Fit(ctx context.Context, job Job, report ProgressFunc) (*FittedModel, error)
}
