// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

// BatchState is the lifecycle state of one batch run.
type BatchState int

const (
	// StateCreated means the batch has been accepted but no worker exists yet.
	StateCreated BatchState = iota
	// StateLaunching means workers are being materialized and dispatched.
	StateLaunching
	// StateRunning means all workers have been dispatched.
	StateRunning
	// StateFinished means the batch completed with at least one usable model.
	StateFinished
	// StateCanceled means the batch was stopped on request.
	StateCanceled
	// StateErrored means every model in the batch failed.
	StateErrored
)

// String implements the Stringer interface for BatchState.
func (s BatchState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCanceled:
		return "canceled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s BatchState) Terminal() bool {
	return s == StateFinished || s == StateCanceled || s == StateErrored
}

// ModelState is the lifecycle state of one model slot within a batch.
type ModelState int

const (
	// ModelPending means the slot's worker has not started.
	ModelPending ModelState = iota
	// ModelRunning means the slot's worker is fitting.
	ModelRunning
	// ModelCompleted means the fit reached its terminal envelope.
	ModelCompleted
	// ModelFailed means the fit errored; siblings are unaffected.
	ModelFailed
	// ModelCanceled means the fit was stopped by batch cancellation.
	ModelCanceled
)

// String implements the Stringer interface for ModelState.
func (s ModelState) String() string {
	switch s {
	case ModelPending:
		return "pending"
	case ModelRunning:
		return "running"
	case ModelCompleted:
		return "completed"
	case ModelFailed:
		return "failed"
	case ModelCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// terminal reports whether the slot needs no further updates.
func (s ModelState) terminal() bool {
	return s == ModelCompleted || s == ModelFailed || s == ModelCanceled
}

// ModelStatus is the bookkeeping record for one model slot, updated from the
// progress stream and the worker completion handoff.
type ModelStatus struct {
	ModelIndex    int
	State         ModelState
	Iteration     int
	MaxIterations int
	LossTrue      float64
	LossRobust    float64
	MSE           float64
	Converged     bool
	Err           error
}
