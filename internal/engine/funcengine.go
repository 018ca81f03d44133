// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"

	"github.com/esat-tools/sabatch/internal/ctxlog"
)

var _ Engine = (Func)(nil)

// ErrFitPanic is the error produced when an in-process fit function panics.
// It is constructed with the value that caused the panic.
type ErrFitPanic struct {
	v any
}

// Error implements the error interface for ErrFitPanic.
func (e *ErrFitPanic) Error() string {
	prefix := "fit function panic:"

	switch x := e.v.(type) {
	case string:
		return fmt.Sprintf("%s %s", prefix, x)
	case error:
		return fmt.Sprintf("%s %s", prefix, x.Error())
	default:
		return fmt.Sprintf("%s %v", prefix, x)
	}
}

// NewErrFitPanic creates a new ErrFitPanic with the given value.
func NewErrFitPanic(v any) error {
	return &ErrFitPanic{v: v}
}

// Func adapts a plain function to the Engine interface. The function runs in
// its own goroutine with panic recovery, so a crashing fit surfaces as an
// error instead of taking down sibling fits.
type Func func(ctx context.Context, job Job, report ProgressFunc) (*FittedModel, error)

type funcReturn struct {
	model *FittedModel
	err   error
}

// Fit implements Engine for Func.
func (f Func) Fit(ctx context.Context, job Job, report ProgressFunc) (*FittedModel, error) {
	if f == nil {
		return nil, ErrNilFit
	}

	if report == nil {
		report = func(int, int, float64, float64, float64, bool) {}
	}

	retCh := make(chan funcReturn, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ctxlog.Error(ctx, "fit function panicked", "modelIndex", job.ModelIndex, "panic", r)
				retCh <- funcReturn{err: NewErrFitPanic(r)}
			}
		}()

		model, err := f(ctx, job, report)
		retCh <- funcReturn{model: model, err: err}
	}()

	select {
	case ret := <-retCh:
		return ret.model, ret.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
