// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncFitSuccess(t *testing.T) {
	var iterations []int

	f := Func(func(_ context.Context, job Job, report ProgressFunc) (*FittedModel, error) {
		for i := 1; i <= job.MaxIterations; i++ {
			report(i, job.MaxIterations, 1.0/float64(i), 1.0, 0.1, i == job.MaxIterations)
		}

		return &FittedModel{
			ModelIndex: job.ModelIndex,
			LossTrue:   1.0 / float64(job.MaxIterations),
			Iterations: job.MaxIterations,
		}, nil
	})

	model, err := f.Fit(context.Background(), Job{ModelIndex: 2, MaxIterations: 5},
		func(i, _ int, _, _, _ float64, _ bool) {
			iterations = append(iterations, i)
		})

	require.NoError(t, err)
	assert.Equal(t, 2, model.ModelIndex)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, iterations)
}

func TestFuncFitError(t *testing.T) {
	wantErr := errors.New("singular matrix")

	f := Func(func(context.Context, Job, ProgressFunc) (*FittedModel, error) {
		return nil, wantErr
	})

	_, err := f.Fit(context.Background(), Job{}, nil)
	require.ErrorIs(t, err, wantErr)
}

func TestFuncFitPanicRecovered(t *testing.T) {
	f := Func(func(context.Context, Job, ProgressFunc) (*FittedModel, error) {
		panic("index out of range")
	})

	_, err := f.Fit(context.Background(), Job{ModelIndex: 1}, nil)
	require.Error(t, err)

	var panicErr *ErrFitPanic

	assert.ErrorAs(t, err, &panicErr)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestFuncFitContextCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	defer close(release)

	f := Func(func(context.Context, Job, ProgressFunc) (*FittedModel, error) {
		close(started)
		<-release

		return &FittedModel{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	_, err := f.Fit(ctx, Job{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFuncFitNil(t *testing.T) {
	var f Func

	_, err := f.Fit(context.Background(), Job{}, nil)
	require.ErrorIs(t, err, ErrNilFit)
}

func TestFuncFitDoesNotTimeOutQuickly(t *testing.T) {
	f := Func(func(context.Context, Job, ProgressFunc) (*FittedModel, error) {
		time.Sleep(10 * time.Millisecond)
		return &FittedModel{Converged: true}, nil
	})

	model, err := f.Fit(context.Background(), Job{}, nil)
	require.NoError(t, err)
	assert.True(t, model.Converged)
}
