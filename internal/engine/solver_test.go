// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("solver tests use /bin/sh")
	}
}

func shSolver(script string, grace time.Duration) *Solver {
	return &Solver{
		Path:        "/bin/sh",
		Args:        []string{"-c", script},
		GracePeriod: grace,
	}
}

func TestSolverFitSuccess(t *testing.T) {
	skipIfWindows(t)

	// Drain stdin (the job document), emit two progress records and a result.
	script := `cat > /dev/null
echo '{"type":"progress","iteration":1,"max_iterations":2,"loss_true":4.5,"loss_robust":4.0,"mse":0.5,"completed":false}'
echo '{"type":"progress","iteration":2,"max_iterations":2,"loss_true":3.5,"loss_robust":3.0,"mse":0.4,"completed":true}'
echo '{"type":"result","model":{"loss_true":3.5,"loss_robust":3.0,"mse":0.4,"iterations":2,"converged":false}}'`

	var got []int

	var sawCompleted bool

	model, err := shSolver(script, time.Second).Fit(context.Background(), Job{ModelIndex: 3, MaxIterations: 2},
		func(i, _ int, _, _, _ float64, completed bool) {
			got = append(got, i)

			if completed {
				sawCompleted = true
			}
		})

	require.NoError(t, err)
	assert.Equal(t, 3, model.ModelIndex, "model index is stamped from the job")
	assert.InDelta(t, 3.5, model.LossTrue, 1e-9)
	assert.Equal(t, []int{1, 2}, got)
	assert.True(t, sawCompleted)
}

func TestSolverFitErrorRecord(t *testing.T) {
	skipIfWindows(t)

	script := `cat > /dev/null
echo '{"type":"error","message":"factorization diverged"}'`

	_, err := shSolver(script, time.Second).Fit(context.Background(), Job{ModelIndex: 1}, nil)
	require.ErrorIs(t, err, ErrSolverFailed)
	assert.Contains(t, err.Error(), "factorization diverged")
}

func TestSolverFitProtocolError(t *testing.T) {
	skipIfWindows(t)

	script := `cat > /dev/null
echo 'this is not json'`

	_, err := shSolver(script, time.Second).Fit(context.Background(), Job{}, nil)
	require.ErrorIs(t, err, ErrSolverProtocol)
}

func TestSolverFitNoResult(t *testing.T) {
	skipIfWindows(t)

	script := `cat > /dev/null
echo '{"type":"progress","iteration":1,"max_iterations":10}'`

	_, err := shSolver(script, time.Second).Fit(context.Background(), Job{}, nil)
	require.ErrorIs(t, err, ErrSolverFailed)
}

func TestSolverFitNonZeroExit(t *testing.T) {
	skipIfWindows(t)

	script := `cat > /dev/null
echo 'out of memory' >&2
exit 3`

	_, err := shSolver(script, time.Second).Fit(context.Background(), Job{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestSolverFitCancellation(t *testing.T) {
	skipIfWindows(t)

	// Ignores stdin close and sleeps; the watchdog interrupt terminates sh.
	script := `cat > /dev/null
sleep 30`

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := shSolver(script, 200*time.Millisecond).Fit(ctx, Job{}, nil)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not terminate the solver")
	}
}
