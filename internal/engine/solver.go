// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/esat-tools/sabatch/internal/ctxlog"
)

const (
	// DefaultGracePeriod is how long a solver process is given to exit after
	// an interrupt before it is killed.
	DefaultGracePeriod = 5 * time.Second

	// maxStderrBytes bounds the stderr captured for error reporting.
	maxStderrBytes = 64 * 1024

	// maxScanTokenSize bounds one NDJSON line; result records carry full
	// factor matrices.
	maxScanTokenSize = 64 * 1024 * 1024
)

var (
	// ErrSolverStart is returned when the solver process could not be started.
	ErrSolverStart = errors.New("could not start solver process")
	// ErrSolverProtocol is returned when the solver emits output that is not
	// a valid progress, result, or error record.
	ErrSolverProtocol = errors.New("solver protocol error")
	// ErrSolverFailed is returned when the solver reports a fit error or
	// exits without producing a result.
	ErrSolverFailed = errors.New("solver failed")
	// ErrSolverKilled is returned when the solver had to be force-terminated
	// after the cancellation grace period.
	ErrSolverKilled = errors.New("solver killed after cancellation grace period")
)

var _ Engine = (*Solver)(nil)

// Solver runs an external solver executable, one process per fit. The job is
// written to the child's stdin as a single JSON document; the child streams
// newline-delimited JSON records on stdout: any number of "progress" records
// followed by exactly one "result" or "error" record.
//
// Process-level isolation means a crashed or runaway fit cannot corrupt
// sibling fits, and cancellation is ultimately guaranteed by termination.
type Solver struct {
	// Path is the solver executable.
	Path string
	// Args are extra arguments passed to every invocation.
	Args []string
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// solverRecord is one NDJSON line from the solver.
type solverRecord struct {
	Type          string       `json:"type"` // "progress", "result" or "error"
	Iteration     int          `json:"iteration"`
	MaxIterations int          `json:"max_iterations"`
	LossTrue      float64      `json:"loss_true"`
	LossRobust    float64      `json:"loss_robust"`
	MSE           float64      `json:"mse"`
	Completed     bool         `json:"completed"`
	Model         *FittedModel `json:"model"`
	Message       string       `json:"message"`
}

// Fit implements Engine for Solver.
func (s *Solver) Fit(ctx context.Context, job Job, report ProgressFunc) (*FittedModel, error) {
	logger := ctxlog.Logger(ctx).
		With("engine", "solver").
		With("modelIndex", job.ModelIndex)

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Join(ErrSolverStart, err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Stdin = bytes.NewReader(jobBytes)

	stderr := &boundedBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Join(ErrSolverStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Join(ErrSolverStart, err)
	}

	logger.Debug("solver process started", "pid", cmd.Process.Pid, "path", s.Path)

	// Watchdog: on cancellation, interrupt first and give the process the
	// grace period to flush and exit before killing it.
	done := make(chan struct{})
	killed := make(chan error, 1)

	go s.watchdog(ctx, cmd.Process, done, killed)

	model, readErr := s.readStream(stdout, job, report)

	waitErr := cmd.Wait()

	close(done)

	var killErr error

	select {
	case killErr = <-killed:
	default:
	}

	switch {
	case killErr != nil:
		logger.Debug("solver terminated by watchdog", "error", killErr)
		return nil, errors.Join(killErr, context.Cause(ctx))
	case ctx.Err() != nil:
		logger.Debug("solver canceled", "error", context.Cause(ctx))
		return nil, ctx.Err()
	case readErr != nil:
		return nil, s.withStderr(readErr, stderr)
	case waitErr != nil:
		logger.Debug("solver exited with error", "error", waitErr)
		return nil, s.withStderr(errors.Join(ErrSolverFailed, waitErr), stderr)
	}

	return model, nil
}

// readStream consumes NDJSON records until a terminal record arrives.
func (s *Solver) readStream(r io.Reader, job Job, report ProgressFunc) (*FittedModel, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec solverRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.Join(ErrSolverProtocol, err)
		}

		switch rec.Type {
		case "progress":
			if report != nil {
				report(rec.Iteration, rec.MaxIterations, rec.LossTrue, rec.LossRobust, rec.MSE, rec.Completed)
			}

		case "result":
			if rec.Model == nil {
				return nil, fmt.Errorf("%w: result record without model", ErrSolverProtocol)
			}

			rec.Model.ModelIndex = job.ModelIndex

			return rec.Model, nil

		case "error":
			return nil, fmt.Errorf("%w: %s", ErrSolverFailed, rec.Message)

		default:
			return nil, fmt.Errorf("%w: unknown record type %q", ErrSolverProtocol, rec.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Join(ErrSolverProtocol, err)
	}

	return nil, fmt.Errorf("%w: stream ended without result", ErrSolverFailed)
}

// watchdog interrupts the process on context cancellation and kills it when
// the grace period expires. done must be closed once the process has exited.
func (s *Solver) watchdog(ctx context.Context, ps *os.Process, done <-chan struct{}, killed chan<- error) {
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	if err := ps.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		ctxlog.Debug(ctx, "solver interrupt failed", "pid", ps.Pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	if err := ps.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		ctxlog.Error(ctx, "solver kill failed", "pid", ps.Pid, "error", err)
	}

	killed <- ErrSolverKilled
}

func (s *Solver) withStderr(err error, stderr *boundedBuffer) error {
	if msg := stderr.String(); msg != "" {
		return fmt.Errorf("%w; stderr: %s", err, firstLine(msg))
	}

	return err
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}

	return s
}

// boundedBuffer keeps at most max bytes and discards the rest.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}

	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
