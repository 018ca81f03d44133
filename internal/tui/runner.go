// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/esat-tools/sabatch/internal/batchrun"
	batchprogress "github.com/esat-tools/sabatch/internal/progress"
)

// RepaintInterval is the minimum spacing between repaints of one model's
// intermediate updates. Terminal updates are exempt.
const RepaintInterval = 50 * time.Millisecond

// repaintGate rate-limits intermediate envelopes per model.
type repaintGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[int]time.Time
	now      func() time.Time
}

func newRepaintGate(interval time.Duration) *repaintGate {
	return &repaintGate{
		interval: interval,
		last:     make(map[int]time.Time),
		now:      time.Now,
	}
}

// allow reports whether the envelope should be forwarded to the display.
// Terminal envelopes always pass.
func (g *repaintGate) allow(e batchprogress.Envelope) bool {
	if e.Completed {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.last[e.ModelIndex]) < g.interval {
		return false
	}

	g.last[e.ModelIndex] = now

	return true
}

// Runner ties a batch handle to the bubbletea program: the batch listener
// publishes into the event loop via Program.Send, so all display mutation
// happens on the loop goroutine.
type Runner struct {
	model   *Model
	program *tea.Program
	gate    *repaintGate
	handle  *batchrun.Handle
}

// NewRunner creates a TUI runner for an accepted batch. Keyboard
// interruption cancels the batch through the handle; the display quits on
// the batch's terminal event.
func NewRunner(ctx context.Context, h *batchrun.Handle) *Runner {
	model := NewModel(h.Config(), func() {
		go func() { _ = h.Cancel(ctx) }()
	})

	return &Runner{
		model:   model,
		program: tea.NewProgram(model, tea.WithContext(ctx)),
		gate:    newRepaintGate(RepaintInterval),
		handle:  h,
	}
}

// failures collects the failed slots from the handle for the final frame.
func (r *Runner) failures() map[int]string {
	out := make(map[int]string)

	for _, st := range r.handle.Statuses() {
		if st.State == batchrun.ModelFailed && st.Err != nil {
			out[st.ModelIndex] = st.Err.Error()
		}
	}

	return out
}

// Listener returns the batch listener that feeds the display. Register it
// before the first envelope can arrive.
func (r *Runner) Listener() *batchrun.Listener {
	return &batchrun.Listener{
		OnProgress: func(e batchprogress.Envelope) {
			if !r.gate.allow(e) {
				return
			}

			r.program.Send(EnvelopeMsg{Envelope: e})
		},
		OnFinished: func(string) {
			r.program.Send(BatchDoneMsg{State: batchrun.StateFinished, Failures: r.failures()})
		},
		OnCanceled: func() {
			r.program.Send(BatchDoneMsg{State: batchrun.StateCanceled})
		},
		OnErrored: func(_ string, err error) {
			r.program.Send(BatchDoneMsg{State: batchrun.StateErrored, Err: err, Failures: r.failures()})
		},
	}
}

// Run blocks until the batch reaches a terminal state or the user quits.
func (r *Runner) Run() error {
	_, err := r.program.Run()

	return err
}
