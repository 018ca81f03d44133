// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/esat-tools/sabatch/internal/batchrun"
	batchprogress "github.com/esat-tools/sabatch/internal/progress"
)

const (
	defaultBarWidth = 30
	minBarWidth     = 10
)

// slot tracks the latest known state of one model's fit for display.
type slot struct {
	index    int
	envelope batchprogress.Envelope
	failed   bool
	errMsg   string
	seen     bool
}

// Styles contains the styling for the batch view.
type Styles struct {
	Title    lipgloss.Style
	Running  lipgloss.Style
	Done     lipgloss.Style
	Failed   lipgloss.Style
	Canceled lipgloss.Style
	Stats    lipgloss.Style
	Help     lipgloss.Style
}

// NewStyles creates the default styling.
func NewStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1),
		Running: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		Done: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")),
		Canceled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")),
		Stats: lipgloss.NewStyle().
			Foreground(lipgloss.Color("7")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			MarginTop(1),
	}
}

// Model is the bubbletea model for one batch run.
type Model struct {
	dataset string
	cfg     batchrun.RunConfig
	slots   map[int]*slot
	bar     progress.Model

	width    int
	done     bool
	outcome  batchrun.BatchState
	err      error
	quitting bool
	cancel   func()

	styles *Styles
}

// NewModel creates a display model for a batch with the given configuration.
// cancel is invoked when the user interrupts the run from the keyboard.
func NewModel(cfg batchrun.RunConfig, cancel func()) *Model {
	slots := make(map[int]*slot, cfg.Models)
	for i := 1; i <= cfg.Models; i++ {
		slots[i] = &slot{index: i}
	}

	if cancel == nil {
		cancel = func() {}
	}

	return &Model{
		dataset: cfg.DatasetID,
		cfg:     cfg,
		slots:   slots,
		bar:     progress.New(progress.WithDefaultGradient()),
		cancel:  cancel,
		styles:  NewStyles(),
	}
}

// applyEnvelope records one progress update on its slot.
func (m *Model) applyEnvelope(e batchprogress.Envelope) {
	s, ok := m.slots[e.ModelIndex]
	if !ok {
		return
	}

	s.envelope = e
	s.seen = true
}

// applyFailure marks a slot as failed.
func (m *Model) applyFailure(modelIndex int, msg string) {
	if s, ok := m.slots[modelIndex]; ok {
		s.failed = true
		s.errMsg = msg
	}
}

// overallFraction is the mean completion fraction across all slots.
func (m *Model) overallFraction() float64 {
	if len(m.slots) == 0 {
		return 0
	}

	sum := 0.0

	for _, s := range m.slots {
		switch {
		case s.failed:
			sum += 1
		case s.seen:
			sum += s.envelope.Fraction()
		}
	}

	return sum / float64(len(m.slots))
}

func (m *Model) orderedSlots() []*slot {
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].index < out[j].index
	})

	return out
}

func (m *Model) barWidth() int {
	w := m.width - 50
	if w > defaultBarWidth {
		w = defaultBarWidth
	}

	if w < minBarWidth {
		w = minBarWidth
	}

	return w
}

func (m *Model) renderSlot(b *strings.Builder, s *slot) {
	label := fmt.Sprintf("Model %2d ", s.index)

	switch {
	case s.failed:
		b.WriteString(m.styles.Failed.Render(label))
		b.WriteString(m.styles.Failed.Render("failed: " + s.errMsg))
	case s.seen && s.envelope.Completed:
		b.WriteString(m.styles.Done.Render(label))
		b.WriteString(m.bar.ViewAs(1))
		b.WriteString(m.styles.Stats.Render(m.slotStats(s)))
	case s.seen:
		b.WriteString(m.styles.Running.Render(label))
		b.WriteString(m.bar.ViewAs(s.envelope.Fraction()))
		b.WriteString(m.styles.Stats.Render(m.slotStats(s)))
	default:
		b.WriteString(m.styles.Canceled.Render(label + "pending"))
	}

	b.WriteString("\n")
}

func (m *Model) slotStats(s *slot) string {
	e := s.envelope
	if math.IsNaN(e.LossTrue) {
		return fmt.Sprintf("  %d/%d", e.Iteration, e.MaxIterations)
	}

	return fmt.Sprintf("  %d/%d  Q(True)=%.2f  Q(Robust)=%.2f  MSE=%.4f",
		e.Iteration, e.MaxIterations, e.LossTrue, e.LossRobust, e.MSE)
}
