// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/esat-tools/sabatch/internal/batchrun"
	batchprogress "github.com/esat-tools/sabatch/internal/progress"
)

// EnvelopeMsg carries one progress envelope into the event loop.
type EnvelopeMsg struct {
	Envelope batchprogress.Envelope
}

// BatchDoneMsg signals the terminal state of the batch, carrying any
// per-model failures so the final frame shows them.
type BatchDoneMsg struct {
	State    batchrun.BatchState
	Err      error
	Failures map[int]string
}

// Init implements bubbletea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements bubbletea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.cancel()

				return m, nil
			}

			m.quitting = true

			return m, tea.Quit
		}

		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = m.barWidth()

		return m, nil

	case EnvelopeMsg:
		m.applyEnvelope(msg.Envelope)

		return m, nil

	case BatchDoneMsg:
		m.done = true
		m.outcome = msg.State
		m.err = msg.Err

		for idx, errMsg := range msg.Failures {
			m.applyFailure(idx, errMsg)
		}

		return m, tea.Quit
	}

	return m, nil
}

// View implements bubbletea.Model.
func (m *Model) View() string {
	var b strings.Builder

	title := fmt.Sprintf("sabatch  dataset=%s  models=%d  factors=%d  method=%s  seed=%d",
		m.dataset, m.cfg.Models, m.cfg.Factors, m.cfg.Method, m.cfg.Seed)
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n")

	for _, s := range m.orderedSlots() {
		m.renderSlot(&b, s)
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Stats.Render("Overall "))
	b.WriteString(m.bar.ViewAs(m.overallFraction()))
	b.WriteString("\n")

	if m.done {
		switch m.outcome {
		case batchrun.StateFinished:
			b.WriteString(m.styles.Done.Render("Batch finished"))
		case batchrun.StateCanceled:
			b.WriteString(m.styles.Canceled.Render("Batch canceled"))
		case batchrun.StateErrored:
			b.WriteString(m.styles.Failed.Render(fmt.Sprintf("Batch errored: %v", m.err)))
		}

		b.WriteString("\n")
	} else {
		b.WriteString(m.styles.Help.Render("'q' or ctrl+c to cancel the batch"))
		b.WriteString("\n")
	}

	return b.String()
}
