// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

// Envelope is one iteration update from one model fit. It is immutable once
// constructed and safe to copy.
//
// For a given ModelIndex, envelopes arrive in non-decreasing Iteration order
// and carry Completed == true exactly once, on the final update. Losses may
// be NaN before the solver produces its first real iterate.
type Envelope struct {
	ModelIndex    int     // 1..N, which fit this update belongs to
	Iteration     int     // current iteration, >= 0
	MaxIterations int     // configured ceiling, > 0
	LossTrue      float64 // Q(true) as of this iteration
	LossRobust    float64 // Q(robust) as of this iteration
	MSE           float64 // mean squared error as of this iteration
	Completed     bool    // true on the terminal envelope for this model
}

// Converged reports whether the fit stopped before hitting its iteration
// ceiling. Only meaningful on a terminal envelope.
func (e Envelope) Converged() bool {
	return e.Completed && e.Iteration < e.MaxIterations
}

// Fraction returns the completion fraction in [0, 1] for display purposes.
func (e Envelope) Fraction() float64 {
	if e.Completed {
		return 1
	}

	if e.MaxIterations <= 0 {
		return 0
	}

	f := float64(e.Iteration) / float64(e.MaxIterations)
	if f > 1 {
		f = 1
	}

	return f
}

// Reporter is the interface workers use to publish envelopes.
type Reporter interface {
	// Report publishes one envelope. Implementations must be safe for
	// concurrent use by multiple workers.
	Report(e Envelope)
}

// Subscriber receives envelopes from a Relay, one at a time, on the relay
// goroutine.
type Subscriber interface {
	OnEnvelope(e Envelope)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(e Envelope)

// OnEnvelope implements Subscriber.
func (f SubscriberFunc) OnEnvelope(e Envelope) {
	f(e)
}

// NullReporter discards all envelopes. Used when nothing consumes progress.
type NullReporter struct{}

// Report implements Reporter by doing nothing.
func (NullReporter) Report(Envelope) {}
