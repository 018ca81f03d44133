// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"

	"github.com/esat-tools/sabatch/internal/ctxlog"
)

// Relay drains one Queue and republishes each envelope to a single
// subscriber, in arrival order, until the sentinel is observed. The
// subscriber callback runs synchronously on the relay goroutine, so
// per-model ordering seen by the subscriber matches the queue.
type Relay struct {
	queue *Queue
	done  chan struct{}
}

// NewRelay creates a relay for the given queue. Call Start to begin
// draining.
func NewRelay(queue *Queue) *Relay {
	return &Relay{
		queue: queue,
		done:  make(chan struct{}),
	}
}

// Start launches the drain loop in its own goroutine. A panic in the
// subscriber is recovered and logged, and draining continues: a rendering
// failure must not stop progress delivery.
func (r *Relay) Start(ctx context.Context, sub Subscriber) {
	go func() {
		defer close(r.done)

		for {
			e, ok := r.queue.receive()
			if !ok {
				return
			}

			r.forward(ctx, sub, e)
		}
	}()
}

// Done is closed once the relay has observed the sentinel (or the queue was
// closed) and finished forwarding.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) forward(ctx context.Context, sub Subscriber, e Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			ctxlog.Error(ctx, "progress subscriber panicked",
				"modelIndex", e.ModelIndex,
				"iteration", e.Iteration,
				"panic", rec)
		}
	}()

	sub.OnEnvelope(e)
}
