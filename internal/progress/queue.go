// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"
)

// DefaultQueueBuffer is the envelope buffer between workers and the relay.
// Deep enough to absorb bursts from many concurrent fits, small enough that
// a stalled consumer exerts backpressure instead of growing memory.
const DefaultQueueBuffer = 256

// Queue is the shared many-producer/single-consumer envelope channel for one
// batch. Unlike a fire-and-forget event bus, Report blocks when the buffer
// is full: envelopes are never dropped.
type Queue struct {
	ch     chan *Envelope
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewQueue creates a Queue whose lifetime is bound to ctx. A bufferSize of
// zero or less selects DefaultQueueBuffer.
func NewQueue(ctx context.Context, bufferSize int) *Queue {
	if bufferSize <= 0 {
		bufferSize = DefaultQueueBuffer
	}

	qctx, cancel := context.WithCancel(ctx)

	return &Queue{
		ch:     make(chan *Envelope, bufferSize),
		ctx:    qctx,
		cancel: cancel,
	}
}

// Report implements Reporter. It blocks until the envelope is enqueued or
// the queue is closed; a closed queue silently discards the envelope so late
// worker updates during teardown are harmless.
func (q *Queue) Report(e Envelope) {
	select {
	case <-q.ctx.Done():
	case q.ch <- &e:
	}
}

// Finish enqueues the sentinel. The caller must guarantee no Report calls
// follow; in practice the coordinator calls Finish once after every worker
// goroutine has returned.
func (q *Queue) Finish() {
	q.once.Do(func() {
		select {
		case <-q.ctx.Done():
		case q.ch <- nil:
		}
	})
}

// Close releases the queue, unblocking any pending Report. Safe to call
// multiple times.
func (q *Queue) Close() {
	q.cancel()
}

// receive returns the next envelope, blocking until one is available. ok is
// false when the sentinel arrived or the queue was closed.
func (q *Queue) receive() (Envelope, bool) {
	select {
	case <-q.ctx.Done():
		return Envelope{}, false
	case e := <-q.ch:
		if e == nil {
			return Envelope{}, false
		}

		return *e, true
	}
}
