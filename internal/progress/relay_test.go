// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRelayForwardsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	q := NewQueue(ctx, 16)

	defer q.Close()

	var got []Envelope

	relay := NewRelay(q)
	relay.Start(ctx, SubscriberFunc(func(e Envelope) {
		got = append(got, e)
	}))

	for i := 1; i <= 5; i++ {
		q.Report(Envelope{ModelIndex: 1, Iteration: i, MaxIterations: 5, Completed: i == 5})
	}

	q.Finish()

	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on sentinel")
	}

	require.Len(t, got, 5)

	completed := 0

	for i, e := range got {
		assert.Equal(t, i+1, e.Iteration)

		if e.Completed {
			completed++
		}
	}

	assert.Equal(t, 1, completed, "exactly one terminal envelope")
}

func TestRelayPerModelOrderWithConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		models     = 8
		iterations = 200
	)

	ctx := context.Background()
	q := NewQueue(ctx, 32)

	defer q.Close()

	lastSeen := make(map[int]int)
	terminal := make(map[int]int)

	relay := NewRelay(q)
	relay.Start(ctx, SubscriberFunc(func(e Envelope) {
		assert.GreaterOrEqual(t, e.Iteration, lastSeen[e.ModelIndex],
			"iterations for one model must be non-decreasing")
		lastSeen[e.ModelIndex] = e.Iteration

		if e.Completed {
			terminal[e.ModelIndex]++
		}
	}))

	var wg sync.WaitGroup

	for m := 1; m <= models; m++ {
		wg.Add(1)

		go func(model int) {
			defer wg.Done()

			for i := 1; i <= iterations; i++ {
				q.Report(Envelope{
					ModelIndex:    model,
					Iteration:     i,
					MaxIterations: iterations,
					Completed:     i == iterations,
				})
			}
		}(m)
	}

	wg.Wait()
	q.Finish()

	select {
	case <-relay.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}

	for m := 1; m <= models; m++ {
		assert.Equal(t, iterations, lastSeen[m])
		assert.Equal(t, 1, terminal[m], "model %d terminal envelope count", m)
	}
}

func TestRelaySurvivesSubscriberPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	q := NewQueue(ctx, 4)

	defer q.Close()

	var delivered []int

	relay := NewRelay(q)
	relay.Start(ctx, SubscriberFunc(func(e Envelope) {
		if e.Iteration == 2 {
			panic("renderer exploded")
		}

		delivered = append(delivered, e.Iteration)
	}))

	for i := 1; i <= 4; i++ {
		q.Report(Envelope{ModelIndex: 1, Iteration: i, MaxIterations: 4})
	}

	q.Finish()
	<-relay.Done()

	assert.Equal(t, []int{1, 3, 4}, delivered)
}

func TestQueueReportAfterCloseDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	q := NewQueue(ctx, 1)
	q.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < 10; i++ {
			q.Report(Envelope{ModelIndex: 1, Iteration: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("report blocked on closed queue")
	}
}

func TestQueueFinishIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	q := NewQueue(ctx, 4)

	defer q.Close()

	q.Finish()
	q.Finish()

	relay := NewRelay(q)

	count := 0

	relay.Start(ctx, SubscriberFunc(func(Envelope) { count++ }))
	<-relay.Done()

	assert.Zero(t, count)
}

func TestEnvelopeFraction(t *testing.T) {
	assert.InDelta(t, 0.5, Envelope{Iteration: 50, MaxIterations: 100}.Fraction(), 1e-9)
	assert.InDelta(t, 1.0, Envelope{Iteration: 20, MaxIterations: 100, Completed: true}.Fraction(), 1e-9)
	assert.Zero(t, Envelope{Iteration: 3}.Fraction())
}

func TestEnvelopeConverged(t *testing.T) {
	assert.True(t, Envelope{Iteration: 80, MaxIterations: 100, Completed: true}.Converged())
	assert.False(t, Envelope{Iteration: 100, MaxIterations: 100, Completed: true}.Converged())
	assert.False(t, Envelope{Iteration: 80, MaxIterations: 100}.Converged())
}
