// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker listens for OS termination signals and maps them onto
// batch cancellation: the first signal of a type requests a graceful cancel,
// a repeat of the same signal forces termination.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/esat-tools/sabatch/internal/ctxlog"
)

var termSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	os.Interrupt,
}

// New creates a signal channel subscribed to the given signals, defaulting
// to the interrupt/terminate set.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)

	if len(sigs) == 0 {
		sigs = termSignals
	}

	ctxlog.Debug(ctx, "signalbroker subscribing", "signals", sigs)
	signal.Notify(ch, sigs...)

	return ch
}

// Watch drains sigCh. The first signal of a given type calls cancel so
// in-flight fits can stop cleanly; the second of the same type closes the
// channel and returns, letting the process exit.
func Watch(ctx context.Context, sigCh chan os.Signal, cancel context.CancelFunc) {
	seen := make(map[os.Signal]struct{})

	for sig := range sigCh {
		if _, ok := seen[sig]; ok {
			ctxlog.Info(ctx, "received repeat signal, terminating", "signal", sig.String())
			close(sigCh)

			return
		}

		seen[sig] = struct{}{}

		ctxlog.Info(ctx, "received signal, canceling batch", "signal", sig.String())
		cancel()
	}
}
