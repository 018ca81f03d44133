// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main is the entry point for the sabatch command-line application.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/esat-tools/sabatch"
	"github.com/esat-tools/sabatch/cmd"
	"github.com/esat-tools/sabatch/internal/ctxlog"
	"github.com/esat-tools/sabatch/internal/signalbroker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)
	defer cancel()

	sigCh := signalbroker.New(ctx)

	go signalbroker.Watch(ctx, sigCh, cancel)

	cmd.RootCmd.Version = fmt.Sprintf("%s (commit: %s)", sabatch.Version, sabatch.Commit)

	err := cmd.RootCmd.Run(ctx, os.Args)

	if ctx.Err() != nil {
		ctxlog.Logger(ctx).Error("terminated due to cancellation", "error", ctx.Err())
		os.Exit(1)
	}

	if err != nil {
		ctxlog.Logger(ctx).Error("command failed", "error", err)
		os.Exit(1)
	}
}
