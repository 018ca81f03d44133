// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmd contains the command-line interface (CLI) for the module.
package cmd

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/esat-tools/sabatch/cmd/history"
	"github.com/esat-tools/sabatch/cmd/run"
	"github.com/esat-tools/sabatch/cmd/show"
)

// RootCmd is the root command for the CLI.
var RootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.RunCmd,
		show.ShowCmd,
		history.HistoryCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "sabatch",
	Description: `Sabatch coordinates batch runs of source apportionment models.
It launches N independent model fits of one dataset against an external NMF
solver, relays per-iteration progress to a live terminal display, selects the
best fit, and hands the completed batch to export and run-history storage.`,
	Usage:                 "sabatch run -f batch.yaml --solver esat-solver",
	Copyright:             "Copyright (c) esat-tools 2025. All rights reserved.",
	EnableShellCompletion: true,
}
