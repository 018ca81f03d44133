// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run contains the CLI command that submits and supervises one
// batch run.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/urfave/cli/v3"

	"github.com/esat-tools/sabatch/internal/batchrun"
	"github.com/esat-tools/sabatch/internal/ctxlog"
	"github.com/esat-tools/sabatch/internal/dataset"
	"github.com/esat-tools/sabatch/internal/engine"
	"github.com/esat-tools/sabatch/internal/history"
	"github.com/esat-tools/sabatch/internal/progress"
	"github.com/esat-tools/sabatch/internal/tui"
)

const (
	fileFlag    = "file"
	solverFlag  = "solver"
	outFlag     = "out"
	tuiFlag     = "tui"
	historyFlag = "history"
	cliExitStr  = ""
)

// ErrBuildConfig is returned when the batch configuration cannot be built
// from the YAML document.
var ErrBuildConfig = errors.New("failed to build batch configuration")

// runFile is the on-disk run document: the batch configuration plus the
// dataset file locations.
type runFile struct {
	batchrun.RunConfig `yaml:",inline"`

	Concentration string `yaml:"concentration"`
	Uncertainty   string `yaml:"uncertainty"`
}

// RunCmd is the command that runs one batch defined in a YAML file.
var RunCmd = &cli.Command{
	Name: "run",
	Description: `Run one batch of model fits defined in a YAML file.

The file names the dataset (a concentration CSV and an uncertainty CSV) and
the batch parameters: number of models, factors, method, seed, iteration
ceiling and convergence settings. Each model is fitted by a separate solver
process; progress is shown live with --tui or logged headlessly.

Config file URLs use Hashicorp's go-getter syntax, so the document can be
fetched from local paths, git, HTTP and other sources.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     fileFlag,
			Aliases:  []string{"f"},
			Usage:    "URL of the YAML batch configuration. Supports go-getter syntax.",
			OnlyOnce: true,
			Required: true,
		},
		&cli.StringFlag{
			Name:     solverFlag,
			Usage:    "Path to the solver executable that performs the factorization",
			Required: true,
			OnlyOnce: true,
		},
		&cli.StringFlag{
			Name:      outFlag,
			Aliases:   []string{"o"},
			Usage:     "Write the batch result to this file for later inspection with 'sabatch show'",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.BoolFlag{
			Name:        tuiFlag,
			Aliases:     []string{"t", "interactive"},
			Usage:       "Show live per-model progress bars while the batch runs",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
		&cli.StringFlag{
			Name:      historyFlag,
			Usage:     "Run history database path. Pass an empty string to skip recording.",
			Value:     "sabatch-history.db",
			TakesFile: true,
			OnlyOnce:  true,
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

	doc, err := getURL(ctx, cmd.String(fileFlag))
	if err != nil {
		logger.Error("failed to fetch batch configuration", "url", cmd.String(fileFlag), "error", err)

		return cli.Exit(cliExitStr, 1)
	}

	rf, err := loadRunFile(doc)
	if err != nil {
		logger.Error("invalid batch configuration", "error", err)

		return cli.Exit(cliExitStr, 1)
	}

	registry := dataset.NewRegistry(nil)
	if _, err := registry.Load(rf.DatasetID, rf.Concentration, rf.Uncertainty); err != nil {
		logger.Error("failed to load dataset",
			"dataset", rf.DatasetID,
			"concentration", rf.Concentration,
			"uncertainty", rf.Uncertainty,
			"error", err)

		return cli.Exit(cliExitStr, 1)
	}

	eng := &engine.Solver{Path: cmd.String(solverFlag)}
	coordinator := batchrun.NewCoordinator(eng, registry, nil)

	handle, err := coordinator.Submit(ctx, rf.RunConfig)
	if err != nil {
		logger.Error("batch rejected", "error", err)

		return cli.Exit(cliExitStr, 1)
	}

	if cmd.Bool(tuiFlag) {
		superviseTUI(ctx, cmd, handle)
	} else {
		superviseHeadless(ctx, handle)
	}

	<-handle.Done()

	result, err := handle.Result()

	switch {
	case errors.Is(err, batchrun.ErrCanceled):
		logger.Warn("batch canceled", "dataset", handle.DatasetID())

		return cli.Exit(cliExitStr, 1)
	case err != nil:
		logger.Error("batch failed", "dataset", handle.DatasetID(), "error", err)

		return cli.Exit(cliExitStr, 1)
	}

	if out := cmd.String(outFlag); out != "" {
		if err := writeResultFile(out, result); err != nil {
			logger.Error("failed to write result file", "path", out, "error", err)

			return cli.Exit(cliExitStr, 1)
		}

		logger.Info("result written", "path", out)
	}

	if dbPath := cmd.String(historyFlag); dbPath != "" {
		if err := recordHistory(dbPath, result); err != nil {
			// History is best effort; the batch itself succeeded.
			logger.Warn("failed to record run history", "path", dbPath, "error", err)
		}
	}

	if err := result.WriteText(cmd.Writer); err != nil {
		logger.Error("failed to write result summary", "error", err)

		return cli.Exit(cliExitStr, 1)
	}

	return nil
}

// superviseTUI attaches the live display to the batch. Log output is buffered
// away from the display and flushed afterwards.
func superviseTUI(ctx context.Context, cmd *cli.Command, handle *batchrun.Handle) {
	buf := new(bytes.Buffer)
	tuiCtx := ctxlog.NewForTUI(ctx, buf)

	runner := tui.NewRunner(tuiCtx, handle)
	handle.Subscribe(runner.Listener())

	if err := runner.Run(); err != nil {
		ctxlog.Error(tuiCtx, "display error", "error", err)
	}

	buf.WriteTo(cmd.Writer) //nolint:errcheck
}

// superviseHeadless logs per-model completion and the terminal outcome
// instead of rendering a display.
func superviseHeadless(ctx context.Context, handle *batchrun.Handle) {
	handle.Subscribe(&batchrun.Listener{
		OnProgress: func(e progress.Envelope) {
			if !e.Completed {
				return
			}

			ctxlog.Info(ctx, "model completed",
				"modelIndex", e.ModelIndex,
				"iterations", e.Iteration,
				"lossTrue", e.LossTrue,
				"converged", e.Converged())
		},
		OnFinished: func(datasetID string) {
			ctxlog.Info(ctx, "batch finished", "dataset", datasetID)
		},
		OnCanceled: func() {
			ctxlog.Warn(ctx, "batch canceled")
		},
		OnErrored: func(datasetID string, err error) {
			ctxlog.Error(ctx, "batch errored", "dataset", datasetID, "error", err)
		},
	})
}

func loadRunFile(doc []byte) (*runFile, error) {
	var rf runFile

	if err := yaml.Unmarshal(doc, &rf); err != nil {
		return nil, errors.Join(ErrBuildConfig, err)
	}

	rf.ApplyDefaults()

	if rf.Concentration == "" || rf.Uncertainty == "" {
		return nil, fmt.Errorf("%w: concentration and uncertainty file paths are required", ErrBuildConfig)
	}

	return &rf, nil
}

func writeResultFile(path string, result *batchrun.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	return result.WriteBinary(f)
}

func recordHistory(dbPath string, result *batchrun.Result) error {
	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	return store.Record(result)
}
