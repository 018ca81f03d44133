// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package history contains the CLI command that lists prior batch runs.
package history

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/esat-tools/sabatch/internal/history"
)

const (
	dbFlag      = "db"
	datasetFlag = "dataset"
)

// ErrListHistory is returned when the run history cannot be read.
var ErrListHistory = errors.New("failed to list run history")

// HistoryCmd is the command that lists recorded batch runs.
var HistoryCmd = &cli.Command{
	Name:        "history",
	Description: "List prior batch runs recorded by 'sabatch run'.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      dbFlag,
			Usage:     "Run history database path",
			Value:     "sabatch-history.db",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.StringFlag{
			Name:     datasetFlag,
			Aliases:  []string{"d"},
			Usage:    "Only list runs for this dataset",
			OnlyOnce: true,
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		store, err := history.Open(cmd.String(dbFlag))
		if err != nil {
			return errors.Join(ErrListHistory, err)
		}
		defer store.Close() //nolint:errcheck

		entries, err := store.List(cmd.String(datasetFlag))
		if err != nil {
			return errors.Join(ErrListHistory, err)
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.Writer, "no recorded runs")

			return nil
		}

		tw := tabwriter.NewWriter(cmd.Writer, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Finished\tDataset\tModels\tFactors\tMethod\tSeed\tBest\tQ(True)\tFailures\tRun ID\t")

		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%d\t%.4f\t%d\t%s\t\n",
				e.Finished.Local().Format(time.DateTime),
				e.Dataset, e.Models, e.Factors, e.Method, e.Seed,
				e.BestModel, e.BestLossTrue, e.Failures, e.ID)
		}

		if err := tw.Flush(); err != nil {
			return errors.Join(ErrListHistory, err)
		}

		return nil
	},
}
