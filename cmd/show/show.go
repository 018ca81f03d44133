// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package show contains the CLI command that renders a saved batch result.
package show

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/TylerBrock/colorjson"
	"github.com/urfave/cli/v3"

	"github.com/esat-tools/sabatch/internal/batchrun"
	"github.com/esat-tools/sabatch/internal/engine"
)

const (
	fileArg         = "file"
	jsonFlag        = "json"
	interactiveFlag = "interactive"
)

var (
	// ErrReadFile is returned when the result file cannot be read.
	ErrReadFile = errors.New("failed to read result file")
	// ErrWriteResults is returned when the result cannot be rendered.
	ErrWriteResults = errors.New("failed to write result")
)

// ShowCmd is the command that shows a previously saved batch result.
var ShowCmd = &cli.Command{
	Name:        "show",
	Description: "Show a batch result previously saved with 'sabatch run --out'.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      fileArg,
			UsageText: "RESULTFILE",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:     jsonFlag,
			Aliases:  []string{"j"},
			Usage:    "Render the result summary as colored JSON",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:     interactiveFlag,
			Aliases:  []string{"i"},
			Usage:    "Inspect individual models at an interactive prompt",
			OnlyOnce: true,
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		file, err := os.Open(cmd.StringArg(fileArg))
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}
		defer file.Close() //nolint:errcheck

		result, err := batchrun.ReadBinaryResult(file)
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}

		switch {
		case cmd.Bool(interactiveFlag):
			return inspect(result)
		case cmd.Bool(jsonFlag):
			return writeJSON(cmd, result)
		default:
			if err := result.WriteText(cmd.Writer); err != nil {
				return errors.Join(ErrWriteResults, err)
			}

			return nil
		}
	},
}

// modelSummary is the JSON shape for one fitted model, without the factor
// matrices.
type modelSummary struct {
	ModelIndex int     `json:"model_index"`
	LossTrue   float64 `json:"loss_true"`
	LossRobust float64 `json:"loss_robust"`
	MSE        float64 `json:"mse"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Seed       int64   `json:"seed"`
	Best       bool    `json:"best"`
}

type resultSummary struct {
	ID        string             `json:"id"`
	Dataset   string             `json:"dataset"`
	Config    batchrun.RunConfig `json:"config"`
	BestModel int                `json:"best_model"`
	Models    []modelSummary     `json:"models"`
	Failures  map[int]string     `json:"failures,omitempty"`
}

func summarize(result *batchrun.Result) resultSummary {
	s := resultSummary{
		ID:        result.ID,
		Dataset:   result.DatasetID,
		Config:    result.Config,
		BestModel: result.BestModel,
		Failures:  result.Failures,
	}

	for _, m := range result.Models {
		s.Models = append(s.Models, modelSummary{
			ModelIndex: m.ModelIndex,
			LossTrue:   m.LossTrue,
			LossRobust: m.LossRobust,
			MSE:        m.MSE,
			Iterations: m.Iterations,
			Converged:  m.Converged,
			Seed:       m.Seed,
			Best:       m.ModelIndex == result.BestModel,
		})
	}

	return s
}

func writeJSON(cmd *cli.Command, result *batchrun.Result) error {
	raw, err := json.Marshal(summarize(result))
	if err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	formatter := colorjson.NewFormatter()
	formatter.Indent = 2

	colored, err := formatter.Marshal(obj)
	if err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	if _, err := fmt.Fprintln(cmd.Writer, string(colored)); err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	return nil
}

func describeModel(m *engine.FittedModel, best bool) string {
	marker := ""
	if best {
		marker = "  (best)"
	}

	return fmt.Sprintf("model %d: Q(True)=%.4f Q(Robust)=%.4f MSE=%.4f iterations=%d converged=%v seed=%d%s",
		m.ModelIndex, m.LossTrue, m.LossRobust, m.MSE, m.Iterations, m.Converged, m.Seed, marker)
}
