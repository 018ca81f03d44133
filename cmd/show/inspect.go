// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package show

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/esat-tools/sabatch/internal/batchrun"
	"github.com/esat-tools/sabatch/internal/engine"
)

// inspect runs the interactive result prompt. Commands: summary, best,
// model <n>, failures, profile <n>, quit.
func inspect(result *batchrun.Result) error {
	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()

	line.SetCtrlCAborts(true)
	fmt.Printf("Inspecting batch %s (dataset %s). Type 'help' for commands, 'quit' to leave.\n",
		result.ID, result.DatasetID)

	for {
		input, err := line.Prompt("sabatch> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Println("Aborted")

			return nil
		}

		if err != nil {
			fmt.Println("Error reading line:", err)

			return nil
		}

		line.AppendHistory(input)

		if quit := dispatch(result, strings.Fields(strings.TrimSpace(input))); quit {
			return nil
		}
	}
}

func dispatch(result *batchrun.Result, fields []string) bool {
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		fmt.Println("summary            batch summary table")
		fmt.Println("best               the best fitted model")
		fmt.Println("model <n>          one fitted model")
		fmt.Println("profile <n>        factor profile matrix H of one model")
		fmt.Println("failures           failed model slots")
		fmt.Println("quit               leave the prompt")
	case "summary":
		if err := result.WriteText(os.Stdout); err != nil {
			fmt.Println("Error:", err)
		}
	case "best":
		if best := result.Best(); best != nil {
			fmt.Println(describeModel(best, true))
		} else {
			fmt.Println("no successful model in this batch")
		}
	case "model":
		showModel(result, fields)
	case "profile":
		showProfile(result, fields)
	case "failures":
		if len(result.Failures) == 0 {
			fmt.Println("no failures")

			return false
		}

		for idx, msg := range result.Failures {
			fmt.Printf("model %d: %s\n", idx, msg)
		}
	default:
		fmt.Printf("unknown command %q, type 'help'\n", fields[0])
	}

	return false
}

func showModel(result *batchrun.Result, fields []string) {
	m, ok := lookupModel(result, fields)
	if !ok {
		return
	}

	fmt.Println(describeModel(m, m.ModelIndex == result.BestModel))
}

func showProfile(result *batchrun.Result, fields []string) {
	m, ok := lookupModel(result, fields)
	if !ok {
		return
	}

	if len(m.H) == 0 {
		fmt.Println("no factor profile stored for this model")

		return
	}

	for i, row := range m.H {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = strconv.FormatFloat(v, 'g', 6, 64)
		}

		fmt.Printf("factor %d: %s\n", i+1, strings.Join(cells, " "))
	}
}

func lookupModel(result *batchrun.Result, fields []string) (*engine.FittedModel, bool) {
	if len(fields) < 2 {
		fmt.Println("usage:", fields[0], "<n>")

		return nil, false
	}

	idx, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Printf("%q is not a model index\n", fields[1])

		return nil, false
	}

	m := result.Model(idx)
	if m == nil {
		if msg, failed := result.Failures[idx]; failed {
			fmt.Printf("model %d failed: %s\n", idx, msg)
		} else {
			fmt.Printf("no model %d in this batch\n", idx)
		}

		return nil, false
	}

	return m, true
}
