// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/scalargrad/pkg/ml/train"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	return FprintEval(os.Stdout, trainer, datasets...)
}

// FprintEval writes to w a table with the results of evaluating the datasets using trainer.Eval.
func FprintEval(w io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		metricsValues, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		table := lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			Headers("Metric", "Value").
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 1 {
					return rightAlignedStyle
				}
				return normalStyle
			})
		for metricIdx, metric := range trainer.EvalMetrics() {
			table.Row(fmt.Sprintf("%s (%s)", metric.Name(), metric.ShortName()),
				metric.PrettyPrint(metricsValues[metricIdx]))
		}
		if _, err = fmt.Fprintf(w, "Results on %s:\n%s\n", ds.Name(), table.String()); err != nil {
			return err
		}
		ds.Reset()
	}
	return nil
}
