package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = normalStyle.Align(lipgloss.Right)
	headerStyle       = normalStyle.Bold(true).Align(lipgloss.Center)
	tableBorderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#705090"))
)

// newResultsTable returns a table with numbers right-aligned, except the first column.
func newResultsTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return normalStyle
			default:
				return rightAlignedStyle
			}
		})
}

// predictionsTable renders the inputs, labels and predictions of a few examples.
func predictionsTable(inputs [][]float64, labels, predictions []float64) string {
	table := newResultsTable()
	table.Headers("Example", "Inputs", "Label", "Prediction")
	for ii, example := range inputs {
		parts := make([]string, len(example))
		for jj, value := range example {
			parts[jj] = fmt.Sprintf("%.3g", value)
		}
		table.Row(
			fmt.Sprintf("#%d", ii),
			"["+strings.Join(parts, ", ")+"]",
			fmt.Sprintf("%.4g", labels[ii]),
			fmt.Sprintf("%.4g", predictions[ii]))
	}
	return table.Render()
}
