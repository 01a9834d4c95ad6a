package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4)

	cellStyle        = lipgloss.NewStyle().Padding(0, 1)
	headerCellStyle  = lipgloss.NewStyle().Reverse(true).Padding(0, 2).Align(lipgloss.Center)
	fadedCellStyle   = cellStyle.Faint(true)
	highlightedStyle = cellStyle.Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"})
	borderStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
)

// highlightTable is a table with zebra rows where selected rows are shown in red: hyperparameters
// that differ across checkpoints, or variables holding non-finite values.
type highlightTable struct {
	*lgtable.Table
	numRows     int
	highlighted map[int]bool
}

// Row appends a row, in red if highlight is set.
func (t *highlightTable) Row(highlight bool, cells ...string) {
	if highlight {
		t.highlighted[t.numRows] = true
	}
	t.Table.Row(cells...)
	t.numRows++
}

// newHighlightTable creates a table whose column i is aligned with alignments[i]; columns
// past the end of alignments take the last one.
func newHighlightTable(alignments ...lipgloss.Position) *highlightTable {
	t := &highlightTable{highlighted: make(map[int]bool)}
	alignment := func(col int) lipgloss.Position {
		if len(alignments) == 0 {
			return lipgloss.Left
		}
		return alignments[min(col, len(alignments)-1)]
	}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := cellStyle
			switch {
			case row == lgtable.HeaderRow:
				return headerCellStyle
			case t.highlighted[row]:
				style = highlightedStyle
			case row%2 == 1:
				style = fadedCellStyle
			}
			return style.Align(alignment(col))
		})
	return t
}

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return newHighlightTable(alignments...).Table
}

// allEqual reports whether every element of s is the same.
func allEqual[E comparable](s []E) bool {
	for _, e := range s {
		if e != s[0] {
			return false
		}
	}
	return true
}
