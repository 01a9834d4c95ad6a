package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
)

// Summary writes a table with the global step and the number of variables and parameters (trainable variables)
// under the scope of each checkpoint.
func Summary(w io.Writer, ctxs, scopedCtxs []*context.Context, names []string) error {
	numCheckpoints := len(names)
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row(append([]string{"checkpoint"}, names...)...)

	scopeRow := make([]string, numCheckpoints+1)
	scopeRow[0] = "scope"
	for ii, scopedCtx := range scopedCtxs {
		scopeRow[ii+1] = scopedCtx.Scope()
	}
	table.Row(scopeRow...)

	// Global step:
	globalStepRow := make([]string, numCheckpoints+1)
	globalStepRow[0] = "global_step"
	haveGlobalStep := false
	for ii, ctx := range ctxs {
		globalStepVar := ctx.InspectVariable(context.RootScope, optimizers.GlobalStepVariableName)
		if globalStepVar != nil {
			haveGlobalStep = true
			globalStepRow[ii+1] = humanize.Comma(int64(globalStepVar.Value()))
		}
	}
	if haveGlobalStep {
		table.Row(globalStepRow...)
	}

	// Variables and parameters.
	variablesRow := make([]string, numCheckpoints+1)
	parametersRow := make([]string, numCheckpoints+1)
	variablesRow[0] = "# variables"
	parametersRow[0] = "# parameters"
	for ii, scopedCtx := range scopedCtxs {
		var numVars, numParams int
		for v := range scopedCtx.IterVariablesInScope() {
			numVars++
			if v.Trainable {
				numParams++
			}
		}
		variablesRow[ii+1] = humanize.Comma(int64(numVars))
		parametersRow[ii+1] = humanize.Comma(int64(numParams))
	}
	table.Row(variablesRow...)
	table.Row(parametersRow...)
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Summary"), table.Render())
	return err
}
