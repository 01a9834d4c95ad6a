package main

import (
	"cmp"
	"flag"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
)

var (
	flagVars        = flag.Bool("vars", false, "Lists the variables under -scope.")
	flagDeleteVars  = flag.String("delete_vars", "", "Delete variables under the given scope(s) (comma-separated). Useful for instance to remove training temporary data, like the optimizer state.")
	flagPerturbVars = flag.Float64("perturb", 0,
		"Perturbs trainable variables by <x>: it multiplies the values by 1.0+(RandomUniform(-1, 1)*x). "+
			"If using a momentum optimizer (or Adam) remember to clear their running moving averages with -delete_vars.")
)

// ListVariables writes a table with the variables under the scope of ctx, with their values.
// Variables with non-finite values are highlighted.
func ListVariables(w io.Writer, ctx *context.Context, name string) error {
	table := newHighlightTable(lipgloss.Left, lipgloss.Left, lipgloss.Center, lipgloss.Right)
	table.Headers("Scope", "Name", "Trainable", "Value")
	vars := slices.SortedFunc(ctx.IterVariablesInScope(), func(a, b *context.Variable) int {
		if c := cmp.Compare(a.Scope(), b.Scope()); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})
	for _, v := range vars {
		value := v.Value()
		trainable := ""
		if v.Trainable {
			trainable = "✓"
		}
		table.Row(math.IsNaN(value) || math.IsInf(value, 0), v.Scope(), v.Name(), trainable, fmt.Sprintf("%.6g", value))
	}
	title := titleStyle.Render(fmt.Sprintf("Variables of %q in scope %q", name, ctx.Scope()))
	_, err := fmt.Fprintf(w, "%s\n%s\n", title, table.Render())
	return err
}

// openCheckpointForUpdate loads all variables of the latest checkpoint in checkpointPath, keeping all
// previous checkpoints when a new one is saved.
func openCheckpointForUpdate(checkpointPath string) (*context.Context, *checkpoints.Handler, error) {
	ctx := context.New()
	checkpoint, err := checkpoints.Load(ctx).Dir(checkpointPath).Keep(-1).Immediate().Done()
	if err != nil {
		return nil, nil, err
	}
	return ctx, checkpoint, nil
}

// DeleteVars on the given scopes, and saves a new checkpoint, if anything was deleted.
func DeleteVars(w io.Writer, checkpointPath string, scopes ...string) error {
	ctx, checkpoint, err := openCheckpointForUpdate(checkpointPath)
	if err != nil {
		return err
	}
	var varsToDelete []*context.Variable
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		scopePrefix := scope + context.ScopeSeparator
		for v := range ctx.IterVariables() {
			if v.Scope() == scope || strings.HasPrefix(v.Scope(), scopePrefix) {
				varsToDelete = append(varsToDelete, v)
			}
		}
	}
	if len(varsToDelete) == 0 {
		// No changes needed.
		return nil
	}
	for _, v := range varsToDelete {
		if err = ctx.DeleteVariable(v.Scope(), v.Name()); err != nil {
			return errors.WithMessagef(err, "deleting variables from %q", checkpointPath)
		}
	}
	if err = checkpoint.Save(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d deleted vars under scopes %v, new checkpoint saved.\n", len(varsToDelete), scopes)
	return err
}

// PerturbVars multiplies every trainable variable by 1+(RandomUniform(-1, 1)*x) and saves a new checkpoint.
func PerturbVars(w io.Writer, checkpointPath string, x float64) error {
	ctx, checkpoint, err := openCheckpointForUpdate(checkpointPath)
	if err != nil {
		return err
	}
	rng := ctx.RandomSource()
	var numUpdates int
	for v := range ctx.IterVariables() {
		if !v.Trainable {
			continue
		}
		perturbation := 1 + (2*rng.Float64()-1)*x // [1-x, 1+x)
		v.SetValue(v.Value() * perturbation)
		numUpdates++
	}
	if err = checkpoint.Save(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d variables updated, new checkpoint saved.\n", numUpdates)
	return err
}
