// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// Params writes a table with the hyperparameters of each checkpoint. Hyperparameters whose values differ
// among the checkpoints are highlighted.
func Params(w io.Writer, ctxs []*context.Context, names []string) error {
	numCheckpoints := len(names)
	numCols := numCheckpoints + 3
	table := newHighlightTable()

	headers := make([]string, 0, numCols)
	headers = append(headers, "Scope", "Name", "Type")
	if numCheckpoints == 1 {
		headers = append(headers, "Value")
	} else {
		headers = append(headers, names...)
	}
	table.Headers(headers...)

	// List params set on all models.
	type scopeKey struct{ Scope, Key string }
	scopeKeySet := make(map[scopeKey]bool)
	for _, ctx := range ctxs {
		ctx.EnumerateParams(func(scope, key string, _ any) {
			scopeKeySet[scopeKey{Scope: scope, Key: key}] = true
		})
	}
	scopeKeys := slices.SortedFunc(maps.Keys(scopeKeySet), func(a, b scopeKey) int {
		if c := cmp.Compare(a.Scope, b.Scope); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	for _, pair := range scopeKeys {
		row := make([]string, numCols)
		row[0], row[1] = pair.Scope, pair.Key
		for ii, ctx := range ctxs {
			value, found := ctx.InAbsPath(pair.Scope).GetParam(pair.Key)
			if !found {
				continue
			}
			if row[2] == "" {
				row[2] = fmt.Sprintf("%T", value)
			}
			row[3+ii] = fmt.Sprintf("%v", value)
		}
		table.Row(!allEqual(row[3:]), row...)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Hyperparameters"), table.Render())
	return err
}
