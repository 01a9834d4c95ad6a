// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"iter"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/pkg/errors"
)

// Variable is a named value of a Context that persists across forward passes, typically a weight.
//
// It is a leaf of the context graph: use Node to build on it, Grad to read its gradient after
// graph.Backward, and SetValue in between passes.
type Variable struct {
	name, scope string
	node        *graph.Node

	// Trainable variables are updated by the optimizers.
	Trainable bool
}

// Loader provides stored values for variables, e.g. from a checkpoint.
type Loader interface {
	// LoadVariable returns the stored value of the variable, or false if there is none.
	LoadVariable(ctx *Context, scope, name string) (value float64, found bool)
}

// Name of the variable within its scope.
func (v *Variable) Name() string { return v.name }

// Scope the variable was created in.
func (v *Variable) Scope() string { return v.scope }

// ScopeAndName returns the absolute path of the variable, e.g. "/layer_0/neuron_1/w_2".
func (v *Variable) ScopeAndName() string { return JoinScope(v.scope, v.name) }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if !v.IsValid() {
		return "<invalid variable>"
	}
	return fmt.Sprintf("%s=%g", v.ScopeAndName(), v.node.Value())
}

// IsValid reports whether v is non-nil and not deleted.
func (v *Variable) IsValid() bool { return v.CheckValid() == nil }

// CheckValid returns an error if v is nil or was deleted from its context.
func (v *Variable) CheckValid() error {
	if v == nil {
		return errors.New("nil variable")
	}
	if err := v.node.CheckValid(); err != nil {
		return errors.WithMessagef(err, "variable %q", v.ScopeAndName())
	}
	return nil
}

func (v *Variable) mustBeValid() {
	if err := v.CheckValid(); err != nil {
		exceptions.Panicf("%v", err)
	}
}

// Node is the leaf of the variable in the context graph. Don't keep it across Context.ResetGraph.
func (v *Variable) Node() *graph.Node {
	v.mustBeValid()
	return v.node
}

// Value of the variable.
func (v *Variable) Value() float64 {
	v.mustBeValid()
	return v.node.Value()
}

// SetValue changes the value of the variable, seen by the forward passes built afterward.
func (v *Variable) SetValue(value float64) {
	v.mustBeValid()
	v.node.SetValue(value)
}

// Grad is the gradient of the last graph.Backward with respect to the variable.
func (v *Variable) Grad() float64 {
	v.mustBeValid()
	return v.node.Grad()
}

// SetTrainable and return v.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.Trainable = trainable
	return v
}

// GetVariableByScopeAndName returns the variable, or nil if there is none.
func (ctx *Context) GetVariableByScopeAndName(scope, name string) *Variable {
	return ctx.data.variablesMap[scope][name]
}

// InspectVariable is GetVariableByScopeAndName: it ignores the Reuse and Unique modes.
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	return ctx.GetVariableByScopeAndName(scope, name)
}

// GetVariable returns the variable name of the current scope, or nil if there is none.
func (ctx *Context) GetVariable(name string) *Variable {
	return ctx.GetVariableByScopeAndName(ctx.scope, name)
}

// VariableWithValue returns the variable name of the current scope, creating it with value if needed.
// A value from the Loader, if set, takes precedence over value.
//
// Checked contexts panic if the variable exists (or is loaded) in Unique mode, or if it doesn't in Reuse mode.
// Variables start as trainable.
func (ctx *Context) VariableWithValue(name string, value float64) *Variable {
	return ctx.getOrCreate(name, func() float64 { return value })
}

// VariableWithInitializer is like VariableWithValue, but new variables get their value from the
// context initializer (see WithInitializer), fed with RandomSource.
func (ctx *Context) VariableWithInitializer(name string) *Variable {
	return ctx.getOrCreate(name, func() float64 { return ctx.initializer(ctx.RandomSource()) })
}

func (ctx *Context) getOrCreate(name string, initialValue func() float64) *Variable {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		exceptions.Panicf("invalid variable name %q: it must be non-empty and can't contain %q", name, ScopeSeparator)
	}
	v := ctx.GetVariable(name)
	var loaded bool
	if v == nil && ctx.reuse {
		v, loaded = ctx.createFromLoader(name)
	}
	if ctx.checked {
		switch {
		case ctx.reuse && v == nil:
			exceptions.Panicf("variable %q doesn't exist in scope %q, and the context is set to Reuse", name, ctx.scope)
		case !ctx.reuse && v != nil:
			exceptions.Panicf("variable %q already exists in scope %q", name, ctx.scope)
		}
	}
	if v != nil || loaded {
		return v
	}
	if v, loaded = ctx.createFromLoader(name); loaded {
		return v
	}
	return ctx.createVariable(name, initialValue())
}

// createFromLoader creates the variable with the value from the Loader, if it has one.
func (ctx *Context) createFromLoader(name string) (*Variable, bool) {
	if ctx.data.loader == nil {
		return nil, false
	}
	value, found := ctx.data.loader.LoadVariable(ctx, ctx.scope, name)
	if !found {
		return nil, false
	}
	return ctx.createVariable(name, value), true
}

func (ctx *Context) createVariable(name string, value float64) *Variable {
	data := ctx.data
	v := &Variable{
		name:      name,
		scope:     ctx.scope,
		node:      graph.Leaf(data.graph, value),
		Trainable: true,
	}
	if data.variablesMap[ctx.scope] == nil {
		data.variablesMap[ctx.scope] = make(map[string]*Variable)
	}
	data.variablesMap[ctx.scope][name] = v
	data.variables = append(data.variables, v)
	data.variablesChanged = true
	return v
}

// DeleteVariable removes a variable, invalidating it. Its leaf is dropped by the next ResetGraph.
func (ctx *Context) DeleteVariable(scope, name string) error {
	v := ctx.GetVariableByScopeAndName(scope, name)
	if v == nil {
		return errors.Errorf("can't delete variable %q: not found", JoinScope(scope, name))
	}
	ctx.deleteVariables(func(candidate *Variable) bool { return candidate == v })
	return nil
}

// DeleteVariablesInScope removes the variables of the current scope and of its sub-scopes.
func (ctx *Context) DeleteVariablesInScope() {
	ctx.deleteVariables(ctx.inScope)
}

func (ctx *Context) deleteVariables(shouldDelete func(v *Variable) bool) {
	data := ctx.data
	kept := data.variables[:0]
	for _, v := range data.variables {
		if !shouldDelete(v) {
			kept = append(kept, v)
			continue
		}
		delete(data.variablesMap[v.scope], v.name)
		if len(data.variablesMap[v.scope]) == 0 {
			delete(data.variablesMap, v.scope)
		}
		v.node = nil
		data.variablesChanged = true
	}
	clear(data.variables[len(kept):])
	data.variables = kept
}

// inScope reports whether v is in the current scope or one of its sub-scopes.
func (ctx *Context) inScope(v *Variable) bool {
	if ctx.scope == RootScope || v.scope == ctx.scope {
		return true
	}
	return strings.HasPrefix(v.scope, ctx.scope+ScopeSeparator)
}

// IterVariables yields all variables, in creation order.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !yield(v) {
				return
			}
		}
	}
}

// IterVariablesInScope yields the variables of the current scope and of its sub-scopes, in creation order.
func (ctx *Context) IterVariablesInScope() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for v := range ctx.IterVariables() {
			if ctx.inScope(v) && !yield(v) {
				return
			}
		}
	}
}

// NumVariables in the context, trainable or not.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters is the number of trainable variables.
func (ctx *Context) NumParameters() int {
	count := 0
	for _, v := range ctx.data.variables {
		if v.Trainable {
			count++
		}
	}
	return count
}

// Loader returns the Loader set with SetLoader, or nil.
func (ctx *Context) Loader() Loader {
	return ctx.data.loader
}

// SetLoader makes new variables take their initial value from loader, when it has one, and
// overwrites the values of the existing variables it has.
func (ctx *Context) SetLoader(loader Loader) error {
	ctx.data.loader = loader
	if loader == nil {
		return nil
	}
	for _, v := range ctx.data.variables {
		if value, found := loader.LoadVariable(ctx, v.scope, v.name); found {
			v.SetValue(value)
		}
	}
	return nil
}
