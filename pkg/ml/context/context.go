// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context holds the state of a model across its forward passes: hyperparameters and variables,
// both organized in scopes like the paths of a filesystem, and the graph.Graph the model is built on.
package context

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/internal/scoped"
	"github.com/gomlx/scalargrad/pkg/core/graph"
	"k8s.io/klog/v2"
)

// Context is a reference to the shared state of a model, positioned at a scope.
//
// Methods like In, Reuse or Checked return new references, with the same state but a different
// scope or mode, so a model function can hand a sub-scope to each of its layers:
//
//	func Layer(ctx *context.Context, inputs []*graph.Node) *graph.Node {
//		w := ctx.In("layer_0").VariableWithInitializer("w_0")
//		...
//	}
//
// Creating variables is checked by default: a Unique context (the default) panics if the variable
// exists already, a Reuse one panics if it doesn't (and no Loader has it).
type Context struct {
	scope       string
	reuse       bool
	checked     bool
	initializer VariableInitializer
	data        *contextData
}

// VariableInitializer returns the initial value of a variable, given a source of randomness.
type VariableInitializer func(rng *rand.Rand) float64

// contextData is the state shared by all references of a Context.
type contextData struct {
	params *scoped.Params
	graph  *graph.Graph

	// startMark is the empty graph. mark, once hasMark is set, is right after the leaves of the variables.
	startMark, mark graph.Mark
	hasMark         bool

	// variablesChanged since the mark was taken.
	variablesChanged bool

	// variablesMap indexes variables by scope and name, variables keeps their creation order.
	variablesMap map[string]map[string]*Variable
	variables    []*Variable

	loader Loader
	rng    *rand.Rand
}

const (
	// ScopeSeparator separates the elements of a scope path.
	ScopeSeparator = "/"

	// RootScope is the scope of a new Context.
	RootScope = ScopeSeparator
)

// New returns a Context at the root scope, with no hyperparameters, no variables and its own graph.
// Variables are initialized with DefaultInitializer.
func New() *Context {
	g := graph.NewGraph("context")
	return &Context{
		scope:       RootScope,
		checked:     true,
		initializer: DefaultInitializer,
		data: &contextData{
			params:       scoped.New(ScopeSeparator),
			graph:        g,
			startMark:    g.Mark(),
			variablesMap: make(map[string]map[string]*Variable),
		},
	}
}

// with returns a new reference to the same state, changed by fn.
func (ctx *Context) with(fn func(ctx2 *Context)) *Context {
	ctx2 := *ctx
	fn(&ctx2)
	return &ctx2
}

// Graph where variables live and models are built.
func (ctx *Context) Graph() *graph.Graph {
	return ctx.data.graph
}

// JoinScope appends name to scope. An empty scope returns name unchanged.
func JoinScope(scope, name string) string {
	switch {
	case scope == "":
		return name
	case strings.HasSuffix(scope, ScopeSeparator):
		return scope + name
	default:
		return scope + ScopeSeparator + name
	}
}

// SplitScope reverses JoinScope. A name without a leading ScopeSeparator has an empty scope.
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	idx := strings.LastIndex(scopeAndName, ScopeSeparator)
	scope = scopeAndName[:idx]
	if scope == "" {
		scope = RootScope
	}
	return scope, scopeAndName[idx+1:]
}

// Scope of this reference.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// EscapeScopeName makes name usable as a scope element, replacing ScopeSeparator with "_".
func EscapeScopeName(name string) string {
	return strings.ReplaceAll(name, ScopeSeparator, "_")
}

// In returns a reference to the sub-scope named scope, which must be non-empty and without ScopeSeparator.
func (ctx *Context) In(scope string) *Context {
	if scope == "" || strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("invalid scope element %q: it must be non-empty and can't contain %q", scope, ScopeSeparator)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf is In with a fmt.Sprintf formatted scope.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a reference to the scope path, which must start with ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("scope path %q must start with %q", scopePath, ScopeSeparator)
	}
	return ctx.with(func(ctx2 *Context) { ctx2.scope = scopePath })
}

// Reuse returns a reference that only accepts existing (or loaded) variables, if Checked.
func (ctx *Context) Reuse() *Context {
	return ctx.with(func(ctx2 *Context) { ctx2.reuse = true })
}

// Unique returns a reference that only accepts creating new variables, if Checked. It is the default.
func (ctx *Context) Unique() *Context {
	if !ctx.reuse {
		return ctx
	}
	return ctx.with(func(ctx2 *Context) { ctx2.reuse = false })
}

// IsReuse reports whether ctx is in Reuse mode. It is only enforced on Checked contexts.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a reference that enforces Reuse or Unique (checked=true, the default), or that
// creates variables when missing and returns them otherwise (checked=false).
func (ctx *Context) Checked(checked bool) *Context {
	if ctx.checked == checked {
		return ctx
	}
	return ctx.with(func(ctx2 *Context) { ctx2.checked = checked })
}

// WithInitializer returns a reference that initializes new variables with initializer.
// Other references are not affected.
func (ctx *Context) WithInitializer(initializer VariableInitializer) *Context {
	if initializer == nil {
		exceptions.Panicf("Context.WithInitializer: nil initializer")
	}
	return ctx.with(func(ctx2 *Context) { ctx2.initializer = initializer })
}

// GetParam looks up the hyperparameter key in the current scope, then in each parent up to the root.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

// MustGetParam returns the hyperparameter key (see GetParam) as a T, converting numeric types
// if needed (e.g.: int to float64). It panics if it is missing or can't be converted.
func MustGetParam[T any](ctx *Context, key string) T {
	var zero T
	value, found := ctx.GetParam(key)
	if !found {
		exceptions.Panicf("hyperparameter %q (%T) not set in scope %q or its parents", key, zero, ctx.scope)
	}
	if typed, ok := value.(T); ok {
		return typed
	}
	rv, targetType := reflect.ValueOf(value), reflect.TypeOf(zero)
	if !rv.IsValid() || !rv.CanConvert(targetType) {
		exceptions.Panicf("hyperparameter %q in scope %q is %T(%v), which can't be converted to %T",
			key, ctx.scope, value, value, zero)
	}
	return rv.Convert(targetType).Interface().(T)
}

// GetParamOr is like MustGetParam, but returns defaultValue if key is missing or nil.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	if value, found := ctx.GetParam(key); !found || value == nil {
		return defaultValue
	}
	return MustGetParam[T](ctx, key)
}

// SetParam sets a hyperparameter in the current scope, visible to it and its sub-scopes.
// Checkpoints store them as JSON, so stick to strings, numbers, booleans and slices of them.
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams calls SetParam for each entry.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.SetParam(key, value)
	}
}

// EnumerateParams calls fn for every hyperparameter of every scope, sorted by scope and key.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

// ResetGraph drops the nodes of the previous forward pass, keeping the leaves of the variables.
// Call it before each forward pass.
//
// If variables were created or deleted since the previous reset, the graph is rebuilt with a fresh
// leaf per variable (same value), and previously returned Variable.Node values become invalid.
func (ctx *Context) ResetGraph() {
	data := ctx.data
	if data.hasMark && !data.variablesChanged {
		data.graph.Rewind(data.mark)
		return
	}
	values := make([]float64, len(data.variables))
	for ii, v := range data.variables {
		values[ii] = v.node.Value()
	}
	data.graph.Rewind(data.startMark)
	for ii, v := range data.variables {
		v.node = graph.Leaf(data.graph, values[ii])
	}
	data.mark, data.hasMark, data.variablesChanged = data.graph.Mark(), true, false
	klog.V(1).Infof("context graph rebuilt with %d variables", len(values))
}
