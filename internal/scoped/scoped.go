// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a key to any value, organized in hierarchical scopes.
package scoped

import (
	"maps"
	"slices"
	"strings"
)

// Params maps keys to values within scopes. Looking up a key searches the given scope first, and then
// each of its parent scopes up to the root, returning the first value found.
//
// Example, with Separator "/":
//
//	Scope: "/": { "learning_rate": 0.05, "activation": "relu" }
//	Scope: "/layer_1": { "activation": "tanh" }
//
//	Params.Get("/layer_1/neuron_0", "activation") -> "tanh"
//	Params.Get("/layer_1", "learning_rate") -> 0.05
//	Params.Get("/layer_0", "activation") -> "relu"
//
// The root scope is the Separator itself, and every scope must start with it.
//
// The Context object uses Params to store its hyperparameters (see Context.GetParam and Context.SetParam).
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a copy of the Params. Values themselves are copied shallowly.
func (p *Params) Clone() *Params {
	newParams := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		newParams.scopeToMap[scope] = maps.Clone(dataMap)
	}
	return newParams
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap := p.scopeToMap[scope]
	if dataMap == nil {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Delete removes the key from the given scope only. Values of the same key in parent scopes are not affected.
func (p *Params) Delete(scope, key string) {
	dataMap := p.scopeToMap[scope]
	delete(dataMap, key)
	if len(dataMap) == 0 {
		delete(p.scopeToMap, scope)
	}
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if value, found = p.scopeToMap[scope][key]; found {
			return
		}
		if scope == p.Separator || scope == "" {
			return nil, false
		}
		scope = p.parent(scope)
	}
}

// parent returns the parent of scope. The parent of a top-level scope ("/a") is the root scope ("/").
func (p *Params) parent(scope string) string {
	idx := strings.LastIndex(scope, p.Separator)
	if idx <= 0 {
		return p.Separator
	}
	return scope[:idx]
}

// Len returns the total number of key/value pairs, across all scopes.
func (p *Params) Len() (total int) {
	for _, dataMap := range p.scopeToMap {
		total += len(dataMap)
	}
	return
}

// Enumerate calls fn for every key/value pair stored, sorted by scope and then by key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range slices.Sorted(maps.Keys(p.scopeToMap)) {
		keyValues := p.scopeToMap[scope]
		for _, key := range slices.Sorted(maps.Keys(keyValues)) {
			fn(scope, key, keyValues[key])
		}
	}
}
