// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations holds the nonlinearities used by the MLP neurons, selectable by Type or by name
// through the context hyperparameter ParamActivation.
package activations

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// ParamActivation is the context hyperparameter read by ApplyFromContext: one of "none" (or "linear"),
// "relu", "tanh" or "sigmoid". It defaults to "relu".
const ParamActivation = "activation"

// Type of activation. Its string form is the snake-case name without the prefix (TypeRelu is "relu").
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeTanh
	TypeSigmoid
)

//go:generate go tool enumer -type Type -trimprefix=Type -transform=snake -output=gen_type_enumer.go activations.go

var activationFns = map[Type]func(*Node) *Node{
	TypeNone:    func(x *Node) *Node { return x },
	TypeRelu:    Relu,
	TypeTanh:    Tanh,
	TypeSigmoid: Sigmoid,
}

// Apply returns activation(x). TypeNone returns x itself.
func Apply(activation Type, x *Node) *Node {
	fn, found := activationFns[activation]
	if !found {
		exceptions.Panicf("unknown activation %d, valid activations are %v", int(activation), TypeValues())
	}
	return fn(x)
}

// ApplyFromContext applies the activation named by ParamActivation in ctx.
func ApplyFromContext(ctx *context.Context, x *Node) *Node {
	return Apply(FromName(context.GetParamOr(ctx, ParamActivation, "relu")), x)
}

// FromName parses an activation name, where "" and "linear" mean TypeNone. It panics on unknown names.
func FromName(name string) Type {
	switch name {
	case "", "linear":
		return TypeNone
	}
	activation, err := TypeString(name)
	if err != nil {
		exceptions.Panicf("unknown activation %q, valid activations are %v", name, TypeValues())
	}
	return activation
}
