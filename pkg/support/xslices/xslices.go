// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices has generic slice helpers not in the standard slices package.
package xslices

// Map returns a new slice with fn applied to each element of in.
func Map[In, Out any](in []In, fn func(e In) Out) []Out {
	out := make([]Out, 0, len(in))
	for _, e := range in {
		out = append(out, fn(e))
	}
	return out
}

// MapErr is like Map, but stops at the first error returned by fn.
func MapErr[In, Out any](in []In, fn func(e In) (Out, error)) ([]Out, error) {
	out := make([]Out, 0, len(in))
	for _, e := range in {
		mapped, err := fn(e)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}
