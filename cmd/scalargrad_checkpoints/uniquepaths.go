// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"
)

// MinimalUniquePaths takes a list of checkpoint paths and returns for each one the minimal name that
// distinguishes it from the others, used as column names when comparing checkpoints.
//
// If the paths differ in more than one directory, the first and last differing parts are joined by "...".
func MinimalUniquePaths(paths ...string) []string {
	if len(paths) <= 1 {
		result := make([]string, len(paths))
		for ii, p := range paths {
			result[ii] = filepath.Base(filepath.Clean(p))
		}
		return result
	}

	splitPaths := make([][]string, len(paths))
	for ii, p := range paths {
		splitPaths[ii] = strings.Split(filepath.Clean(p), string(filepath.Separator))
	}

	result := make([]string, len(paths))
	for ii, parts := range splitPaths {
		var diffIndices []int
		for jj, otherParts := range splitPaths {
			if ii == jj {
				continue
			}
			for kk := range min(len(parts), len(otherParts)) {
				if parts[kk] != otherParts[kk] && !slices.Contains(diffIndices, kk) {
					diffIndices = append(diffIndices, kk)
				}
			}
		}
		slices.Sort(diffIndices)
		switch len(diffIndices) {
		case 0:
			result[ii] = parts[len(parts)-1]
		case 1:
			result[ii] = parts[diffIndices[0]]
		default:
			result[ii] = parts[diffIndices[0]] + "..." + parts[diffIndices[len(diffIndices)-1]]
		}
	}
	return result
}
