// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil handles the paths given by users in flags and settings files.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ReplaceTildeInDir expands a leading "~" (current user) or "~name" (user "name") in path to the
// corresponding home directory. Paths not starting with "~" are returned unchanged.
func ReplaceTildeInDir(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var home string
	if userName == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(err, "expanding %q", path)
		}
	} else {
		usr, err := user.Lookup(userName)
		if err != nil {
			return "", errors.Wrapf(err, "expanding %q: unknown user %q", path, userName)
		}
		home = usr.HomeDir
	}
	return filepath.Join(home, rest), nil
}
