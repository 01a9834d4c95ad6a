// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints saves the hyperparameters and variables of a context.Context to JSON files in a
// directory, and restores them when training resumes.
//
//	checkpoint, err := checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done()
//	...
//	train.PeriodicCallback(loop, time.Minute, true, "checkpoint", 100, checkpoint.OnStepFn)
//
// SaveFile and LoadFile handle a single file, without a directory.
package checkpoints

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// DirPermMode is used when creating checkpoint directories.
var DirPermMode = os.FileMode(0o770)

// Config of a Handler, see Build and Load.
type Config struct {
	ctx *context.Context
	err error

	dir      string
	embedded string

	mustLoad, immediate bool
	keep, takeMean      int

	excludeAllParams bool
	excludedParams   map[string]bool
	excludedVars     map[*context.Variable]bool
}

// Build starts the configuration of a Handler for ctx. Set where the checkpoints live with Dir,
// DirFromBase, TempDir or FromEmbed, then call Done.
//
// If there are checkpoints, Done restores the hyperparameters of the latest into ctx, and the variables
// as the model creates them (or at once, with Immediate).
func Build(ctx *context.Context) *Config {
	return &Config{
		ctx:            ctx,
		keep:           1,
		takeMean:       1,
		excludedParams: make(map[string]bool),
		excludedVars:   make(map[*context.Variable]bool),
	}
}

// Load is Build for a checkpoint that must exist: Done fails otherwise.
func Load(ctx *context.Context) *Config {
	c := Build(ctx)
	c.mustLoad = true
	return c
}

func (c *Config) fail(err error) *Config {
	if c.err == nil {
		c.err = err
	}
	return c
}

// Dir of the checkpoints. "~" is expanded, and the directory is created if needed (except with Load).
func (c *Config) Dir(dir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return c.fail(err)
	}
	c.dir = dir
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return c.fail(errors.Errorf("checkpoint path %q is not a directory", dir))
	case err == nil:
		return c
	case !os.IsNotExist(err):
		return c.fail(errors.Wrapf(err, "checkpoint directory %q", dir))
	case c.mustLoad:
		return c.fail(errors.Errorf("checkpoint directory %q doesn't exist", dir))
	}
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		return c.fail(errors.Wrapf(err, "creating checkpoint directory %q", dir))
	}
	return c
}

// DirFromBase is Dir, with relative paths taken from baseDir.
func (c *Config) DirFromBase(dir, baseDir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return c.fail(err)
	}
	if !filepath.IsAbs(dir) {
		if baseDir, err = fsutil.ReplaceTildeInDir(baseDir); err != nil {
			return c.fail(err)
		}
		dir = filepath.Join(baseDir, dir)
	}
	return c.Dir(dir)
}

// TempDir uses a new directory created by os.MkdirTemp(dir, pattern).
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return c.fail(errors.Wrap(err, "creating temporary checkpoint directory"))
	}
	c.dir = newDir
	return c
}

// FromEmbed loads the checkpoint from its JSON contents, e.g. embedded with go:embed.
// Such a Handler can't Save.
func (c *Config) FromEmbed(json string) *Config {
	c.embedded = json
	return c
}

// Immediate creates all the variables of the checkpoint in Done, instead of as the model creates them.
func (c *Config) Immediate() *Config {
	c.immediate = true
	return c
}

// ExcludeAllParams keeps the hyperparameters of the context as they are, and doesn't save them.
func (c *Config) ExcludeAllParams() *Config {
	c.excludeAllParams = true
	return c
}

// ExcludeParams keeps the given hyperparameters of the context from being overwritten by the
// checkpoint: a key excludes it in every scope, a scoped key (see context.JoinScope) only there.
func (c *Config) ExcludeParams(keys ...string) *Config {
	for _, key := range keys {
		c.excludedParams[key] = true
	}
	return c
}

func (c *Config) isParamExcluded(scope, key string) bool {
	return c.excludeAllParams || c.excludedParams[key] || c.excludedParams[context.JoinScope(scope, key)]
}

// ExcludeVars leaves vars out of the saved checkpoints.
func (c *Config) ExcludeVars(vars ...*context.Variable) *Config {
	for _, v := range vars {
		c.excludedVars[v] = true
	}
	return c
}

// Keep sets how many checkpoints are kept in the directory, the older ones are removed after each Save.
// -1 keeps them all. Default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// TakeMean restores trainable variables with the mean of their values in the last n checkpoints
// (all of them if n <= 0). Everything else comes from the latest. Default is 1.
func (c *Config) TakeMean(n int) *Config {
	c.takeMean = n
	return c
}

// Done returns the Handler, attached to the context as its Loader, after restoring the latest checkpoint
// (if any) into it.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if (c.dir == "") == (c.embedded == "") {
		return nil, errors.New("checkpoints need either a directory or an embedded checkpoint")
	}
	h := &Handler{config: c, loaded: &checkpointData{}}
	if c.embedded != "" {
		data, err := decode(strings.NewReader(c.embedded))
		if err != nil {
			return nil, errors.WithMessage(err, "embedded checkpoint")
		}
		h.use(data)
	} else if err := h.loadLatest(); err != nil {
		return nil, err
	}
	if err := h.attach(); err != nil {
		return nil, err
	}
	return h, nil
}

// MustDone is Done, but panics on errors.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "checkpoints"))
	}
	return h
}
