// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handler saves checkpoints of a context, and is its context.Loader for the variables of the checkpoint
// it restored. Create it with Build or Load.
//
// Restored variables not yet created by the model are kept by the Handler, and saved along with the
// context's own variables, so a partially built model can be checkpointed without losing anything.
type Handler struct {
	config     *Config
	prevLoader context.Loader

	// loaded is the restored checkpoint, pending holds its variables not yet created in the context.
	loaded  *checkpointData
	pending map[string]savedVariable

	// count numbers the next checkpoint file.
	count int
}

const (
	// FileNamePrefix and FileNameSuffix surround the names of checkpoint files, which are
	// `checkpoint-n<count>-<time>.json`.
	FileNamePrefix = "checkpoint-"
	FileNameSuffix = ".json"
)

var checkpointCountRegex = regexp.MustCompile(`^` + FileNamePrefix + `n(\d+)-`)

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir of the checkpoints, or "" for a nil Handler or one restored FromEmbed.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// ListCheckpoints returns the names of the checkpoint files (without FileNameSuffix), oldest first.
func (h *Handler) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", h.config.dir)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, FileNamePrefix) && strings.HasSuffix(name, FileNameSuffix) {
			names = append(names, strings.TrimSuffix(name, FileNameSuffix))
		}
	}
	slices.Sort(names)
	return names, nil
}

// HasCheckpoints reports whether any checkpoint was saved in the directory.
func (h *Handler) HasCheckpoints() (bool, error) {
	names, err := h.ListCheckpoints()
	return len(names) > 0, err
}

// nextCount returns the number following the largest one in names.
func nextCount(names []string) int {
	next := 0
	for _, name := range names {
		if m := checkpointCountRegex.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				next = max(next, n+1)
			}
		}
	}
	return next
}

// loadLatest restores the latest checkpoint of the directory, averaging trainable variables if TakeMean > 1.
func (h *Handler) loadLatest() error {
	names, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	h.count = nextCount(names)
	if len(names) == 0 {
		if h.config.mustLoad {
			return errors.Errorf("no checkpoints in %q", h.config.dir)
		}
		return nil
	}
	numMean := h.config.takeMean
	if numMean <= 0 || numMean > len(names) {
		numMean = len(names)
	}
	names = names[len(names)-numMean:]
	latest, err := readFile(h.path(names[len(names)-1]))
	if err != nil {
		return err
	}
	h.use(latest)
	for ii, name := range names[:len(names)-1] {
		previous, err := readFile(h.path(name))
		if err != nil {
			return err
		}
		// Running mean: the latest plus ii+1 previous ones were averaged so far.
		weight := 1 / float64(ii+2)
		for _, v := range previous.Variables {
			if current, found := h.pending[v.ScopeAndName]; found && current.Trainable && v.Trainable {
				current.Value += (v.Value - current.Value) * weight
				h.pending[v.ScopeAndName] = current
			}
		}
	}
	klog.V(1).Infof("%s restored %q", h, names[len(names)-1])
	return nil
}

func (h *Handler) path(name string) string {
	return filepath.Join(h.config.dir, name+FileNameSuffix)
}

// use makes data the restored checkpoint.
func (h *Handler) use(data *checkpointData) {
	h.loaded = data
	h.pending = make(map[string]savedVariable, len(data.Variables))
	for _, v := range data.Variables {
		h.pending[v.ScopeAndName] = v
	}
}

// attach restores the hyperparameters into the context, then the variables that already exist
// (or all of them, if Immediate), and becomes its Loader.
func (h *Handler) attach() error {
	ctx := h.config.ctx
	for _, p := range h.loaded.Params {
		if !h.config.isParamExcluded(p.Scope, p.Key) {
			ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value)
		}
	}
	if h.config.immediate {
		for _, v := range h.loaded.Variables {
			if _, found := h.pending[v.ScopeAndName]; found {
				setVariable(ctx, h.pending[v.ScopeAndName])
			}
		}
		clear(h.pending)
	}
	h.prevLoader = ctx.Loader()
	return errors.WithMessagef(ctx.SetLoader(h), "%s restoring variables", h)
}

// LoadVariable implements context.Loader. A loader set on the context before the Handler takes precedence.
// Each restored value is handed out once.
func (h *Handler) LoadVariable(ctx *context.Context, scope, name string) (float64, bool) {
	if h.prevLoader != nil {
		if value, found := h.prevLoader.LoadVariable(ctx, scope, name); found {
			return value, true
		}
	}
	key := context.JoinScope(scope, name)
	v, found := h.pending[key]
	delete(h.pending, key)
	return v.Value, found
}

// LoadedVariables returns the restored values of the variables the model didn't create yet.
func (h *Handler) LoadedVariables() map[string]float64 {
	values := make(map[string]float64, len(h.pending))
	for key, v := range h.pending {
		values[key] = v.Value
	}
	return values
}

// ExcludeVarsFromSaving leaves vars out of the next checkpoints.
func (h *Handler) ExcludeVarsFromSaving(vars ...*context.Variable) {
	h.config.ExcludeVars(vars...)
}

// Save writes a new checkpoint with the hyperparameters and the variables of the context (except the state
// of the metrics), plus the restored variables the model didn't create. Then it removes the oldest
// checkpoints, beyond Keep.
//
// Saving with a nil Handler does nothing, so callers don't need to check whether checkpoints are configured.
func (h *Handler) Save() error {
	if h == nil {
		return nil
	}
	if h.config.dir == "" {
		return errors.Errorf("%s: checkpoints restored FromEmbed can't be saved", h)
	}
	data, err := snapshot(h.config.ctx, !h.config.excludeAllParams, h.config.excludedVars)
	if err != nil {
		return errors.WithMessagef(err, "%s", h)
	}
	for _, v := range h.loaded.Variables {
		if pending, found := h.pending[v.ScopeAndName]; found {
			data.Variables = append(data.Variables, pending)
		}
	}

	name := fmt.Sprintf("%sn%07d-%s", FileNamePrefix, h.count, time.Now().Format("20060102-150405"))
	h.count++
	if err = data.writeFile(h.path(name)); err != nil {
		return err
	}
	klog.V(1).Infof("%s saved %q", h, name)
	return h.prune()
}

// OnStepFn implements train.OnStepFn, calling Save.
func (h *Handler) OnStepFn(*train.Loop, []float64) error {
	return h.Save()
}

// prune removes the oldest checkpoints beyond the number to keep.
func (h *Handler) prune() error {
	if h.config.keep < 0 {
		return nil
	}
	names, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	for len(names) > h.config.keep {
		if err = os.Remove(h.path(names[0])); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "%s removing old checkpoint", h)
		}
		names = names[1:]
	}
	return nil
}
