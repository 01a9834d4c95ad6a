// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// checkpointData is the contents of a checkpoint file.
type checkpointData struct {
	Params    []savedParam
	Variables []savedVariable
}

type savedParam struct {
	Scope, Key string
	Value      any

	// ValueType is the Go type of Value, since JSON decodes all numbers as float64.
	ValueType string
}

type savedVariable struct {
	ScopeAndName string
	Value        float64
	Trainable    bool
}

func decode(r io.Reader) (*checkpointData, error) {
	var data *checkpointData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "decoding checkpoint")
	}
	if data == nil {
		return nil, errors.New("empty checkpoint")
	}
	seen := make(map[string]bool, len(data.Variables))
	for _, v := range data.Variables {
		if seen[v.ScopeAndName] {
			return nil, errors.Errorf("variable %q saved more than once", v.ScopeAndName)
		}
		seen[v.ScopeAndName] = true
	}
	for ii := range data.Params {
		data.Params[ii].restoreType()
	}
	return data, nil
}

func readFile(path string) (*checkpointData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint")
	}
	defer func() { _ = f.Close() }()
	data, err := decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %s", path)
	}
	return data, nil
}

func (data *checkpointData) writeFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	err = enc.Encode(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "writing checkpoint %s", path)
}

// restoreType converts numbers and slices decoded from JSON back to ValueType.
func (p *savedParam) restoreType() {
	switch value := p.Value.(type) {
	case float64:
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int32":
			p.Value = int32(value)
		case "int64":
			p.Value = int64(value)
		case "float32":
			p.Value = float32(value)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = mapAny(value, func(f float64) int { return int(f) })
		case "[]float64":
			p.Value = mapAny(value, func(f float64) float64 { return f })
		case "[]string":
			p.Value = mapAny(value, func(s string) string { return s })
		}
	}
}

func mapAny[From, To any](values []any, fn func(From) To) []To {
	result := make([]To, len(values))
	for ii, v := range values {
		from, _ := v.(From)
		result[ii] = fn(from)
	}
	return result
}

// snapshot collects the hyperparameters (unless withParams is false) and the variables of ctx,
// except the state of the metrics and the excluded ones. Non-finite values are an error.
func snapshot(ctx *context.Context, withParams bool, excluded map[*context.Variable]bool) (*checkpointData, error) {
	data := &checkpointData{}
	if withParams {
		ctx.EnumerateParams(func(scope, key string, value any) {
			data.Params = append(data.Params, savedParam{Scope: scope, Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
		})
	}
	metricsScope := context.JoinScope(context.RootScope, metrics.Scope)
	for v := range ctx.IterVariables() {
		if excluded[v] || v.Scope() == metricsScope || strings.HasPrefix(v.Scope(), metricsScope+context.ScopeSeparator) {
			continue
		}
		value := v.Value()
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errors.Errorf("variable %q is %g, it can't be saved", v.ScopeAndName(), value)
		}
		data.Variables = append(data.Variables, savedVariable{ScopeAndName: v.ScopeAndName(), Value: value, Trainable: v.Trainable})
	}
	return data, nil
}

// SaveFile writes the hyperparameters and variables of ctx (except the state of metrics) to a JSON file,
// in the format used in checkpoint directories.
func SaveFile(ctx *context.Context, path string) error {
	data, err := snapshot(ctx, true, nil)
	if err != nil {
		return err
	}
	return data.writeFile(path)
}

// LoadFile restores a file written by SaveFile (or a checkpoint) into ctx: hyperparameters are set,
// existing variables overwritten and missing ones created.
//
// If the file lacks any trainable variable of ctx, it returns an error and ctx is not changed.
func LoadFile(ctx *context.Context, path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	inFile := make(map[string]bool, len(data.Variables))
	for _, v := range data.Variables {
		inFile[v.ScopeAndName] = true
	}
	for v := range ctx.IterVariables() {
		if v.Trainable && !inFile[v.ScopeAndName()] {
			return errors.Errorf("checkpoint %s has no value for variable %q", path, v.ScopeAndName())
		}
	}
	return exceptions.TryCatch[error](func() {
		for _, p := range data.Params {
			ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value)
		}
		for _, saved := range data.Variables {
			setVariable(ctx, saved)
		}
	})
}

// setVariable overwrites the variable with the saved value, or creates it.
func setVariable(ctx *context.Context, saved savedVariable) {
	scope, name := context.SplitScope(saved.ScopeAndName)
	if v := ctx.GetVariableByScopeAndName(scope, name); v != nil {
		v.SetValue(saved.Value)
		return
	}
	ctx.Checked(false).InAbsPath(scope).VariableWithValue(name, saved.Value).SetTrainable(saved.Trainable)
}
