// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/datasets"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParam("x", 11.0)
	ctx.SetParam("y", 7)
	ctx.SetParam("z", false)
	ctx.SetParam("s", "foo")
	ctx.SetParam("list_int", []int{})
	ctx.SetParam("list_float", []float64{})
	ctx.SetParam("list_str", []string{})
	return ctx
}

func TestParseContextSettings(t *testing.T) {
	ctx := createTestContext()

	paramsSet, err := ParseContextSettings(ctx, "x=13;/a/z=true;/a/b/y=3;s=bar;list_int=1,3,1_000;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	x, found := ctx.GetParam("x")
	assert.True(t, found)
	assert.Equal(t, 13.0, x.(float64))

	y, found := ctx.GetParam("y")
	assert.True(t, found)
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").GetParam("y")
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").In("b").GetParam("y")
	assert.Equal(t, 3, y)

	z, found := ctx.GetParam("z")
	assert.True(t, found)
	assert.False(t, z.(bool))
	z, _ = ctx.In("a").GetParam("z")
	assert.True(t, z.(bool))

	s, found := ctx.GetParam("s")
	assert.True(t, found)
	assert.Equal(t, "bar", s.(string))

	assert.Equal(t, []int{1, 3, 1000}, context.GetParamOr(ctx, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, context.GetParamOr(ctx, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, context.GetParamOr(ctx, "list_str", []string{}))

	// Parameter "q" is unknown.
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Parameter "q" is still unknown in root.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseContextSettings(ctx, "y=3.14")
	require.Error(t, err)
	_, err = ParseContextSettings(ctx, "list_int=1,a")
	require.Error(t, err)

	// Cannot parse setting with scope not absolute.
	_, err = ParseContextSettings(ctx, "a/abc=3.14")
	require.Error(t, err)

	// Malformed setting.
	_, err = ParseContextSettings(ctx, "x")
	require.Error(t, err)
}

func TestParseContextSettingsFile(t *testing.T) {
	ctx := createTestContext()
	filePath := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(filePath, []byte(`
# Comments are allowed.
x = 0.5
y = 2
list_int = [4, 4]

[layer_1]
s = "tanh"
z = true
`), 0600))
	paramsSet, err := ParseContextSettings(ctx, "file:"+filePath+";s=bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"/layer_1/s", "/layer_1/z", "list_int", "x", "y", "s"}, paramsSet)
	assert.Equal(t, 0.5, context.MustGetParam[float64](ctx, "x"))
	assert.Equal(t, 2, context.MustGetParam[int](ctx, "y"))
	assert.Equal(t, []int{4, 4}, context.MustGetParam[[]int](ctx, "list_int"))
	assert.Equal(t, "tanh", context.MustGetParam[string](ctx.In("layer_1"), "s"))
	assert.Equal(t, "bar", context.MustGetParam[string](ctx, "s"))
	assert.True(t, context.MustGetParam[bool](ctx.In("layer_1"), "z"))

	// Settings file with unknown parameters.
	require.NoError(t, os.WriteFile(filePath, []byte("unknown = 1\n"), 0600))
	_, err = ParseContextSettings(ctx, "file:"+filePath)
	require.Error(t, err)
	_, err = ParseContextSettings(ctx, "file:"+filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	summary := SprintModifiedContextSettings(ctx, append(paramsSet, "x"))
	assert.Contains(t, summary, "/layer_1/s")
	assert.Contains(t, summary, "tanh")
	assert.NotContains(t, summary, "list_str")
	all := SprintContextSettings(ctx)
	assert.Contains(t, all, "/list_str")
	assert.Contains(t, all, "float64")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50ms", FormatDuration(1500*time.Microsecond))
	assert.Equal(t, "2.25s", FormatDuration(2250*time.Millisecond))
	assert.Equal(t, "12.00µs", FormatDuration(12*time.Microsecond))
	assert.Equal(t, "2m3s", FormatDuration(123400*time.Millisecond))
	assert.Equal(t, "300ns", FormatDuration(300*time.Nanosecond))
}

func newTestTrainer(t *testing.T) (*train.Trainer, *datasets.InMemoryDataset) {
	ctx := context.New()
	modelFn := func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
		return graph.Mul(ctx.VariableWithValue("w", 0).Node(), inputs[0])
	}
	trainer := train.NewTrainer(ctx, modelFn, nil, optimizers.StochasticGradientDescent().LearningRate(0.05).Done(),
		nil, nil)
	ds, err := datasets.InMemory("double", [][]float64{{1}, {2}, {-1}}, []float64{2, 4, -2})
	require.NoError(t, err)
	return trainer, ds
}

func TestPlainProgressBar(t *testing.T) {
	trainer, ds := newTestTrainer(t)
	loop := train.NewLoop(trainer)
	var buf bytes.Buffer
	attachProgressBar(loop, &buf, true)
	_, err := loop.RunSteps(ds.Infinite(true), 5)
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "[step=4]")
	assert.Contains(t, output, "[~loss=")
}

func TestFprintEval(t *testing.T) {
	trainer, ds := newTestTrainer(t)
	var buf bytes.Buffer
	require.NoError(t, FprintEval(&buf, trainer, ds))
	output := buf.String()
	assert.Contains(t, output, "Results on double:")
	assert.Contains(t, output, train.MeanLossName)
}
