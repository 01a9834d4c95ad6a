package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/context/checkpoints"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createCheckpoint saves a checkpoint with a small model, and the plot points of its training, into dir.
func createCheckpoint(t *testing.T, dir string, learningRate float64) {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, learningRate)
	ctx.In("model").VariableWithValue("w", 1.5)
	ctx.In("model").VariableWithValue("b", -0.5)
	ctx.InAbsPath("/optimizers/sgd/model").VariableWithValue("w_velocity", 0.25).SetTrainable(false)
	for range 7 {
		optimizers.IncrementGlobalStep(ctx)
	}
	checkpoint, err := checkpoints.Build(ctx).Dir(dir).Keep(-1).Done()
	require.NoError(t, err)
	require.NoError(t, checkpoint.Save())

	lossPlots, err := plots.New(640, 480).WithFile(filepath.Join(dir, plots.TrainingPlotFileName))
	require.NoError(t, err)
	for step := range 3 {
		lossPlots.AddPoint("Train: Moving Average Loss", metrics.LossMetricType, float64(step), 1/float64(step+1))
		lossPlots.AddPoint("Eval on train: Accuracy", metrics.AccuracyMetricType, float64(step), 0.5)
	}
	require.NoError(t, lossPlots.Done())
}

// setFlag sets the flag value for the duration of the test.
func setFlag[T any](t *testing.T, flagPtr *T, value T) {
	previous := *flagPtr
	*flagPtr = value
	t.Cleanup(func() { *flagPtr = previous })
}

func TestReport(t *testing.T) {
	baseDir := t.TempDir()
	dirA, dirB := filepath.Join(baseDir, "a", "model"), filepath.Join(baseDir, "b", "model")
	createCheckpoint(t, dirA, 0.1)
	createCheckpoint(t, dirB, 0.2)

	setFlag(t, flagSummary, true)
	setFlag(t, flagParams, true)
	setFlag(t, flagVars, true)
	setFlag(t, flagMetrics, true)
	setFlag(t, flagMetricsLabels, true)
	var buf bytes.Buffer
	require.NoError(t, report(&buf, []string{dirA, dirB}))
	got := buf.String()
	assert.Contains(t, got, "Summary")
	assert.Contains(t, got, "global_step")
	assert.Contains(t, got, "learning_rate")
	assert.Contains(t, got, "0.2")
	assert.Contains(t, got, "Variables of \"a\" in scope \"/model\"")
	assert.Contains(t, got, "1.5")
	assert.NotContains(t, got, "w_velocity", "only variables under -scope are listed")
	assert.Contains(t, got, "Metrics Table")
	assert.Contains(t, got, "a: Train: Moving Average Loss")
	assert.Contains(t, got, "50.00%")
}

func TestPlotMetrics(t *testing.T) {
	dir := t.TempDir()
	createCheckpoint(t, dir, 0.1)
	setFlag(t, flagMetricsTypes, metrics.LossMetricType)
	svgPath := filepath.Join(t.TempDir(), "loss.svg")
	setFlag(t, flagPlot, svgPath)
	require.NoError(t, reportMetrics(&bytes.Buffer{}, []string{dir}, MinimalUniquePaths(dir)))
	assert.FileExists(t, svgPath)
}

func TestDeleteAndPerturbVars(t *testing.T) {
	dir := t.TempDir()
	createCheckpoint(t, dir, 0.1)
	var buf bytes.Buffer
	require.NoError(t, DeleteVars(&buf, dir, "/optimizers"))
	assert.Contains(t, buf.String(), "1 deleted vars")

	const perturbAmount = 0.1
	require.NoError(t, PerturbVars(&buf, dir, perturbAmount))
	assert.Contains(t, buf.String(), "2 variables updated")

	ctx := context.New()
	_, err := checkpoints.Load(ctx).Dir(dir).Immediate().Done()
	require.NoError(t, err)
	assert.Nil(t, ctx.InspectVariable("/optimizers/sgd/model", "w_velocity"))
	w := ctx.InspectVariable("/model", "w").Value()
	assert.InDelta(t, 1.5, w, 1.5*perturbAmount)
	assert.Equal(t, 7.0, ctx.InspectVariable(context.RootScope, optimizers.GlobalStepVariableName).Value(),
		"non-trainable variables are not perturbed")
}

func TestMinimalUniquePaths(t *testing.T) {
	assert.Equal(t, []string{"model"}, MinimalUniquePaths("/tmp/a/model/"))
	assert.Equal(t, []string{"a", "b"}, MinimalUniquePaths("/tmp/a/model", "/tmp/b/model"))
	assert.Equal(t, []string{"a...m1", "b...m2"}, MinimalUniquePaths("/tmp/a/m1", "/tmp/b/m2"))
}
