package train

import (
	"io"
	"math"
	"testing"
	"time"

	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scaleDataset(numBatches int, loop bool) *batchesDataset {
	ds := &batchesDataset{loop: loop}
	for ii := range numBatches {
		x := float64(ii + 1)
		ds.inputs = append(ds.inputs, [][]float64{{x}})
		ds.labels = append(ds.labels, []float64{2 * x})
	}
	return ds
}

func TestLoopHooks(t *testing.T) {
	loop := NewLoop(newScaleTrainer())
	assert.Equal(t, time.Millisecond, loop.MedianTrainStepDuration())
	var calls []string
	loop.OnStart("start", 0, func(_ *Loop, ds Dataset) error {
		calls = append(calls, "start:"+ds.Name())
		return nil
	})
	loop.OnStep("second", 1, func(loop *Loop, _ []float64) error {
		calls = append(calls, "second")
		return nil
	})
	loop.OnStep("first", -1, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "first")
		assert.Equal(t, loop.LastLoss, metrics[0])
		return nil
	})
	loop.OnEnd("end", 0, func(_ *Loop, _ []float64) error {
		calls = append(calls, "end")
		return nil
	})
	_, err := loop.RunSteps(scaleDataset(1, true), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:batches", "first", "second", "first", "second", "end"}, calls)
	assert.Equal(t, 2, loop.LoopStep)
	assert.Equal(t, 0, loop.StartStep)
	assert.Equal(t, 2, loop.EndStep)
	assert.Len(t, loop.TrainStepDurations, 2)
	assert.Equal(t, 2.0, GetTrainLastStepVar(loop.Trainer.Context()).Value())

	// Running again picks up where it stopped.
	_, err = loop.RunSteps(scaleDataset(1, true), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, loop.StartStep)
	assert.Equal(t, 5, loop.LoopStep)
	assert.Equal(t, int64(5), loop.Trainer.GlobalStep())

	// No steps is a no-op.
	metrics, err := loop.RunSteps(scaleDataset(1, true), 0)
	require.NoError(t, err)
	assert.Nil(t, metrics)
}

func TestLoopHookErrors(t *testing.T) {
	loop := NewLoop(newScaleTrainer())
	loop.OnStep("failing", 0, func(loop *Loop, _ []float64) error {
		if loop.LoopStep == 1 {
			return errors.New("stop")
		}
		return nil
	})
	_, err := loop.RunSteps(scaleDataset(1, true), 3)
	require.ErrorContains(t, err, "failing")
	assert.Equal(t, int64(2), loop.Trainer.GlobalStep())
}

func TestRunStepsEndOfData(t *testing.T) {
	loop := NewLoop(newScaleTrainer())
	_, err := loop.RunSteps(scaleDataset(2, false), 3)
	require.ErrorContains(t, err, "reached Dataset end after 2 steps")

	ds := scaleDataset(2, false)
	ds.err = errors.New("disk failure")
	_, err = NewLoop(newScaleTrainer()).RunSteps(ds, 1)
	require.ErrorContains(t, err, "disk failure")
}

func TestRunEpochs(t *testing.T) {
	loop := NewLoop(newScaleTrainer())
	var endSteps []int
	loop.OnStep("end_steps", 0, func(loop *Loop, _ []float64) error {
		endSteps = append(endSteps, loop.EndStep)
		return nil
	})
	var epochsSeen []int
	loop.OnStep("epochs", 0, func(loop *Loop, _ []float64) error {
		epochsSeen = append(epochsSeen, loop.Epoch)
		return nil
	})
	ds := scaleDataset(3, false)
	metrics, err := loop.RunEpochs(ds, 2)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.Equal(t, 6, loop.LoopStep)
	assert.Equal(t, 6, loop.EndStep)
	assert.Equal(t, []int{-1, -1, -1, 6, 6, 6}, endSteps)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, epochsSeen)
	assert.Equal(t, 0, ds.next, "dataset is reset after the last epoch")

	// An empty dataset is an error.
	_, err = NewLoop(newScaleTrainer()).RunEpochs(&batchesDataset{}, 1)
	require.Error(t, err)
}

func TestNaNLoss(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamClipNaN, true)
	nanModel := func(ctx *context.Context, inputs []*Node) *Node {
		return Mul(ctx.VariableWithValue("w", math.Inf(1)).Node(), inputs[0])
	}
	loop := NewLoop(NewTrainer(ctx, nanModel, nil, nil, nil, nil))
	_, err := loop.RunSteps(scaleDataset(1, true), 1)
	require.ErrorContains(t, err, "infinity")

	ctx = context.New()
	ctx.SetParam(optimizers.ParamClipNaN, true)
	nanModel = func(ctx *context.Context, inputs []*Node) *Node {
		return Mul(ctx.VariableWithValue("w", math.NaN()).Node(), inputs[0])
	}
	loop = NewLoop(NewTrainer(ctx, nanModel, nil, nil, nil, nil))
	_, err = loop.RunSteps(scaleDataset(1, true), 1)
	require.ErrorContains(t, err, "NaN")
}

func TestRunToGlobalStep(t *testing.T) {
	trainer := newScaleTrainer()
	loop := NewLoop(trainer)
	_, err := loop.RunToGlobalStep(scaleDataset(1, true), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), trainer.GlobalStep())

	// A new loop on the same context continues from the global step, reusing the variables.
	loop = NewLoop(trainer)
	assert.Equal(t, 3, loop.LoopStep)
	metrics, err := loop.RunToGlobalStep(scaleDataset(1, true), 3)
	require.NoError(t, err)
	assert.Nil(t, metrics)
	_, err = loop.RunToGlobalStep(scaleDataset(1, true), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), trainer.GlobalStep())
	assert.True(t, trainer.Context().IsReuse())
}

func TestLoopCallbacks(t *testing.T) {
	loop := NewLoop(newScaleTrainer())
	var nTimesSteps, everySteps []int
	NTimesDuringLoop(loop, 3, "n_times", 0, func(loop *Loop, _ []float64) error {
		nTimesSteps = append(nTimesSteps, loop.LoopStep)
		return nil
	})
	EveryNSteps(loop, 4, "every_4", 0, func(loop *Loop, _ []float64) error {
		everySteps = append(everySteps, loop.LoopStep)
		return nil
	})
	numPeriodic, numPeriodicEnd := 0, 0
	PeriodicCallback(loop, 0, true, "periodic", 0, func(loop *Loop, _ []float64) error {
		numPeriodic++
		if loop.LoopStep == loop.EndStep {
			numPeriodicEnd++
		}
		return nil
	})
	_, err := loop.RunSteps(scaleDataset(1, true), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, everySteps)
	require.NotEmpty(t, nTimesSteps)
	assert.LessOrEqual(t, len(nTimesSteps), 4)
	assert.Equal(t, 9, nTimesSteps[len(nTimesSteps)-1], "last step is always included")
	// The first step only starts the clock.
	assert.Equal(t, 10, numPeriodic)
	assert.Equal(t, 1, numPeriodicEnd)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "bat", ShortName(&batchesDataset{}))
	_, _, err := (&batchesDataset{}).Yield()
	assert.Equal(t, io.EOF, err)
}
