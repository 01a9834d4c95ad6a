/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package cosineschedule_test

import (
	"fmt"
	"math"
	"testing"

	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers/cosineschedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineAnnealingSchedule(t *testing.T) {
	const periodInSteps = 100
	const minLearningRate = 0.001
	const baseLearningRate = 1.0

	t.Run("periodSteps", func(t *testing.T) {
		cfg := cosineschedule.New(context.New()).
			PeriodInSteps(periodInSteps).
			LearningRate(baseLearningRate).
			MinLearningRate(minLearningRate)
		for ii := range 2 * periodInSteps {
			lr := cfg.LearningRateAt(ii, -1)
			cycle := float64(ii%periodInSteps) / periodInSteps
			want := minLearningRate + (baseLearningRate-minLearningRate)*(math.Cos(cycle*math.Pi)+1)/2
			assert.InDeltaf(t, want, lr, 1e-9, "step %d", ii)
		}
		assert.InDelta(t, baseLearningRate, cfg.LearningRateAt(periodInSteps, -1), 1e-12, "restarts at each period")
	})

	t.Run("fractionOfTraining", func(t *testing.T) {
		cfg := cosineschedule.New(context.New()).PeriodInSteps(-2).LearningRate(baseLearningRate)
		// lastStep=200, so the period is 100 steps.
		assert.InDelta(t, 0.5, cfg.LearningRateAt(50, 200), 1e-9)
		assert.InDelta(t, baseLearningRate, cfg.LearningRateAt(100, 200), 1e-9)
		// Unknown last step: the period is DefaultLastStep/2, so it barely changes.
		assert.InDelta(t, baseLearningRate, cfg.LearningRateAt(50, -1), 1e-6)
	})

	t.Run("warmUp", func(t *testing.T) {
		cfg := cosineschedule.New(context.New()).PeriodInSteps(periodInSteps).LearningRate(baseLearningRate).
			WarmUpSteps(4)
		for ii, want := range []float64{0.25, 0.5, 0.75, 1, 1} {
			assert.InDelta(t, want, cfg.LearningRateAt(ii, -1), 1e-9, fmt.Sprintf("step %d", ii))
		}
		require.Panics(t, func() { cfg.WarmUpSteps(-1) })
	})
}

type constantDataset struct{}

func (constantDataset) Name() string { return "constant" }
func (constantDataset) Reset()       {}
func (constantDataset) Yield() ([][]float64, []float64, error) {
	return [][]float64{{1}}, []float64{1}, nil
}

func TestAttachToLoop(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamLearningRate:        0.1,
		cosineschedule.ParamPeriodSteps:     -1,
		cosineschedule.ParamMinLearningRate: 0.01,
	})
	modelFn := func(ctx *context.Context, inputs []*Node) *Node {
		return Mul(ctx.VariableWithValue("w", 0).Node(), inputs[0])
	}
	trainer := train.NewTrainer(ctx, modelFn, losses.MeanSquaredError, nil, nil, nil)
	loop := train.NewLoop(trainer)
	cosineschedule.New(ctx).FromContext().AttachToLoop(loop)

	var learningRates []float64
	loop.OnStep("collect", 0, func(loop *train.Loop, _ []float64) error {
		// Priority 0 runs after the schedule set the learning rate of the next step.
		learningRates = append(learningRates, context.MustGetParam[float64](ctx, optimizers.ParamLearningRate))
		return nil
	})
	_, err := loop.RunSteps(constantDataset{}, 4)
	require.NoError(t, err)
	require.Len(t, learningRates, 4)
	cfg := cosineschedule.New(ctx).PeriodInSteps(-1).LearningRate(0.1).MinLearningRate(0.01)
	for ii, lr := range learningRates {
		assert.InDelta(t, cfg.LearningRateAt(ii+1, 4), lr, 1e-9)
	}
	assert.InDelta(t, 0.01+0.09*(math.Cos(math.Pi/2)+1)/2, learningRates[1], 1e-9)

	// Without a learning rate it panics.
	require.Panics(t, func() {
		cosineschedule.New(context.New()).PeriodInSteps(10).AttachToLoop(loop)
	})
}
