package train

import (
	"io"
	"math"
	"testing"

	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/initializer"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"github.com/gomlx/scalargrad/pkg/ml/layers/fnn"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// batchesDataset yields the given batches in order, and then io.EOF. If loop is set, it restarts
// instead of returning io.EOF.
type batchesDataset struct {
	inputs [][][]float64
	labels [][]float64
	next   int
	loop   bool
	err    error
}

func (ds *batchesDataset) Name() string { return "batches" }
func (ds *batchesDataset) Reset()       { ds.next = 0 }

func (ds *batchesDataset) Yield() (inputs [][]float64, labels []float64, err error) {
	if ds.err != nil {
		return nil, nil, ds.err
	}
	if ds.next >= len(ds.inputs) {
		if !ds.loop {
			return nil, nil, io.EOF
		}
		ds.next = 0
	}
	ds.next++
	return ds.inputs[ds.next-1], ds.labels[ds.next-1], nil
}

// scaleModel is the model `w * x[0]`.
func scaleModel(ctx *context.Context, inputs []*Node) *Node {
	return Mul(ctx.VariableWithInitializer("w").Node(), inputs[0])
}

func newScaleTrainer(trainMetrics ...metrics.Interface) *Trainer {
	ctx := context.New().WithInitializer(initializer.Constant(0.5))
	opt := optimizers.StochasticGradientDescent().LearningRate(0.1).Done()
	return NewTrainer(ctx, scaleModel, losses.MeanSquaredError, opt, trainMetrics, nil)
}

func TestTrainStep(t *testing.T) {
	trainer := newScaleTrainer()
	inputs, labels := [][]float64{{1}, {2}}, []float64{2, 4}

	// loss = ((0.5-2)² + (1-4)²)/2 = 5.625; dLoss/dw = (2*(-1.5)*1 + 2*(-3)*2)/2 = -7.5
	metricValues, err := trainer.TrainStep(inputs, labels)
	require.NoError(t, err)
	require.Len(t, metricValues, 2)
	assert.InDelta(t, 5.625, metricValues[0], 1e-12)
	assert.InDelta(t, 5.625, metricValues[1], 1e-12)
	w := trainer.Context().InspectVariable(context.RootScope, "w")
	require.NotNil(t, w)
	assert.InDelta(t, 1.25, w.Value(), 1e-12)
	assert.Equal(t, int64(1), trainer.GlobalStep())

	// Second step reuses the variable: loss = ((1.25-2)² + (2.5-4)²)/2 = 1.40625.
	metricValues, err = trainer.TrainStep(inputs, labels)
	require.NoError(t, err)
	assert.InDelta(t, 1.40625, metricValues[0], 1e-12)
	assert.InDelta(t, (5.625+1.40625)/2, metricValues[1], 1e-12)
	assert.Equal(t, int64(2), trainer.GlobalStep())
	assert.Equal(t, 1, trainer.Context().NumParameters())

	// Predictions don't change the variables.
	predictions, err := trainer.Predict(inputs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{w.Value(), 2 * w.Value()}, predictions, 1e-12)
	assert.Equal(t, int64(2), trainer.GlobalStep())
}

func TestTrainStepErrors(t *testing.T) {
	trainer := newScaleTrainer()
	_, err := trainer.TrainStep(nil, nil)
	require.Error(t, err)
	_, err = trainer.TrainStep([][]float64{{1}, {2}}, []float64{1})
	require.Error(t, err)
	_, err = trainer.TrainStep([][]float64{{1}, {2, 3}}, []float64{1, 2})
	require.Error(t, err)

	// Graph building errors are returned as errors.
	ctx := context.New()
	badModel := func(ctx *context.Context, inputs []*Node) *Node { return inputs[3] }
	trainer = NewTrainer(ctx, badModel, nil, nil, nil, nil)
	_, err = trainer.TrainStep([][]float64{{1}}, []float64{1})
	require.Error(t, err)

	// NaN gradients are reported by the optimizer.
	nanModel := func(ctx *context.Context, inputs []*Node) *Node {
		return Mul(ctx.VariableWithValue("w", math.NaN()).Node(), inputs[0])
	}
	trainer = NewTrainer(context.New(), nanModel, nil, nil, nil, nil)
	_, err = trainer.TrainStep([][]float64{{1}}, []float64{1})
	require.Error(t, err)
}

func TestEval(t *testing.T) {
	trainer := newScaleTrainer(metrics.NewMeanAbsoluteError("Mean Absolute Error", "mae"))
	ds := &batchesDataset{
		inputs: [][][]float64{{{1}, {2}}, {{4}}},
		labels: [][]float64{{2, 4}, {8}},
	}
	evalValues, err := trainer.Eval(ds)
	require.NoError(t, err)
	require.Len(t, evalValues, 1)

	// Mean loss over the 3 examples: (1.5² + 3² + 6²)/3 = 15.75
	assert.InDelta(t, 15.75, evalValues[0], 1e-12)
	assert.Equal(t, int64(0), trainer.GlobalStep())
	assert.Len(t, trainer.TrainMetrics(), 3)
	assert.Equal(t, MeanLossName, trainer.EvalMetrics()[0].Name())

	// Running it again resets the dataset and the metrics.
	evalValues, err = trainer.Eval(ds)
	require.NoError(t, err)
	assert.InDelta(t, 15.75, evalValues[0], 1e-12)

	ds.err = errors.New("broken")
	_, err = trainer.Eval(ds)
	require.Error(t, err)
}

// xorLikeDataset is the classic 4 examples binary classifier dataset.
func xorLikeDataset() *batchesDataset {
	return &batchesDataset{
		inputs: [][][]float64{{{2, 3, -1}, {3, -1, 0.5}, {0.5, 1, 1}, {1, 1, -1}}},
		labels: [][]float64{{1, -1, -1, 1}},
		loop:   true,
	}
}

func mlpModel(ctx *context.Context, inputs []*Node) *Node {
	return fnn.New(ctx, inputs, 1).
		NumHiddenLayers(2, 4).
		Activation(activations.TypeTanh).
		OutputActivation(activations.TypeTanh).
		Done()[0]
}

func TestTrainMLP(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		context.ParamInitialSeed:     42,
		optimizers.ParamLearningRate: 0.05,
	})
	trainer := NewTrainer(ctx, mlpModel, losses.SumSquaredError, nil,
		[]metrics.Interface{metrics.NewMeanBinaryAccuracy("Mean Accuracy", "acc")}, nil)
	loop := NewLoop(trainer)
	var lossHistory []float64
	loop.OnStep("collect", 0, func(loop *Loop, metrics []float64) error {
		lossHistory = append(lossHistory, metrics[0])
		return nil
	})
	ds := xorLikeDataset()
	metricValues, err := loop.RunSteps(ds, 200)
	require.NoError(t, err)
	require.Len(t, lossHistory, 200)
	assert.Less(t, lossHistory[199], lossHistory[0]/10)
	assert.Equal(t, lossHistory[199], loop.LastLoss)
	assert.Equal(t, 41, ctx.NumParameters())
	assert.Equal(t, int64(200), trainer.GlobalStep())
	assert.Len(t, metricValues, 3)

	predictions, err := trainer.Predict(ds.inputs[0])
	require.NoError(t, err)
	for ii, label := range ds.labels[0] {
		assert.Greater(t, predictions[ii]*label, 0.0, "example #%d", ii)
	}
}
