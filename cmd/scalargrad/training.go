package main

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/context/checkpoints"
	"github.com/gomlx/scalargrad/pkg/ml/datasets"
	"github.com/gomlx/scalargrad/pkg/ml/layers/fnn"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/scalargrad/pkg/support/fsutil"
	"github.com/gomlx/scalargrad/ui/commandline"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Default dataset: 4 examples with 3 features each, and their target values.
var (
	defaultInputs = [][]float64{
		{2, 3, -1},
		{3, -1, 0.5},
		{0.5, 1, 1},
		{1, 1, -1},
	}
	defaultLabels = []float64{1, -1, -1, 1}
)

// maxPredictionsPrinted is the maximum number of examples for which the predictions are printed at the end of training.
const maxPredictionsPrinted = 20

// createDataset returns the dataset read from the CSV dataPath, or the default one if dataPath is empty.
func createDataset(dataPath, labelColumn string) (*datasets.InMemoryDataset, error) {
	if dataPath == "" {
		return datasets.InMemory("default", defaultInputs, defaultLabels)
	}
	dataPath, err := fsutil.ReplaceTildeInDir(dataPath)
	if err != nil {
		return nil, err
	}
	return datasets.FromCSV(dataPath, labelColumn)
}

// trainAndEvalDatasets returns the dataset used for training, that loops indefinitely, and the one used for
// evaluation, that yields all examples once.
//
// With batch_size set, the training examples are shuffled with a generator seeded from the context
// random source, so runs with the same initializers_seed see the same batches.
func trainAndEvalDatasets(ctx *context.Context, ds *datasets.InMemoryDataset) (trainDS, evalDS *datasets.InMemoryDataset) {
	trainDS = ds.Copy().SetName("batched train", "btr").Infinite(true)
	if batchSize := context.GetParamOr(ctx, "batch_size", 0); batchSize > 0 {
		shuffleSeed := ctx.RandomSource().Uint64()
		trainDS.BatchSize(batchSize, false).
			WithRand(rand.New(rand.NewPCG(shuffleSeed, shuffleSeed))).
			Shuffle()
	}
	evalDS = ds.Copy().SetName("train", "tr")
	return
}

// ModelFn is the MLP configured by the fnn hyperparameters in the context, with one output.
func ModelFn(ctx *context.Context, inputs []*Node) *Node {
	return fnn.New(ctx.In("model"), inputs, 1).Done()[0]
}

// newTrainer creates the trainer for ModelFn, with the loss and optimizer configured in the context.
func newTrainer(ctx *context.Context) (trainer *train.Trainer, err error) {
	err = exceptions.TryCatch[error](func() {
		trainer = train.NewTrainer(ctx, ModelFn, nil, nil,
			nil, // trainMetrics
			[]metrics.Interface{metrics.NewMeanAbsoluteError("Mean Absolute Error", "#mae")}) // evalMetrics
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create trainer")
	}
	return trainer, nil
}

// mainWithContext trains the model configured in ctx on the dataset in dataPath (or the default dataset, if empty),
// optionally checkpointing to checkpointPath, and reports the evaluation at the end.
//
// paramsSet are the hyperparameters set in the command line, they take precedence over the ones loaded from
// a checkpoint.
func mainWithContext(ctx *context.Context, dataPath, checkpointPath string, paramsSet []string) error {
	ds, err := createDataset(dataPath, *flagLabel)
	if err != nil {
		return err
	}
	trainDS, evalDS := trainAndEvalDatasets(ctx, ds)

	// Read hyperparameters from context that we don't want overwritten by loading of the context from a checkpoint.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	numPlotPoints := context.GetParamOr(ctx, "plot_points", 100)

	// Checkpoints saving.
	var checkpoint *checkpoints.Handler
	globalStep := 0
	if checkpointPath != "" {
		checkpoint, err = checkpoints.Build(ctx).
			Dir(checkpointPath).
			Keep(*flagCheckpointKeep).
			ExcludeParams(append(paramsSet, "train_steps", "plot_points")...).
			Done()
		if err != nil {
			return err
		}
		fmt.Printf("Checkpointing model to %q\n", checkpoint.Dir())
		globalStep = int(optimizers.GetGlobalStep(ctx))
		if globalStep != 0 {
			fmt.Printf("Restarting training from global_step=%s\n", humanize.Comma(int64(globalStep)))
			ctx = ctx.Reuse()
		}
	}
	if *flagVerbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	} else if *flagVerbosity >= 1 && len(paramsSet) > 0 {
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	trainer, err := newTrainer(ctx)
	if err != nil {
		return err
	}

	// Use standard training loop.
	loop := train.NewLoop(trainer)
	if *flagVerbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	err = exceptions.TryCatch[error](func() { cosineschedule.New(ctx).FromContext().AttachToLoop(loop) })
	if err != nil {
		return err
	}

	// Attach a checkpoint: checkpoint every 1 minute of training, and at the end.
	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100, checkpoint.OnStepFn)
	}

	// Plot points are saved along the checkpoint, if one is given.
	if *flagPlot != "" || checkpoint != nil {
		lossPlots := plots.New(1024, 400, evalDS)
		if checkpoint != nil {
			lossPlots, err = lossPlots.WithFile(filepath.Join(checkpoint.Dir(), plots.TrainingPlotFileName))
			if err != nil {
				return err
			}
			defer func() {
				if err := lossPlots.Done(); err != nil {
					klog.Errorf("Failed to save plot points: %+v", err)
				}
			}()
		}
		if *flagPlot != "" {
			lossPlots.SVGFileOnEnd(*flagPlot)
		}
		lossPlots.Attach(loop, numPlotPoints)
	}

	// Loop for given number of steps.
	if globalStep < numTrainSteps {
		if _, err = loop.RunSteps(trainDS, numTrainSteps-globalStep); err != nil {
			return errors.WithMessagef(err, "training failed at global_step=%d", loop.LoopStep)
		}
		if *flagVerbosity >= 1 {
			fmt.Printf("\t[Step %s] median train step: %s\n",
				humanize.Comma(int64(loop.LoopStep)), commandline.FormatDuration(loop.MedianTrainStepDuration()))
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	// Finally print an evaluation and the predictions.
	fmt.Println()
	if err = commandline.ReportEval(trainer, evalDS); err != nil {
		return err
	}
	return printPredictions(trainer, ds)
}

// printPredictions prints the labels and predictions of the first examples of ds.
func printPredictions(trainer *train.Trainer, ds *datasets.InMemoryDataset) error {
	inputs, labels := ds.Examples()
	n := min(len(inputs), maxPredictionsPrinted)
	predictions, err := trainer.Predict(inputs[:n])
	if err != nil {
		return err
	}
	fmt.Println(predictionsTable(inputs[:n], labels[:n], predictions))
	if n < len(inputs) {
		fmt.Printf("\t(%s more examples not shown)\n", humanize.Comma(int64(len(inputs)-n)))
	}
	return nil
}
