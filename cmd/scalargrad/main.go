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

// scalargrad demonstrates the scalar autodiff engine: it evaluates and differentiates a fixed
// regression expression, and trains a small feed-forward network (MLP) with gradient descent.
//
// The training hyperparameters are context parameters that can be changed with -set, e.g.:
//
//	scalargrad -demo=train -set="train_steps=500;learning_rate=0.1;activation=relu"
//	scalargrad -demo=train -set="file:settings.toml" -checkpoint=~/tmp/mlp -plot=loss.svg
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"github.com/gomlx/scalargrad/pkg/ml/layers/fnn"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/scalargrad/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// ValidDemos is the list of values accepted by -demo.
var ValidDemos = []string{"expression", "train", "all"}

var (
	flagDemo = flag.String("demo", "all", fmt.Sprintf("Demo to run, one of %v.", ValidDemos))

	// Data.
	flagData  = flag.String("data", "", "CSV file with the training data, with a header and only numeric columns. If empty, a small fixed dataset of 4 examples is used.")
	flagLabel = flag.String("label", "", "Name of the CSV column with the labels. If empty, the last column is used.")

	// Outputs.
	flagPlot           = flag.String("plot", "", "SVG file where to plot the training loss at the end of training. If left empty, no plot is generated.")
	flagCheckpoint     = flag.String("checkpoint", "", "Directory save and load checkpoints from. If left empty, no checkpoints are created.")
	flagCheckpointKeep = flag.Int("checkpoint_keep", 3, "Number of checkpoints to keep, if -checkpoint is set.")
	flagVerbosity      = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose. Set to -1 to disable the progress bar.")

	// Seeds sweep.
	flagRuns     = flag.Int("runs", 1, "Number of training runs, each with a different initialization seed. If > 1, runs are trained in parallel and a summary table is printed.")
	flagParallel = flag.Int("parallel", -1, "Maximum number of parallel training runs, if -runs > 1. Set to -1 to use the number of cores.")
)

// createDefaultContext sets the context with default hyperparameters.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"train_steps": 200,

		// batch_size for training, 0 uses the whole dataset in each step.
		"batch_size": 0,

		// plot_points is the number of points collected for the plot, if -plot or -checkpoint are set.
		"plot_points": 100,

		context.ParamInitialSeed: 42,

		losses.ParamLoss:                    "mse",
		optimizers.ParamOptimizer:           "sgd",
		optimizers.ParamLearningRate:        0.05,
		optimizers.ParamSGDMomentum:         0.0,
		optimizers.ParamClipStepByValue:     0.0,
		cosineschedule.ParamPeriodSteps:     0,
		cosineschedule.ParamMinLearningRate: 0.0,
		activations.ParamActivation:         "tanh",

		// FNN network parameters, by default the classic MLP(3, [4, 4, 1]).
		fnn.ParamNumHiddenLayers:  2,
		fnn.ParamNumHiddenNodes:   4,
		fnn.ParamOutputActivation: "none",
		fnn.ParamInitializer:      "uniform",
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M = func(err error) {
		if err != nil {
			klog.Fatalf("Failed: %+v", err)
		}
	}

	if !slices.Contains(ValidDemos, *flagDemo) {
		klog.Fatalf("Flag -demo=%q invalid, valid values are %v", *flagDemo, ValidDemos)
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	if *flagDemo == "expression" || *flagDemo == "all" {
		must.M(runExpressionDemo(os.Stdout))
	}
	if *flagDemo == "train" || *flagDemo == "all" {
		if *flagRuns > 1 {
			must.M(trainSeeds(ctx, paramsSet, *flagRuns, *flagParallel))
			return
		}
		must.M(mainWithContext(ctx, *flagData, *flagCheckpoint, paramsSet))
	}
}
