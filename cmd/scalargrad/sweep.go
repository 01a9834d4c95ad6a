package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/internal/workerspool"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/datasets"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers/cosineschedule"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// runResult holds the outcome of one training run of a seeds sweep.
type runResult struct {
	seed                      int
	trainLoss                 float64
	evalMetrics               []float64
	evalMetricsNames          []string
	evalMetricsPrettyPrinters []func(float64) string
}

// cloneContextParams returns a new context with the same hyperparameters as ctx.
func cloneContextParams(ctx *context.Context) *context.Context {
	newCtx := context.New()
	ctx.EnumerateParams(func(scope, key string, value any) {
		newCtx.InAbsPath(scope).SetParam(key, value)
	})
	return newCtx
}

// trainRun trains one model with the hyperparameters of ctx on its own copy of ds, and evaluates it.
// It doesn't print anything, so it can be run in parallel with other runs.
func trainRun(ctx *context.Context, ds *datasets.InMemoryDataset) (*runResult, error) {
	trainDS, evalDS := trainAndEvalDatasets(ctx, ds)
	trainer, err := newTrainer(ctx)
	if err != nil {
		return nil, err
	}
	loop := train.NewLoop(trainer)
	err = exceptions.TryCatch[error](func() { cosineschedule.New(ctx).FromContext().AttachToLoop(loop) })
	if err != nil {
		return nil, err
	}
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	trainMetrics, err := loop.RunSteps(trainDS, numTrainSteps)
	if err != nil {
		return nil, err
	}
	result := &runResult{
		seed:      context.GetParamOr(ctx, context.ParamInitialSeed, 0),
		trainLoss: loop.LastLoss,
	}
	if len(trainMetrics) > 1 {
		// Moving average of the loss.
		result.trainLoss = trainMetrics[1]
	}
	if result.evalMetrics, err = trainer.Eval(evalDS); err != nil {
		return nil, err
	}
	for _, m := range trainer.EvalMetrics() {
		result.evalMetricsNames = append(result.evalMetricsNames, fmt.Sprintf("%s (%s)", m.Name(), m.ShortName()))
		result.evalMetricsPrettyPrinters = append(result.evalMetricsPrettyPrinters, m.PrettyPrint)
	}
	return result, nil
}

// trainSeeds trains numRuns models in parallel, with the hyperparameters of ctx but each with a different
// seed (starting from the one set in ctx), and prints a table with the results, sorted by the evaluation loss.
func trainSeeds(ctx *context.Context, paramsSet []string, numRuns, maxParallelism int) error {
	ds, err := createDataset(*flagData, *flagLabel)
	if err != nil {
		return err
	}
	if *flagVerbosity >= 1 && len(paramsSet) > 0 {
		klog.Infof("Hyperparameters set: %v", paramsSet)
	}
	baseSeed := context.GetParamOr(ctx, context.ParamInitialSeed, 0)
	pool := workerspool.New()
	if maxParallelism >= 0 {
		pool.SetMaxParallelism(maxParallelism)
	}
	results := make([]*runResult, numRuns)
	errs := pool.Run(numRuns, func(runIdx int) error {
		runCtx := cloneContextParams(ctx)
		runCtx.SetParam(context.ParamInitialSeed, baseSeed+runIdx)
		var err error
		results[runIdx], err = trainRun(runCtx, ds.Copy())
		if err != nil {
			return errors.WithMessagef(err, "training run #%d (seed=%d)", runIdx, baseSeed+runIdx)
		}
		klog.V(1).Infof("Run #%d finished", runIdx)
		return nil
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return printSweepResults(os.Stdout, results)
}

// printSweepResults writes a table with one row per run, sorted by the evaluation loss.
func printSweepResults(w io.Writer, results []*runResult) error {
	if len(results) == 0 {
		return nil
	}
	results = slices.Clone(results)
	slices.SortStableFunc(results, func(a, b *runResult) int {
		return cmp.Compare(a.evalMetrics[0], b.evalMetrics[0])
	})
	table := newResultsTable()
	table.Headers(append([]string{"Seed", "Train Loss (~loss)"}, results[0].evalMetricsNames...)...)
	for _, result := range results {
		row := []string{fmt.Sprintf("%d", result.seed), fmt.Sprintf("%.4g", result.trainLoss)}
		for ii, value := range result.evalMetrics {
			row = append(row, result.evalMetricsPrettyPrinters[ii](value))
		}
		table.Row(row...)
	}
	_, err := fmt.Fprintf(w, "Results of %d runs:\n%s\n", len(results), table.Render())
	return err
}
