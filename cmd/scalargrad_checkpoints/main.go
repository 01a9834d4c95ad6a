// scalargrad_checkpoints reports on the contents of one or more checkpoint directories, created by
// checkpoints.Handler (e.g.: with `scalargrad -checkpoint=<dir>`).
//
// It can list a summary of the models, their hyperparameters, their variables and the metrics collected
// during training for plotting. When more than one checkpoint is given, they are listed side by side, and
// differences are highlighted.
//
// It can also modify a checkpoint, deleting variables (e.g.: the optimizer state) or perturbing the
// trainable variables.
//
// Example:
//
//	scalargrad_checkpoints -summary -params -vars -metrics ~/tmp/mlp_a ~/tmp/mlp_b
package main

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/context/checkpoints"
	"github.com/gomlx/scalargrad/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagScope = flag.String("scope", "/model", "The scope of the checkpoint to inspect. "+
		"Typically, a model will have several different support variables, that may not matter -- optimizers for instance. "+
		"This flag tells which scope are considered for the various reports.")

	flagSummary = flag.Bool("summary", false, "Display a summary of the model sizes (for variables"+
		" under -scope and the global step.")
	flagParams = flag.Bool("params", false, "Lists the hyperparameters.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	must.M = func(err error) {
		if err != nil {
			klog.Fatalf("Failed: %+v", err)
		}
	}

	checkpointPaths := flag.Args()
	if len(checkpointPaths) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'scalargrad_checkpoints -help'")
		os.Exit(1)
	}
	for ii, checkpointPath := range checkpointPaths {
		checkpointPaths[ii] = must.M1(fsutil.ReplaceTildeInDir(checkpointPath))
	}

	// Commands that change the checkpoints.
	if *flagDeleteVars != "" || *flagPerturbVars > 0 {
		for _, checkpointPath := range checkpointPaths {
			if *flagDeleteVars != "" {
				must.M(DeleteVars(os.Stdout, checkpointPath, strings.Split(*flagDeleteVars, ",")...))
			}
			if *flagPerturbVars > 0 {
				must.M(PerturbVars(os.Stdout, checkpointPath, *flagPerturbVars))
			}
		}
		return
	}

	if !*flagSummary && !*flagParams && !*flagVars && !*flagMetrics && !*flagMetricsLabels && *flagPlot == "" {
		*flagSummary = true
	}
	must.M(report(os.Stdout, checkpointPaths))
}

// loadCheckpoints loads all variables and hyperparameters of each checkpoint into its own context.
func loadCheckpoints(checkpointPaths []string) (ctxs []*context.Context, err error) {
	ctxs = make([]*context.Context, len(checkpointPaths))
	for ii, checkpointPath := range checkpointPaths {
		ctxs[ii] = context.New()
		if _, err = checkpoints.Load(ctxs[ii]).Dir(checkpointPath).Immediate().Done(); err != nil {
			return nil, err
		}
	}
	return ctxs, nil
}

// report writes to w the reports selected by the flags.
func report(w io.Writer, checkpointPaths []string) error {
	names := MinimalUniquePaths(checkpointPaths...)
	if *flagSummary || *flagParams || *flagVars {
		ctxs, err := loadCheckpoints(checkpointPaths)
		if err != nil {
			return err
		}
		scopedCtxs := make([]*context.Context, len(ctxs))
		for ii, ctx := range ctxs {
			scopedCtxs[ii] = ctx
			if *flagScope != "" {
				scopedCtxs[ii] = ctx.InAbsPath(*flagScope)
			}
		}
		if *flagSummary {
			if err = Summary(w, ctxs, scopedCtxs, names); err != nil {
				return err
			}
		}
		if *flagParams {
			if err = Params(w, ctxs, names); err != nil {
				return err
			}
		}
		if *flagVars {
			for ii, scopedCtx := range scopedCtxs {
				if err = ListVariables(w, scopedCtx, names[ii]); err != nil {
					return err
				}
			}
		}
	}
	if *flagMetrics || *flagMetricsLabels || *flagPlot != "" {
		return reportMetrics(w, checkpointPaths, names)
	}
	return nil
}
