package main

import (
	"cmp"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagMetrics = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the metrics collected for plotting in file %q", plots.TrainingPlotFileName))
	flagMetricsLabels = flag.Bool("metrics_labels", false,
		fmt.Sprintf("Lists the metrics names with their types from file %q", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "", "Regular expression that if matches the name, the metric is included.")
	flagMetricsTypes = flag.String("metrics_types", "", "Comma-separate list of metric types to include in metrics reports.")
	flagPlot         = flag.String("plot", "", "SVG file where to plot the metrics collected in the checkpoints. "+
		"You can control which metrics to plot with -metrics_names and -metrics_types. "+
		"If there is more than one metric type, one file per metric type is created.")
)

// ModelNameAndMetric holds information on the model name and one of its metric.
type ModelNameAndMetric struct{ ModelName, MetricName, MetricType string }

// metricsFilter returns a function that tells whether a point should be included in the reports, according
// to the -metrics_names and -metrics_types flags.
func metricsFilter() (func(point plots.Point) bool, error) {
	var namesMatcher *regexp.Regexp
	if *flagMetricsNames != "" {
		var err error
		namesMatcher, err = regexp.Compile(*flagMetricsNames)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compile -metrics_names=%q", *flagMetricsNames)
		}
	}
	var types map[string]bool
	if *flagMetricsTypes != "" {
		types = make(map[string]bool)
		for _, metricType := range strings.Split(*flagMetricsTypes, ",") {
			types[strings.TrimSpace(metricType)] = true
		}
	}
	return func(point plots.Point) bool {
		if namesMatcher == nil && types == nil {
			return true
		}
		return (namesMatcher != nil && namesMatcher.MatchString(point.MetricName)) || types[point.MetricType]
	}, nil
}

// loadPoints loads the plot points saved in each of the checkpoints.
func loadPoints(checkpointPaths []string) ([][]plots.Point, error) {
	points := make([][]plots.Point, len(checkpointPaths))
	foundSomething := false
	for ii, checkpointPath := range checkpointPaths {
		var err error
		points[ii], err = plots.LoadPoints(filepath.Join(checkpointPath, plots.TrainingPlotFileName))
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				continue
			}
			return nil, err
		}
		if len(points[ii]) > 0 {
			foundSomething = true
		}
	}
	if !foundSomething {
		klog.Errorf("No metrics found in file %q in paths %v", plots.TrainingPlotFileName, checkpointPaths)
	}
	return points, nil
}

// reportMetrics reports on the plot points saved in the checkpoints, according to the flags.
func reportMetrics(w io.Writer, checkpointPaths, modelNames []string) error {
	points, err := loadPoints(checkpointPaths)
	if err != nil {
		return err
	}
	include, err := metricsFilter()
	if err != nil {
		return err
	}
	nameToType := make(map[string]string)
	metricsUsed := make(map[ModelNameAndMetric]bool)
	for modelIdx, pointsPerModel := range points {
		for _, point := range pointsPerModel {
			nameToType[point.MetricName] = point.MetricType
			if include(point) {
				metricsUsed[ModelNameAndMetric{modelNames[modelIdx], point.MetricName, point.MetricType}] = true
			}
		}
	}

	// Map the metrics to the column number, starting from 1 (column 0 is for the global step)
	metricsInOrder := slices.SortedFunc(maps.Keys(metricsUsed), func(a, b ModelNameAndMetric) int {
		if c := cmp.Compare(a.MetricName, b.MetricName); c != 0 {
			return c
		}
		return cmp.Compare(a.ModelName, b.ModelName)
	})
	metricsOrder := make(map[ModelNameAndMetric]int, len(metricsInOrder))
	for idx, nameMetric := range metricsInOrder {
		metricsOrder[nameMetric] = idx + 1
	}

	if *flagMetricsLabels {
		if err = ReportMetricsLabels(w, nameToType); err != nil {
			return err
		}
	}
	if *flagMetrics {
		if err = ReportMetrics(w, modelNames, metricsOrder, points); err != nil {
			return err
		}
	}
	if *flagPlot != "" {
		return PlotMetrics(*flagPlot, modelNames, metricsUsed, points)
	}
	return nil
}

// ReportMetricsLabels lists all metrics names and their types.
func ReportMetricsLabels(w io.Writer, nameToType map[string]string) error {
	table := newPlainTable(lipgloss.Left, lipgloss.Center)
	table.Headers("Metric Name", "Type")
	for _, name := range slices.Sorted(maps.Keys(nameToType)) {
		table.Row(name, nameToType[name])
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Metrics Labels"), table.Render())
	return err
}

// formatMetric according to the metric type.
func formatMetric(point plots.Point) string {
	if point.MetricType == metrics.AccuracyMetricType {
		return fmt.Sprintf("%.2f%%", 100.0*point.Value)
	}
	return fmt.Sprintf("%.3g", point.Value)
}

// ReportMetrics writes a table with one row per global step and one column per model and metric.
// The points of each model are expected to be ordered by global step, as they are saved during training.
func ReportMetrics(w io.Writer, names []string, metricsOrder map[ModelNameAndMetric]int, points [][]plots.Point) error {
	numCheckpoints := len(names)
	table := newPlainTable(lipgloss.Right)
	header := make([]string, 1+len(metricsOrder))
	header[0] = "Global Step"
	for nameMetric, idx := range metricsOrder {
		if numCheckpoints == 1 {
			header[idx] = nameMetric.MetricName
		} else {
			header[idx] = fmt.Sprintf("%s: %s", nameMetric.ModelName, nameMetric.MetricName)
		}
	}
	table.Headers(header...)

	pointsIndices := make([]int, numCheckpoints)
	// nextGlobalStep returns the smallest global step not yet consumed, or -1 if all points were consumed.
	nextGlobalStep := func() int64 {
		globalStep := int64(-1)
		for modelIdx, pointsPerModel := range points {
			if pointsIndices[modelIdx] < len(pointsPerModel) {
				step := int64(pointsPerModel[pointsIndices[modelIdx]].Step)
				if globalStep == -1 || step < globalStep {
					globalStep = step
				}
			}
		}
		return globalStep
	}

	for currentGlobalStep := nextGlobalStep(); currentGlobalStep != -1; currentGlobalStep = nextGlobalStep() {
		row := make([]string, 1+len(metricsOrder))
		row[0] = humanize.Comma(currentGlobalStep)
		for modelIdx, pointsPerModel := range points {
			// Consume all points for the currentGlobalStep.
			for pointsIndices[modelIdx] < len(pointsPerModel) {
				point := pointsPerModel[pointsIndices[modelIdx]]
				if int64(point.Step) != currentGlobalStep {
					break
				}
				pointsIndices[modelIdx]++
				colIdx, found := metricsOrder[ModelNameAndMetric{names[modelIdx], point.MetricName, point.MetricType}]
				if found {
					row[colIdx] = formatMetric(point)
				}
			}
		}
		table.Row(row...)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Metrics Table"), table.Render())
	return err
}

// PlotMetrics plots the selected metrics of all models into SVG files, one per metric type.
func PlotMetrics(filePath string, names []string, metricsUsed map[ModelNameAndMetric]bool, points [][]plots.Point) error {
	metricsPlots := plots.New(1024, 400)
	for modelIdx, pointsPerModel := range points {
		for _, point := range pointsPerModel {
			if !metricsUsed[ModelNameAndMetric{names[modelIdx], point.MetricName, point.MetricType}] {
				continue
			}
			name := point.MetricName
			if len(names) > 1 {
				name = fmt.Sprintf("%s: %s", names[modelIdx], name)
			}
			metricsPlots.AddPoint(name, point.MetricType, point.Step, point.Value)
		}
	}
	if metricsPlots.NumPoints() == 0 {
		return errors.Errorf("no metrics selected to plot")
	}
	return metricsPlots.WriteSVGFile(filePath)
}
