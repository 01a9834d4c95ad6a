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

// Package plots implements plotting of the metrics registered in a trainer, using the
// Margaid library (https://github.com/erkkah/margaid/) to draw SVG files.
//
// Plots are organized per "metric type" (e.g.: "loss", "accuracy"): series of the same metric type
// share the same Y-axis and hence the same plot.
//
// Example: plot 100 points during training of the training metrics as well as the eval metrics
// measured on validationDS, saving the plot at the end of the training:
//
//	plots := plots.New(1024, 400, validationDS).SVGFileOnEnd("loss.svg")
//	plots.Attach(loop, 100)
package plots

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	mg "github.com/erkkah/margaid"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the name of the file within the checkpoint directory where the plot points
// are saved, see Plots.WithFile.
const TrainingPlotFileName = "training_plot_points.json"

// Point represents a training plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point.
	MetricName string

	// MetricType typically will be "loss", "accuracy".
	// It's used in plotting to aggregate similar metric types in the same plot.
	MetricType string

	// Step is the global step this metric was measured.
	// Usually, this is an int value, stored as a float64.
	Step float64

	// Value is the metric captured.
	Value float64
}

// Plots holds many plots for different metrics. They are organized per "metric type", where
// the metric type is a unit/quantity unique name.
type Plots struct {
	// Image dimensions.
	Width, Height int

	// EvalDatasets will be evaluated with `train.Trainer.Eval()` and its metrics collected.
	EvalDatasets []train.Dataset

	// PerMetricType holds one Plot per metric type.
	PerMetricType map[string]*Plot

	// Default projection of the graph on X, Y axis.
	xProjection, yProjection mg.Projection

	// fileWriter saves the points asynchronously, and reports its final error to fileWriterDone.
	fileWriter     chan Point
	fileWriterDone chan error

	svgPathOnEnd string
}

// Plot struct holds the series to different metrics that share the same Y axis.
// They are organized per name of the metric.
type Plot struct {
	MetricType string

	// PerName maps a metric name to its series.
	PerName map[string]*mg.Series

	// allPoints collects all points from all series, to configure the axis.
	allPoints *mg.Series

	// points in the order they were added, used by Table.
	points []Point

	xProjection, yProjection mg.Projection
}

// New creates new plots structure.
//
// It starts empty and can have the points added manually with Plots.AddPoint or automatically with Plots.Attach.
func New(width, height int, evalDatasets ...train.Dataset) *Plots {
	return &Plots{
		Width:         width,
		Height:        height,
		EvalDatasets:  evalDatasets,
		PerMetricType: make(map[string]*Plot),
		xProjection:   mg.Lin,
		yProjection:   mg.Lin,
	}
}

// LogScaleX sets Plots to use a log scale on the X-axis. Steps must then be > 0.
// If not set, it uses linear scale.
func (ps *Plots) LogScaleX() *Plots {
	ps.xProjection = mg.Log
	return ps
}

// LogScaleY sets Plots to use a log scale on the Y-axis.
// If not set, it uses linear scale.
func (ps *Plots) LogScaleY() *Plots {
	ps.yProjection = mg.Log
	return ps
}

// SVGFileOnEnd configures Plots to write the SVG plots (see WriteSVGFile) at the end of the training loop
// it is attached to.
func (ps *Plots) SVGFileOnEnd(filePath string) *Plots {
	ps.svgPathOnEnd = filePath
	return ps
}

// WithFile uses the filePath both to load data points and to save any new data points.
//
// New data-points are saved asynchronously -- not to slow down training, with the downside of
// having I/O issues reported only when Done is called.
func (ps *Plots) WithFile(filePath string) (*Plots, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	points, err := LoadPoints(filePath)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	for _, point := range points {
		ps.AddPoint(point.MetricName, point.MetricType, point.Step, point.Value)
	}

	// Create/append file with upcoming metrics.
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open Plots file %q for append", filePath)
	}
	ps.fileWriter = make(chan Point, 100)
	ps.fileWriterDone = make(chan error, 1)
	go func(f *os.File, fileWriter <-chan Point, done chan<- error) {
		enc := json.NewEncoder(f)
		var err error
		for point := range fileWriter {
			if err != nil {
				continue
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to write to Plots file %q", filePath)
				klog.Errorf("%+v", err)
			}
		}
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close Plots file %q", filePath)
		}
		done <- err
	}(f, ps.fileWriter, ps.fileWriterDone)
	return ps, nil
}

// Done indicates that no more points are coming. This closes the asynchronous job writing new points,
// and returns any error it may have had.
func (ps *Plots) Done() error {
	if ps.fileWriter == nil {
		return nil
	}
	close(ps.fileWriter)
	ps.fileWriter = nil
	return <-ps.fileWriterDone
}

// LoadPoints parses all plot points saved in the given file, as saved by Plots.WithFile.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	// Read previously stored points.
	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding Plots file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// Attach plots to the given loop, collecting metric values numPoints times during the loop. For each
// EvalDatasets given to `Plots.New()`, their metrics are evaluated and also plotted.
//
// If SVGFileOnEnd was configured, the plots are written at the end of the loop.
func (ps *Plots) Attach(loop *train.Loop, numPoints int) {
	train.NTimesDuringLoop(loop, numPoints, "plots", 0, ps.AddTrainAndEvalMetrics)
	loop.OnEnd("plots", 120, func(_ *train.Loop, _ []float64) error {
		if ps.svgPathOnEnd == "" {
			return nil
		}
		return ps.WriteSVGFile(ps.svgPathOnEnd)
	})
}

// AddTrainAndEvalMetrics will add the given train metrics, and run `loop.Trainer.Eval()` on each of the
// datasets registered and include those metrics.
//
// This function can be set as a callback to the `train.Loop`, at some desired frequency.
// It is used by Plots.Attach, for instance.
func (ps *Plots) AddTrainAndEvalMetrics(loop *train.Loop, trainMetrics []float64) error {
	// Training metrics are pre-generated and given.
	step := float64(loop.LoopStep)
	for ii, desc := range loop.Trainer.TrainMetrics() {
		if desc.Name() == train.BatchLossName {
			// Skip the batch loss, that is not very informative -- it fluctuates a lot at each batch,
			// and the trainer always includes the moving average loss.
			continue
		}
		ps.AddPoint("Train: "+desc.Name(), desc.MetricType(), step, trainMetrics[ii])
	}

	// Eval metrics, if given
	for _, ds := range ps.EvalDatasets {
		evalMetrics, err := loop.Trainer.Eval(ds)
		if err != nil {
			return errors.WithMessagef(err, "plots failed to evaluate on %q", ds.Name())
		}
		for ii, desc := range loop.Trainer.EvalMetrics() {
			ps.AddPoint(fmt.Sprintf("Eval on %s: %s", ds.Name(), desc.Name()), desc.MetricType(), step, evalMetrics[ii])
		}
	}
	return nil
}

// AddPoint adds a point for the given metric: `step` is the x-axis, and `value` is the y-axis.
// Metrics with the same type share the same plot and y-axis.
//
// Non-finite values are ignored.
func (ps *Plots) AddPoint(metricName, metricType string, step, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) || math.IsNaN(step) || math.IsInf(step, 0) {
		return
	}
	point := Point{MetricName: metricName, MetricType: metricType, Step: step, Value: value}
	if ps.fileWriter != nil {
		// Save point asynchronously.
		ps.fileWriter <- point
	}
	p, found := ps.PerMetricType[metricType]
	if !found {
		p = &Plot{
			MetricType:  metricType,
			PerName:     make(map[string]*mg.Series),
			allPoints:   mg.NewSeries(),
			xProjection: ps.xProjection,
			yProjection: ps.yProjection,
		}
		ps.PerMetricType[metricType] = p
	}
	p.AddPoint(point)
}

// AddValues is a shortcut to add all `values` as y-coordinates, and it uses the indices
// of the values as x-coordinate.
func (ps *Plots) AddValues(metricName, metricType string, values []float64) {
	for ii, v := range values {
		ps.AddPoint(metricName, metricType, float64(ii), v)
	}
}

// NumPoints returns the total number of points added.
func (ps *Plots) NumPoints() int {
	total := 0
	for _, p := range ps.PerMetricType {
		total += len(p.points)
	}
	return total
}

// MetricTypes returns the sorted metric types with points.
func (ps *Plots) MetricTypes() []string {
	return slices.Sorted(maps.Keys(ps.PerMetricType))
}

// AddPoint to the series of the point's metric name.
func (p *Plot) AddPoint(point Point) {
	s, found := p.PerName[point.MetricName]
	if !found {
		s = mg.NewSeries(mg.Titled(point.MetricName))
		p.PerName[point.MetricName] = s
	}
	mgValue := mg.MakeValue(point.Step, point.Value)
	s.Add(mgValue)
	p.allPoints.Add(mgValue)
	p.points = append(p.points, point)
}

// RenderSVG renders the plot of all the series of the metric type to w.
func (p *Plot) RenderSVG(w io.Writer, width, height int) error {
	if len(p.PerName) == 0 {
		return errors.Errorf("no points to plot for metric type %q", p.MetricType)
	}
	names := slices.Sorted(maps.Keys(p.PerName))
	allSeries := make([]*mg.Series, 0, len(names))
	for _, name := range names {
		allSeries = append(allSeries, p.PerName[name])
	}
	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithProjection(mg.XAxis, p.xProjection),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithProjection(mg.YAxis, p.yProjection),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(p.allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Steps")
	diagram.Axis(p.allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, p.MetricType)
	diagram.Frame()
	if p.MetricType != "" {
		diagram.Title(fmt.Sprintf("%s metrics", p.MetricType))
	}
	if len(names) > 1 || names[0] != "" {
		diagram.Legend(mg.BottomLeft)
	}
	if err := diagram.Render(w); err != nil {
		return errors.Wrapf(err, "failed to render plot for %q", p.MetricType)
	}
	return nil
}

// RenderSVG renders the plot of the given metric type to w.
func (ps *Plots) RenderSVG(w io.Writer, metricType string) error {
	p, found := ps.PerMetricType[metricType]
	if !found {
		return errors.Errorf("no points for metric type %q, available metric types: %q", metricType, ps.MetricTypes())
	}
	return p.RenderSVG(w, ps.Width, ps.Height)
}

// SVGFilePaths returns the file paths WriteSVGFile writes to: filePath itself if there is only one
// metric type, otherwise one file per metric type, with its name inserted before the extension.
func (ps *Plots) SVGFilePaths(filePath string) map[string]string {
	metricTypes := ps.MetricTypes()
	paths := make(map[string]string, len(metricTypes))
	if len(metricTypes) == 1 {
		paths[metricTypes[0]] = filePath
		return paths
	}
	ext := filepath.Ext(filePath)
	base := strings.TrimSuffix(filePath, ext)
	for _, metricType := range metricTypes {
		paths[metricType] = fmt.Sprintf("%s_%s%s", base, metricType, ext)
	}
	return paths
}

// WriteSVGFile writes the plots to SVG files, see SVGFilePaths for the names used.
func (ps *Plots) WriteSVGFile(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	if len(ps.PerMetricType) == 0 {
		return errors.Errorf("no points to plot to %q", filePath)
	}
	for metricType, path := range ps.SVGFilePaths(filePath) {
		var buf bytes.Buffer
		if err := ps.RenderSVG(&buf, metricType); err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0664); err != nil {
			return errors.Wrapf(err, "failed to write plot to %q", path)
		}
		klog.V(1).Infof("plot of %q metrics written to %q", metricType, path)
	}
	return nil
}

// Table returns a table with the first column being the `Step` followed by one column per metric name,
// of all metric types.
func (ps *Plots) Table() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	// Collect points per step, and metric names sorted by their type and then by their name.
	var metricNames []string
	perStep := make(map[float64]map[string]float64)
	for _, metricType := range ps.MetricTypes() {
		p := ps.PerMetricType[metricType]
		metricNames = append(metricNames, slices.Sorted(maps.Keys(p.PerName))...)
		for _, point := range p.points {
			if perStep[point.Step] == nil {
				perStep[point.Step] = make(map[string]float64)
			}
			perStep[point.Step][point.MetricName] = point.Value
		}
	}
	table.Headers(append([]string{"Step"}, metricNames...)...)
	for _, step := range slices.Sorted(maps.Keys(perStep)) {
		row := make([]string, 1+len(metricNames))
		row[0] = fmt.Sprintf("%.0f", step)
		for ii, name := range metricNames {
			if value, found := perStep[step][name]; found {
				row[ii+1] = fmt.Sprintf("%g", value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}
