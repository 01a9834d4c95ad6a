// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn returns a name and a formatted value to show along with the progress bar.
// It is called at every update.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the longest time between updates of the progress bar.
var RefreshPeriod = 3 * time.Second

// ProgressbarStyle is the theme of the bar. progressbar.ThemeUnicode looks better, if the terminal supports it.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName names the hooks AttachProgressBar adds to the loop.
const ProgressBarName = "scalargrad.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = normalStyle.Align(lipgloss.Right)
	tableBorderColor  = "#705090"
)

// minRedrawInterval limits how often the terminal is redrawn.
const minRedrawInterval = 200 * time.Millisecond

// AttachProgressBar shows the progress of every run of loop on the standard output, with the
// train metrics and the values of extraMetrics.
//
// On a terminal, the metrics are drawn in a table above the bar, redrawn in place. Otherwise, each
// update is one line, with the metrics appended to the bar.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	attachProgressBar(loop, os.Stdout, !isatty.IsTerminal(os.Stdout.Fd()), extraMetrics...)
}

type progressBar struct {
	out          io.Writer
	plain        bool
	extraMetrics []ExtraMetricFn

	bar         *progressbar.ProgressBar
	size        int
	nextStep    int
	suffix      string
	metricNames []string

	// Terminal only: a goroutine draws the updates, so a slow terminal doesn't slow training down.
	term         *termenv.Output
	table        *lgtable.Table
	linesDrawn   int
	updates      chan statsUpdate
	drawerExited sync.WaitGroup
}

// statsUpdate is a formatted snapshot of the loop, drawn by the terminal goroutine.
type statsUpdate struct {
	steps       int
	position    string
	medianStep  time.Duration
	metrics     []string
	extraNames  []string
	extraValues []string
}

func attachProgressBar(loop *train.Loop, out io.Writer, plain bool, extraMetrics ...ExtraMetricFn) *progressBar {
	pb := &progressBar{out: out, plain: plain, extraMetrics: extraMetrics}
	if !plain {
		pb.term = termenv.NewOutput(out)
		pb.table = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(_, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
	}
	loop.OnStart(ProgressBarName, 0, pb.onStart)
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pb.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pb.onStep)
	loop.OnEnd(ProgressBarName, 0, pb.onEnd)
	return pb
}

// expectedSteps of the run, with a guess while RunEpochs doesn't know it.
func expectedSteps(loop *train.Loop) int {
	if loop.EndStep < 0 {
		return 1000
	}
	return max(loop.EndStep-loop.StartStep, 1)
}

// Write implements io.Writer for the bar, appending the suffix to each of its writes.
func (pb *progressBar) Write(data []byte) (int, error) {
	n, err := pb.out.Write(data)
	if err == nil {
		_, err = io.WriteString(pb.out, pb.suffix)
	}
	return n, err
}

func (pb *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	pb.nextStep = loop.LoopStep
	pb.size = expectedSteps(loop)
	pb.metricNames = pb.metricNames[:0]
	for _, m := range loop.Trainer.TrainMetrics() {
		pb.metricNames = append(pb.metricNames, m.Name())
	}
	description := "      "
	if !pb.plain {
		description += "[bold]"
	}
	pb.bar = progressbar.NewOptions(pb.size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(!pb.plain),
		progressbar.OptionEnableColorCodes(!pb.plain),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pb),
	)
	if !pb.plain {
		pb.linesDrawn = 0
		pb.updates = make(chan statsUpdate, 100)
		pb.drawerExited.Add(1)
		go pb.drawUpdates()
	}
	return nil
}

func (pb *progressBar) onStep(loop *train.Loop, metrics []float64) error {
	steps := loop.LoopStep + 1 - pb.nextStep
	if pb.bar.IsFinished() || steps <= 0 {
		return nil
	}
	pb.nextStep = loop.LoopStep + 1
	if size := expectedSteps(loop); size != pb.size {
		pb.size = size
		pb.bar.ChangeMax(size)
	}

	trainMetrics := loop.Trainer.TrainMetrics()
	if pb.plain {
		var sb strings.Builder
		fmt.Fprintf(&sb, " [step=%d]", loop.LoopStep)
		for ii, m := range trainMetrics {
			fmt.Fprintf(&sb, " [%s=%s]", m.ShortName(), m.PrettyPrint(metrics[ii]))
		}
		sb.WriteString("        ")
		pb.suffix = sb.String()
		_ = pb.bar.Add(steps)
		return nil
	}

	endStep := "?"
	if loop.EndStep >= 0 {
		endStep = humanize.Comma(int64(loop.EndStep))
	}
	update := statsUpdate{
		steps:      steps,
		position:   humanize.Comma(int64(loop.LoopStep)) + " of " + endStep,
		medianStep: loop.MedianTrainStepDuration(),
	}
	for ii, m := range trainMetrics {
		update.metrics = append(update.metrics, m.PrettyPrint(metrics[ii]))
	}
	for _, fn := range pb.extraMetrics {
		name, value := fn()
		update.extraNames = append(update.extraNames, name)
		update.extraValues = append(update.extraValues, value)
	}
	pb.updates <- update
	return nil
}

func (pb *progressBar) onEnd(*train.Loop, []float64) error {
	if pb.updates != nil {
		close(pb.updates)
		pb.drawerExited.Wait()
		pb.updates = nil
		pb.term.ShowCursor()
	}
	_, err := fmt.Fprintln(pb.out)
	return err
}

// drawUpdates draws the updates until the channel is closed. Pending updates are merged,
// and the terminal is redrawn at most every minRedrawInterval.
func (pb *progressBar) drawUpdates() {
	defer pb.drawerExited.Done()
	for update := range pb.updates {
		steps := update.steps
	merge:
		for {
			select {
			case next, ok := <-pb.updates:
				if !ok {
					break merge
				}
				steps += next.steps
				update = next
			default:
				break merge
			}
		}
		pb.draw(update, steps)
		time.Sleep(minRedrawInterval)
	}
}

func (pb *progressBar) draw(update statsUpdate, steps int) {
	pb.table.Data(lgtable.NewStringData())
	pb.table.Row("Global Step", update.position)
	pb.table.Row("Median train step duration", FormatDuration(update.medianStep))
	for ii, value := range update.metrics {
		pb.table.Row(pb.metricNames[ii], value)
	}
	for ii, name := range update.extraNames {
		pb.table.Row(name, update.extraValues[ii])
	}
	stats := lipgloss.NewStyle().PaddingLeft(8).Render(pb.table.String())

	pb.term.HideCursor()
	if pb.linesDrawn > 0 {
		pb.term.CursorPrevLine(pb.linesDrawn)
	}
	pb.suffix = "\033[J" // Clears leftovers of the previous draw.
	_, _ = fmt.Fprintln(pb.out, stats)
	_ = pb.bar.Add(steps)
	_, _ = fmt.Fprintln(pb.out)
	pb.linesDrawn = strings.Count(stats, "\n") + 2
	pb.term.ShowCursor()
}
