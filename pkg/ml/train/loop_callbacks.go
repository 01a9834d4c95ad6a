// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"time"
)

// NTimesDuringLoop calls fn after about n evenly spaced steps of each run, and always after the last one.
//
// While the end of the run is unknown (first epoch of RunEpochs) it calls fn after 128, 256, 512, ...
// steps, so it may be called more than n times.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	calls := 0
	loop.OnStart(name, priority, func(*Loop, Dataset) error {
		calls = 0
		return nil
	})
	loop.OnStep(fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name), priority, func(loop *Loop, metrics []float64) error {
		done := loop.LoopStep - loop.StartStep + 1
		switch {
		case loop.EndStep < 0:
			if done < 128<<calls {
				return nil
			}
		case loop.LoopStep < loop.EndStep-1:
			interval := float64(loop.EndStep-loop.StartStep) / float64(n)
			if interval > 1 && float64(calls) > float64(done)/interval {
				return nil
			}
		}
		calls++
		return fn(loop, metrics)
	})
}

// EveryNSteps calls fn after every n steps. It is not called after the last step, unless it falls on a multiple of n.
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	count := 0
	loop.OnStep(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, func(loop *Loop, metrics []float64) error {
		count++
		if count%n != 0 {
			return nil
		}
		return fn(loop, metrics)
	})
}

// PeriodicCallback calls fn after a step when at least period passed since the previous call ended
// (or since the first step of the loop), and at the end of the loop if callOnEnd is set.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	var last time.Time
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnStep(fullName, priority, func(loop *Loop, metrics []float64) error {
		if last.IsZero() {
			last = time.Now()
			return nil
		}
		if time.Since(last) < period {
			return nil
		}
		err := fn(loop, metrics)
		last = time.Now()
		return err
	})
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(loop *Loop, metrics []float64) error { return fn(loop, metrics) })
	}
}
