// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nin

import (
	"fmt"
	"os"
)

// Verbosity controls how much a Status prints per executed edge.
type Verbosity int

const (
	Quiet Verbosity = iota
	NoStatusUpdate
	Normal
	Verbose
)

// Status is the build's progress reporter: told when edges start and
// finish, and asked to render a one-line progress summary.
type Status interface {
	PlanHasTotalEdges(total int)
	BuildEdgeStarted(e *Edge, startMillis int64)
	BuildEdgeFinished(e *Edge, endMillis int64, success bool, output string)
	BuildStarted()
	BuildFinished()

	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// StatusPrinter is the default Status: it prints a configurable progress
// line per edge start/finish and echoes subprocess output, matching the
// conventions ninja's NINJA_STATUS-driven printer established.
type StatusPrinter struct {
	Verbosity Verbosity
	Parallelism int

	startedEdges, finishedEdges, totalEdges, runningEdges int
	timeMillis                                            int64

	printer *LinePrinter

	progressFormat string
	rate           slidingRate
}

type slidingRate struct {
	rate       float64
	window     int
	samples    []float64
	lastUpdate int
}

func (r *slidingRate) update(updateHint int, timeMillis int64) {
	if updateHint == r.lastUpdate {
		return
	}
	r.lastUpdate = updateHint
	if len(r.samples) == r.window && r.window > 0 {
		r.samples = r.samples[1:]
	}
	r.samples = append(r.samples, float64(timeMillis))
	if len(r.samples) < 2 {
		return
	}
	front, back := r.samples[0], r.samples[len(r.samples)-1]
	if back != front {
		r.rate = float64(len(r.samples)) / ((back - front) / 1e3)
	}
}

// NewStatusPrinter creates a status printer for a build running at the
// given parallelism and verbosity. $NINJA_STATUS, if set, overrides the
// default "[%f/%t] " progress format.
func NewStatusPrinter(verbosity Verbosity, parallelism int) *StatusPrinter {
	s := &StatusPrinter{
		Verbosity:   verbosity,
		Parallelism: parallelism,
		printer:     NewLinePrinter(),
		rate:        slidingRate{rate: -1, window: parallelism, lastUpdate: -1},
	}
	if verbosity != Normal {
		s.printer.SetSmartTerminal(false)
	}
	s.progressFormat = os.Getenv("NINJA_STATUS")
	if s.progressFormat == "" {
		s.progressFormat = "[%f/%t] "
	}
	return s
}

func (s *StatusPrinter) PlanHasTotalEdges(total int) { s.totalEdges = total }

func (s *StatusPrinter) BuildEdgeStarted(e *Edge, startMillis int64) {
	s.startedEdges++
	s.runningEdges++
	s.timeMillis = startMillis
	if e.UseConsole() || s.printer.IsSmartTerminal() {
		s.printStatus(e, startMillis)
	}
	if e.UseConsole() {
		s.printer.SetConsoleLocked(true)
	}
}

func (s *StatusPrinter) BuildEdgeFinished(e *Edge, endMillis int64, success bool, output string) {
	s.timeMillis = endMillis
	s.finishedEdges++

	if e.UseConsole() {
		s.printer.SetConsoleLocked(false)
	}
	if s.Verbosity == Quiet {
		return
	}
	if !e.UseConsole() {
		s.printStatus(e, endMillis)
	}
	s.runningEdges--

	if !success {
		outputs := ""
		for _, o := range e.Outputs {
			outputs += o.Path + " "
		}
		s.printer.PrintOnNewLine(colorizeFailure(s.printer.SupportsColor(), outputs))
		s.printer.PrintOnNewLine(e.EvaluateCommand() + "\n")
	}

	if output != "" {
		final := output
		if !s.printer.SupportsColor() {
			final = stripAnsiEscapeCodes(output)
		}
		s.printer.PrintOnNewLine(final)
	}
}

func (s *StatusPrinter) BuildStarted() {
	s.startedEdges, s.finishedEdges, s.runningEdges = 0, 0, 0
}

func (s *StatusPrinter) BuildFinished() {
	s.printer.SetConsoleLocked(false)
	s.printer.PrintOnNewLine("")
}

// formatProgressStatus expands the %x placeholders documented for
// $NINJA_STATUS against the printer's current counters.
func (s *StatusPrinter) formatProgressStatus(format string, timeMillis int64) string {
	var out []byte
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(format) {
			break
		}
		switch format[i] {
		case '%':
			out = append(out, '%')
		case 's':
			out = append(out, fmt.Sprintf("%d", s.startedEdges)...)
		case 't':
			out = append(out, fmt.Sprintf("%d", s.totalEdges)...)
		case 'r':
			out = append(out, fmt.Sprintf("%d", s.runningEdges)...)
		case 'u':
			out = append(out, fmt.Sprintf("%d", s.totalEdges-s.startedEdges)...)
		case 'f':
			out = append(out, fmt.Sprintf("%d", s.finishedEdges)...)
		case 'o':
			if s.timeMillis == 0 {
				out = append(out, '?')
			} else {
				rate := float64(s.finishedEdges) / float64(s.timeMillis) * 1000
				out = append(out, fmt.Sprintf("%.1f", rate)...)
			}
		case 'c':
			s.rate.update(s.finishedEdges, s.timeMillis)
			if s.rate.rate < 0 {
				out = append(out, '?')
			} else {
				out = append(out, fmt.Sprintf("%.1f", s.rate.rate)...)
			}
		case 'p':
			percent := 0
			if s.totalEdges > 0 {
				percent = 100 * s.finishedEdges / s.totalEdges
			}
			out = append(out, fmt.Sprintf("%3d%%", percent)...)
		case 'e':
			out = append(out, fmt.Sprintf("%.3f", float64(s.timeMillis)*0.001)...)
		default:
			out = append(out, '%', format[i])
		}
	}
	return string(out)
}

func (s *StatusPrinter) printStatus(e *Edge, timeMillis int64) {
	if s.Verbosity == Quiet || s.Verbosity == NoStatusUpdate {
		return
	}
	forceFull := s.Verbosity == Verbose

	toPrint := e.GetBindingRaw("description")
	if toPrint == "" || forceFull {
		toPrint = e.GetBinding("command")
	}
	toPrint = s.formatProgressStatus(s.progressFormat, timeMillis) + toPrint

	lt := Elide
	if forceFull {
		lt = Full
	}
	s.printer.Print(toPrint, lt)
}

func (s *StatusPrinter) Warning(format string, args ...interface{}) { warningf(format, args...) }
func (s *StatusPrinter) Error(format string, args ...interface{})   { errorf(format, args...) }
func (s *StatusPrinter) Info(format string, args ...interface{})    { infof(format, args...) }
