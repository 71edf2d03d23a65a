// Copyright 2013 Google Inc. All Rights Reserved.
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
	"golang.org/x/term"
	"os"
	"strings"

	"github.com/fatih/color"
)

// LineType selects whether a printed status line may be truncated to fit
// the terminal width (Elide) or must be printed in full (Full).
type LineType int

const (
	Full LineType = iota
	Elide
)

// LinePrinter prints overwritable status lines to stdout when stdout is a
// smart terminal, and falls back to one line per Print call otherwise (a
// log file or a CI pipe, say).
type LinePrinter struct {
	smartTerminal  bool
	supportsColor  bool
	haveBlankLine  bool
	consoleLocked  bool
	lineBuffer     string
	lineType       LineType
	outputBuffer   string
}

// NewLinePrinter probes stdout and $TERM/$CLICOLOR_FORCE to decide whether
// fancy overprinting and color are available.
func NewLinePrinter() *LinePrinter {
	l := &LinePrinter{haveBlankLine: true}
	term := os.Getenv("TERM")
	l.smartTerminal = isTerminal(os.Stdout.Fd()) && term != "dumb"
	l.supportsColor = l.smartTerminal || os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0"
	return l
}

func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// terminalWidth returns stdout's column count, if it is a terminal.
func terminalWidth() (int, bool) {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, false
	}
	return w, true
}

func (l *LinePrinter) IsSmartTerminal() bool    { return l.smartTerminal }
func (l *LinePrinter) SetSmartTerminal(v bool)  { l.smartTerminal = v }
func (l *LinePrinter) SupportsColor() bool      { return l.supportsColor }

// Print overprints the previous status line (on a smart terminal) or emits
// toPrint on its own line. While the console is locked (a console-pool
// subprocess is running) the line is buffered instead.
func (l *LinePrinter) Print(toPrint string, typ LineType) {
	if l.consoleLocked {
		l.lineBuffer = toPrint
		l.lineType = typ
		return
	}

	if l.smartTerminal {
		fmt.Print("\r")
	}

	if l.smartTerminal && typ == Elide {
		if w, ok := terminalWidth(); ok {
			toPrint = elideMiddle(toPrint, w)
		}
		fmt.Print(toPrint, "\x1b[K")
		l.haveBlankLine = false
	} else {
		fmt.Println(toPrint)
	}
}

// PrintOnNewLine flushes any buffered console output, ensures the cursor is
// on a blank line, and writes toPrint verbatim (no overprinting).
func (l *LinePrinter) PrintOnNewLine(toPrint string) {
	if l.consoleLocked && l.lineBuffer != "" {
		l.outputBuffer += l.lineBuffer + "\n"
		l.lineBuffer = ""
	}
	if !l.haveBlankLine {
		l.printOrBuffer("\n")
	}
	if toPrint != "" {
		l.printOrBuffer(toPrint)
	}
	l.haveBlankLine = toPrint == "" || toPrint[len(toPrint)-1] == '\n'
}

func (l *LinePrinter) printOrBuffer(data string) {
	if l.consoleLocked {
		l.outputBuffer += data
	} else {
		fmt.Print(data)
	}
}

// SetConsoleLocked is held while a console-pool edge (one with exclusive
// access to the terminal) is running, buffering everything else meanwhile.
func (l *LinePrinter) SetConsoleLocked(locked bool) {
	if locked == l.consoleLocked {
		return
	}
	if locked {
		l.PrintOnNewLine("")
	}
	l.consoleLocked = locked
	if !locked {
		l.PrintOnNewLine(l.outputBuffer)
		if l.lineBuffer != "" {
			l.Print(l.lineBuffer, l.lineType)
		}
		l.outputBuffer = ""
		l.lineBuffer = ""
	}
}

// elideMiddle truncates s to width columns, replacing the middle with "..."
// if it doesn't fit.
func elideMiddle(s string, width int) string {
	const margin = 3
	if width < margin || len(s) <= width {
		return s
	}
	half := (width - margin) / 2
	tailStart := len(s) - (width - margin - half)
	return s[:half] + "..." + s[tailStart:]
}

// colorizeFailure renders a FAILED: banner the way a ninja-derived tool
// does, using color when the terminal supports it.
func colorizeFailure(supportsColor bool, outputs string) string {
	if !supportsColor {
		return "FAILED: " + outputs + "\n"
	}
	return color.New(color.FgRed, color.Bold).Sprint("FAILED: ") + outputs + "\n"
}

// stripAnsiEscapeCodes removes ANSI CSI sequences from output before it is
// written to a file (a non-smart-terminal destination).
func stripAnsiEscapeCodes(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == 0x1b && i+1 < len(in) && in[i+1] == '[' {
			i += 2
			for i < len(in) && !(in[i] >= '@' && in[i] <= '~') {
				i++
			}
			continue
		}
		b.WriteByte(in[i])
	}
	return b.String()
}
