// Copyright 2011 Google Inc. All Rights Reserved.
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
	"runtime"
	"strings"

	"github.com/fatih/color"
)

// fatalf prints a red "ninja: fatal:" banner and exits 1. Used for errors
// that leave the process with nothing useful left to do.
func fatalf(format string, args ...interface{}) {
	printTagged(color.New(color.FgRed, color.Bold), "ninja: fatal: ", format, args...)
	os.Exit(1)
}

// errorf prints a red "ninja: error:" banner without exiting; the caller
// decides whether the error is fatal to the current operation.
func errorf(format string, args ...interface{}) {
	printTagged(color.New(color.FgRed), "ninja: error: ", format, args...)
}

// warningf prints a yellow "ninja: warning:" banner.
func warningf(format string, args ...interface{}) {
	printTagged(color.New(color.FgYellow), "ninja: warning: ", format, args...)
}

// infof prints an uncolored informational line.
func infof(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ninja: "+format+"\n", args...)
}

func printTagged(c *color.Color, tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if color.NoColor {
		fmt.Fprintln(os.Stderr, tag+msg)
		return
	}
	fmt.Fprintln(os.Stderr, c.Sprint(tag)+msg)
}

// CanonicalizePath removes "." and ".." path components and duplicate
// slashes in place, recording in the returned slashBits which of the
// remaining separators were originally backslashes. '\\' is treated as a
// separator on every platform, so slashBits can be non-zero on POSIX too.
func CanonicalizePath(path string) (string, uint64) {
	if path == "" {
		return path, 0
	}
	// Normalize backslashes up front; this is the only place a backslash is
	// ever treated as a separator, matching the Windows-only convention the
	// rest of the codebase assumes.
	isSep := func(c byte) bool { return c == '/' || c == '\\' }

	components := make([]string, 0, 8)
	var slashBits uint64
	bitIdx := uint(0)
	start := 0
	n := len(path)
	for i := 0; i <= n; i++ {
		if i == n || isSep(path[i]) {
			if i > start {
				comp := path[start:i]
				switch comp {
				case ".":
					// dropped
				case "..":
					if len(components) > 0 && components[len(components)-1] != ".." {
						components = components[:len(components)-1]
						if bitIdx > 0 {
							bitIdx--
						}
					} else {
						components = append(components, comp)
					}
				default:
					components = append(components, comp)
				}
			}
			if i < n && path[i] == '\\' {
				slashBits |= 1 << bitIdx
			}
			if i > start || (i < n && isSep(path[i])) {
				bitIdx++
			}
			start = i + 1
		}
	}

	prefix := ""
	if n > 0 && isSep(path[0]) {
		prefix = "/"
	}
	out := prefix + strings.Join(components, "/")
	if out == "" {
		out = "."
	}
	return out, slashBits
}

// GetProcessorCount returns the number of logical CPUs available to this
// process, used as the default -j parallelism when none is given.
func GetProcessorCount() int {
	return runtime.NumCPU()
}
