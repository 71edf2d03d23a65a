// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/maruel/nin"
)

// options holds the parsed command line, mirroring the subset of ninja's
// flags this port implements.
type options struct {
	inputFile   string
	workingDir  string
	parallelism int
	keepGoing   bool
	dryRun      bool
	verbose     bool
	quiet       bool
	watch       bool
	debug       []string
	targets     []string
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("nin", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: nin [options] [targets...]\n\n")
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVarP(&o.inputFile, "file", "f", "build.ninja", "input build file")
	fs.StringVarP(&o.workingDir, "directory", "C", "", "change to DIR before doing anything else")
	fs.IntVarP(&o.parallelism, "jobs", "j", 0, "run N jobs in parallel (0: number of CPUs)")
	fs.BoolVarP(&o.keepGoing, "keep-going", "k", false, "keep going until N jobs fail (this port: unlimited)")
	fs.BoolVarP(&o.dryRun, "dry-run", "n", false, "dry run (don't run commands but act like they succeeded)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "show all command lines while building")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "don't show progress status, just command output")
	fs.BoolVarP(&o.watch, "watch", "w", false, "after building, watch inputs and rebuild on change")
	fs.StringArrayVarP(&o.debug, "debug", "d", nil, "enable a debugging mode (use '-d list' to list modes); may be repeated")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.targets = fs.Args()
	return o, nil
}

// verbosity maps the parsed flags onto a nin.Verbosity.
func (o *options) verbosity() nin.Verbosity {
	switch {
	case o.quiet:
		return nin.Quiet
	case o.verbose:
		return nin.Verbose
	default:
		return nin.Normal
	}
}
