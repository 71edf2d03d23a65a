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
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/maruel/nin"
	"github.com/maruel/nin/watch"
)

// Main parses the command line, loads the manifest, and runs one build
// pass (or, with -w, a build-then-watch-then-rebuild loop). It returns the
// process exit code; main() just forwards it to os.Exit.
func Main() int {
	o, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fatalf("%s", err)
		return 1
	}

	for _, mode := range o.debug {
		if mode == "list" {
			fmt.Println("debugging modes: explain, keepdepfile, keeprsp, nostatcache")
			return 0
		}
		if !nin.DebugEnable(mode) {
			fatalf("unknown debug setting %q", mode)
			return 1
		}
	}

	if o.workingDir != "" {
		if err := os.Chdir(o.workingDir); err != nil {
			fatalf("chdir to %q: %s", o.workingDir, err)
			return 1
		}
	}

	state, err := loadManifest(o.inputFile)
	if err != nil {
		fatalf("%s", err)
		return 1
	}

	status := nin.NewStatusPrinter(o.verbosity(), effectiveParallelism(o.parallelism))

	buildLogPath := nin.DefaultBuildLogPath(".")
	log, err := nin.OpenBuildLog(buildLogPath)
	if err != nil {
		warningf("opening build log: %s", err)
	} else {
		defer log.Close()
	}

	if err := runOnce(state, log, status, o); err != nil {
		errorf("%s", err)
		return 1
	}

	if !o.watch {
		return 0
	}
	return watchAndRebuild(state, log, status, o)
}

func loadManifest(path string) (*nin.State, error) {
	state := nin.NewState()
	disk := nin.RealDiskInterface{}
	parser := nin.NewManifestParser(state, nin.RealFileReader{Disk: disk}, nin.ManifestParserOpts{})
	if err := parser.Load(path); err != nil {
		return nil, err
	}
	return state, nil
}

func resolveTargets(state *nin.State, names []string) ([]*nin.Node, error) {
	if len(names) == 0 {
		return state.DefaultNodes()
	}
	nodes := make([]*nin.Node, 0, len(names))
	for _, name := range names {
		canon, _ := nin.CanonicalizePath(name)
		n := state.LookupNode(canon)
		if n == nil {
			if suggestion := state.Spellcheck(canon); suggestion != nil {
				return nil, fmt.Errorf("unknown target %q, did you mean %q?", name, suggestion.Path)
			}
			return nil, fmt.Errorf("unknown target %q", name)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func effectiveParallelism(requested int) int {
	if requested > 0 {
		return requested
	}
	return nin.GetProcessorCount()
}

func runOnce(state *nin.State, log *nin.PersistentBuildLog, status nin.Status, o *options) error {
	var buildLog nin.BuildLog
	if log != nil {
		buildLog = log
	}
	disk := nin.RealDiskInterface{}
	scanner := nin.NewScanner(state, disk, nin.ParseDepfile, buildLog)
	targets, err := resolveTargets(state, o.targets)
	if err != nil {
		return err
	}
	b := &nin.Builder{
		State:   state,
		Scanner: scanner,
		Log:     log,
		Status:  status,
		Opts: nin.BuilderOptions{
			Parallelism: effectiveParallelism(o.parallelism),
			KeepGoing:   o.keepGoing,
			DryRun:      o.dryRun,
		},
	}
	return b.Build(context.Background(), targets)
}

// watchAndRebuild installs an inotify watch on the manifest and on every
// node in the State's path table that has no producing edge (a build's
// dependency graph already names every file worth watching) and reruns the
// build once the watcher's hysteresis has elapsed after a change,
// reloading the manifest if it is itself one of the changed paths.
func watchAndRebuild(state *nin.State, log *nin.PersistentBuildLog, status nin.Status, o *options) int {
	w, err := watch.NewWatcher()
	if err != nil {
		fatalf("starting watcher: %s", err)
		return 1
	}
	defer w.Close()

	if err := addInputWatches(w, state, o.inputFile); err != nil {
		fatalf("watching inputs: %s", err)
		return 1
	}

	for {
		if err := w.WaitForEvents(); err != nil {
			fatalf("watching inputs: %s", err)
			return 1
		}
		if d, pending := w.Timeout(); !pending || d > 0 {
			continue
		}
		manifestChanged := false
		for _, key := range append(append(w.Added(), w.Changed()...), w.Deleted()...) {
			if key == o.inputFile {
				manifestChanged = true
			}
		}
		w.Reset()

		if manifestChanged {
			infof("%s changed, reloading manifest", o.inputFile)
			fresh, err := loadManifest(o.inputFile)
			if err != nil {
				errorf("%s", err)
				continue
			}
			state = fresh
			if err := addInputWatches(w, state, o.inputFile); err != nil {
				errorf("watching inputs: %s", err)
			}
		} else {
			state.Reset()
		}

		if err := runOnce(state, log, status, o); err != nil {
			errorf("%s", err)
		}
	}
}

// addInputWatches registers every node without a producer (i.e. a source
// file, not a build output) plus the manifest itself.
func addInputWatches(w *watch.Watcher, state *nin.State, manifestPath string) error {
	if err := w.AddPath(manifestPath, manifestPath); err != nil {
		return err
	}
	for path, n := range state.Paths {
		if n.InEdge != nil {
			continue
		}
		if err := w.AddPath(path, path); err != nil {
			continue // AddPath fails only for an empty path
		}
	}
	return nil
}
