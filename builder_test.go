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
	"context"
	"os"
	"testing"
)

// recordingStatus is a minimal Status that records what it was told instead
// of printing anything, so tests can assert on build outcomes.
type recordingStatus struct {
	infos    []string
	finished []bool
	total    int
}

func (r *recordingStatus) PlanHasTotalEdges(total int)                 { r.total = total }
func (r *recordingStatus) BuildEdgeStarted(e *Edge, startMillis int64) {}
func (r *recordingStatus) BuildEdgeFinished(e *Edge, endMillis int64, success bool, output string) {
	r.finished = append(r.finished, success)
}
func (r *recordingStatus) BuildStarted()                                    {}
func (r *recordingStatus) BuildFinished()                                   {}
func (r *recordingStatus) Info(format string, args ...interface{})          { r.infos = append(r.infos, format) }
func (r *recordingStatus) Warning(format string, args ...interface{})       {}
func (r *recordingStatus) Error(format string, args ...interface{})         {}

func buildGraph(t *testing.T, manifest string) *State {
	t.Helper()
	state := NewState()
	parser := NewManifestParser(state, RealFileReader{Disk: RealDiskInterface{}}, ManifestParserOpts{})
	if err := parser.Parse("build.ninja", []byte(manifest)); err != nil {
		t.Fatal(err)
	}
	return state
}

func TestBuilder_BuildsOnceThenNoops(t *testing.T) {
	CreateTempDirAndEnter(t)

	state := buildGraph(t, "rule cp\n  command = cp $in $out\nbuild out: cp in\n")
	if err := os.WriteFile("in", []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	disk := RealDiskInterface{}
	status := &recordingStatus{}
	b := &Builder{
		State:   state,
		Scanner: NewScanner(state, disk, ParseDepfile, nil),
		Status:  status,
		Opts:    BuilderOptions{Parallelism: 2},
	}
	targets, err := state.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), targets); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile("out")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if len(status.finished) != 1 || !status.finished[0] {
		t.Fatalf("want one successful edge, got %v", status.finished)
	}

	// A second pass over a fresh State with the same files must find nothing
	// to do, since out is now newer than in.
	state2 := buildGraph(t, "rule cp\n  command = cp $in $out\nbuild out: cp in\n")
	status2 := &recordingStatus{}
	b2 := &Builder{
		State:   state2,
		Scanner: NewScanner(state2, disk, ParseDepfile, nil),
		Status:  status2,
		Opts:    BuilderOptions{Parallelism: 2},
	}
	targets2, err := state2.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if err := b2.Build(context.Background(), targets2); err != nil {
		t.Fatal(err)
	}
	if len(status2.finished) != 0 {
		t.Fatalf("want no edges run on the second pass, got %v", status2.finished)
	}
}

func TestBuilder_FailedCommandStopsWithoutKeepGoing(t *testing.T) {
	CreateTempDirAndEnter(t)

	state := buildGraph(t, "rule fail\n  command = exit 1\nbuild out: fail\n")
	status := &recordingStatus{}
	b := &Builder{
		State:   state,
		Scanner: NewScanner(state, RealDiskInterface{}, ParseDepfile, nil),
		Status:  status,
		Opts:    BuilderOptions{Parallelism: 1},
	}
	targets, err := state.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), targets); err == nil {
		t.Fatal("expected the failing command to surface an error")
	}
	if len(status.finished) != 1 || status.finished[0] {
		t.Fatalf("want one failed edge reported, got %v", status.finished)
	}
}

func TestBuilder_WritesAndCleansUpRspfile(t *testing.T) {
	CreateTempDirAndEnter(t)

	state := buildGraph(t, "rule link\n  command = cat rsp.txt > $out\n"+
		"  rspfile = rsp.txt\n  rspfile_content = $in\nbuild out: link in\n")
	if err := os.WriteFile("in", []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	disk := RealDiskInterface{}
	status := &recordingStatus{}
	b := &Builder{
		State:   state,
		Scanner: NewScanner(state, disk, ParseDepfile, nil),
		Status:  status,
		Opts:    BuilderOptions{Parallelism: 1},
	}
	targets, err := state.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), targets); err != nil {
		t.Fatal(err)
	}

	// The command only ever reads rsp.txt, never $in directly, so out's
	// content proves rsp.txt was written (with rspfile_content, i.e. "in")
	// before the command ran.
	got, err := os.ReadFile("out")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "in" {
		t.Fatalf("got %q, want the evaluated rspfile_content", got)
	}
	if _, err := os.Stat("rsp.txt"); !os.IsNotExist(err) {
		t.Fatal("rsp.txt must be removed once the command completes")
	}
}

func TestBuilder_DryRunExecutesNothing(t *testing.T) {
	CreateTempDirAndEnter(t)

	state := buildGraph(t, "rule cp\n  command = cp $in $out\nbuild out: cp in\n")
	if err := os.WriteFile("in", []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	status := &recordingStatus{}
	b := &Builder{
		State:   state,
		Scanner: NewScanner(state, RealDiskInterface{}, ParseDepfile, nil),
		Status:  status,
		Opts:    BuilderOptions{DryRun: true},
	}
	targets, err := state.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), targets); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat("out"); err == nil {
		t.Fatal("dry run must not have created out")
	}
}
