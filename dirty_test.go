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

import "testing"

// fakeBuildLog lets a test assert a command-changed mismatch without a real
// PersistentBuildLog.
type fakeBuildLog map[string]string

func (f fakeBuildLog) Lookup(output string) (string, bool) {
	c, ok := f[output]
	return c, ok
}

func TestScanner_CleanNode(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	fs.Create("out", "")
	s.AssertParse(s.state, "build out: cat in\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if out.Dirty() {
		t.Fatal("out should not be dirty: same mtime as input")
	}
}

func TestScanner_StaleOutputIsDirty(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("out", "")
	fs.Tick()
	fs.Create("in", "")
	s.AssertParse(s.state, "build out: cat in\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if !out.Dirty() {
		t.Fatal("out is older than in, must be dirty")
	}
}

func TestScanner_MissingOutputIsDirty(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	s.AssertParse(s.state, "build out: cat in\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if !out.Dirty() {
		t.Fatal("a nonexistent output is always dirty")
	}
}

func TestScanner_CommandChangeIsDirty(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	fs.Tick()
	fs.Create("out", "")
	s.AssertParse(s.state, "build out: cat in\n", ManifestParserOpts{})

	log := fakeBuildLog{"out": "a different command entirely"}
	scanner := NewScanner(s.state, fs, ParseDepfile, log)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if !out.Dirty() {
		t.Fatal("a command-fingerprint mismatch must force a rebuild even though mtimes look fine")
	}
}

func TestScanner_OrderOnlyDoesNotCountAsDirtyingInput(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("out", "")
	fs.Tick()
	fs.Create("order-only", "") // newer than out, but order-only: mtime is irrelevant
	s.AssertParse(s.state, "build out: cat || order-only\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if out.Dirty() {
		t.Fatal("a present order-only input newer than the output must not dirty it")
	}
}

func TestScanner_MissingOrderOnlyIsDirty(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("out", "")
	s.AssertParse(s.state, "build out: cat || order-only\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if !out.Dirty() {
		t.Fatal("a missing order-only input still forces a rebuild")
	}
}

func TestScanner_PhonyDirtinessPropagates(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("out", "")
	s.AssertParse(s.state, "build mid: phony in\nbuild out: cat mid\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}
	if !out.Dirty() {
		t.Fatal("a missing input behind the phony mid must propagate dirtiness to out")
	}
}

func TestScanner_Order(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	s.AssertParse(s.state, "build mid: cat in\nbuild out: cat mid\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	if err := scanner.RecomputeDirty(s.GetNode("out")); err != nil {
		t.Fatal(err)
	}
	if len(scanner.Order) != 2 {
		t.Fatalf("want 2 edges visited, got %d", len(scanner.Order))
	}
	if scanner.Order[0].Outputs[0].Path != "mid" || scanner.Order[1].Outputs[0].Path != "out" {
		t.Fatal("producer edge must be ordered before its consumer")
	}
}

func TestScanner_CleanInputClearsDownstreamDirtiness(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	fs.Create("in", "")
	fs.Tick()
	fs.Create("mid", "")
	fs.Tick()
	fs.Create("out", "")
	s.AssertParse(s.state, "build mid: cat in\nbuild out: cat mid\n", ManifestParserOpts{})

	// mid's recorded command line doesn't match what AssertParse wrote, so
	// mid comes back dirty even though its file is up to date; that, in
	// turn, forces out dirty as a dependent of a dirty input.
	log := fakeBuildLog{"mid": "a different command entirely"}
	scanner := NewScanner(s.state, fs, ParseDepfile, log)
	out := s.GetNode("out")
	if err := scanner.RecomputeDirty(out); err != nil {
		t.Fatal(err)
	}

	mid := s.GetNode("mid")
	outEdge := out.InEdge
	if !mid.Dirty() {
		t.Fatal("mid must be dirty: its recorded command line changed")
	}
	if outEdge.NumDirtyInputs != 1 {
		t.Fatalf("want out's edge to see 1 dirty input, got %d", outEdge.NumDirtyInputs)
	}
	if !out.Dirty() {
		t.Fatal("out must be dirty too: it depends on a dirty input")
	}

	// Simulate the restat fast path: mid's command ran but its output's
	// mtime proved unchanged, so the builder marks mid clean and asks the
	// scanner to re-settle every consumer without rerunning them.
	mid.SetDirty(false)
	if err := scanner.CleanInput(outEdge, mid, map[*Node]bool{}); err != nil {
		t.Fatal(err)
	}
	if outEdge.NumDirtyInputs != 0 {
		t.Fatalf("want CleanInput to clear the dirty-input count, got %d", outEdge.NumDirtyInputs)
	}
	if out.Dirty() {
		t.Fatal("out must become clean: mid proved unchanged and out is still newer than mid")
	}
}

func TestScanner_CycleIsError(t *testing.T) {
	s := NewStateTestWithBuiltinRules(t)
	fs := NewVirtualFileSystem()
	s.AssertParse(s.state, "build a: cat b\nbuild b: cat a\n", ManifestParserOpts{})

	scanner := NewScanner(s.state, fs, ParseDepfile, nil)
	if err := scanner.RecomputeDirty(s.GetNode("a")); err == nil {
		t.Fatal("expected a cycle error")
	}
}
