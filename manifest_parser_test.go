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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestManifestParser_Basic(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"rule cat\n  command = cat $in > $out\n\nbuild out: cat in\n"))
	if err != nil {
		t.Fatal(err)
	}
	VerifyGraph(t, state)

	if len(state.Edges) != 1 {
		t.Fatalf("want 1 edge, got %d", len(state.Edges))
	}
	if got := state.Edges[0].EvaluateCommand(); got != "cat in > out" {
		t.Fatalf("got %q", got)
	}
}

func TestManifestParser_Pool(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"pool link_pool\n  depth = 4\nrule link\n  command = link $in > $out\n  pool = link_pool\nbuild out: link in\n"))
	if err != nil {
		t.Fatal(err)
	}
	p := state.Pools["link_pool"]
	if p == nil || p.Depth != 4 {
		t.Fatalf("got %v", p)
	}
	if state.Edges[0].Pool != p {
		t.Fatal("edge must bind to the declared pool")
	}
}

func TestManifestParser_DuplicateRuleIsError(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"rule cat\n  command = cat $in > $out\nrule cat\n  command = cat $in > $out\n"))
	if err == nil {
		t.Fatal("expected a duplicate rule error")
	}
}

func TestManifestParser_UnknownPoolIsError(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"rule cat\n  command = cat $in > $out\n  pool = missing\nbuild out: cat in\n"))
	if err == nil {
		t.Fatal("expected an unknown pool error")
	}
}

func TestManifestParser_DefaultTargets(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"rule cat\n  command = cat $in > $out\nbuild out1: cat in\nbuild out2: cat in\ndefault out1\n"))
	if err != nil {
		t.Fatal(err)
	}
	defaults, err := state.DefaultNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(defaults) != 1 || defaults[0].Path != "out1" {
		t.Fatalf("got %v", defaults)
	}
}

func TestManifestParser_ImplicitAndOrderOnlyDeps(t *testing.T) {
	state := NewState()
	parser := NewManifestParser(state, nil, ManifestParserOpts{})
	err := parser.Parse("input", []byte(
		"rule cat\n  command = cat $in > $out\nbuild out: cat in1 | in2 || in3\n"))
	if err != nil {
		t.Fatal(err)
	}
	e := state.Edges[0]
	if e.ExplicitDeps != 1 || e.ImplicitDeps != 1 || len(e.Inputs) != 3 {
		t.Fatalf("got explicit=%d implicit=%d total=%d", e.ExplicitDeps, e.ImplicitDeps, len(e.Inputs))
	}
	var gotPaths []string
	for _, in := range e.Inputs {
		gotPaths = append(gotPaths, in.Path)
	}
	if diff := cmp.Diff([]string{"in1", "in2", "in3"}, gotPaths); diff != "" {
		t.Fatalf("input order mismatch (-want +got):\n%s", diff)
	}
}
