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
	"errors"
	"os"
	"strings"
	"testing"
)

// StateTestWithBuiltinRules is a base test fixture that includes a State
// object with a builtin "cat" rule, mirroring the fixture every graph/state
// test in this package builds on.
type StateTestWithBuiltinRules struct {
	t     *testing.T
	state *State
}

func NewStateTestWithBuiltinRules(t *testing.T) StateTestWithBuiltinRules {
	s := StateTestWithBuiltinRules{t: t, state: NewState()}
	s.AddCatRule(s.state)
	return s
}

// AddCatRule adds a "cat" rule to state. Used by some tests; it's otherwise
// done by the constructor.
func (s *StateTestWithBuiltinRules) AddCatRule(state *State) {
	s.AssertParse(state, "rule cat\n  command = cat $in > $out\n", ManifestParserOpts{})
}

// GetNode is a short way to get a Node by its path from state.
func (s *StateTestWithBuiltinRules) GetNode(path string) *Node {
	if strings.ContainsAny(path, "/\\") {
		s.t.Fatal(path)
	}
	return s.state.GetNode(path, 0)
}

func (s *StateTestWithBuiltinRules) AssertParse(state *State, input string, opts ManifestParserOpts) {
	parser := NewManifestParser(state, nil, opts)
	if err := parser.Parse("input", []byte(input)); err != nil {
		s.t.Fatal(err)
	}
	VerifyGraph(s.t, state)
}

// VerifyGraph checks the bipartite node/edge structural invariants every
// build graph must satisfy.
func VerifyGraph(t *testing.T, state *State) {
	for _, e := range state.Edges {
		if len(e.Outputs) == 0 {
			t.Fatal("all edges need at least one output")
		}
		for _, inNode := range e.Inputs {
			found := false
			for _, oe := range inNode.OutEdges {
				if oe == e {
					found = true
				}
			}
			if !found {
				t.Fatal("each edge's inputs must have the edge as out-edge")
			}
		}
		for _, outNode := range e.Outputs {
			if outNode.InEdge != e {
				t.Fatal("each edge's output must have the edge as in-edge")
			}
		}
	}

	nodeEdgeSet := map[*Edge]struct{}{}
	for _, n := range state.Paths {
		if n.InEdge != nil {
			nodeEdgeSet[n.InEdge] = struct{}{}
		}
		for _, oe := range n.OutEdges {
			nodeEdgeSet[oe] = struct{}{}
		}
	}
	if len(state.Edges) != len(nodeEdgeSet) {
		t.Fatal("the union of all in- and out-edges must match State.Edges")
	}
}

// Entry is a single in-memory file.
type Entry struct {
	mtime    TimeStamp
	statErr  error
	contents []byte
}

// FileMap is the backing store of VirtualFileSystem.
type FileMap map[string]Entry

// VirtualFileSystem is a DiskInterface backed by memory instead of the real
// filesystem; it also records the files read, created and removed and the
// directories made, so tests can assert on them. Stat calls are not recorded.
type VirtualFileSystem struct {
	directoriesMade map[string]struct{}
	filesRead       []string
	files           FileMap
	filesRemoved    map[string]struct{}
	filesCreated    map[string]struct{}

	now TimeStamp
}

func NewVirtualFileSystem() *VirtualFileSystem {
	return &VirtualFileSystem{
		directoriesMade: map[string]struct{}{},
		files:           FileMap{},
		filesRemoved:    map[string]struct{}{},
		filesCreated:    map[string]struct{}{},
		now:             1,
	}
}

// Tick advances the fake clock; subsequent file operations are newer than
// previous ones.
func (v *VirtualFileSystem) Tick() TimeStamp {
	v.now++
	return v.now
}

// Create "creates" a file with contents at the current fake time.
func (v *VirtualFileSystem) Create(path, contents string) {
	f := v.files[path]
	f.mtime = v.now
	f.contents = []byte(contents)
	v.files[path] = f
	v.filesCreated[path] = struct{}{}
}

func (v *VirtualFileSystem) Stat(path string) (TimeStamp, error) {
	e, ok := v.files[path]
	if !ok {
		return 0, nil
	}
	return e.mtime, e.statErr
}

func (v *VirtualFileSystem) MakeDir(path string) error {
	v.directoriesMade[path] = struct{}{}
	return nil
}

func (v *VirtualFileSystem) ReadFile(path string) ([]byte, error) {
	v.filesRead = append(v.filesRead, path)
	e, ok := v.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(e.contents))
	copy(out, e.contents)
	return out, nil
}

func (v *VirtualFileSystem) WriteFile(path, content string) error {
	f := v.files[path]
	f.mtime = v.now
	f.contents = []byte(content)
	v.files[path] = f
	v.filesCreated[path] = struct{}{}
	return nil
}

func (v *VirtualFileSystem) RemoveFile(path string) error {
	if _, ok := v.directoriesMade[path]; ok {
		return errors.New("is a directory")
	}
	if _, ok := v.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(v.files, path)
	v.filesRemoved[path] = struct{}{}
	return nil
}

// CreateTempDirAndEnter creates a temporary directory and chdirs into it for
// the duration of the test.
func CreateTempDirAndEnter(t *testing.T) string {
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Error(err)
		}
	})
	return tempDir
}
