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

import "github.com/pkg/errors"

// ErrGraphStructure is the sentinel wrapped by errors describing a
// build-graph structural violation (two producers for one output, an
// unknown default target, root nodes not discoverable on a non-empty
// graph).
var ErrGraphStructure = errors.New("graph structure")

// State is the whole build graph for one build pass: the interned path
// table, every edge, the pool table, the global binding scope, and the
// declared default targets. A driver either parses a fresh State for a
// rebuild or reuses one after Reset; depfile inputs folded in by an earlier
// pass are not inserted a second time.
type State struct {
	Paths    map[string]*Node
	Edges    []*Edge
	Pools    map[string]*Pool
	Bindings *BindingEnv
	Defaults []*Node

	nextNodeID int
}

// NewState creates an empty State with the built-in phony rule, the default
// and console pools, and a fresh root scope.
func NewState() *State {
	s := &State{
		Paths:    map[string]*Node{},
		Pools:    map[string]*Pool{"": DefaultPool, "console": ConsolePool},
		Bindings: NewBindingEnv(nil),
	}
	s.Bindings.AddRule(PhonyRule)
	return s
}

// GetNode returns the single Node for path, creating it if absent. Path
// canonicalization is the caller's responsibility; GetNode keys on the
// canonical form it is given.
func (s *State) GetNode(path string, slashBits uint64) *Node {
	if n, ok := s.Paths[path]; ok {
		return n
	}
	n := NewNode(path, slashBits, s.nextNodeID)
	s.nextNodeID++
	s.Paths[path] = n
	return n
}

// LookupNode returns the Node for path if it has already been interned, or
// nil otherwise. Unlike GetNode it never creates one.
func (s *State) LookupNode(path string) *Node {
	return s.Paths[path]
}

// AddEdge allocates a new edge bound to rule, the default pool, and the
// root binding scope.
func (s *State) AddEdge(rule *Rule) *Edge {
	e := &Edge{
		Rule: rule,
		Pool: DefaultPool,
		Env:  NewBindingEnv(s.Bindings),
		ID:   len(s.Edges),
	}
	s.Edges = append(s.Edges, e)
	return e
}

// AddIn appends path to edge's explicit input region and wires the
// consumer link. Call AddIn for every explicit input before any implicit
// or order-only one; the boundaries are tracked by the caller incrementing
// ExplicitDeps/ImplicitDeps as appropriate (manifest parsing does this by
// construction: explicit inputs first, then "|" implicit, then "||"
// order-only).
func (s *State) AddIn(e *Edge, path string, slashBits uint64) {
	n := s.GetNode(path, slashBits)
	e.Inputs = append(e.Inputs, n)
	n.OutEdges = append(n.OutEdges, e)
}

// AddOut appends path to edge's output vector and wires the producer link,
// enforcing the single-producer invariant.
func (s *State) AddOut(e *Edge, path string, slashBits uint64) error {
	n := s.GetNode(path, slashBits)
	if n.InEdge != nil {
		return errors.Wrapf(ErrGraphStructure, "multiple rules generate %q", path)
	}
	n.InEdge = e
	e.Outputs = append(e.Outputs, n)
	return nil
}

// AddDefault records path as a default target.
func (s *State) AddDefault(path string) error {
	n := s.LookupNode(path)
	if n == nil {
		return errors.Wrapf(ErrGraphStructure, "unknown default target %q", path)
	}
	s.Defaults = append(s.Defaults, n)
	return nil
}

// DefaultNodes returns the declared default targets, or every root node (a
// node with no consumers) if none were declared.
func (s *State) DefaultNodes() ([]*Node, error) {
	if len(s.Defaults) > 0 {
		return s.Defaults, nil
	}
	roots := s.RootNodes()
	if len(roots) == 0 && len(s.Paths) > 0 {
		return nil, errors.Wrap(ErrGraphStructure, "could not determine root nodes of build graph")
	}
	return roots, nil
}

// RootNodes returns every node with no out-edges, i.e. every node that is
// not consumed by any other edge: the final, top-level targets of the
// graph.
func (s *State) RootNodes() []*Node {
	var roots []*Node
	for _, e := range s.Edges {
		for _, n := range e.Outputs {
			if len(n.OutEdges) == 0 {
				roots = append(roots, n)
			}
		}
	}
	return roots
}

// Reset invalidates every node's stat cache and dirty flag. Called when an
// external watcher (package watch) reports filesystem changes so the next
// dirtiness pass re-stats from scratch.
func (s *State) Reset() {
	for _, n := range s.Paths {
		n.ResetState()
	}
	for _, e := range s.Edges {
		e.NumDirtyInputs = 0
		e.OutputsReady = false
	}
}

// Spellcheck returns the known node whose path is closest (by edit
// distance, insertions/deletions/substitutions allowed, max distance 3) to
// path, or nil if none is close enough. Ties are broken by lowest Node.ID
// (earliest interned), so the result is deterministic across runs despite
// s.Paths being a Go map with randomized iteration order.
func (s *State) Spellcheck(path string) *Node {
	const maxValidEditDistance = 3
	var best *Node
	bestDistance := maxValidEditDistance + 1
	for candidate, n := range s.Paths {
		d := editDistance(path, candidate, true, maxValidEditDistance)
		if d < bestDistance || (d == bestDistance && best != nil && n.ID < best.ID) {
			bestDistance = d
			best = n
		}
	}
	return best
}
