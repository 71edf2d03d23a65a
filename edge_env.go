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

import "strings"

// EscapeKind selects how $in/$out render: shell-escaped for command strings,
// or raw for description and other metadata.
type EscapeKind int

const (
	ShellEscape EscapeKind = iota
	NoEscape
)

// EdgeEnv implements the rule-expansion scope for a single edge. It services
// the magic variables $in/$out/$in_newline/$out_newline, delegates every
// other name through the edge's own bindings, then through the edge's rule
// (evaluated in the edge's own scope), then through the enclosing scope.
//
// Lookup order is the three-tier chain spec'd for rule binding: edge-local
// bindings shadow the rule, the rule shadows the enclosing (global) scope.
type EdgeEnv struct {
	Edge     *Edge
	Escape   EscapeKind
	lookups  []string // names currently being resolved; cycle guard
}

// NewEdgeEnv creates the expansion scope for edge, rendering $in/$out with
// the given escaping convention.
func NewEdgeEnv(edge *Edge, escape EscapeKind) *EdgeEnv {
	return &EdgeEnv{Edge: edge, Escape: escape}
}

// LookupVariable implements Env.
//
// Re-entering a name already on the lookups stack (a binding that refers to
// itself, directly or through a chain of other bindings) resolves to the
// empty string. This is observable but undocumented behavior inherited from
// the source; the cycle is logged with warningf where it is detected, and
// the evaluation itself always completes.
func (e *EdgeEnv) LookupVariable(name string) string {
	switch name {
	case "in":
		return e.makePathList(e.Edge.explicitInputs(), ' ')
	case "in_newline":
		return e.makePathList(e.Edge.explicitInputs(), '\n')
	case "out":
		return e.makePathList(e.Edge.Outputs, ' ')
	case "out_newline":
		return e.makePathList(e.Edge.Outputs, '\n')
	}

	for _, inFlight := range e.lookups {
		if inFlight == name {
			warningf("cycle in variable %q; it expands to the empty string", name)
			return ""
		}
	}
	e.lookups = append(e.lookups, name)
	defer func() { e.lookups = e.lookups[:len(e.lookups)-1] }()

	if v, ok := e.Edge.Env.Bindings[name]; ok {
		return v
	}
	if e.Edge.Rule != nil {
		if eval := e.Edge.Rule.GetBinding(name); eval != nil {
			return eval.Evaluate(e)
		}
	}
	if e.Edge.Env.Parent != nil {
		return e.Edge.Env.Parent.LookupVariable(name)
	}
	return ""
}

// makePathList joins the paths of nodes with sep, escaping each path for the
// shell unless e.Escape is NoEscape.
func (e *EdgeEnv) makePathList(nodes []*Node, sep byte) string {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte(sep)
		}
		path := n.PathDecanonicalized()
		if e.Escape == ShellEscape {
			b.WriteString(shellEscape(path))
		} else {
			b.WriteString(path)
		}
	}
	return b.String()
}

// shellEscape quotes path per POSIX shell rules: single-quote any path
// containing whitespace, '$', or shell metacharacters.
func shellEscape(path string) string {
	if !strings.ContainsAny(path, " \t\n\"'$&()*;<>?[]^`{|}~!#") {
		return path
	}
	if !strings.Contains(path, "'") {
		return "'" + path + "'"
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(path); i++ {
		if path[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(path[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}
