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

import "strconv"

// Edge is a build step: a rule, an ordered input vector partitioned into
// explicit/implicit/order-only regions, an ordered output vector, a pool,
// and a per-edge binding environment.
//
// Invariant: ExplicitDeps + ImplicitDeps + order-only count == len(Inputs),
// and the three regions appear in that order.
type Edge struct {
	Rule *Rule
	Pool *Pool
	Env  *BindingEnv // per-edge variable overrides; parent is the enclosing scope

	Inputs       []*Node
	ExplicitDeps int // inputs[0:ExplicitDeps] are explicit
	ImplicitDeps int // inputs[ExplicitDeps:ExplicitDeps+ImplicitDeps] are implicit, from "|" in the manifest and from depfiles

	Outputs []*Node

	// NumDirtyInputs is the count of currently-dirty explicit and implicit
	// inputs plus missing order-only inputs, persisted across CleanInput
	// calls within a build pass.
	NumDirtyInputs int
	// OutputsReady is true when recomputeEdgeDirty found every output of
	// this edge clean for this pass; false means the edge has to run.
	OutputsReady bool

	ID int
}

// IsPhony reports whether this edge's command is the identity.
func (e *Edge) IsPhony() bool {
	return e.Rule == PhonyRule
}

// UseConsole reports whether the edge is bound to the distinguished console
// pool (serialized, terminal attached).
func (e *Edge) UseConsole() bool {
	return e.Pool == ConsolePool
}

func (e *Edge) explicitInputs() []*Node {
	return e.Inputs[:e.ExplicitDeps]
}

func (e *Edge) implicitInputs() []*Node {
	return e.Inputs[e.ExplicitDeps : e.ExplicitDeps+e.ImplicitDeps]
}

func (e *Edge) orderOnlyInputs() []*Node {
	return e.Inputs[e.ExplicitDeps+e.ImplicitDeps:]
}

// GetBinding evaluates name against this edge's three-tier scope,
// shell-escaping $in/$out.
func (e *Edge) GetBinding(name string) string {
	env := NewEdgeEnv(e, ShellEscape)
	return env.LookupVariable(name)
}

// GetBindingRaw is like GetBinding but does not shell-escape $in/$out; used
// for description and other metadata bindings.
func (e *Edge) GetBindingRaw(name string) string {
	env := NewEdgeEnv(e, NoEscape)
	return env.LookupVariable(name)
}

// EvaluateCommand returns the fingerprint-relevant, shell-escaped command
// string for this edge.
func (e *Edge) EvaluateCommand() string {
	return e.GetBinding("command")
}

// RspFile returns the response-file path and content this edge's command
// needs written before it runs, and whether it declares one at all. The
// path is unescaped (it is a filesystem argument to WriteFile/RemoveFile,
// not a shell token); the content uses the same escaping as the command
// line, matching the teacher's GetUnescapedRspfile/rspfile_content split.
func (e *Edge) RspFile() (path, content string, ok bool) {
	path = e.GetBindingRaw("rspfile")
	if path == "" {
		return "", "", false
	}
	return path, e.GetBinding("rspfile_content"), true
}

// Weight is the edge's pool admission weight: the "weight" binding, or 1.
func (e *Edge) Weight() int {
	if w := e.GetBinding("weight"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
