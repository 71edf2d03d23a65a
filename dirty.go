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
	"github.com/pkg/errors"
)

// ErrDepfileMismatch wraps errors where a depfile's declared output does
// not match the edge's first output.
var ErrDepfileMismatch = errors.New("depfile output mismatch")

// ErrDepfileIO wraps read/parse failures of a depfile.
var ErrDepfileIO = errors.New("depfile io")

// ErrCycleDetected wraps a traversal-time cycle found while recomputing
// dirtiness, reported with the cycle path.
var ErrCycleDetected = errors.New("dependency cycle")

// BuildLog is the persisted command-fingerprint lookup the dirtiness
// propagator consults to decide whether a command changed since the last
// successful build of a given output.
type BuildLog interface {
	Lookup(output string) (command string, ok bool)
}

// depfileParser is the makefile-depfile parser external collaborator: bytes
// in, one declared output and its input paths out. ParseDepfile (in
// depfile_parser.go) is the concrete default.
type depfileParser func(content []byte) (out string, ins []string, err error)

// Scanner owns one dirtiness-propagation pass over a State: it stats nodes
// at most once, folds depfiles into the graph, and marks nodes dirty.
//
// A Scanner is single-use per build pass: construct one, call RecomputeDirty
// for each default target, then discard it along with the State's arena.
type Scanner struct {
	State     *State
	Disk      DiskInterface
	DepParser depfileParser
	Log       BuildLog

	// Order records every edge RecomputeDirty finalized, in post-order: an
	// edge only appears after every edge producing one of its inputs. A
	// driver can execute dirty edges directly in this order rather than
	// recomputing its own topological sort.
	Order []*Edge

	// visiting guards against revisiting an edge already processed this pass
	// and detects in-progress cycles.
	visiting map[*Edge]bool
	done     map[*Edge]bool
	stack    []*Edge
}

// NewScanner creates a Scanner for one dirtiness pass. log may be nil if no
// build log is available (every command is then treated as unrecorded,
// i.e. never a fingerprint mismatch on its own).
func NewScanner(state *State, disk DiskInterface, depParser depfileParser, log BuildLog) *Scanner {
	return &Scanner{
		State:     state,
		Disk:      disk,
		DepParser: depParser,
		Log:       log,
		visiting:  map[*Edge]bool{},
		done:      map[*Edge]bool{},
	}
}

// RecomputeDirty performs a post-order traversal from node, recursing into
// its producer edge (if any) first, and leaves node.Dirty() set.
func (s *Scanner) RecomputeDirty(node *Node) error {
	if node.InEdge == nil {
		if _, err := node.StatIfNecessary(s.Disk); err != nil {
			return err
		}
		node.SetDirty(!node.Exists())
		return nil
	}
	return s.recomputeEdgeDirty(node.InEdge)
}

func (s *Scanner) recomputeEdgeDirty(e *Edge) error {
	if s.done[e] {
		return nil
	}
	if s.visiting[e] {
		return s.cycleError(e)
	}
	s.visiting[e] = true
	s.stack = append(s.stack, e)
	defer func() {
		s.visiting[e] = false
		s.stack = s.stack[:len(s.stack)-1]
	}()

	// Step 1: fold the depfile's implicit inputs into the graph.
	if dfEval := e.Rule.GetBinding("depfile"); dfEval != nil && !dfEval.Empty() {
		if err := s.loadDepfile(e, dfEval); err != nil {
			return err
		}
	}

	// Step 2: visit inputs, recursing into producers first.
	numDirtyInputs := 0
	mostRecentInput := TimeStamp(1)
	explicitImplicit := e.ExplicitDeps + e.ImplicitDeps
	for i, in := range e.Inputs {
		if _, err := in.StatIfNecessary(s.Disk); err != nil {
			return err
		}
		if in.InEdge != nil {
			if err := s.recomputeEdgeDirty(in.InEdge); err != nil {
				return err
			}
		} else {
			in.SetDirty(!in.Exists())
		}

		if i >= explicitImplicit {
			// Order-only: mtime is ignored, only missingness counts.
			if !in.Exists() {
				numDirtyInputs++
			}
			continue
		}
		if in.Dirty() {
			numDirtyInputs++
		} else if in.Mtime() > mostRecentInput {
			mostRecentInput = in.Mtime()
		}
	}
	e.NumDirtyInputs = numDirtyInputs

	// Step 3: evaluate the command for fingerprinting.
	command := e.EvaluateCommand()

	// Step 4: finalize each output's dirty state.
	anyDirty := false
	for _, out := range e.Outputs {
		if _, err := out.StatIfNecessary(s.Disk); err != nil {
			return err
		}
		dirty := s.isOutputDirty(e, mostRecentInput, command, out, numDirtyInputs)
		out.SetDirty(dirty)
		anyDirty = anyDirty || dirty
	}
	e.OutputsReady = !anyDirty

	s.done[e] = true
	s.Order = append(s.Order, e)
	return nil
}

// isOutputDirty implements §4.E's is_output_dirty.
func (s *Scanner) isOutputDirty(e *Edge, mostRecentInput TimeStamp, command string, output *Node, numDirtyInputs int) bool {
	if e.IsPhony() {
		if numDirtyInputs > 0 {
			EXPLAIN("%s is dirty because a dependency is dirty (phony edge)", output.Path)
			return true
		}
		if len(e.Inputs) == 0 && !output.Exists() {
			EXPLAIN("%s is dirty because it is a missing phony output with no inputs", output.Path)
			return true
		}
		return false
	}
	if numDirtyInputs > 0 {
		EXPLAIN("%s is dirty because a dependency is dirty", output.Path)
		return true
	}
	if !output.Exists() {
		EXPLAIN("%s does not exist", output.Path)
		return true
	}
	if output.Mtime() < mostRecentInput {
		EXPLAIN("%s is older than its most recent input", output.Path)
		return true
	}
	if s.Log != nil {
		if recorded, ok := s.Log.Lookup(output.Path); ok && recorded != command {
			EXPLAIN("command line changed for %s", output.Path)
			return true
		}
	}
	return false
}

// loadDepfile implements §4.E step 1 / §4.G: evaluate the depfile path,
// read it, parse it, require its declared output to match e's first
// output, and fold each listed input into e's implicit-input region just
// before the order-only region.
func (s *Scanner) loadDepfile(e *Edge, pathEval *EvalString) error {
	path := pathEval.Evaluate(NewEdgeEnv(e, ShellEscape))
	content, err := s.Disk.ReadFile(path)
	if err != nil {
		return errors.Wrapf(ErrDepfileIO, "reading depfile %q: %v", path, err)
	}
	if len(content) == 0 {
		// An empty depfile is valid and declares no additional inputs.
		return nil
	}
	content = append(content, 0)

	out, ins, err := s.DepParser(content)
	if err != nil {
		return errors.Wrapf(ErrDepfileIO, "parsing depfile %q: %v", path, err)
	}
	if len(e.Outputs) == 0 || out != e.Outputs[0].Path {
		return errors.Wrapf(ErrDepfileMismatch, "depfile %q declares output %q, edge produces %q", path, out, firstOutputPath(e))
	}

	insertAt := e.ExplicitDeps + e.ImplicitDeps
	for _, in := range ins {
		n := s.State.GetNode(in, 0)
		// A State reused after Reset already holds the inputs an earlier
		// pass folded in; they are not inserted a second time.
		known := false
		for _, existing := range e.Inputs[e.ExplicitDeps:insertAt] {
			if existing == n {
				known = true
				break
			}
		}
		if known {
			continue
		}
		e.Inputs = append(e.Inputs, nil)
		copy(e.Inputs[insertAt+1:], e.Inputs[insertAt:])
		e.Inputs[insertAt] = n
		insertAt++
		e.ImplicitDeps++
		n.OutEdges = append(n.OutEdges, e)

		if n.InEdge == nil {
			// Give a producer-less input a phony producer with no inputs. Such
			// an edge's output is dirty while its file is missing, so an input
			// that later disappears makes this edge rerun.
			phony := s.State.AddEdge(PhonyRule)
			phony.Outputs = append(phony.Outputs, n)
			n.InEdge = phony
		}
	}
	return nil
}

func firstOutputPath(e *Edge) string {
	if len(e.Outputs) == 0 {
		return ""
	}
	return e.Outputs[0].Path
}

func (s *Scanner) cycleError(e *Edge) error {
	var path string
	for _, se := range s.stack {
		path += firstOutputPath(se) + " -> "
	}
	path += firstOutputPath(e)
	return errors.Wrapf(ErrCycleDetected, "dependency cycle: %s", path)
}

// CleanInput is called after a phony or identity rebuild proves that input
// was not actually changed: it subtracts input's occurrence count in e's
// input vector from e.NumDirtyInputs (an edge can reference the same node
// more than once; every occurrence must be subtracted, not just one), and
// if the counter drops to zero, re-evaluates every output's dirtiness and
// recurses into downstream edges for every output that transitions from
// dirty to clean. touched prevents doing that work more than once per node
// within one pass.
func (s *Scanner) CleanInput(e *Edge, input *Node, touched map[*Node]bool) error {
	occurrences := 0
	for _, in := range e.Inputs {
		if in == input {
			occurrences++
		}
	}
	if occurrences == 0 || e.NumDirtyInputs == 0 {
		return nil
	}
	e.NumDirtyInputs -= occurrences
	if e.NumDirtyInputs < 0 {
		e.NumDirtyInputs = 0
	}
	if e.NumDirtyInputs != 0 {
		return nil
	}

	command := e.EvaluateCommand()
	var mostRecentInput TimeStamp = 1
	for _, in := range e.explicitInputs() {
		if in.Mtime() > mostRecentInput {
			mostRecentInput = in.Mtime()
		}
	}
	for _, in := range e.implicitInputs() {
		if in.Mtime() > mostRecentInput {
			mostRecentInput = in.Mtime()
		}
	}

	for _, out := range e.Outputs {
		if !out.Dirty() {
			continue
		}
		if touched[out] {
			continue
		}
		stillDirty := s.isOutputDirty(e, mostRecentInput, command, out, 0)
		if stillDirty {
			continue
		}
		out.SetDirty(false)
		touched[out] = true
		for _, consumer := range out.OutEdges {
			if err := s.CleanInput(consumer, out, touched); err != nil {
				return err
			}
		}
	}
	return nil
}
