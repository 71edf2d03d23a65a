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
	"time"

	"github.com/pkg/errors"
)

// ErrBuildFailed is returned by Builder.Build when at least one scheduled
// edge's command exited non-zero.
var ErrBuildFailed = errors.New("build failed")

// BuilderOptions tunes one Builder.Build call.
type BuilderOptions struct {
	// Parallelism bounds how many OS processes CommandRunner starts at once,
	// independent of any named pool's own depth. 0 means GetProcessorCount().
	Parallelism int
	// KeepGoing continues scheduling edges unrelated to a failure instead of
	// stopping at the first one.
	KeepGoing bool
	// DryRun prints the command each dirty edge would run without running
	// any of them.
	DryRun bool
}

// Builder drives one build pass: it asks a Scanner which edges are dirty,
// admits them through their Pool, executes admitted edges with a
// CommandRunner, and records successes to a BuildLog. Construct a fresh
// Builder (and Scanner) per pass; neither is reusable across State.Reset.
type Builder struct {
	State   *State
	Scanner *Scanner
	Log     *PersistentBuildLog
	Status  Status
	Opts    BuilderOptions

	runner  *CommandRunner
	start   time.Time
	touched map[*Node]bool
}

// Build brings every node in targets up to date, including whatever
// transitive inputs are themselves dirty.
func (b *Builder) Build(ctx context.Context, targets []*Node) error {
	for _, t := range targets {
		if err := b.Scanner.RecomputeDirty(t); err != nil {
			return err
		}
	}

	want := map[*Edge]bool{}
	var markWant func(n *Node)
	markWant = func(n *Node) {
		e := n.InEdge
		if e == nil || want[e] {
			return
		}
		want[e] = true
		for _, in := range e.Inputs {
			markWant(in)
		}
	}
	for _, t := range targets {
		markWant(t)
	}

	var toRun []*Edge
	for _, e := range b.Scanner.Order {
		if want[e] && !e.OutputsReady {
			toRun = append(toRun, e)
		}
	}
	if len(toRun) == 0 {
		b.Status.Info("no work to do.")
		return nil
	}

	if b.Opts.DryRun {
		for _, e := range toRun {
			if e.IsPhony() {
				continue
			}
			b.Status.Info("%s", e.EvaluateCommand())
		}
		return nil
	}

	// remainingDeps[e] counts producer edges, also in toRun, that e's inputs
	// still depend on; consumers[e] is the reverse edge of that relation.
	remainingDeps := map[*Edge]int{}
	consumers := map[*Edge][]*Edge{}
	for _, e := range toRun {
		for _, in := range e.Inputs {
			if producer := in.InEdge; producer != nil && want[producer] && !producer.OutputsReady {
				remainingDeps[e]++
				consumers[producer] = append(consumers[producer], e)
			}
		}
	}

	pools := map[*Pool]bool{}
	for _, e := range toRun {
		pools[e.Pool] = true
	}

	b.runner = NewCommandRunner(b.Opts.Parallelism)
	b.start = time.Now()
	b.touched = map[*Node]bool{}
	b.Status.PlanHasTotalEdges(len(toRun))
	b.Status.BuildStarted()

	finished := map[*Edge]bool{}
	edgeStart := map[*Edge]int64{}
	inFlight := 0
	var firstErr error

	var admit, launch func(e *Edge)
	var completeResult func(e *Edge, success bool, output string)
	// poolEntered tracks which edges actually went through
	// EdgeScheduled/DelayEdge, so completeResult only balances the pool's
	// currentUse counter for edges that really incremented it — a restat
	// rule can prove an edge clean and skip it without ever entering its
	// pool.
	poolEntered := map[*Edge]bool{}

	retrieveReady := func() {
		for p := range pools {
			if p.Depth == 0 {
				continue
			}
			var batch []*Edge
			p.RetrieveReadyEdges(&batch)
			for _, e := range batch {
				launch(e)
			}
		}
	}

	launch = func(e *Edge) {
		if e.IsPhony() {
			completeResult(e, true, "")
			return
		}
		if path, content, ok := e.RspFile(); ok {
			if err := b.Scanner.Disk.WriteFile(path, content); err != nil {
				completeResult(e, false, err.Error())
				return
			}
		}
		edgeStart[e] = b.nowMillis()
		b.Status.BuildEdgeStarted(e, edgeStart[e])
		inFlight++
		if err := b.runner.StartCommand(ctx, e); err != nil {
			inFlight--
			completeResult(e, false, err.Error())
		}
	}

	admit = func(e *Edge) {
		if !e.IsPhony() && allOutputsClean(e) {
			// A restat rule upstream proved this edge's inputs never actually
			// changed; skip running it.
			completeResult(e, true, "")
			return
		}
		poolEntered[e] = true
		if e.Pool.Depth == 0 {
			e.Pool.EdgeScheduled(e)
			launch(e)
			return
		}
		e.Pool.DelayEdge(e)
		retrieveReady()
	}

	completeResult = func(e *Edge, success bool, output string) {
		finished[e] = true
		if poolEntered[e] {
			e.Pool.EdgeFinished(e)
		}
		endMillis := b.nowMillis()
		b.Status.BuildEdgeFinished(e, endMillis, success, output)

		if path, _, ok := e.RspFile(); ok && !g_keep_rsp {
			_ = b.Scanner.Disk.RemoveFile(path)
		}

		if success {
			if b.Log != nil && !e.IsPhony() {
				b.recordSuccess(e, edgeStart[e], endMillis)
			}
			for _, c := range consumers[e] {
				remainingDeps[c]--
				if remainingDeps[c] == 0 {
					admit(c)
				}
			}
		} else if firstErr == nil {
			firstErr = errors.Wrapf(ErrBuildFailed, "%s", e.EvaluateCommand())
		}
		retrieveReady()
	}

	for _, e := range toRun {
		if remainingDeps[e] == 0 {
			admit(e)
		}
	}

	for len(finished) < len(toRun) {
		if firstErr != nil && !b.Opts.KeepGoing {
			break
		}
		if inFlight == 0 {
			break
		}
		res, err := b.runner.Done(ctx)
		if err != nil {
			b.Status.BuildFinished()
			return err
		}
		inFlight--
		completeResult(res.Edge, res.Success, res.Output)
	}

	b.Status.BuildFinished()
	return firstErr
}

func (b *Builder) nowMillis() int64 {
	return time.Since(b.start).Milliseconds()
}

// recordSuccess stats every output fresh (the command just rewrote them),
// records one build-log entry per output, and — for a restat rule — folds
// any output whose mtime didn't actually advance back into clean, so
// CleanInput can spare downstream edges a rebuild their inputs never truly
// needed.
func (b *Builder) recordSuccess(e *Edge, startMillis, endMillis int64) {
	command := e.EvaluateCommand()
	restat := e.GetBinding("restat") != ""
	for _, out := range e.Outputs {
		var previous TimeStamp
		var hadPrevious bool
		if restat {
			previous, hadPrevious = b.Log.RestatMtime(out.Path)
		}
		out.ResetState()
		_, _ = out.StatIfNecessary(b.Scanner.Disk)
		_ = b.Log.RecordCommand(out.Path, command, int(startMillis), int(endMillis), out.Mtime())

		if restat && hadPrevious && out.Mtime() == previous {
			for _, consumer := range out.OutEdges {
				_ = b.Scanner.CleanInput(consumer, out, b.touched)
			}
		}
	}
}

// allOutputsClean reports whether every output of e is already clean in the
// Scanner's view, meaning a restat rule upstream proved e need not run.
func allOutputsClean(e *Edge) bool {
	if len(e.Outputs) == 0 {
		return false
	}
	for _, out := range e.Outputs {
		if out.Dirty() {
			return false
		}
	}
	return true
}
