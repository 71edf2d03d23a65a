// Copyright 2012 Google Inc. All Rights Reserved.
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
	"bytes"
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// CommandResult is what a finished subprocess reports back to the driver:
// the edge it ran, its combined stdout+stderr, and whether it exited zero.
type CommandResult struct {
	Edge    *Edge
	Output  string
	Success bool
}

// CommandRunner starts and waits on OS processes for edges outside any
// bounded pool's own admission decision (component F already decided which
// edges are ready; CommandRunner only bounds how many of those run as real
// OS processes at once). Modeled on the teacher's SubprocessSet, but
// collapsed onto goroutines plus a weighted semaphore instead of a manual
// poll loop, since the Go runtime's scheduler already multiplexes blocking
// Wait() calls for us.
type CommandRunner struct {
	sem         *semaphore.Weighted
	totalWeight int64
	result      chan CommandResult
}

// NewCommandRunner creates a runner that allows at most maxParallel
// simultaneous subprocesses across every pool combined. This is a backstop
// on top of (not instead of) the per-pool depth the scheduler enforces: a
// pool with unbounded depth would otherwise let the driver spawn every
// ready edge in the graph as an OS process simultaneously.
func NewCommandRunner(maxParallel int) *CommandRunner {
	if maxParallel <= 0 {
		maxParallel = GetProcessorCount()
	}
	return &CommandRunner{
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		totalWeight: int64(maxParallel),
		result:      make(chan CommandResult),
	}
}

// StartCommand acquires a semaphore slot and runs edge's command in the
// background, reporting to c.Done() when it completes. useConsole edges
// acquire the full semaphore weight so they never run concurrently with
// anything else, mirroring the console pool's depth-1 serialization.
func (c *CommandRunner) StartCommand(ctx context.Context, edge *Edge) error {
	w := int64(1)
	if edge.UseConsole() {
		w = c.totalWeight
	}
	if err := c.sem.Acquire(ctx, w); err != nil {
		return errors.Wrap(err, "acquiring command slot")
	}
	go func() {
		command := edge.EvaluateCommand()
		cmd := createCmd(ctx, command, edge.UseConsole(), true)
		var buf bytes.Buffer
		if !edge.UseConsole() {
			cmd.Stdout = &buf
			cmd.Stderr = &buf
		}
		err := cmd.Run()
		// Free the slot before reporting: the driver may be blocked in
		// Acquire for another edge and reads results only afterwards.
		c.sem.Release(w)
		c.result <- CommandResult{
			Edge:    edge,
			Output:  buf.String(),
			Success: err == nil,
		}
	}()
	return nil
}

// Done blocks until the next started command finishes, or ctx is
// cancelled.
func (c *CommandRunner) Done(ctx context.Context) (CommandResult, error) {
	select {
	case r := <-c.result:
		return r, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}
