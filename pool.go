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

import "sort"

// Pool is a named concurrency bucket bounding weighted in-flight edges.
// Depth == 0 means unbounded. current_use is mutated only by EdgeScheduled
// and EdgeFinished, which must be paired around every executed edge;
// violating the pairing produces silent starvation.
type Pool struct {
	Name  string
	Depth int

	currentUse int
	delayed    []*Edge // ordered lazily by Weight desc, then insertion order, on retrieval
}

// ConsolePool is the distinguished pool with depth 1 meaning "serialized
// with terminal attached".
var ConsolePool = &Pool{Name: "console", Depth: 1}

// DefaultPool is the unbounded pool edges use when not otherwise assigned.
var DefaultPool = &Pool{Name: "", Depth: 0}

// NewPool creates a named bounded pool.
func NewPool(name string, depth int) *Pool {
	return &Pool{Name: name, Depth: depth}
}

// IsValid reports whether depth is non-negative; pool declarations with a
// negative or missing depth are a parse error upstream.
func (p *Pool) IsValid() bool {
	return p.Depth >= 0
}

// CurrentUse returns the pool's current weighted occupancy. Exposed for
// tests asserting it returns to zero at the end of a build.
func (p *Pool) CurrentUse() int {
	return p.currentUse
}

// EdgeScheduled accounts for edge entering execution.
func (p *Pool) EdgeScheduled(e *Edge) {
	if p.Depth != 0 {
		p.currentUse += e.Weight()
	}
}

// EdgeFinished accounts for edge leaving execution.
func (p *Pool) EdgeFinished(e *Edge) {
	if p.Depth != 0 {
		p.currentUse -= e.Weight()
	}
}

// DelayEdge inserts edge into the pool's delayed set. Only meaningful for
// bounded pools; unbounded pools have no reason to delay anything.
func (p *Pool) DelayEdge(e *Edge) {
	p.delayed = append(p.delayed, e)
}

// RetrieveReadyEdges walks the delayed set in descending-weight order
// (ties broken by insertion order) and admits every edge that currently
// fits within the pool's remaining depth, skipping over ones that don't so
// that a later, lower-weight edge still gets a chance. Every admitted edge
// is appended to out and accounted for via EdgeScheduled.
//
// This "skip, don't stop" admission order is the one resolution point where
// spec.md's prose ("first edge whose weight would exceed the remaining
// capacity stops the scan") and its own worked example (depth=3, weights
// [2,2,1,1] admitting {w2,w1}) disagree; the worked example is authoritative
// here (see SPEC_FULL.md and DESIGN.md).
func (p *Pool) RetrieveReadyEdges(out *[]*Edge) {
	sort.SliceStable(p.delayed, func(i, j int) bool {
		return p.delayed[i].Weight() > p.delayed[j].Weight()
	})

	remaining := p.delayed[:0]
	for _, e := range p.delayed {
		if p.Depth == 0 || p.currentUse+e.Weight() <= p.Depth {
			*out = append(*out, e)
			p.EdgeScheduled(e)
		} else {
			remaining = append(remaining, e)
		}
	}
	p.delayed = remaining
}
