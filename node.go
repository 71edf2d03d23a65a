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

// TimeStamp is a modification time in seconds since the epoch. -1 means "not
// yet stat'd", 0 means "missing", >0 is a real mtime.
type TimeStamp int64

// ExistenceStatus tracks whether a Node's backing file is known to exist.
type ExistenceStatus int

const (
	ExistenceStatusUnknown ExistenceStatus = iota
	ExistenceStatusMissing
	ExistenceStatusExists
)

// Node is a file participating in the build: its canonical path, identity,
// memoized mtime, dirty flag, at most one producer edge, and the edges that
// consume it.
//
// Invariants: a Node has zero or one producer (InEdge); a Node without a
// producer cannot be an output; Dirty is only meaningful once mtime is known
// (Exists != ExistenceStatusUnknown).
type Node struct {
	Path      string
	SlashBits uint64 // bitmask of which separators were originally backslashes

	mtime  TimeStamp
	exists ExistenceStatus
	dirty  bool

	InEdge   *Edge
	OutEdges []*Edge

	// ID is a monotonic insertion id, used as the stable tiebreak for
	// otherwise-equal orderings (e.g. spellcheck ties).
	ID int
}

// NewNode creates an unstated node for path.
func NewNode(path string, slashBits uint64, id int) *Node {
	return &Node{Path: path, SlashBits: slashBits, mtime: -1, ID: id}
}

// StatIfNecessary performs at most one stat per build pass: if the node's
// existence is already known this pass, it is a no-op returning false.
// Otherwise it stats the file through disk, records the mtime (a missing
// file maps to mtime 0, not an error), and returns true.
func (n *Node) StatIfNecessary(disk DiskInterface) (bool, error) {
	if n.statusKnown() {
		return false, nil
	}
	mtime, err := disk.Stat(n.Path)
	if err != nil {
		return true, err
	}
	n.mtime = mtime
	if mtime == 0 {
		n.exists = ExistenceStatusMissing
	} else {
		n.exists = ExistenceStatusExists
	}
	return true, nil
}

// ResetState marks the node as not-yet-stat'd and not dirty. Used when
// tearing down a build pass's arena.
func (n *Node) ResetState() {
	n.mtime = -1
	n.exists = ExistenceStatusUnknown
	n.dirty = false
}

// MarkMissing marks the node as already-stat'd and missing, without
// performing a stat.
func (n *Node) MarkMissing() {
	if n.mtime == -1 {
		n.mtime = 0
	}
	n.exists = ExistenceStatusMissing
}

func (n *Node) Exists() bool          { return n.exists == ExistenceStatusExists }
func (n *Node) statusKnown() bool     { return n.exists != ExistenceStatusUnknown }
func (n *Node) Mtime() TimeStamp      { return n.mtime }
func (n *Node) Dirty() bool           { return n.dirty }
func (n *Node) SetDirty(dirty bool)   { n.dirty = dirty }
func (n *Node) MarkDirty()            { n.dirty = true }

// PathDecanonicalized returns Path with separators restored to their
// original host convention per SlashBits.
func (n *Node) PathDecanonicalized() string {
	return PathDecanonicalized(n.Path, n.SlashBits)
}

// PathDecanonicalized restores backslashes into path at the positions
// recorded in slashBits (bit i set means the i-th slash was originally a
// backslash).
func PathDecanonicalized(path string, slashBits uint64) string {
	if slashBits == 0 {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	mask := uint64(1)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if slashBits&mask != 0 {
				c = '\\'
			}
			mask <<= 1
		}
		b.WriteByte(c)
	}
	return b.String()
}
