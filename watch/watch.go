// Copyright 2014 Google Inc. All Rights Reserved.
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

// Package watch implements a recursive, inotify-backed directory-tree
// watcher that maps filesystem change events back to opaque caller-supplied
// keys, with add/change/delete diff semantics and a quiescence hysteresis.
package watch

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// hysteresis is how long Timeout asks the caller to keep waiting after the
// last received event before treating the pending diff as settled. This
// coalesces bursts such as an editor that saves-then-renames.
const hysteresis = 100 * time.Millisecond

const dirMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MOVE_SELF | unix.IN_DELETE_SELF
const leafMask = unix.IN_CLOSE_WRITE | unix.IN_MOVE_SELF | unix.IN_DELETE_SELF

// watchedNode is one path component of every watched path, forming a trie
// rooted at Watcher.roots. Exactly the leaves carry a non-nil key.
type watchedNode struct {
	hasWD   bool
	wd      int
	key     interface{}
	subdirs map[string]*watchedNode
}

func newWatchedNode() *watchedNode {
	return &watchedNode{wd: -1, subdirs: map[string]*watchedNode{}}
}

// watchEntry is what Watcher.watchMap remembers for a live descriptor: the
// canonical path it was installed at and the trie node it refreshes.
type watchEntry struct {
	path string
	node *watchedNode // nil once the node has been logically removed
}

// Watcher is a recursive directory-tree watcher. One Watcher owns one
// inotify file descriptor and one trie of watchedNodes; every registered
// path shares whichever descriptor already covers it (detected by
// descriptor identity, not path identity, so symlink loops are tolerated).
//
// Not safe for concurrent use: callers are expected to own one logical
// event loop, matching the rest of this module's single-threaded
// cooperative model.
type Watcher struct {
	fd       int
	watchMap map[int]*watchEntry
	roots    map[string]*watchedNode

	added, changed, deleted map[interface{}]struct{}

	lastEvent time.Time

	// Ignore holds doublestar glob patterns (matched against the path as
	// given to AddPath, or the leading part of it that names a directory
	// component) that AddPath should skip installing a kernel watch for. A nil/empty Ignore watches everything.
	Ignore []string

	buf []byte // grown on EINVAL, mirroring the original's dynamic re-read
}

// NewWatcher creates a Watcher backed by a fresh inotify instance.
func NewWatcher() (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "inotify_init1")
	}
	return &Watcher{
		fd:       fd,
		watchMap: map[int]*watchEntry{},
		roots:    map[string]*watchedNode{},
		added:    map[interface{}]struct{}{},
		changed:  map[interface{}]struct{}{},
		deleted:  map[interface{}]struct{}{},
		buf:      make([]byte, unix.SizeofInotifyEvent),
	}, nil
}

// Close releases the underlying inotify file descriptor.
func (w *Watcher) Close() error {
	return unix.Close(w.fd)
}

// Fd returns the inotify file descriptor, for a caller's own poll/select
// loop; WaitForEvents below is a convenience blocking wrapper around it.
func (w *Watcher) Fd() int { return w.fd }

// isIgnored reports whether subpath (slash-joined, relative to no
// particular root) matches one of w.Ignore's glob patterns.
func (w *Watcher) isIgnored(subpath string) bool {
	for _, pattern := range w.Ignore {
		if ok, _ := doublestar.Match(pattern, subpath); ok {
			return true
		}
	}
	return false
}

// AddPath decomposes path by "/", walking (and extending) the trie rooted
// at roots, installing an inotify watch on every intermediate directory
// component (mask CREATE|MOVED_TO|MOVE_SELF|DELETE_SELF) and on the leaf
// (mask CLOSE_WRITE|MOVE_SELF|DELETE_SELF, with key attached). A failure to
// install one watch is neither returned nor logged: that node is simply
// left without a watch descriptor. AddPath returns an error only for an
// empty path.
func (w *Watcher) AddPath(path string, key interface{}) error {
	if path == "" {
		return errors.New("empty watch path")
	}
	m := w.roots
	pos := 0
	for {
		slash := strings.IndexByte(path[pos:], '/')
		var comp string
		var atLeaf bool
		var end int
		if slash == -1 {
			comp = path[pos:]
			atLeaf = true
			end = len(path)
		} else {
			comp = path[pos : pos+slash]
			end = pos + slash
		}
		accumulated := path[:end]

		node, ok := m[comp]
		if !ok {
			node = newWatchedNode()
			m[comp] = node
		}

		if atLeaf {
			node.key = key
		}

		if !node.hasWD && comp != "" && !w.isIgnored(accumulated) {
			mask := dirMask
			if atLeaf {
				mask = leafMask
			}
			if wd, err := unix.InotifyAddWatch(w.fd, accumulated, uint32(mask)); err == nil {
				if existing, dup := w.watchMap[wd]; dup {
					// Symlink shortcut: this descriptor already covers
					// existing.path. Fold the remainder of path onto that
					// canonical prefix and keep walking in its subtree instead
					// of the duplicate trie branch we just created.
					delete(m, comp)
					if !atLeaf {
						path = existing.path + path[pos+slash:]
						slash = len(existing.path) - pos
					}
					node = existing.node
				} else {
					w.watchMap[wd] = &watchEntry{path: accumulated, node: node}
					node.wd = wd
					node.hasWD = true
				}
			}
		}

		if atLeaf {
			return nil
		}
		pos += slash + 1
		if node.subdirs == nil {
			node.subdirs = map[string]*watchedNode{}
		}
		m = node.subdirs
	}
}

// rawEvent is the fixed-size header of a struct inotify_event; the variable-
// length, NUL-padded name follows it in the kernel's read buffer.
type rawEvent struct {
	Wd     int32
	Mask   uint32
	Cookie uint32
	Len    uint32
}

func parseEvent(b []byte) rawEvent {
	return rawEvent{
		Wd:     int32(binary.LittleEndian.Uint32(b[0:4])),
		Mask:   binary.LittleEndian.Uint32(b[4:8]),
		Cookie: binary.LittleEndian.Uint32(b[8:12]),
		Len:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// OnReady drains exactly one event from the kernel queue. Per inotify(7), a
// read() whose buffer is smaller than the next pending event fails with
// EINVAL; OnReady grows its buffer by one event's worth and retries, rather
// than guessing a size up front.
func (w *Watcher) OnReady() error {
	var ev rawEvent
	var name string
	for {
		n, err := unix.Read(w.fd, w.buf)
		if err != nil {
			if err == unix.EINVAL {
				w.buf = make([]byte, len(w.buf)+unix.SizeofInotifyEvent)
				continue
			}
			return errors.Wrap(err, "read inotify fd")
		}
		if n < unix.SizeofInotifyEvent {
			return errors.New("short inotify read")
		}
		ev = parseEvent(w.buf[:n])
		if ev.Len > 0 {
			nameBytes := w.buf[unix.SizeofInotifyEvent : unix.SizeofInotifyEvent+int(ev.Len)]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}
			name = string(nameBytes)
		} else {
			name = ""
		}
		break
	}

	if ev.Mask&unix.IN_IGNORED != 0 {
		delete(w.watchMap, int(ev.Wd))
		return nil
	}

	entry, ok := w.watchMap[int(ev.Wd)]
	if !ok || entry.node == nil {
		// We've removed the watch, but the kernel may still deliver events
		// queued before the removal landed; silently drop them.
		return nil
	}

	if ev.Mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
		if child, ok := entry.node.subdirs[name]; ok {
			w.refresh(entry.path+"/"+name, child)
		}
	}
	if ev.Mask&(unix.IN_MOVE_SELF|unix.IN_DELETE_SELF) != 0 {
		w.refresh(entry.path, entry.node)
	}
	if ev.Mask&unix.IN_CLOSE_WRITE != 0 {
		w.keyChanged(entry.node.key)
	}

	w.lastEvent = time.Now()
	return nil
}

// refresh drops node's existing watch (if any) and attempts to install a
// fresh one at path, then classifies the (had_wd, has_wd, is_leaf) triple
// into a key-diff event and recurses into every child so a renamed
// directory's descendants get re-watched at their new absolute paths too.
func (w *Watcher) refresh(path string, node *watchedNode) {
	hadWD := node.hasWD
	if hadWD {
		unix.InotifyRmWatch(w.fd, uint32(node.wd))
		if entry, ok := w.watchMap[node.wd]; ok {
			entry.node = nil
		}
		delete(w.watchMap, node.wd)
		node.hasWD = false
		node.wd = -1
	}

	if !w.isIgnored(path) {
		mask := dirMask
		if node.key != nil {
			mask = leafMask
		}
		if wd, err := unix.InotifyAddWatch(w.fd, path, uint32(mask)); err == nil {
			w.watchMap[wd] = &watchEntry{path: path, node: node}
			node.wd = wd
			node.hasWD = true
		}
	}
	hasWD := node.hasWD

	if node.key != nil {
		switch {
		case hadWD && hasWD:
			w.keyChanged(node.key)
		case hadWD && !hasWD:
			w.keyDeleted(node.key)
		case !hadWD && hasWD:
			w.keyAdded(node.key)
		}
	}

	for name, child := range node.subdirs {
		w.refresh(path+"/"+name, child)
	}
}

// keyAdded, keyChanged, keyDeleted implement the three-set state machine
// from §4.H's transition table: each key carries at most one
// classification at a time, and a later event supersedes an earlier one
// according to the table, not simply overwrites it.
func (w *Watcher) keyAdded(key interface{}) {
	if _, ok := w.deleted[key]; ok {
		delete(w.deleted, key)
		w.changed[key] = struct{}{}
		return
	}
	w.added[key] = struct{}{}
}

func (w *Watcher) keyChanged(key interface{}) {
	if key == nil {
		return
	}
	if _, ok := w.added[key]; !ok {
		w.changed[key] = struct{}{}
	}
}

func (w *Watcher) keyDeleted(key interface{}) {
	if _, ok := w.added[key]; ok {
		delete(w.added, key)
		return
	}
	delete(w.changed, key)
	w.deleted[key] = struct{}{}
}

// Reset clears the added/changed/deleted sets, typically called once the
// caller has consumed and acted on a settled diff.
func (w *Watcher) Reset() {
	w.added = map[interface{}]struct{}{}
	w.changed = map[interface{}]struct{}{}
	w.deleted = map[interface{}]struct{}{}
}

// Pending reports whether any of the three diff sets is non-empty.
func (w *Watcher) Pending() bool {
	return len(w.added) > 0 || len(w.changed) > 0 || len(w.deleted) > 0
}

// Added, Changed, Deleted return snapshots of the current diff sets. The
// union of the three is exactly the keys whose reachable inode set changed
// since the last Reset.
func (w *Watcher) Added() []interface{}   { return keys(w.added) }
func (w *Watcher) Changed() []interface{} { return keys(w.changed) }
func (w *Watcher) Deleted() []interface{} { return keys(w.deleted) }

func keys(m map[interface{}]struct{}) []interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Timeout returns the duration the caller's blocking wait should use, and
// false if nothing is pending (block indefinitely). While something is
// pending, Timeout keeps returning a positive duration until hysteresis has
// elapsed since the last received event, so that a burst of events (an
// editor that saves-then-renames) settles into one diff instead of firing
// on every intermediate event.
func (w *Watcher) Timeout() (time.Duration, bool) {
	if !w.Pending() {
		return 0, false
	}
	elapsed := time.Since(w.lastEvent)
	if elapsed >= hysteresis {
		return 0, true
	}
	return hysteresis - elapsed, true
}

// WaitForEvents blocks until the inotify fd is readable or the timeout
// from Timeout elapses, then drains exactly one event via OnReady. It
// returns immediately (without reading) if Timeout reports the hysteresis
// has already elapsed, since there is nothing further to coalesce. This is
// a convenience wrapper around Fd()/Timeout()/OnReady() for callers that
// don't already run their own poll loop.
func (w *Watcher) WaitForEvents() error {
	timeout := -1
	if d, ok := w.Timeout(); ok {
		if d == 0 {
			return nil
		}
		timeout = int(d.Milliseconds())
	}
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "poll inotify fd")
		}
		if n == 0 {
			return nil
		}
		return w.OnReady()
	}
}
