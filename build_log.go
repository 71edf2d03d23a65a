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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// LogEntry is one output's last recorded build: the command fingerprint
// that produced it and the start/end/mtime triple ninja's build log keeps
// for restat bookkeeping.
type LogEntry struct {
	Output      string
	Command     string
	StartTime   int
	EndTime     int
	RestatMtime TimeStamp
}

// PersistentBuildLog is the on-disk command-fingerprint journal an edge's
// IsOutputDirty check consults: if the command that would run now differs
// from the one recorded for an up-to-date-looking output, the output is
// still considered dirty. It implements BuildLog (see dirty.go).
//
// The log is an append-only line-oriented text file (one entry per output
// of a successful edge), reloaded at startup and periodically recompacted by
// rewriting it atomically through renameio, the same pattern distri uses
// for its package-cache manifests.
type PersistentBuildLog struct {
	path    string
	entries map[string]*LogEntry
	file    *os.File
	w       *bufio.Writer
	dirty   int // entries appended since the file was last fully rewritten
}

const buildLogFileSignature = "# ninja log v"
const buildLogVersion = 6

// OpenBuildLog loads path if it exists and leaves the log ready to append
// further entries. A leading signature line is skipped without checking its
// version, and lines with fewer than five tab-separated fields are ignored.
// An error opening or reading an existing log, other than the file not
// existing, is returned; the log is not rewritten in that case.
func OpenBuildLog(path string) (*PersistentBuildLog, error) {
	l := &PersistentBuildLog{path: path, entries: map[string]*LogEntry{}}
	if err := l.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening build log %q", path)
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		fmt.Fprintf(l.w, "%s%d\n", buildLogFileSignature, buildLogVersion)
		l.w.Flush()
	}
	return l, nil
}

func (l *PersistentBuildLog) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading build log %q", l.path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(line, buildLogFileSignature) {
				continue
			}
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		start, _ := strconv.Atoi(fields[0])
		end, _ := strconv.Atoi(fields[1])
		mtime, _ := strconv.ParseInt(fields[2], 10, 64)
		output := fields[3]
		command := strings.Join(fields[4:], "\t")
		l.entries[output] = &LogEntry{
			Output:      output,
			Command:     command,
			StartTime:   start,
			EndTime:     end,
			RestatMtime: TimeStamp(mtime),
		}
	}
	return sc.Err()
}

// Lookup implements BuildLog.
func (l *PersistentBuildLog) Lookup(output string) (string, bool) {
	e, ok := l.entries[output]
	if !ok {
		return "", false
	}
	return e.Command, true
}

// RestatMtime returns the restat-adjusted mtime recorded for output, if
// any; used by the builder's restat fast path to decide whether a rebuild
// actually changed an output's content-relevant timestamp.
func (l *PersistentBuildLog) RestatMtime(output string) (TimeStamp, bool) {
	e, ok := l.entries[output]
	if !ok {
		return 0, false
	}
	return e.RestatMtime, true
}

// RecordCommand appends (or, in memory, replaces) the entry for output and
// flushes it to the append-only file.
func (l *PersistentBuildLog) RecordCommand(output, command string, start, end int, mtime TimeStamp) error {
	l.entries[output] = &LogEntry{Output: output, Command: command, StartTime: start, EndTime: end, RestatMtime: mtime}
	if l.w == nil {
		return nil
	}
	if _, err := fmt.Fprintf(l.w, "%d\t%d\t%d\t%s\t%s\n", start, end, mtime, output, command); err != nil {
		return errors.Wrap(err, "writing build log entry")
	}
	l.dirty++
	if l.dirty >= 1000 {
		if err := l.w.Flush(); err != nil {
			return err
		}
		return l.recompact()
	}
	return l.w.Flush()
}

// recompact rewrites the log from the in-memory entry table atomically
// (write-to-temp, fsync, rename), dropping stale superseded lines the
// append-only format has accumulated.
func (l *PersistentBuildLog) recompact() error {
	if l.file != nil {
		l.file.Close()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%d\n", buildLogFileSignature, buildLogVersion)
	for _, e := range l.entries {
		fmt.Fprintf(&b, "%d\t%d\t%d\t%s\t%s\n", e.StartTime, e.EndTime, e.RestatMtime, e.Output, e.Command)
	}
	if err := renameio.WriteFile(l.path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrapf(err, "recompacting build log %q", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "reopening build log %q", l.path)
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	l.dirty = 0
	return nil
}

// Close flushes and closes the underlying file.
func (l *PersistentBuildLog) Close() error {
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return err
		}
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// DefaultBuildLogPath is where the builder looks for the log inside a
// given build directory, matching ninja's ".ninja_log" convention.
func DefaultBuildLogPath(buildDir string) string {
	return filepath.Join(buildDir, ".ninja_log")
}
