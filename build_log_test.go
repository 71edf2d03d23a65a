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
	"path/filepath"
	"testing"
)

func TestBuildLog_RecordAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")

	log, err := OpenBuildLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.RecordCommand("out", "cat in > out", 1, 2, 100); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBuildLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	cmd, ok := reopened.Lookup("out")
	if !ok {
		t.Fatal("expected a recorded entry to survive a reopen")
	}
	if cmd != "cat in > out" {
		t.Fatalf("got %q", cmd)
	}
	mtime, ok := reopened.RestatMtime("out")
	if !ok || mtime != 100 {
		t.Fatalf("got %d, %v", mtime, ok)
	}
}

func TestBuildLog_LookupMiss(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenBuildLog(filepath.Join(dir, ".ninja_log"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	if _, ok := log.Lookup("never-built"); ok {
		t.Fatal("want no entry for a never-recorded output")
	}
}

func TestBuildLog_Recompact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ninja_log")
	log, err := OpenBuildLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	// Record the same output enough times to force a recompaction and
	// confirm the latest record wins.
	for i := 0; i < 1001; i++ {
		if err := log.RecordCommand("out", "cat in > out", i, i+1, TimeStamp(i)); err != nil {
			t.Fatal(err)
		}
	}
	cmd, ok := log.Lookup("out")
	if !ok || cmd != "cat in > out" {
		t.Fatalf("got %q, %v", cmd, ok)
	}
	if mtime, ok := log.RestatMtime("out"); !ok || mtime != 1000 {
		t.Fatalf("got mtime %d, %v; want the last record's 1000", mtime, ok)
	}
}

func TestDefaultBuildLogPath(t *testing.T) {
	if got := DefaultBuildLogPath("build"); got != filepath.Join("build", ".ninja_log") {
		t.Fatalf("got %q", got)
	}
}
