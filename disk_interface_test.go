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
	"os"
	"path/filepath"
	"testing"
)

func TestRealDiskInterface_StatMissingFile(t *testing.T) {
	dir := t.TempDir()
	var disk RealDiskInterface
	mtime, err := disk.Stat(filepath.Join(dir, "nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	if mtime != 0 {
		t.Fatalf("want 0 for a missing file, got %d", mtime)
	}
}

func TestRealDiskInterface_StatExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	var disk RealDiskInterface
	mtime, err := disk.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mtime <= 0 {
		t.Fatalf("want a positive mtime, got %d", mtime)
	}
}

func TestRealDiskInterface_ReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	var disk RealDiskInterface
	got, err := disk.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestRealDiskInterface_MakeDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	var disk RealDiskInterface
	if err := disk.MakeDir(nested); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(nested)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("want a directory")
	}
}
