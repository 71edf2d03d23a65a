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
	"syscall"

	"github.com/pkg/errors"
)

// DiskInterface is the disk collaborator the dirtiness propagator and
// builder consume: stat, read-file, mkdir, plus the write/remove pair the
// rspfile fast path needs. A missing file is reported as mtime 0, not an
// error.
type DiskInterface interface {
	Stat(path string) (TimeStamp, error)
	ReadFile(path string) ([]byte, error)
	MakeDir(path string) error
	WriteFile(path, content string) error
	RemoveFile(path string) error
}

// RealDiskInterface implements DiskInterface against the real filesystem.
type RealDiskInterface struct{}

// Stat returns 0 for a missing path, and does not treat that as an error.
func (RealDiskInterface) Stat(path string) (TimeStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		// A component of the path prefix not being a directory surfaces the
		// same way on POSIX; treat it identically to a missing file. Every
		// other errno (permission denied, name too long, I/O error, symlink
		// loop, ...) is a real error, not an absence.
		if pe, ok := err.(*os.PathError); ok && (errors.Is(pe.Err, syscall.ENOENT) || errors.Is(pe.Err, syscall.ENOTDIR)) {
			return 0, nil
		}
		return -1, errors.Wrapf(err, "stat %q", path)
	}
	return TimeStamp(info.ModTime().Unix()), nil
}

func (RealDiskInterface) ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	return b, nil
}

func (RealDiskInterface) MakeDir(path string) error {
	if err := os.MkdirAll(path, 0o777); err != nil {
		return errors.Wrapf(err, "mkdir %q", path)
	}
	return nil
}

// WriteFile writes content to path, truncating or creating it as needed;
// used to materialize a rspfile before its command runs.
func (RealDiskInterface) WriteFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "write %q", path)
	}
	return nil
}

// RemoveFile deletes path, used to clean up a rspfile after its command
// runs unless -d keeprsp is set. A missing file is not an error.
func (RealDiskInterface) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %q", path)
	}
	return nil
}
