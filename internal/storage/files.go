/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ValidateName checks that name can be used as a store entry (a single file name component).
func ValidateName(op, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return Errorf(ErrInvalid, op, "name is required")
	case name == "." || name == "..":
		return Errorf(ErrInvalid, op, "invalid name %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return Errorf(ErrInvalid, op, "invalid name %q: must not contain path separators", name)
	}
	return nil
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) (bool, error) {
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		return fi.Mode().IsRegular(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ListNames returns the sorted base names of regular files in dir ending in ext.
// Hidden files (temp files from in-flight writes) are skipped.
func ListNames(dir, ext string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ext))
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic replaces path with data: it writes a temp file in the same directory,
// syncs it and renames it over the target, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	return ReplaceFile(path, func(temp string) error {
		return os.WriteFile(temp, data, 0o644)
	})
}

// ReplaceFile is WriteFileAtomic for content that write produces itself at temp,
// a not yet existing path in the target's directory.
func ReplaceFile(path string, write func(temp string) error) error {
	dir := filepath.Dir(path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := write(temp); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := syncFile(temp); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// syncFile flushes a written file to disk.
func syncFile(path string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return f.Sync()
}

// CopyFile copies src to dst (overwrites dst if exists), creating dst's directory.
func CopyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
