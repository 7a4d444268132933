/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package docstore manages a directory of named JSON documents.
//
// Each document is stored as <dir>/<name>.json, pretty-printed with a 2-space indent.
// Every mutation reads the whole document, changes it in memory and writes the whole
// file back through a temp file + rename. Record-level operations require the document
// content to be a JSON array of objects; records are addressed by their position.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	applog "datamanager/internal/log"
	"datamanager/internal/record"
	"datamanager/internal/storage"
)

const (
	// Ext is the file extension of document files.
	Ext = ".json"
	// BackupsDirName holds timestamped copies of overwritten documents when backups are enabled.
	BackupsDirName = "backups"
)

// Options configures a Manager.
type Options struct {
	Dir     string
	Backups bool
	Logger  *slog.Logger
}

// Manager implements the document store. It is safe for concurrent use: mutations of the
// same document are serialized, mutations of different documents run independently.
type Manager struct {
	dir     string
	backups bool
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*nameLock
}

// nameLock is dropped from Manager.locks when its last holder or waiter releases it.
type nameLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the data directory if needed and returns a Manager rooted at it.
func New(opts Options) (*Manager, error) {
	if err := storage.EnsureDir(opts.Dir); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("docstore")
	}
	return &Manager{
		dir:     opts.Dir,
		backups: opts.Backups,
		log:     l.With(slog.String("dir", opts.Dir)),
		locks:   make(map[string]*nameLock),
	}, nil
}

// Dir returns the directory holding the documents.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(name string) string { return filepath.Join(m.dir, name+Ext) }

// lock serializes read-modify-write sequences on one document name.
func (m *Manager) lock(name string) func() {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &nameLock{}
		m.locks[name] = l
	}
	l.refs++
	m.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(m.locks, name)
		}
		m.mu.Unlock()
	}
}

// List returns the names of all documents, sorted.
func (m *Manager) List() ([]string, error) {
	return storage.ListNames(m.dir, Ext)
}

// Create writes a new document. A nil content creates an empty array.
func (m *Manager) Create(name string, content any) error {
	const op = "docstore.create"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	if content == nil {
		content = []any{}
	}
	doc, err := normalize(op, content)
	if err != nil {
		return err
	}
	unlock := m.lock(name)
	defer unlock()
	if err := m.mustNotExist(op, name); err != nil {
		return err
	}
	return m.write(op, name, doc)
}

// Read returns the parsed content of a document.
func (m *Manager) Read(name string) (any, error) {
	const op = "docstore.read"
	if err := storage.ValidateName(op, name); err != nil {
		return nil, err
	}
	return m.read(op, name)
}

// Update replaces the whole content of an existing document.
func (m *Manager) Update(name string, content any) error {
	const op = "docstore.update"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	doc, err := normalize(op, content)
	if err != nil {
		return err
	}
	unlock := m.lock(name)
	defer unlock()
	if err := m.mustExist(op, name); err != nil {
		return err
	}
	return m.write(op, name, doc)
}

// Delete removes the document file.
func (m *Manager) Delete(name string) error {
	const op = "docstore.delete"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	unlock := m.lock(name)
	defer unlock()
	if err := os.Remove(m.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.Errorf(storage.ErrNotFound, op, "File %s not found", name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	m.log.Debug("document deleted", slog.String("name", name))
	return nil
}

// Import creates a document from serialized JSON text (string or []byte) or from an
// already parsed value. It fails like Create when the name is taken.
func (m *Manager) Import(name string, data any) error {
	const op = "docstore.import"
	var content any
	switch v := data.(type) {
	case string:
		parsed, err := record.Decode([]byte(v))
		if err != nil {
			return storage.Errorf(storage.ErrDecode, op, "Invalid JSON for %s: %w", name, err)
		}
		content = parsed
	case []byte:
		parsed, err := record.Decode(v)
		if err != nil {
			return storage.Errorf(storage.ErrDecode, op, "Invalid JSON for %s: %w", name, err)
		}
		content = parsed
	case json.RawMessage:
		parsed, err := record.Decode(v)
		if err != nil {
			return storage.Errorf(storage.ErrDecode, op, "Invalid JSON for %s: %w", name, err)
		}
		content = parsed
	case nil:
		return storage.Errorf(storage.ErrInvalid, op, "no data to import into %s", name)
	default:
		content = v
	}
	return m.Create(name, content)
}

// Export returns the document serialized as 2-space indented JSON.
func (m *Manager) Export(name string) ([]byte, error) {
	const op = "docstore.export"
	doc, err := m.Read(name)
	if err != nil {
		return nil, err
	}
	b, err := record.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %s: %w", op, name, err)
	}
	return b, nil
}

func (m *Manager) mustExist(op, name string) error {
	ok, err := storage.Exists(m.path(name))
	if err != nil {
		return fmt.Errorf("%s: stat %s: %w", op, name, err)
	}
	if !ok {
		return storage.Errorf(storage.ErrNotFound, op, "File %s not found", name)
	}
	return nil
}

func (m *Manager) mustNotExist(op, name string) error {
	ok, err := storage.Exists(m.path(name))
	if err != nil {
		return fmt.Errorf("%s: stat %s: %w", op, name, err)
	}
	if ok {
		return storage.Errorf(storage.ErrAlreadyExists, op, "File %s already exists", name)
	}
	return nil
}

func (m *Manager) read(op, name string) (any, error) {
	b, err := os.ReadFile(m.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.Errorf(storage.ErrNotFound, op, "File %s not found", name)
		}
		return nil, fmt.Errorf("%s: read %s: %w", op, name, err)
	}
	doc, err := record.Decode(b)
	if err != nil {
		m.log.Warn("document is not valid JSON", slog.String("name", name), slog.Any("err", err))
		return nil, storage.Errorf(storage.ErrDecode, op, "File %s is corrupted: %w", name, err)
	}
	return doc, nil
}

// write serializes doc and atomically replaces the document file,
// keeping a timestamped copy of the previous content when backups are on.
func (m *Manager) write(op, name string, doc any) error {
	data, err := record.Encode(doc)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", op, name, err)
	}
	data = append(data, '\n')
	p := m.path(name)
	if m.backups {
		if ok, _ := storage.Exists(p); ok {
			stamp := time.Now().Format("20060102-150405.000000000")
			bpath := filepath.Join(m.dir, BackupsDirName, fmt.Sprintf("%s%s.%s.bak", name, Ext, stamp))
			if err := storage.CopyFile(p, bpath); err != nil {
				return fmt.Errorf("%s: backup %s: %w", op, name, err)
			}
		}
	}
	if err := storage.WriteFileAtomic(p, data); err != nil {
		m.log.Error("document write failed", slog.String("op", op), slog.String("name", name), slog.Any("err", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	m.log.Debug("document written", slog.String("op", op), slog.String("name", name), slog.Int("bytes", len(data)))
	return nil
}

func normalize(op string, content any) (any, error) {
	doc, err := record.Normalize(content)
	if err != nil {
		return nil, storage.Errorf(storage.ErrInvalid, op, "content is not representable as JSON: %w", err)
	}
	return doc, nil
}
