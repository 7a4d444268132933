/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package sqlstore manages a directory of named SQLite database files.
//
// A database is restored into an in-memory SQLite engine on first access and kept in a
// handle cache. Every mutating operation backs the whole in-memory database up into a
// temp file and atomically replaces <dir>/<name>.db with it before it returns, so the file on disk always
// reflects the state after the last completed call. Reads never touch the file.
//
// Operations on one database are serialized by a per-handle mutex that is held for the
// whole read-mutate-persist sequence. Caller supplied SQL fragments (WHERE expressions,
// column types, DEFAULT expressions) are typed Raw and interpolated verbatim; record
// values are always bound as parameters.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"

	applog "datamanager/internal/log"
	"datamanager/internal/storage"
)

// Ext is the file extension of database files.
const Ext = ".db"

// Options configures a Manager.
type Options struct {
	Dir string
	// MaxOpenHandles bounds the handle cache; the least recently used database is
	// persisted and closed when the bound is exceeded. 0 means unbounded.
	MaxOpenHandles int
	Logger         *slog.Logger
}

// Manager implements the relational store. It is safe for concurrent use.
type Manager struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex // guards get-or-create and eviction
	cache *lru.Cache[string, *handle]

	// persisted is called after every successful write of a database file.
	persisted func(name string)
}

type handle struct {
	name string

	mu      sync.Mutex
	db      *sql.DB
	conn    *sql.Conn
	closed  bool
	dropped bool // set by DeleteDatabase: close without persisting
	backed  bool // a file exists for the database; handles of unknown names are never written
}

// New creates the data directory if needed and returns a Manager rooted at it.
func New(opts Options) (*Manager, error) {
	if err := storage.EnsureDir(opts.Dir); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("sqlstore")
	}
	m := &Manager{dir: opts.Dir, log: l.With(slog.String("dir", opts.Dir))}
	size := opts.MaxOpenHandles
	if size <= 0 {
		size = math.MaxInt
	}
	cache, err := lru.NewWithEvict[string, *handle](size, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: handle cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Dir returns the directory holding the database files.
func (m *Manager) Dir() string { return m.dir }

// OpenHandles reports how many databases are currently loaded in memory.
func (m *Manager) OpenHandles() int { return m.cache.Len() }

func (m *Manager) path(name string) string { return filepath.Join(m.dir, name+Ext) }

// getHandle returns the cached handle for name, loading the database file into a new
// in-memory engine when present or starting an empty one otherwise.
func (m *Manager) getHandle(ctx context.Context, op, name string) (*handle, error) {
	if err := storage.ValidateName(op, name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.cache.Get(name); ok {
		return h, nil
	}
	h, err := m.open(ctx, op, name)
	if err != nil {
		return nil, err
	}
	m.cache.Add(name, h)
	return h, nil
}

func (m *Manager) open(ctx context.Context, op, name string) (*handle, error) {
	path := m.path(name)
	pageSize, backed, err := readHeader(path)
	if err != nil {
		if storage.KindOf(err) != nil {
			return nil, storage.Errorf(storage.ErrDecode, op, "Database %s could not be loaded: %w", name, err)
		}
		return nil, fmt.Errorf("%s: read %s: %w", op, name, err)
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("%s: open engine: %w", op, err)
	}
	// every connection to :memory: is a separate database; keep exactly one
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: open engine: %w", op, err)
	}
	h := &handle{name: name, db: db, conn: conn, backed: backed}
	if pageSize > 0 {
		// a backup into an in-memory database requires matching page sizes
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA page_size = %d", pageSize)); err != nil {
			h.close()
			return nil, fmt.Errorf("%s: open engine: %w", op, err)
		}
		if err := restore(conn, path); err != nil {
			h.close()
			return nil, storage.Errorf(storage.ErrDecode, op, "Database %s could not be loaded: %w", name, err)
		}
	}
	m.log.Debug("database loaded", slog.String("name", name), slog.Bool("from_file", backed))
	return h, nil
}

const fileHeader = "SQLite format 3\x00"

// readHeader reports whether a file exists at path and, when it has content, the page
// size recorded in its header. An empty file is a valid empty database.
func readHeader(path string) (pageSize int, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer f.Close()
	hdr := make([]byte, 100)
	n, err := io.ReadFull(f, hdr)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return 0, true, nil
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return 0, true, err
	case n < len(hdr) || string(hdr[:len(fileHeader)]) != fileHeader:
		return 0, true, storage.Errorf(storage.ErrDecode, "sqlstore.read_header", "not a SQLite database")
	}
	pageSize = int(binary.BigEndian.Uint16(hdr[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	return pageSize, true, nil
}

func (h *handle) close() {
	h.closed = true
	_ = h.conn.Close()
	_ = h.db.Close()
}

// onEvict runs when a handle leaves the cache through capacity pressure, Remove or Purge.
func (m *Manager) onEvict(name string, h *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if !h.dropped && h.backed {
		if err := m.persist(context.Background(), h); err != nil {
			m.log.Error("persist on evict failed", slog.String("name", name), slog.Any("err", err))
		}
	}
	h.close()
	m.log.Debug("database handle closed", slog.String("name", name))
}

// withHandle runs fn while holding the database's mutex. When mutate is set and fn
// succeeds, the database is persisted before the mutex is released.
func (m *Manager) withHandle(ctx context.Context, op, name string, mutate bool, fn func(*handle) error) error {
	for {
		h, err := m.getHandle(ctx, op, name)
		if err != nil {
			return err
		}
		h.mu.Lock()
		if h.closed {
			// evicted between lookup and lock; load again
			h.mu.Unlock()
			continue
		}
		err = fn(h)
		if err == nil && mutate {
			err = m.persist(ctx, h)
		}
		h.mu.Unlock()
		return err
	}
}

// persist writes the full in-memory database to its file. The caller holds h.mu.
func (m *Manager) persist(ctx context.Context, h *handle) error {
	var pages int64
	if err := h.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return fmt.Errorf("persist %s: %w", h.name, err)
	}
	var err error
	if pages == 0 {
		err = storage.WriteFileAtomic(m.path(h.name), nil)
	} else {
		err = storage.ReplaceFile(m.path(h.name), func(temp string) error { return backup(h.conn, temp) })
	}
	if err != nil {
		m.log.Error("database write failed", slog.String("name", h.name), slog.Any("err", err))
		return fmt.Errorf("persist %s: %w", h.name, err)
	}
	h.backed = true
	m.log.Debug("database persisted", slog.String("name", h.name), slog.Int64("pages", pages))
	if m.persisted != nil {
		m.persisted(h.name)
	}
	return nil
}

type backupConn interface {
	NewBackup(dstURI string) (*sqlite.Backup, error)
	NewRestore(srcURI string) (*sqlite.Backup, error)
}

// backup copies the connection's database into a new file at path.
func backup(conn *sql.Conn, path string) error {
	uri, err := fileURI(path)
	if err != nil {
		return err
	}
	return conn.Raw(func(dc any) error {
		bc, ok := dc.(backupConn)
		if !ok {
			return errors.New("sqlite driver does not support backups")
		}
		b, err := bc.NewBackup(uri)
		if err != nil {
			return err
		}
		return runBackup(b)
	})
}

// restore replaces the connection's database with the content of the file at path.
func restore(conn *sql.Conn, path string) error {
	uri, err := fileURI(path)
	if err != nil {
		return err
	}
	return conn.Raw(func(dc any) error {
		bc, ok := dc.(backupConn)
		if !ok {
			return errors.New("sqlite driver does not support backups")
		}
		b, err := bc.NewRestore(uri)
		if err != nil {
			return err
		}
		return runBackup(b)
	})
}

func runBackup(b *sqlite.Backup) error {
	for {
		more, err := b.Step(-1)
		if err != nil {
			return errors.Join(err, b.Finish())
		}
		if !more {
			return b.Finish()
		}
	}
}

// fileURI turns path into a file: URI so names containing '?' or '#' reach the engine intact.
func fileURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// ListDatabases returns the names of all database files, sorted.
func (m *Manager) ListDatabases() ([]string, error) {
	return storage.ListNames(m.dir, Ext)
}

// CreateDatabase materializes an empty database and writes its file.
func (m *Manager) CreateDatabase(ctx context.Context, name string) error {
	const op = "sqlstore.create_database"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	if err := m.mustNotExist(op, name); err != nil {
		return err
	}
	return m.withHandle(ctx, op, name, true, func(*handle) error { return nil })
}

// ImportDatabase decodes base64 text into a database file and loads it.
// Input that is not a SQLite database is rejected and leaves no file behind.
func (m *Manager) ImportDatabase(ctx context.Context, name, encoded string) error {
	const op = "sqlstore.import_database"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	raw, err := decodeBase64(encoded)
	if err != nil {
		return storage.Errorf(storage.ErrDecode, op, "Invalid base64 data for %s: %w", name, err)
	}

	m.mu.Lock()
	if err := m.mustNotExist(op, name); err != nil {
		m.mu.Unlock()
		return err
	}
	// a handle cached for a never-persisted name must not shadow the imported file
	if h, ok := m.cache.Peek(name); ok {
		h.mu.Lock()
		h.dropped = true
		h.mu.Unlock()
		m.cache.Remove(name)
	}
	err = storage.WriteFileAtomic(m.path(name), raw)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = m.withHandle(ctx, op, name, false, func(h *handle) error {
		var n int
		return h.conn.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n)
	})
	if err != nil {
		_ = m.DeleteDatabase(name)
		if storage.KindOf(err) != nil {
			return err
		}
		return storage.Errorf(storage.ErrDecode, op, "Data for %s is not a SQLite database: %w", name, err)
	}
	m.log.Info("database imported", slog.String("name", name), slog.Int("bytes", len(raw)))
	return nil
}

// DeleteDatabase closes and evicts the cached handle and removes the file. A missing
// handle or a missing file is not an error.
func (m *Manager) DeleteDatabase(name string) error {
	const op = "sqlstore.delete_database"
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.cache.Peek(name); ok {
		h.mu.Lock()
		h.dropped = true
		h.mu.Unlock()
		m.cache.Remove(name)
	}
	if err := os.Remove(m.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.log.Debug("database deleted", slog.String("name", name))
	return nil
}

// CloseAll persists and closes every cached handle and empties the cache.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, name := range m.cache.Keys() {
		h, ok := m.cache.Peek(name)
		if !ok {
			continue
		}
		h.mu.Lock()
		if !h.closed {
			if h.backed && !h.dropped {
				if err := m.persist(context.Background(), h); err != nil {
					errs = append(errs, err)
				}
			}
			h.close()
		}
		h.mu.Unlock()
	}
	m.cache.Purge()
	if len(errs) > 0 {
		m.log.Error("close all: some databases were not persisted", slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

func (m *Manager) mustNotExist(op, name string) error {
	ok, err := storage.Exists(m.path(name))
	if err != nil {
		return fmt.Errorf("%s: stat %s: %w", op, name, err)
	}
	if ok {
		return storage.Errorf(storage.ErrAlreadyExists, op, "Database %s already exists", name)
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	// tolerate data URLs produced by FileReader.readAsDataURL
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, errors.New("empty input")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if rb, rerr := base64.RawStdEncoding.DecodeString(s); rerr == nil {
			return rb, nil
		}
		return nil, err
	}
	return b, nil
}

func sqlErr(op string, err error) error {
	if err == nil || storage.KindOf(err) != nil {
		return err
	}
	return storage.Errorf(storage.ErrSQL, op, "SQL Error: %w", err)
}
