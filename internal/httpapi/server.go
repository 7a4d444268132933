/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package httpapi exposes the document and relational stores as a JSON REST API.
//
// Every route maps to exactly one store operation. Responses use the envelope
// {success, message|error, data}; list routes put their result under a route specific
// key (files, databases, tables, schema, records, result).
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"datamanager/internal/record"
	"datamanager/internal/storage/sqlstore"
	"datamanager/internal/version"

	applog "datamanager/internal/log"
)

// DocumentStore is the document store surface used by the API.
type DocumentStore interface {
	List() ([]string, error)
	Create(name string, content any) error
	Read(name string) (any, error)
	Update(name string, content any) error
	Delete(name string) error
	InsertRecord(name string, rec *record.Record) (*record.Record, error)
	UpdateRecord(name string, index int, updates *record.Record) (*record.Record, error)
	DeleteRecord(name string, index int) (any, error)
	AddProperty(name, prop string, def any) error
	RemoveProperty(name, prop string) error
	RenameProperty(name, oldName, newName string) error
	Import(name string, data any) error
	Export(name string) ([]byte, error)
	Dir() string
}

// RelationalStore is the relational store surface used by the API.
type RelationalStore interface {
	ListDatabases() ([]string, error)
	CreateDatabase(ctx context.Context, name string) error
	ImportDatabase(ctx context.Context, name, encoded string) error
	DeleteDatabase(name string) error
	ListTables(ctx context.Context, dbName string) ([]string, error)
	CreateTable(ctx context.Context, dbName, table string, columns []sqlstore.Column) error
	DropTable(ctx context.Context, dbName, table string) error
	GetTableSchema(ctx context.Context, dbName, table string) ([]*record.Record, error)
	InsertRecord(ctx context.Context, dbName, table string, rec *record.Record) (int64, error)
	SelectRecords(ctx context.Context, dbName, table string, where sqlstore.Raw, limit int) ([]*record.Record, error)
	UpdateRecord(ctx context.Context, dbName, table string, updates *record.Record, where sqlstore.Raw) (int64, error)
	DeleteRecord(ctx context.Context, dbName, table string, where sqlstore.Raw) (int64, error)
	AddColumn(ctx context.Context, dbName, table, column string, colType sqlstore.Raw, def any) error
	ExecuteQuery(ctx context.Context, dbName, query string, params []any) (sqlstore.Result, error)
	Dir() string
}

// Options configures the HTTP handler.
type Options struct {
	Docs         DocumentStore
	SQL          RelationalStore
	StaticDir    string   // served at / when the directory exists
	MaxBodyBytes int64    // 0 disables the limit
	CORSOrigins  []string // "*" allows any origin
	Logger       *slog.Logger
}

// Server holds the stores behind the REST routes.
type Server struct {
	docs DocumentStore
	sql  RelationalStore
	opts Options
	log  *slog.Logger

	routes []route
}

// route is one REST endpoint; the catalogue at GET /api is generated from the table.
type route struct {
	group   string
	pattern string // http.ServeMux pattern: "METHOD /path/{param}"
	desc    string
	body    any
	handler http.HandlerFunc
}

// New returns a Server for opts. Docs and SQL must be set.
func New(opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("http")
	}
	s := &Server{docs: opts.Docs, sql: opts.SQL, opts: opts, log: l}
	s.routes = append(s.jsonRoutes(), s.sqliteRoutes()...)
	return s
}

// Handler builds the mux and wraps it in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, rt := range s.routes {
		mux.HandleFunc(rt.pattern, rt.handler)
	}
	mux.HandleFunc("GET /api", s.handleCatalogue)
	mux.HandleFunc("GET /api/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{"success": false, "error": "Unknown endpoint " + r.URL.Path})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(version.String()))
	})
	if dir := strings.TrimSpace(s.opts.StaticDir); dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			mux.Handle("GET /", http.FileServer(http.Dir(dir)))
		} else {
			s.log.Warn("static directory not found, front-end disabled", slog.String("dir", dir))
		}
	}

	var h http.Handler = mux
	h = bodyLimit(s.opts.MaxBodyBytes, h)
	h = cors(s.opts.CORSOrigins, h)
	h = recoverer(h)
	h = accessLog(h)
	h = requestID(h)
	return h
}

// handleReady reports whether both data directories are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, dir := range []string{s.docs.Dir(), s.sql.Dir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("data directory not ready: " + dir))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleCatalogue(w http.ResponseWriter, r *http.Request) {
	groups := map[string]map[string]any{}
	for _, rt := range s.routes {
		g, found := groups[rt.group]
		if !found {
			g = map[string]any{}
			groups[rt.group] = g
		}
		entry := map[string]any{"description": rt.desc}
		if rt.body != nil {
			entry["body"] = rt.body
		}
		g[rt.pattern] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":       "Data Manager REST API",
		"version":     version.String(),
		"description": "REST API for managing JSON files and SQLite databases",
		"baseUrl":     "http://" + r.Host + "/api",
		"endpoints":   groups,
	})
}
