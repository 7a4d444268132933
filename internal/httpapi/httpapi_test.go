/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datamanager/internal/storage"
	"datamanager/internal/storage/docstore"
	"datamanager/internal/storage/sqlstore"
	"datamanager/internal/version"
)

type fixture struct {
	h    http.Handler
	docs *docstore.Manager
	sql  *sqlstore.Manager
	root string
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	docs, err := docstore.New(docstore.Options{Dir: filepath.Join(root, "json")})
	require.NoError(t, err)
	sql, err := sqlstore.New(sqlstore.Options{Dir: filepath.Join(root, "sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sql.CloseAll() })
	opts := Options{Docs: docs, SQL: sql, MaxBodyBytes: 1 << 20, CORSOrigins: []string{"*"}}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &fixture{h: New(opts).Handler(), docs: docs, sql: sql, root: root}
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	var env map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestJSONDocumentScenario(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/json/create", `{"filename":"users","data":[{"id":1,"name":"Bob"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "Created users", env["message"])

	rec, env = f.do(t, http.MethodPut, "/api/json/record/users/0", `{"email":"b@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Record updated", env["message"])
	assert.JSONEq(t, `{"id":1,"name":"Bob","email":"b@x.com"}`, mustJSON(t, env["data"]))

	rec, _ = f.do(t, http.MethodGet, "/api/json/export/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=users.json", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "[\n  {\n    \"id\": 1,\n    \"name\": \"Bob\",\n    \"email\": \"b@x.com\"\n  }\n]", rec.Body.String())

	rec, _ = f.do(t, http.MethodGet, "/api/json/read/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[{"id":1,"name":"Bob","email":"b@x.com"}]`, "key order must survive the round trip")

	rec, env = f.do(t, http.MethodGet, "/api/json/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"users"}, env["files"])
}

func TestJSONRecordAndPropertyRoutes(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/json/create", `{"filename":"items"}`)

	rec, env := f.do(t, http.MethodPost, "/api/json/record/items", `{"a":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Record inserted", env["message"])
	_, _ = f.do(t, http.MethodPost, "/api/json/record/items", `{"a":2,"b":true}`)

	rec, env = f.do(t, http.MethodPost, "/api/json/property/add/items", `{"propertyName":"b","defaultValue":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Property b added", env["message"])

	rec, env = f.do(t, http.MethodPut, "/api/json/property/rename/items", `{"oldName":"a","newName":"n"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Property renamed from a to n", env["message"])

	rec, _ = f.do(t, http.MethodDelete, "/api/json/property/remove/items", `{"propertyName":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = f.do(t, http.MethodDelete, "/api/json/record/items/0", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"n":1}`, mustJSON(t, env["data"]))

	_, env = f.do(t, http.MethodGet, "/api/json/read/items", "")
	assert.JSONEq(t, `[{"n":2}]`, mustJSON(t, env["data"]))

	rec, _ = f.do(t, http.MethodPut, "/api/json/update/items", `{"data":{"replaced":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/api/json/delete/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/api/json/delete/items", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJSONImportAcceptsTextAndStructure(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodPost, "/api/json/import", `{"filename":"fromtext","data":"[{\"z\":1,\"a\":2}]"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Imported fromtext", env["message"])

	rec, _ = f.do(t, http.MethodPost, "/api/json/import", `{"filename":"fromvalue","data":{"k":"v"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = f.do(t, http.MethodGet, "/api/json/read/fromtext", "")
	assert.Contains(t, rec.Body.String(), `[{"z":1,"a":2}]`)

	rec, env = f.do(t, http.MethodPost, "/api/json/import", `{"filename":"broken","data":"[{"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, env["success"])

	rec, _ = f.do(t, http.MethodPost, "/api/json/import", `{"filename":"fromtext","data":"[]"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJSONErrorStatuses(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/json/create", `{"filename":"obj","data":{"x":1}}`)
	_, _ = f.do(t, http.MethodPost, "/api/json/create", `{"filename":"arr","data":[{"x":1}]}`)

	cases := []struct {
		method, target, body string
		status               int
		errText              string
	}{
		{http.MethodGet, "/api/json/read/missing", "", http.StatusNotFound, "File missing not found"},
		{http.MethodPost, "/api/json/create", `{"filename":"obj"}`, http.StatusConflict, "File obj already exists"},
		{http.MethodPost, "/api/json/record/obj", `{"y":2}`, http.StatusUnprocessableEntity, "Data must be an array to insert records"},
		{http.MethodPut, "/api/json/record/arr/5", `{"y":2}`, http.StatusBadRequest, "Index out of bounds"},
		{http.MethodDelete, "/api/json/record/arr/abc", "", http.StatusBadRequest, "Invalid record index"},
		{http.MethodPost, "/api/json/create", `{"data":[]}`, http.StatusBadRequest, "filename"},
		{http.MethodPost, "/api/json/record/arr", `[1,2]`, http.StatusBadRequest, "Invalid request"},
		{http.MethodPost, "/api/json/create", `{"filename":`, http.StatusBadRequest, "Invalid JSON body"},
	}
	for _, tc := range cases {
		rec, env := f.do(t, tc.method, tc.target, tc.body)
		assert.Equal(t, tc.status, rec.Code, "%s %s: %s", tc.method, tc.target, rec.Body.String())
		assert.Equal(t, false, env["success"], "%s %s", tc.method, tc.target)
		assert.Contains(t, env["error"], tc.errText, "%s %s", tc.method, tc.target)
	}
}

func TestSQLiteScenario(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/sqlite/database", `{"dbName":"app"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Database app created", env["message"])

	rec, _ = f.do(t, http.MethodPost, "/api/sqlite/table/app", `{"tableName":"users","columns":[
		{"name":"id","type":"INTEGER","primaryKey":true,"autoIncrement":true},
		{"name":"name","type":"TEXT","notNull":true},
		{"name":"score","type":"REAL","default":0}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = f.do(t, http.MethodPost, "/api/sqlite/record/app/users", `{"name":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"lastInsertId":1}`, mustJSON(t, env["data"]))

	rec, _ = f.do(t, http.MethodGet, "/api/sqlite/records/app/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"records":[{"id":1,"name":"Alice","score":0}]`)

	_, env = f.do(t, http.MethodGet, "/api/sqlite/tables/app", "")
	assert.Equal(t, []any{"users"}, env["tables"])

	_, env = f.do(t, http.MethodGet, "/api/sqlite/schema/app/users", "")
	schema, isList := env["schema"].([]any)
	require.True(t, isList)
	assert.Len(t, schema, 3)

	rec, env = f.do(t, http.MethodPost, "/api/sqlite/query/app", `{"sql":"INSERT INTO users (name) VALUES (?)","params":["Bob"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"changes":1,"lastInsertId":2}`, mustJSON(t, env["result"]))

	rec, _ = f.do(t, http.MethodGet, "/api/sqlite/records/app/users?where="+urlEscape("name = 'Bob'")+"&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"records":[{"id":2,"name":"Bob","score":0}]`)

	rec, env = f.do(t, http.MethodPut, "/api/sqlite/records/app/users", `{"updates":{"score":1.5},"where":"1=1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"changes":2}`, mustJSON(t, env["data"]))

	rec, _ = f.do(t, http.MethodPost, "/api/sqlite/column/app/users", `{"columnName":"email","columnType":"TEXT","defaultValue":"''"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = f.do(t, http.MethodPost, "/api/sqlite/query/app", `{"sql":"SELECT name, score, email FROM users ORDER BY id"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"name":"Alice","score":1.5,"email":""},{"name":"Bob","score":1.5,"email":""}]`, mustJSON(t, env["result"]))

	rec, env = f.do(t, http.MethodDelete, "/api/sqlite/records/app/users", `{"where":"id = 1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Record(s) deleted", env["message"])

	rec, _ = f.do(t, http.MethodDelete, "/api/sqlite/table/app/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/api/sqlite/database/app", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, env = f.do(t, http.MethodGet, "/api/sqlite/databases", "")
	assert.Equal(t, []any{}, env["databases"])
}

func TestSQLiteImportAndErrors(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/sqlite/table/src", `{"tableName":"t","columns":[{"name":"v"}]}`)
	require.NoError(t, f.sql.CloseAll())
	raw, err := os.ReadFile(filepath.Join(f.root, "sqlite", "src.db"))
	require.NoError(t, err)

	rec, env := f.do(t, http.MethodPost, "/api/sqlite/import", `{"dbName":"copy","data":"`+base64.StdEncoding.EncodeToString(raw)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Database copy imported successfully", env["message"])

	cases := []struct {
		method, target, body string
		status               int
		errText              string
	}{
		{http.MethodPost, "/api/sqlite/import", `{"dbName":"bad","data":"%%%"}`, http.StatusBadRequest, "Invalid base64"},
		{http.MethodPost, "/api/sqlite/database", `{"dbName":"copy"}`, http.StatusConflict, "Database copy already exists"},
		{http.MethodPost, "/api/sqlite/query/copy", `{"sql":"SELEC nonsense"}`, http.StatusBadRequest, "SQL Error:"},
		{http.MethodGet, "/api/sqlite/schema/copy/missing", "", http.StatusNotFound, "Table missing not found"},
		{http.MethodGet, "/api/sqlite/records/copy/t?limit=ten", "", http.StatusBadRequest, "Invalid limit"},
		{http.MethodDelete, "/api/sqlite/records/copy/t", `{}`, http.StatusBadRequest, "where"},
		{http.MethodPost, "/api/sqlite/table/copy", `{"tableName":"x","columns":[]}`, http.StatusBadRequest, "Invalid request"},
	}
	for _, tc := range cases {
		rec, env := f.do(t, tc.method, tc.target, tc.body)
		assert.Equal(t, tc.status, rec.Code, "%s %s: %s", tc.method, tc.target, rec.Body.String())
		assert.Contains(t, env["error"], tc.errText, "%s %s", tc.method, tc.target)
	}
}

func TestServiceRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/version", "")
	assert.Equal(t, version.String(), rec.Body.String())

	rec, env := f.do(t, http.MethodGet, "/api", "")
	require.Equal(t, http.StatusOK, rec.Code)
	endpoints, isMap := env["endpoints"].(map[string]any)
	require.True(t, isMap)
	jsonGroup, isMap := endpoints["json"].(map[string]any)
	require.True(t, isMap)
	assert.Contains(t, jsonGroup, "GET /api/json/list")
	sqliteGroup, isMap := endpoints["sqlite"].(map[string]any)
	require.True(t, isMap)
	assert.Contains(t, sqliteGroup, "POST /api/sqlite/query/{dbName}")

	rec, env = f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, env["success"])
}

func TestReadyzFailsWhenDataDirIsGone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "json")))
	rec, _ := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticFrontEnd(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>Data Manager</h1>"), 0o644))
	f := newFixture(t, func(o *Options) { o.StaticDir = static })

	rec, _ := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Data Manager")

	rec, _ = f.do(t, http.MethodGet, "/api/json/list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxBodyBytes = 64 })

	req := httptest.NewRequest(http.MethodOptions, "/api/json/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))

	rec, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36, "generated ids are UUIDs")

	rec, _ = f.do(t, http.MethodPost, "/api/json/create", `{"filename":"big","data":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := cors([]string{"http://allowed.test"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://allowed.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://allowed.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovererReturns500(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		storage.Errorf(storage.ErrNotFound, "op", "x"):        http.StatusNotFound,
		storage.Errorf(storage.ErrAlreadyExists, "op", "x"):   http.StatusConflict,
		storage.Errorf(storage.ErrTypeMismatch, "op", "x"):    http.StatusUnprocessableEntity,
		storage.Errorf(storage.ErrIndexOutOfRange, "op", "x"): http.StatusBadRequest,
		storage.Errorf(storage.ErrSQL, "op", "x"):             http.StatusBadRequest,
		storage.Errorf(storage.ErrDecode, "op", "x"):          http.StatusBadRequest,
		storage.Errorf(storage.ErrInvalid, "op", "x"):         http.StatusBadRequest,
		errors.New("disk on fire"):                            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func urlEscape(s string) string {
	return strings.NewReplacer(" ", "%20", "'", "%27", "=", "%3D").Replace(s)
}
