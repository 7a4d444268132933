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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"datamanager/internal/storage"
	"datamanager/internal/storage/sqlstore"
)

func (s *Server) sqliteRoutes() []route {
	columnShape := map[string]any{
		"name": "string", "type": "INTEGER|TEXT|REAL|BLOB", "primaryKey": "boolean", "autoIncrement": "boolean",
		"notNull": "boolean", "unique": "boolean", "default": "any",
	}
	return []route{
		{"sqlite", "GET /api/sqlite/databases", "List all SQLite databases", nil, s.listDatabases},
		{"sqlite", "POST /api/sqlite/database", "Create a new database", map[string]any{"dbName": "string"}, s.createDatabase},
		{"sqlite", "POST /api/sqlite/import", "Import database from base64", map[string]any{"dbName": "string", "data": "base64string"}, s.importDatabase},
		{"sqlite", "DELETE /api/sqlite/database/{dbName}", "Delete a database", nil, s.deleteDatabase},
		{"sqlite", "GET /api/sqlite/tables/{dbName}", "List all tables in a database", nil, s.listTables},
		{"sqlite", "POST /api/sqlite/table/{dbName}", "Create a new table", map[string]any{"tableName": "string", "columns": []any{columnShape}}, s.createTable},
		{"sqlite", "DELETE /api/sqlite/table/{dbName}/{tableName}", "Drop a table", nil, s.dropTable},
		{"sqlite", "GET /api/sqlite/schema/{dbName}/{tableName}", "Get table schema/structure", nil, s.tableSchema},
		{"sqlite", "POST /api/sqlite/record/{dbName}/{tableName}", "Insert a record into table", map[string]any{"column": "value"}, s.insertRow},
		{"sqlite", "GET /api/sqlite/records/{dbName}/{tableName}", "Select records from table (query: where, limit)", nil, s.selectRows},
		{"sqlite", "PUT /api/sqlite/records/{dbName}/{tableName}", "Update records in table", map[string]any{"updates": map[string]any{"column": "value"}, "where": "id=1"}, s.updateRows},
		{"sqlite", "DELETE /api/sqlite/records/{dbName}/{tableName}", "Delete records from table", map[string]any{"where": "id=1"}, s.deleteRows},
		{"sqlite", "POST /api/sqlite/column/{dbName}/{tableName}", "Add a column to table", map[string]any{"columnName": "string", "columnType": "string", "defaultValue": "any"}, s.addColumn},
		{"sqlite", "POST /api/sqlite/query/{dbName}", "Execute custom SQL query", map[string]any{"sql": "string", "params": []any{}}, s.executeQuery},
	}
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := s.sql.ListDatabases()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("databases", dbs))
}

func (s *Server) createDatabase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DBName string `json:"dbName"`
	}
	if err := decodeBody(r, "sqlite_database", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sql.CreateDatabase(r.Context(), req.DBName); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Database %s created", req.DBName)))
}

func (s *Server) importDatabase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DBName string `json:"dbName"`
		Data   string `json:"data"`
	}
	if err := decodeBody(r, "sqlite_import", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sql.ImportDatabase(r.Context(), req.DBName, req.Data); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Database %s imported successfully", req.DBName)))
}

func (s *Server) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dbName")
	if err := s.sql.DeleteDatabase(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Database %s deleted", name)))
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.sql.ListTables(r.Context(), r.PathValue("dbName"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("tables", tables))
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableName string            `json:"tableName"`
		Columns   []sqlstore.Column `json:"columns"`
	}
	if err := decodeBody(r, "sqlite_table", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sql.CreateTable(r.Context(), r.PathValue("dbName"), req.TableName, req.Columns); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Table %s created", req.TableName)))
}

func (s *Server) dropTable(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("tableName")
	if err := s.sql.DropTable(r.Context(), r.PathValue("dbName"), table); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Table %s dropped", table)))
}

func (s *Server) tableSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.sql.GetTableSchema(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("schema", schema))
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecordBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.sql.InsertRecord(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record inserted", "data", map[string]any{"lastInsertId": id}))
}

func (s *Server) selectRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, storage.Errorf(storage.ErrInvalid, "http.select_records", "Invalid limit %q", raw))
			return
		}
		limit = n
	}
	rows, err := s.sql.SelectRecords(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"), sqlstore.Raw(q.Get("where")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("records", rows))
}

func (s *Server) updateRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates json.RawMessage `json:"updates"`
		Where   string          `json:"where"`
	}
	if err := decodeBody(r, "sqlite_records_update", &req); err != nil {
		writeError(w, r, err)
		return
	}
	updates, err := decodeRecord("sqlstore.update_record", req.Updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.sql.UpdateRecord(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"), updates, sqlstore.Raw(req.Where))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record(s) updated", "data", map[string]any{"changes": n}))
}

func (s *Server) deleteRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Where string `json:"where"`
	}
	if err := decodeBody(r, "sqlite_records_delete", &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.sql.DeleteRecord(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"), sqlstore.Raw(req.Where))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record(s) deleted", "data", map[string]any{"changes": n}))
}

func (s *Server) addColumn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ColumnName   string `json:"columnName"`
		ColumnType   string `json:"columnType"`
		DefaultValue any    `json:"defaultValue"`
	}
	if err := decodeBody(r, "sqlite_column", &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.sql.AddColumn(r.Context(), r.PathValue("dbName"), r.PathValue("tableName"), req.ColumnName, sqlstore.Raw(req.ColumnType), req.DefaultValue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Column %s added", req.ColumnName)))
}

func (s *Server) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SQL    string `json:"sql"`
		Params []any  `json:"params"`
	}
	if err := decodeBody(r, "sqlite_query", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.sql.ExecuteQuery(r.Context(), r.PathValue("dbName"), req.SQL, req.Params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Mutated {
		writeJSON(w, http.StatusOK, ok("result", res.Rows))
		return
	}
	writeJSON(w, http.StatusOK, ok("result", map[string]any{
		"success":      true,
		"changes":      res.RowsAffected,
		"lastInsertId": res.LastInsertID,
	}))
}
