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

	"datamanager/internal/storage"
)

func (s *Server) jsonRoutes() []route {
	return []route{
		{"json", "GET /api/json/list", "List all JSON files", nil, s.listDocuments},
		{"json", "POST /api/json/create", "Create a new JSON file", map[string]any{"filename": "string", "data": "array"}, s.createDocument},
		{"json", "GET /api/json/read/{filename}", "Read a JSON file", nil, s.readDocument},
		{"json", "PUT /api/json/update/{filename}", "Update entire JSON file", map[string]any{"data": "array"}, s.updateDocument},
		{"json", "DELETE /api/json/delete/{filename}", "Delete a JSON file", nil, s.deleteDocument},
		{"json", "POST /api/json/record/{filename}", "Insert a record into JSON array", map[string]any{"key": "value"}, s.insertDocRecord},
		{"json", "PUT /api/json/record/{filename}/{index}", "Update specific record by index", map[string]any{"key": "value"}, s.updateDocRecord},
		{"json", "DELETE /api/json/record/{filename}/{index}", "Delete specific record by index", nil, s.deleteDocRecord},
		{"json", "POST /api/json/property/add/{filename}", "Add a property to all records", map[string]any{"propertyName": "string", "defaultValue": "any"}, s.addProperty},
		{"json", "DELETE /api/json/property/remove/{filename}", "Remove a property from all records", map[string]any{"propertyName": "string"}, s.removeProperty},
		{"json", "PUT /api/json/property/rename/{filename}", "Rename a property in all records", map[string]any{"oldName": "string", "newName": "string"}, s.renameProperty},
		{"json", "POST /api/json/import", "Import JSON data from text", map[string]any{"filename": "string", "data": "string"}, s.importDocument},
		{"json", "GET /api/json/export/{filename}", "Export JSON file as download", nil, s.exportDocument},
	}
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	files, err := s.docs.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("files", files))
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string          `json:"filename"`
		Data     json.RawMessage `json:"data"`
	}
	if err := decodeBody(r, "json_create", &req); err != nil {
		writeError(w, r, err)
		return
	}
	content, err := decodeValue("docstore.create", req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.Create(req.Filename, content); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Created "+req.Filename))
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Read(r.PathValue("filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("data", doc))
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	var req struct {
		Data json.RawMessage `json:"data"`
	}
	if err := decodeBody(r, "json_update", &req); err != nil {
		writeError(w, r, err)
		return
	}
	content, err := decodeValue("docstore.update", req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.Update(name, content); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Updated "+name))
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if err := s.docs.Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Deleted "+name))
}

func (s *Server) insertDocRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecordBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inserted, err := s.docs.InsertRecord(r.PathValue("filename"), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record inserted", "data", inserted))
}

func (s *Server) updateDocRecord(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updates, err := decodeRecordBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	merged, err := s.docs.UpdateRecord(r.PathValue("filename"), index, updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record updated", "data", merged))
}

func (s *Server) deleteDocRecord(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := s.docs.DeleteRecord(r.PathValue("filename"), index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Record deleted", "data", removed))
}

func (s *Server) addProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyName string          `json:"propertyName"`
		DefaultValue json.RawMessage `json:"defaultValue"`
	}
	if err := decodeBody(r, "json_property", &req); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := decodeValue("docstore.add_property", req.DefaultValue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.AddProperty(r.PathValue("filename"), req.PropertyName, def); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Property %s added", req.PropertyName)))
}

func (s *Server) removeProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyName string `json:"propertyName"`
	}
	if err := decodeBody(r, "json_property", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.RemoveProperty(r.PathValue("filename"), req.PropertyName); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Property %s removed", req.PropertyName)))
}

func (s *Server) renameProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldName string `json:"oldName"`
		NewName string `json:"newName"`
	}
	if err := decodeBody(r, "json_property_rename", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.RenameProperty(r.PathValue("filename"), req.OldName, req.NewName); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", fmt.Sprintf("Property renamed from %s to %s", req.OldName, req.NewName)))
}

func (s *Server) importDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string          `json:"filename"`
		Data     json.RawMessage `json:"data"`
	}
	if err := decodeBody(r, "json_import", &req); err != nil {
		writeError(w, r, err)
		return
	}
	// data is either serialized JSON text or an already structured value
	data, err := decodeValue("docstore.import", req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.docs.Import(req.Filename, data); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("message", "Imported "+req.Filename))
}

func (s *Server) exportDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	b, err := s.docs.Export(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func pathIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, storage.Errorf(storage.ErrInvalid, "http.path_index", "Invalid record index %q", raw)
	}
	return i, nil
}
