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
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	applog "datamanager/internal/log"
	"datamanager/internal/record"
	"datamanager/internal/storage"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*gojsonschema.Schema
	schemasErr  error
)

// loadSchemas compiles every embedded request schema once, keyed by file name without extension.
func loadSchemas() (map[string]*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		out := make(map[string]*gojsonschema.Schema, len(entries))
		for _, e := range entries {
			b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = err
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
			if err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			out[strings.TrimSuffix(e.Name(), ".json")] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// envelope is the response body of every API route except downloads.
type envelope map[string]any

func ok(fields ...any) envelope {
	env := envelope{"success": true}
	for i := 0; i+1 < len(fields); i += 2 {
		if k, isStr := fields[i].(string); isStr {
			env[k] = fields[i+1]
		}
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	l := applog.WithComponent("http")
	attrs := []any{slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err)}
	if op := storage.OpOf(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		l.InfoContext(r.Context(), "request rejected", attrs...)
	}
	writeJSON(w, status, envelope{"success": false, "error": err.Error()})
}

// statusFor maps store error kinds to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch storage.KindOf(err) {
	case storage.ErrNotFound:
		return http.StatusNotFound
	case storage.ErrAlreadyExists:
		return http.StatusConflict
	case storage.ErrTypeMismatch:
		return http.StatusUnprocessableEntity
	case storage.ErrIndexOutOfRange, storage.ErrSQL, storage.ErrDecode, storage.ErrInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads the request body and validates it against the named schema.
// An empty body is treated as {}.
func readBody(r *http.Request, schema string) ([]byte, error) {
	const op = "http.read_body"
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if schema == "" {
		return body, nil
	}
	all, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	s, found := all[schema]
	if !found {
		return nil, fmt.Errorf("unknown request schema %q", schema)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, storage.Errorf(storage.ErrDecode, op, "Invalid JSON body: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, storage.Errorf(storage.ErrInvalid, op, "Invalid request: %s", strings.Join(msgs, "; "))
	}
	return body, nil
}

// decodeBody validates the body and decodes it into dst with numbers kept as json.Number.
func decodeBody(r *http.Request, schema string, dst any) error {
	body, err := readBody(r, schema)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return storage.Errorf(storage.ErrDecode, "http.decode_body", "Invalid JSON body: %w", err)
	}
	return nil
}

// decodeRecordBody reads a body that must be a JSON object and keeps its key order.
func decodeRecordBody(r *http.Request) (*record.Record, error) {
	body, err := readBody(r, "record")
	if err != nil {
		return nil, err
	}
	return decodeRecord("http.decode_record", body)
}

func decodeRecord(op string, raw json.RawMessage) (*record.Record, error) {
	v, err := record.Decode(raw)
	if err != nil {
		return nil, storage.Errorf(storage.ErrDecode, op, "Invalid JSON: %w", err)
	}
	rec, isRec := v.(*record.Record)
	if !isRec {
		return nil, storage.Errorf(storage.ErrInvalid, op, "A JSON object is required")
	}
	return rec, nil
}

// decodeValue parses an optional raw JSON field; absent or null yields nil.
func decodeValue(op string, raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	v, err := record.Decode(raw)
	if err != nil {
		return nil, storage.Errorf(storage.ErrDecode, op, "Invalid JSON: %w", err)
	}
	return v, nil
}
