/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"datamanager/internal/record"
	"datamanager/internal/storage"
)

// Result is the outcome of ExecuteQuery. Rows is set for SELECT statements; the
// counters are set for everything else.
type Result struct {
	Rows         []*record.Record
	Mutated      bool
	RowsAffected int64
	LastInsertID int64
}

// InsertRecord inserts rec with its values bound as parameters, persists and returns the
// rowid of the new row. An empty record inserts a row of default values.
func (m *Manager) InsertRecord(ctx context.Context, dbName, table string, rec *record.Record) (int64, error) {
	const op = "sqlstore.insert_record"
	if err := requireIdent(op, "table", table); err != nil {
		return 0, err
	}
	var (
		stmt string
		args []any
	)
	if rec == nil || rec.Len() == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(table))
	} else {
		cols := make([]string, 0, rec.Len())
		marks := make([]string, 0, rec.Len())
		var err error
		rec.Range(func(k string, v any) bool {
			var b any
			if b, err = bindValue(v); err != nil {
				err = storage.Errorf(storage.ErrInvalid, op, "column %s: %w", k, err)
				return false
			}
			cols = append(cols, quoteIdent(k))
			marks = append(marks, "?")
			args = append(args, b)
			return true
		})
		if err != nil {
			return 0, err
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	var id int64
	err := m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		res, err := h.conn.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		id, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		return 0, sqlErr(op, err)
	}
	return id, nil
}

// SelectRecords runs SELECT * FROM table [WHERE where] [LIMIT limit]. where is
// interpolated verbatim; limit <= 0 means no limit.
func (m *Manager) SelectRecords(ctx context.Context, dbName, table string, where Raw, limit int) ([]*record.Record, error) {
	const op = "sqlstore.select_records"
	if err := requireIdent(op, "table", table); err != nil {
		return nil, err
	}
	stmt := "SELECT * FROM " + quoteIdent(table)
	if w := strings.TrimSpace(string(where)); w != "" {
		stmt += " WHERE " + w
	}
	if limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(limit)
	}
	var out []*record.Record
	err := m.withHandle(ctx, op, dbName, false, func(h *handle) error {
		rows, err := h.conn.QueryContext(ctx, stmt)
		if err != nil {
			return err
		}
		out, err = scanRows(rows)
		return err
	})
	if err != nil {
		return nil, sqlErr(op, err)
	}
	return out, nil
}

// UpdateRecord runs UPDATE table SET col=?, ... WHERE where and persists. Every row the
// predicate matches is updated. It returns the number of affected rows.
func (m *Manager) UpdateRecord(ctx context.Context, dbName, table string, updates *record.Record, where Raw) (int64, error) {
	const op = "sqlstore.update_record"
	if err := requireIdent(op, "table", table); err != nil {
		return 0, err
	}
	if updates == nil || updates.Len() == 0 {
		return 0, storage.Errorf(storage.ErrInvalid, op, "No updates given for %s", table)
	}
	if err := requireWhere(op, where); err != nil {
		return 0, err
	}
	sets := make([]string, 0, updates.Len())
	args := make([]any, 0, updates.Len())
	var err error
	updates.Range(func(k string, v any) bool {
		var b any
		if b, err = bindValue(v); err != nil {
			err = storage.Errorf(storage.ErrInvalid, op, "column %s: %w", k, err)
			return false
		}
		sets = append(sets, quoteIdent(k)+" = ?")
		args = append(args, b)
		return true
	})
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdent(table), strings.Join(sets, ", "), where)
	return m.exec(ctx, op, dbName, stmt, args)
}

// DeleteRecord runs DELETE FROM table WHERE where and persists. It returns the number
// of deleted rows.
func (m *Manager) DeleteRecord(ctx context.Context, dbName, table string, where Raw) (int64, error) {
	const op = "sqlstore.delete_record"
	if err := requireIdent(op, "table", table); err != nil {
		return 0, err
	}
	if err := requireWhere(op, where); err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), where)
	return m.exec(ctx, op, dbName, stmt, nil)
}

// ExecuteQuery runs caller SQL with bound params. A statement starting with SELECT
// (any case) returns rows and never persists; anything else is executed as a mutation
// and persisted once. Engine failures carry ErrSQL.
func (m *Manager) ExecuteQuery(ctx context.Context, dbName, query string, params []any) (Result, error) {
	const op = "sqlstore.execute_query"
	if strings.TrimSpace(query) == "" {
		return Result{}, storage.Errorf(storage.ErrInvalid, op, "SQL statement is required")
	}
	args := make([]any, 0, len(params))
	for i, p := range params {
		b, err := bindValue(p)
		if err != nil {
			return Result{}, storage.Errorf(storage.ErrInvalid, op, "param %d: %w", i, err)
		}
		args = append(args, b)
	}

	if isSelect(query) {
		var rowsOut []*record.Record
		err := m.withHandle(ctx, op, dbName, false, func(h *handle) error {
			rows, err := h.conn.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			rowsOut, err = scanRows(rows)
			return err
		})
		if err != nil {
			return Result{}, sqlErr(op, err)
		}
		return Result{Rows: rowsOut}, nil
	}

	res := Result{Mutated: true}
	err := m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		r, err := h.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		res.RowsAffected, _ = r.RowsAffected()
		res.LastInsertID, _ = r.LastInsertId()
		return nil
	})
	if err != nil {
		return Result{}, sqlErr(op, err)
	}
	return res, nil
}

func (m *Manager) exec(ctx context.Context, op, dbName, stmt string, args []any) (int64, error) {
	var n int64
	err := m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		res, err := h.conn.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, sqlErr(op, err)
	}
	return n, nil
}

func isSelect(query string) bool {
	q := strings.TrimSpace(query)
	return len(q) >= 6 && strings.EqualFold(q[:6], "SELECT")
}

func requireWhere(op string, where Raw) error {
	if strings.TrimSpace(string(where)) == "" {
		return storage.Errorf(storage.ErrInvalid, op, "A WHERE clause is required (use 1=1 to match every row)")
	}
	return nil
}

// scanRows zips column names with row values into one ordered record per row and
// closes rows.
func scanRows(rows *sql.Rows) ([]*record.Record, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []*record.Record{}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := record.New(len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			rec.Set(c, v)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// bindValue converts a decoded JSON value into a type the SQLite driver binds:
// numbers become int64 or float64, booleans 0/1, objects and arrays JSON text.
func bindValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, int64, float64, []byte:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
		return t.String(), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(t), nil
	case *record.Record, []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return t, nil
	}
}
