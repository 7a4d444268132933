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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"datamanager/internal/record"
	"datamanager/internal/storage"
)

// Raw is a caller supplied SQL fragment that is interpolated into a statement verbatim.
// It is never escaped; only pass text from a trusted caller.
type Raw string

// DefaultType is used for columns declared without a type.
const DefaultType Raw = "TEXT"

// Column describes one column of a table to create.
// Default, when non-nil, is emitted as DEFAULT: strings verbatim (callers quote literals
// themselves), numbers and booleans as literals.
type Column struct {
	Name          string `json:"name"`
	Type          Raw    `json:"type,omitempty"`
	PrimaryKey    bool   `json:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	NotNull       bool   `json:"notNull,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	Default       any    `json:"default,omitempty"`
}

// quoteIdent renders a table or column name as a double-quoted SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func requireIdent(op, what, name string) error {
	if strings.TrimSpace(name) == "" {
		return storage.Errorf(storage.ErrInvalid, op, "%s name is required", what)
	}
	return nil
}

// definition renders the column clause: name, type, then PRIMARY KEY, AUTOINCREMENT,
// NOT NULL, UNIQUE and DEFAULT in that order.
func (c Column) definition() (string, error) {
	var b strings.Builder
	b.WriteString(quoteIdent(c.Name))
	b.WriteString(" ")
	typ := c.Type
	if strings.TrimSpace(string(typ)) == "" {
		typ = DefaultType
	}
	b.WriteString(string(typ))
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.AutoIncrement {
		b.WriteString(" AUTOINCREMENT")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != nil {
		def, err := defaultExpr(c.Default)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(string(def))
	}
	return b.String(), nil
}

func defaultExpr(v any) (Raw, error) {
	switch t := v.(type) {
	case Raw:
		return t, nil
	case string:
		return Raw(t), nil
	case json.Number:
		return Raw(t.String()), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case int:
		return Raw(strconv.Itoa(t)), nil
	case int64:
		return Raw(strconv.FormatInt(t, 10)), nil
	case float64:
		return Raw(strconv.FormatFloat(t, 'g', -1, 64)), nil
	default:
		return "", fmt.Errorf("unsupported default value of type %T", v)
	}
}

// ListTables returns the user tables of a database, sorted by name.
func (m *Manager) ListTables(ctx context.Context, dbName string) ([]string, error) {
	const op = "sqlstore.list_tables"
	tables := []string{}
	err := m.withHandle(ctx, op, dbName, false, func(h *handle) error {
		rows, err := h.conn.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			tables = append(tables, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, sqlErr(op, err)
	}
	return tables, nil
}

// CreateTable issues CREATE TABLE IF NOT EXISTS with the given columns and persists.
func (m *Manager) CreateTable(ctx context.Context, dbName, table string, columns []Column) error {
	const op = "sqlstore.create_table"
	if err := requireIdent(op, "table", table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return storage.Errorf(storage.ErrInvalid, op, "Table %s needs at least one column", table)
	}
	defs := make([]string, 0, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c.Name) == "" {
			return storage.Errorf(storage.ErrInvalid, op, "Column %d of table %s has no name", i, table)
		}
		def, err := c.definition()
		if err != nil {
			return storage.Errorf(storage.ErrInvalid, op, "%w", err)
		}
		defs = append(defs, def)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	err := m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		_, err := h.conn.ExecContext(ctx, stmt)
		return err
	})
	return sqlErr(op, err)
}

// DropTable issues DROP TABLE IF EXISTS and persists. A missing table is not an error.
func (m *Manager) DropTable(ctx context.Context, dbName, table string) error {
	const op = "sqlstore.drop_table"
	if err := requireIdent(op, "table", table); err != nil {
		return err
	}
	err := m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		_, err := h.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table))
		return err
	})
	return sqlErr(op, err)
}

// GetTableSchema returns the column introspection rows (cid, name, type, notnull,
// dflt_value, pk) of a table.
func (m *Manager) GetTableSchema(ctx context.Context, dbName, table string) ([]*record.Record, error) {
	const op = "sqlstore.get_table_schema"
	if err := requireIdent(op, "table", table); err != nil {
		return nil, err
	}
	var cols []*record.Record
	err := m.withHandle(ctx, op, dbName, false, func(h *handle) error {
		rows, err := h.conn.QueryContext(ctx, "SELECT * FROM pragma_table_info(?)", table)
		if err != nil {
			return err
		}
		cols, err = scanRows(rows)
		return err
	})
	if err != nil {
		return nil, sqlErr(op, err)
	}
	if len(cols) == 0 {
		return nil, storage.Errorf(storage.ErrNotFound, op, "Table %s not found in %s", table, dbName)
	}
	return cols, nil
}

// AddColumn appends a column with ALTER TABLE ... ADD COLUMN and persists.
// An empty colType means TEXT; a nil def adds no DEFAULT clause.
func (m *Manager) AddColumn(ctx context.Context, dbName, table, column string, colType Raw, def any) error {
	const op = "sqlstore.add_column"
	if err := requireIdent(op, "table", table); err != nil {
		return err
	}
	if err := requireIdent(op, "column", column); err != nil {
		return err
	}
	clause, err := Column{Name: column, Type: colType, Default: def}.definition()
	if err != nil {
		return storage.Errorf(storage.ErrInvalid, op, "%w", err)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), clause)
	err = m.withHandle(ctx, op, dbName, true, func(h *handle) error {
		_, err := h.conn.ExecContext(ctx, stmt)
		return err
	})
	return sqlErr(op, err)
}
