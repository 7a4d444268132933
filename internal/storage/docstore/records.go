/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package docstore

import (
	"strings"

	"datamanager/internal/record"
	"datamanager/internal/storage"
)

// InsertRecord appends rec to the document's array and returns it.
func (m *Manager) InsertRecord(name string, rec *record.Record) (*record.Record, error) {
	const op = "docstore.insert_record"
	if rec == nil {
		return nil, storage.Errorf(storage.ErrInvalid, op, "record is required")
	}
	err := m.mutateSequence(op, name, "Data must be an array to insert records", func(seq []any) ([]any, error) {
		return append(seq, rec.Clone()), nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecord shallow-merges updates into the record at index and returns the merged record.
func (m *Manager) UpdateRecord(name string, index int, updates *record.Record) (*record.Record, error) {
	const op = "docstore.update_record"
	var merged *record.Record
	err := m.mutateSequence(op, name, "Data must be an array", func(seq []any) ([]any, error) {
		if err := checkIndex(op, index, len(seq)); err != nil {
			return nil, err
		}
		rec, ok := seq[index].(*record.Record)
		if !ok {
			return nil, storage.Errorf(storage.ErrTypeMismatch, op, "Record at index %d is not an object", index)
		}
		rec.Merge(updates.Clone())
		merged = rec
		return seq, nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// DeleteRecord removes the element at index, shifting later elements down, and returns it.
func (m *Manager) DeleteRecord(name string, index int) (any, error) {
	const op = "docstore.delete_record"
	var removed any
	err := m.mutateSequence(op, name, "Data must be an array", func(seq []any) ([]any, error) {
		if err := checkIndex(op, index, len(seq)); err != nil {
			return nil, err
		}
		removed = seq[index]
		return append(seq[:index], seq[index+1:]...), nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// AddProperty sets prop to def on every record that lacks it. Records that already have
// prop keep their value, so applying it twice is the same as applying it once.
func (m *Manager) AddProperty(name, prop string, def any) error {
	const op = "docstore.add_property"
	if err := requireProperty(op, prop); err != nil {
		return err
	}
	return m.mutateSequence(op, name, "Data must be an array", func(seq []any) ([]any, error) {
		for _, rec := range records(seq) {
			if !rec.Has(prop) {
				rec.Set(prop, def)
			}
		}
		return seq, nil
	})
}

// RemoveProperty deletes prop from every record that has it.
func (m *Manager) RemoveProperty(name, prop string) error {
	const op = "docstore.remove_property"
	if err := requireProperty(op, prop); err != nil {
		return err
	}
	return m.mutateSequence(op, name, "Data must be an array", func(seq []any) ([]any, error) {
		for _, rec := range records(seq) {
			rec.Delete(prop)
		}
		return seq, nil
	})
}

// RenameProperty moves the value of oldName to newName on every record having oldName.
// An existing newName is overwritten; records without oldName are left untouched.
func (m *Manager) RenameProperty(name, oldName, newName string) error {
	const op = "docstore.rename_property"
	if err := requireProperty(op, oldName); err != nil {
		return err
	}
	if err := requireProperty(op, newName); err != nil {
		return err
	}
	return m.mutateSequence(op, name, "Data must be an array", func(seq []any) ([]any, error) {
		for _, rec := range records(seq) {
			v, ok := rec.Get(oldName)
			if !ok || oldName == newName {
				continue
			}
			rec.Set(newName, v)
			rec.Delete(oldName)
		}
		return seq, nil
	})
}

// mutateSequence runs the read-mutate-write cycle for record-level operations.
// fn receives the document's array and returns the array to write back.
func (m *Manager) mutateSequence(op, name, mismatch string, fn func(seq []any) ([]any, error)) error {
	if err := storage.ValidateName(op, name); err != nil {
		return err
	}
	unlock := m.lock(name)
	defer unlock()
	doc, err := m.read(op, name)
	if err != nil {
		return err
	}
	seq, ok := doc.([]any)
	if !ok {
		return storage.Errorf(storage.ErrTypeMismatch, op, "%s", mismatch)
	}
	out, err := fn(seq)
	if err != nil {
		return err
	}
	return m.write(op, name, out)
}

func checkIndex(op string, index, n int) error {
	if index < 0 || index >= n {
		return storage.Errorf(storage.ErrIndexOutOfRange, op, "Index out of bounds: %d not in [0, %d)", index, n)
	}
	return nil
}

func requireProperty(op, prop string) error {
	if strings.TrimSpace(prop) == "" {
		return storage.Errorf(storage.ErrInvalid, op, "property name is required")
	}
	return nil
}

// records returns the object elements of seq; other elements are skipped by property operations.
func records(seq []any) []*record.Record {
	out := make([]*record.Record, 0, len(seq))
	for _, e := range seq {
		if rec, ok := e.(*record.Record); ok {
			out = append(out, rec)
		}
	}
	return out
}
