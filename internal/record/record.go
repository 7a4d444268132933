/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package record provides the dynamic record type shared by both stores.
//
// Documents and table rows have caller-defined, runtime-mutable key sets, so they are
// not modelled as Go structs. A Record keeps its keys in insertion order, which makes
// JSON output stable and lets a table row keep the column order of its result set.
package record

import (
	"bytes"
	"encoding/json"
)

// Pair is a single key/value entry used to build a Record.
type Pair struct {
	Key   string
	Value any
}

// Record is an ordered mapping from property name to value.
// The zero value is not usable; call New or Of.
type Record struct {
	keys   []string
	values map[string]any
}

// New returns an empty record with room for n keys.
func New(n ...int) *Record {
	size := 0
	if len(n) > 0 && n[0] > 0 {
		size = n[0]
	}
	return &Record{keys: make([]string, 0, size), values: make(map[string]any, size)}
}

// Of builds a record from pairs, keeping their order. Later duplicates overwrite earlier values.
func Of(pairs ...Pair) *Record {
	r := New(len(pairs))
	for _, p := range pairs {
		r.Set(p.Key, p.Value)
	}
	return r
}

// Len returns the number of properties.
func (r *Record) Len() int { return len(r.keys) }

// Keys returns a copy of the property names in order.
func (r *Record) Keys() []string { return append([]string(nil), r.keys...) }

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present (a present key may hold nil).
func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Set stores v under key. New keys are appended; existing keys keep their position.
func (r *Record) Set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Delete removes key and reports whether it was present.
func (r *Record) Delete(key string) bool {
	if _, ok := r.values[key]; !ok {
		return false
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return true
}

// Merge shallow-merges other into r: new keys are appended, existing keys are overwritten.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		r.Set(k, other.values[k])
	}
}

// Range calls fn for each property in order until fn returns false.
func (r *Record) Range(fn func(key string, v any) bool) {
	for _, k := range r.keys {
		if !fn(k, r.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy; nested records and arrays are copied too.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := New(len(r.keys))
	for _, k := range r.keys {
		c.Set(k, cloneValue(r.values[k]))
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON renders the record as a JSON object with keys in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalValue(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the record's content with the decoded JSON object.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	rec, ok := v.(*Record)
	if !ok {
		return &json.UnmarshalTypeError{Value: describe(v), Type: recordType}
	}
	r.keys = rec.keys
	r.values = rec.values
	return nil
}
