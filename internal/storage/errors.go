/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a store matches exactly one of these with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrSQL             = errors.New("sql error")
	ErrDecode          = errors.New("decode error")
	ErrInvalid         = errors.New("invalid argument")
)

var kinds = []error{ErrNotFound, ErrAlreadyExists, ErrTypeMismatch, ErrIndexOutOfRange, ErrSQL, ErrDecode, ErrInvalid}

// Error is a store failure tagged with its kind and the operation that produced it.
// Error() yields only the human-readable message; Op is meant for logs.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds an *Error of the given kind. The format may wrap an underlying cause with %w.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind sentinel err matches, or nil for errors outside the taxonomy.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// OpOf returns the operation recorded on err, if any.
func OpOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Op
	}
	return ""
}
