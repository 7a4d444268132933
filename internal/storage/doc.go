/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package storage holds what the document and relational stores share: the error kinds
// surfaced to callers, validation of store entry names, and crash-safe whole-file writes.
//
// The stores themselves live in the docstore (named JSON documents, <name>.json) and
// sqlstore (named embedded SQLite databases, <name>.db) subpackages.
package storage
