/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package record

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodePreservesKeyOrderAtEveryDepth(t *testing.T) {
	in := `{"z":1,"a":{"y":true,"b":null},"m":[{"q":"x","c":2.5}]}`
	v, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	r, ok := v.(*Record)
	if !ok {
		t.Fatalf("Decode returned %T, want *Record", v)
	}
	if got := strings.Join(r.Keys(), ","); got != "z,a,m" {
		t.Fatalf("top-level keys = %s", got)
	}
	nested, _ := r.Get("a")
	if got := strings.Join(nested.(*Record).Keys(), ","); got != "y,b" {
		t.Fatalf("nested keys = %s", got)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(out) != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", out, in)
	}
}

func TestDecodeKeepsLargeIntegersExact(t *testing.T) {
	v, err := Decode([]byte(`[9007199254740993]`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	n := v.([]any)[0].(json.Number)
	if n.String() != "9007199254740993" {
		t.Fatalf("number = %s", n)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "{", `{"a":1}{"b":2}`, "[1,]", "nope"} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Fatalf("Decode(%q) expected error", in)
		}
	}
}

func TestSetKeepsPositionAndDeleteShifts(t *testing.T) {
	r := Of(Pair{"id", 1}, Pair{"name", "Bob"})
	r.Set("id", 2)
	r.Set("email", "b@x.com")
	if got := strings.Join(r.Keys(), ","); got != "id,name,email" {
		t.Fatalf("keys = %s", got)
	}
	if !r.Delete("name") || r.Delete("name") {
		t.Fatalf("Delete should report presence exactly once")
	}
	if got := strings.Join(r.Keys(), ","); got != "id,email" {
		t.Fatalf("keys after delete = %s", got)
	}
	if v, _ := r.Get("id"); v != 2 {
		t.Fatalf("id = %v", v)
	}
}

func TestMergeIsShallow(t *testing.T) {
	r := Of(Pair{"id", 1}, Pair{"meta", Of(Pair{"a", 1})})
	r.Merge(Of(Pair{"meta", Of(Pair{"b", 2})}, Pair{"extra", nil}))
	meta, _ := r.Get("meta")
	if meta.(*Record).Has("a") {
		t.Fatalf("merge must replace nested values, not merge them")
	}
	if !r.Has("extra") {
		t.Fatalf("merge must add new keys even with nil values")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Of(Pair{"tags", []any{"a"}}, Pair{"child", Of(Pair{"x", 1})})
	c := orig.Clone()
	c.Set("tags", append(c.values["tags"].([]any), "b"))
	child, _ := c.Get("child")
	child.(*Record).Set("x", 2)
	if v, _ := orig.Get("tags"); len(v.([]any)) != 1 {
		t.Fatalf("clone shares array with original")
	}
	oc, _ := orig.Get("child")
	if v, _ := oc.(*Record).Get("x"); v != 1 {
		t.Fatalf("clone shares nested record with original")
	}
}

func TestEncodeIndentsWithoutHTMLEscaping(t *testing.T) {
	out, err := Encode([]any{Of(Pair{"id", json.Number("1")}, Pair{"html", "<b>&</b>"})})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := "[\n  {\n    \"id\": 1,\n    \"html\": \"<b>&</b>\"\n  }\n]"
	if string(out) != want {
		t.Fatalf("Encode =\n%s\nwant\n%s", out, want)
	}
}

func TestUnmarshalJSONRequiresObject(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`[1,2]`), &r); err == nil {
		t.Fatalf("expected error unmarshalling array into Record")
	}
	if err := json.Unmarshal([]byte(`{"b":1,"a":2}`), &r); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got := strings.Join(r.Keys(), ","); got != "b,a" {
		t.Fatalf("keys = %s", got)
	}
}

func TestNormalizeConvertsPlainMaps(t *testing.T) {
	v, err := Normalize([]map[string]any{{"id": 1}})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	arr := v.([]any)
	rec, ok := arr[0].(*Record)
	if !ok {
		t.Fatalf("element is %T, want *Record", arr[0])
	}
	if id, _ := rec.Get("id"); id != json.Number("1") {
		t.Fatalf("id = %#v", id)
	}
}
