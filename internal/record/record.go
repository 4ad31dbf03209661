// Package record holds the flat, schema-less record shape that every XML
// metadata document is normalized into, and the normalizer itself.
package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is a field value: one string, or an ordered list of strings.
type Value struct {
	values []string
	list   bool
}

// Single returns a one-string value.
func Single(s string) Value {
	return Value{values: []string{s}}
}

// List returns an ordered list value.
func List(ss ...string) Value {
	out := make([]string, len(ss))
	copy(out, ss)
	return Value{values: out, list: true}
}

// IsList reports whether v was produced from a list.
func (v Value) IsList() bool {
	return v.list
}

// Len returns the number of strings in v.
func (v Value) Len() int {
	return len(v.values)
}

// Strings returns a copy of the strings in v.
func (v Value) Strings() []string {
	out := make([]string, len(v.values))
	copy(out, v.values)
	return out
}

// String returns the single value, or the list values joined by a space.
func (v Value) String() string {
	return strings.Join(v.values, " ")
}

// Equal reports whether v and o hold the same shape and strings.
func (v Value) Equal(o Value) bool {
	if v.list != o.list || len(v.values) != len(o.values) {
		return false
	}
	for i := range v.values {
		if v.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		return json.Marshal(v.values)
	}
	if len(v.values) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(v.values[0])
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Single(s)
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return fmt.Errorf("record value must be a string or a list of strings: %w", err)
	}
	*v = List(ss...)
	return nil
}

// Record is one normalized document: field name to value. A field is
// present only if it has at least one non-empty value.
type Record map[string]Value

// Fields returns the field names in sorted order.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the value of field name.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r[name]
	return v, ok
}

// Clone returns a shallow copy of r; values are immutable so this is enough
// to attach fields without touching the original.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether r and o have the same fields and values.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
