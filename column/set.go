// Package column merges column visibility and projects result rows onto the
// visible columns.
package column

import (
	"encoding/json"
	"slices"
)

// Set is a set of column names. Where a Set describes visibility, nil means
// every column; an empty non-nil Set means none.
type Set map[string]struct{}

// NewSet returns a set holding cols.
func NewSet(cols ...string) Set {
	s := make(Set, len(cols))
	s.Add(cols...)
	return s
}

// Add inserts cols into the set.
func (s Set) Add(cols ...string) {
	for _, c := range cols {
		s[c] = struct{}{}
	}
}

// Has reports whether col is in the set.
func (s Set) Has(col string) bool {
	_, ok := s[col]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Union returns a new set with the members of s and o.
func (s Set) Union(o Set) Set {
	out := make(Set, len(s)+len(o))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range o {
		out[c] = struct{}{}
	}
	return out
}

// Minus returns a new set with the members of s that are not in o.
func (s Set) Minus(o Set) Set {
	out := make(Set, len(s))
	for c := range s {
		if !o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for c := range s {
		if !o.Has(c) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of names. null leaves the set nil.
func (s *Set) UnmarshalJSON(data []byte) error {
	var cols []string
	if err := json.Unmarshal(data, &cols); err != nil {
		return err
	}
	if cols == nil {
		*s = nil
		return nil
	}
	*s = NewSet(cols...)
	return nil
}
