// Package allowlist parses the configured list of route names the gate may
// forward to.
package allowlist

import (
	"slices"
	"strings"
)

// stripper removes all whitespace the list is allowed to contain.
var stripper = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

// Set is an immutable set of lowercase route names.
type Set struct {
	names map[string]struct{}
}

// Normalize parses a comma-separated list such as
// "SelectAutoModels, InsertAutoModel" into a Set.
//
// Whitespace is removed, the remainder is lowercased and exactly one trailing
// comma is stripped before splitting. Consecutive or leading commas are not
// collapsed, so "a,," yields the members "a" and "".
func Normalize(raw string) Set {
	s := strings.ToLower(stripper.Replace(raw))
	s = strings.TrimSuffix(s, ",")

	parts := strings.Split(s, ",")
	names := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		names[p] = struct{}{}
	}
	return Set{names: names}
}

// Contains reports whether name is a member. name must already be lowercase.
func (s Set) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.names)
}

// Names returns the members in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
