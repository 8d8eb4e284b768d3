// Package nodepath identifies locations in the logical JSON schema.
package nodepath

import "strings"

// ArrayMarker is the segment used for "iterate array members" descent.
const ArrayMarker = "[]"

// NodePath is an immutable sequence of path segments. A segment is either an
// object property name or ArrayMarker.
type NodePath struct {
	segments []string
}

// New creates a path from the given segments.
func New(segments ...string) NodePath {
	s := make([]string, len(segments))
	copy(s, segments)
	return NodePath{segments: s}
}

// Child returns a new path with name appended.
func (p NodePath) Child(name string) NodePath {
	s := make([]string, len(p.segments)+1)
	copy(s, p.segments)
	s[len(p.segments)] = name
	return NodePath{segments: s}
}

// PopFirst returns the first segment and the remaining path.
// Popping an empty path returns "" and an empty path.
func (p NodePath) PopFirst() (string, NodePath) {
	if len(p.segments) == 0 {
		return "", NodePath{}
	}
	return p.segments[0], NodePath{segments: p.segments[1:]}
}

// IsEmpty reports whether the path has no segments.
func (p NodePath) IsEmpty() bool {
	return len(p.segments) == 0
}

// Len returns the number of segments.
func (p NodePath) Len() int {
	return len(p.segments)
}

// Last returns the final segment, or "" for an empty path.
func (p NodePath) Last() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its final segment.
func (p NodePath) Parent() NodePath {
	if len(p.segments) == 0 {
		return p
	}
	return NodePath{segments: p.segments[:len(p.segments)-1]}
}

// IsArray reports whether the path ends with the array marker, i.e. it
// addresses the element of an array.
func (p NodePath) IsArray() bool {
	return p.Last() == ArrayMarker
}

// TrimArray removes a trailing array marker, if present.
func (p NodePath) TrimArray() NodePath {
	if p.IsArray() {
		return p.Parent()
	}
	return p
}

// Segments returns a copy of the raw segments.
func (p NodePath) Segments() []string {
	return New(p.segments...).segments
}

// Names returns the property segments with array markers removed.
func (p NodePath) Names() []string {
	names := make([]string, 0, len(p.segments))
	for _, s := range p.segments {
		if s != ArrayMarker {
			names = append(names, s)
		}
	}
	return names
}

// String renders the path dot-separated with array markers elided.
func (p NodePath) String() string {
	return strings.Join(p.Names(), ".")
}

// Equal reports whether two paths have identical segments.
func (p NodePath) Equal(o NodePath) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}
