package structure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength bounds header and table names.
const MaxNameLength = 64

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SafeName replaces every character outside [A-Za-z0-9_-] with an underscore
// and shortens names longer than MaxNameLength, first to the acronym of their
// words and otherwise to a content hash.
func SafeName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if len(safe) > MaxNameLength {
		safe = shortenName(safe)
	}
	if safe == "" {
		safe = hashName(name)
	}
	return safe
}

func shortenName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' })
	if len(words) > 1 {
		var b strings.Builder
		for _, w := range words {
			b.WriteByte(w[0])
		}
		if b.Len() <= MaxNameLength {
			return b.String()
		}
	}
	return hashName(name)
}

func hashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:16])
}

// uniqueName returns base, or base with the first free _uN suffix, and marks
// the result as used.
func uniqueName(base string, used map[string]bool) string {
	name := base
	for i := 0; used[name]; i++ {
		suffix := fmt.Sprintf("_u%d", i)
		trimmed := base
		if len(trimmed)+len(suffix) > MaxNameLength {
			trimmed = trimmed[:MaxNameLength-len(suffix)]
		}
		name = trimmed + suffix
	}
	used[name] = true
	return name
}

// scopeNames collects the header names already taken by columns of the table
// whose element node is e. Nested arrays start their own table and are not
// descended into.
func scopeNames(e *Node) map[string]bool {
	used := make(map[string]bool)
	if e.IsColumn() && e.HeaderName != "" {
		used[e.HeaderName] = true
	}
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, name := range n.names {
			c := n.children[name]
			if c.Type == TypeObject {
				walk(c)
				continue
			}
			if c.HeaderName != "" {
				used[c.HeaderName] = true
			}
		}
	}
	walk(e)
	return used
}

// GenerateHeaderNames assigns a header name to every node that has none yet.
// Names are unique per table and never change once assigned.
func (s *Structure) GenerateHeaderNames() {
	for _, name := range s.order {
		root := s.roots[name]
		if root.Type == TypeArray && root.Element != nil {
			generateScope(root.Element)
		}
	}
}

// generateScope names the table rooted at the array element e.
func generateScope(e *Node) {
	used := scopeNames(e)
	if e.HeaderName == "" {
		if e.IsColumn() {
			e.HeaderName = uniqueName(DataColumn, used)
		} else {
			e.HeaderName = DataColumn
		}
	}
	assignChildren(e, "", used)
}

// assignChildren names the children of n. Object children prefix their own
// children's names and share the table; array children open a new table.
func assignChildren(n *Node, prefix string, used map[string]bool) {
	for _, name := range n.names {
		c := n.children[name]
		if c.HeaderName == "" {
			candidate := name
			if prefix != "" {
				candidate = prefix + "_" + name
			}
			if c.IsColumn() {
				c.HeaderName = uniqueName(SafeName(candidate), used)
			} else {
				c.HeaderName = SafeName(candidate)
			}
		}
		switch c.Type {
		case TypeObject:
			assignChildren(c, c.HeaderName, used)
		case TypeArray:
			if c.Element != nil {
				generateScope(c.Element)
			}
		}
	}
}
