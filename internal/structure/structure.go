// Package structure owns the inferred schema tree: legal type transitions,
// header naming and parent-link aliasing.
package structure

import (
	"fmt"
	"strings"

	"github.com/agentic-research/jsontab/internal/nodepath"
)

const (
	// DataColumn holds scalar array elements.
	DataColumn = "data"
	// ParentColumn links rows of a nested table to their parent row.
	ParentColumn = "JSON_parentId"

	PropNodeType    = "nodeType"
	PropHeaderNames = "headerNames"
	PropType        = "type"

	parentMarker = "parent"
)

// Options selects the inference policy.
type Options struct {
	// AutoUpgradeToArray lets a scalar or object node widen into an array.
	AutoUpgradeToArray bool
	// Strict distinguishes integer, double, string and boolean scalars.
	Strict bool
}

// Structure is the schema tree of one processing session, keyed by base type
// name. It is not safe for concurrent use.
type Structure struct {
	opts Options

	roots map[string]*Node
	order []string

	parentAliases map[string]string
	aliasOrder    []string
}

// New creates an empty structure.
func New(opts Options) *Structure {
	return &Structure{
		opts:          opts,
		roots:         make(map[string]*Node),
		parentAliases: make(map[string]string),
	}
}

// Options returns the policy the structure was created with.
func (s *Structure) Options() Options { return s.opts }

// Roots returns the base type names in first-seen order.
func (s *Structure) Roots() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// HasType reports whether a schema is known for the base type.
func (s *Structure) HasType(name string) bool {
	_, ok := s.roots[name]
	return ok
}

// slot addresses the position of a node inside its parent.
type slot struct {
	s      *Structure
	parent *Node // nil for roots
	name   string
}

func (sl slot) isRoot() bool    { return sl.parent == nil }
func (sl slot) isElement() bool { return !sl.isRoot() && sl.name == nodepath.ArrayMarker }

func (sl slot) get() *Node {
	switch {
	case sl.isRoot():
		return sl.s.roots[sl.name]
	case sl.isElement():
		return sl.parent.Element
	default:
		return sl.parent.Child(sl.name)
	}
}

// accepts verifies the parent can hold a node under this slot.
func (sl slot) accepts() error {
	switch {
	case sl.isRoot():
		return nil
	case sl.isElement():
		if sl.parent.Type != TypeArray {
			return fmt.Errorf("%w: array element below %s node", ErrSchemaConflict, sl.parent.Type)
		}
	default:
		if sl.parent.Type != TypeObject {
			return fmt.Errorf("%w: property %q below %s node", ErrSchemaConflict, sl.name, sl.parent.Type)
		}
	}
	return nil
}

func (sl slot) set(n *Node) {
	switch {
	case sl.isRoot():
		if _, ok := sl.s.roots[sl.name]; !ok {
			sl.s.order = append(sl.s.order, sl.name)
		}
		sl.s.roots[sl.name] = n
	case sl.isElement():
		sl.parent.Element = n
	default:
		sl.parent.setChild(sl.name, n)
	}
}

// locate walks every segment but the last, which may not exist yet.
func (s *Structure) locate(path nodepath.NodePath) (slot, error) {
	first, rest := path.PopFirst()
	if first == "" {
		return slot{}, fmt.Errorf("%w: empty node path", ErrNotFound)
	}
	if rest.IsEmpty() {
		return slot{s: s, name: first}, nil
	}
	cur := s.roots[first]
	for cur != nil && rest.Len() > 1 {
		var seg string
		seg, rest = rest.PopFirst()
		if seg == nodepath.ArrayMarker {
			cur = cur.Element
		} else {
			cur = cur.Child(seg)
		}
	}
	if cur == nil {
		return slot{}, fmt.Errorf("%w: node path %q does not exist", ErrNotFound, path.Parent().String())
	}
	return slot{s: s, parent: cur, name: rest.Last()}, nil
}

// Node returns the node stored at path.
func (s *Structure) Node(path nodepath.NodePath) (*Node, error) {
	sl, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	n := sl.get()
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pathLabel(path))
	}
	return n, nil
}

// SaveNode stores a whole subtree at path. Every ancestor must exist.
func (s *Structure) SaveNode(path nodepath.NodePath, n *Node) error {
	sl, err := s.locate(path)
	if err != nil {
		return err
	}
	if err := sl.accepts(); err != nil {
		return err
	}
	sl.set(n)
	return nil
}

// SaveNodeValue sets a single property at path. nodeType writes go through
// the upgrade rules; the other properties are write-once.
func (s *Structure) SaveNodeValue(path nodepath.NodePath, property, value string) error {
	if property == PropNodeType {
		t := NodeType(value)
		if !t.Valid() {
			return fmt.Errorf("%w: invalid node type %q at %q", ErrSchemaConflict, value, pathLabel(path))
		}
		_, err := s.SaveNodeType(path, t)
		return err
	}

	n, err := s.Node(path)
	if err != nil {
		return err
	}
	var cur string
	switch property {
	case PropHeaderNames:
		cur = n.HeaderName
	case PropType:
		if value != parentMarker {
			return fmt.Errorf("%w: invalid type marker %q at %q", ErrSchemaConflict, value, pathLabel(path))
		}
		if n.Parent {
			cur = parentMarker
		}
	default:
		return fmt.Errorf("%w: unknown property %q at %q", ErrSchemaConflict, property, pathLabel(path))
	}
	if cur != "" && cur != value {
		return fmt.Errorf("%w: %w: attempting to overwrite %q value %q with %q at %q",
			ErrSchemaConflict, errPropertyConflict, property, cur, value, pathLabel(path))
	}
	if property == PropHeaderNames {
		n.HeaderName = value
	} else {
		n.Parent = true
	}
	return nil
}

// SaveNodeType records an observed type at path, creating the node if needed,
// and returns the type stored afterwards (which may be a widened array).
func (s *Structure) SaveNodeType(path nodepath.NodePath, observed NodeType) (NodeType, error) {
	sl, err := s.locate(path)
	if err != nil {
		return "", err
	}
	cur := sl.get()
	if cur != nil && cur.Parent && !sl.isElement() {
		// A data property arrived under the name of a parent-link column.
		if err := s.relocateParent(sl.parent, sl.name); err != nil {
			return "", err
		}
		cur = nil
	}
	if cur == nil {
		if err := sl.accepts(); err != nil {
			return "", err
		}
		n := &Node{Type: observed}
		if observed == TypeArray {
			n.Element = &Node{Type: TypeNull}
		}
		sl.set(n)
		return observed, nil
	}

	up, err := reconcile(cur.Type, observed, s.opts.AutoUpgradeToArray)
	if err != nil {
		return "", fmt.Errorf("%w: data in %q contains incompatible data types %q and %q",
			ErrSchemaConflict, pathLabel(path), cur.Type, observed)
	}
	switch up {
	case takeObserved:
		cur.Type = observed
		if observed == TypeArray && cur.Element == nil {
			cur.Element = &Node{Type: TypeNull}
		}
	case wrapStored:
		// The stored node becomes the element; its header name moves with it
		// and the array node gets a fresh one.
		sl.set(&Node{Type: TypeArray, Element: cur})
	case mergeIntoElement:
		if err := s.mergeIntoElement(cur, observed, path); err != nil {
			return "", err
		}
	}
	return sl.get().Type, nil
}

func (s *Structure) mergeIntoElement(arr *Node, observed NodeType, path nodepath.NodePath) error {
	if arr.Element == nil {
		arr.Element = &Node{Type: observed}
		return nil
	}
	elem := arr.Element
	switch {
	case elem.Type == TypeNull || elem.Type == "":
		elem.Type = observed
	case !s.Compatible(elem.Type, observed):
		return fmt.Errorf("%w: data array in %q contains incompatible data types %q and %q",
			ErrSchemaConflict, pathLabel(path), elem.Type, observed)
	}
	return nil
}

// Compatible reports whether two concrete element types may share an array.
// Loose mode unifies any two scalars; strict mode requires an exact match.
func (s *Structure) Compatible(a, b NodeType) bool {
	if a == b {
		return true
	}
	return !s.opts.Strict && a.IsScalar() && b.IsScalar()
}

type upgrade int

const (
	keepStored upgrade = iota
	takeObserved
	wrapStored
	mergeIntoElement
)

// reconcile decides how a stored node type absorbs a newly observed one.
func reconcile(stored, observed NodeType, autoUpgrade bool) (upgrade, error) {
	switch {
	case stored == observed, observed == TypeNull:
		return keepStored, nil
	case stored == TypeNull, stored == "":
		return takeObserved, nil
	case autoUpgrade && stored == TypeArray:
		return mergeIntoElement, nil
	case autoUpgrade && observed == TypeArray:
		return wrapStored, nil
	}
	return keepStored, errIncompatibleTypes
}

// Column is one immediate column of a table node.
type Column struct {
	Name   string
	Type   NodeType
	Parent bool
	Node   *Node
}

// ColumnTypes returns the immediate children of the object (or array of
// objects) at path. For an array of scalars the element itself is reported
// under DataColumn.
func (s *Structure) ColumnTypes(path nodepath.NodePath) ([]Column, error) {
	n, err := s.Node(path)
	if err != nil {
		return nil, err
	}
	if n.Type == TypeArray {
		n = n.Element
	}
	var cols []Column
	if n.Type != TypeObject {
		cols = append(cols, Column{Name: DataColumn, Type: n.Type, Node: n})
	}
	for _, name := range n.names {
		c := n.children[name]
		cols = append(cols, Column{Name: name, Type: c.Type, Parent: c.Parent, Node: c})
	}
	return cols, nil
}

// TypeFromNodePath derives the output table name for path.
func (s *Structure) TypeFromNodePath(path nodepath.NodePath) string {
	return SafeName(path.String())
}

// ParentTargetName resolves a requested parent-link column through the alias
// table.
func (s *Structure) ParentTargetName(name string) string {
	if target, ok := s.parentAliases[name]; ok {
		return target
	}
	return name
}

// SetParentTargetName records that parent-link column name is written as
// target.
func (s *Structure) SetParentTargetName(name, target string) {
	if _, ok := s.parentAliases[name]; !ok {
		s.aliasOrder = append(s.aliasOrder, name)
	}
	s.parentAliases[name] = target
}

// ParentAliases returns a copy of the alias table.
func (s *Structure) ParentAliases() map[string]string {
	out := make(map[string]string, len(s.parentAliases))
	for k, v := range s.parentAliases {
		out[k] = v
	}
	return out
}

// RegisterParentColumn makes sure the table element at path carries a
// parent-link column for requested and returns the column's child name. A
// requested name that collides with a data column is renamed with a _uN
// suffix and the rename is recorded as an alias.
func (s *Structure) RegisterParentColumn(path nodepath.NodePath, requested string) (string, error) {
	n, err := s.Node(path)
	if err != nil {
		return "", err
	}
	if n.Type == TypeArray {
		return "", fmt.Errorf("%w: parent column %q on array node %q", ErrSchemaConflict, requested, pathLabel(path))
	}

	target := s.ParentTargetName(requested)
	for _, name := range []string{target, requested} {
		if c := n.Child(name); c != nil && c.Parent {
			return name, nil
		}
	}

	name := target
	for i := 0; dataColumnTaken(n, name); i++ {
		name = fmt.Sprintf("%s_u%d", requested, i)
	}
	if name != requested {
		s.SetParentTargetName(requested, name)
	}

	used := scopeNames(n)
	n.setChild(name, &Node{
		Type:       TypeScalar,
		Parent:     true,
		HeaderName: uniqueName(SafeName(name), used),
	})
	return name, nil
}

func dataColumnTaken(n *Node, name string) bool {
	if n.Type != TypeObject && name == DataColumn {
		return true
	}
	c := n.Child(name)
	return c != nil && !c.Parent
}

// relocateParent moves the parent-link column stored under name out of the
// way of an incoming data property of the same name.
func (s *Structure) relocateParent(n *Node, name string) error {
	c := n.Child(name)
	if c == nil || !c.Parent {
		return nil
	}

	requested := name
	for _, k := range s.aliasOrder {
		if s.parentAliases[k] == name {
			requested = k
		}
	}
	next := ""
	for i := 0; next == ""; i++ {
		cand := fmt.Sprintf("%s_u%d", requested, i)
		if n.Child(cand) == nil {
			next = cand
		}
	}
	n.renameChild(name, next)
	s.SetParentTargetName(requested, next)

	used := scopeNames(n)
	delete(used, c.HeaderName)
	c.HeaderName = uniqueName(SafeName(next), used)
	return nil
}

func pathLabel(path nodepath.NodePath) string {
	return strings.Join(path.Segments(), ".")
}
