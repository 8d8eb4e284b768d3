package structure

// NodeType is the inferred type of one schema node.
type NodeType string

const (
	TypeNull   NodeType = "null"
	TypeArray  NodeType = "array"
	TypeObject NodeType = "object"
	TypeScalar NodeType = "scalar"

	// Concrete scalar kinds, used in strict mode.
	TypeInteger NodeType = "integer"
	TypeDouble  NodeType = "double"
	TypeString  NodeType = "string"
	TypeBoolean NodeType = "boolean"
)

// IsScalar reports whether t is the loose scalar type or a strict scalar kind.
func (t NodeType) IsScalar() bool {
	switch t {
	case TypeScalar, TypeInteger, TypeDouble, TypeString, TypeBoolean:
		return true
	}
	return false
}

// Valid reports whether t belongs to the node type vocabulary.
func (t NodeType) Valid() bool {
	return t == TypeNull || t == TypeArray || t == TypeObject || t.IsScalar()
}

// Node is one entry of the schema tree.
//
// An array node has exactly one Element and no children. Object nodes carry
// ordered children keyed by property name. Scalar and null nodes may only
// carry parent-link children, when they are the element of an array table.
type Node struct {
	Type       NodeType
	HeaderName string // "" until assigned; write-once afterwards
	Parent     bool   // synthetic parent-link column
	Element    *Node

	names    []string
	children map[string]*Node
}

// Child returns the child stored under name, or nil.
func (n *Node) Child(name string) *Node {
	if n.children == nil {
		return nil
	}
	return n.children[name]
}

// Names returns child names in tree order.
func (n *Node) Names() []string {
	out := make([]string, len(n.names))
	copy(out, n.names)
	return out
}

// Len returns the number of children.
func (n *Node) Len() int { return len(n.names) }

// IsColumn reports whether the node produces an output column of its table.
// Object nodes are flattened into their children instead.
func (n *Node) IsColumn() bool { return n.Type != TypeObject }

func (n *Node) setChild(name string, c *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	if _, ok := n.children[name]; !ok {
		n.names = append(n.names, name)
	}
	n.children[name] = c
}

// renameChild rekeys a child in place, keeping its position.
func (n *Node) renameChild(from, to string) {
	c, ok := n.children[from]
	if !ok {
		return
	}
	delete(n.children, from)
	n.children[to] = c
	for i, name := range n.names {
		if name == from {
			n.names[i] = to
		}
	}
}
