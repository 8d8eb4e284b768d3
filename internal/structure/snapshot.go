package structure

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/agentic-research/jsontab/internal/nodepath"
)

const (
	snapshotData    = "data"
	snapshotAliases = "parent_aliases"

	namePrefix = "_"
)

// EncodeNodeName prefixes a property name so it cannot collide with the
// reserved snapshot keys. The array marker passes through unchanged.
func EncodeNodeName(name string) string {
	if name == nodepath.ArrayMarker {
		return name
	}
	return namePrefix + name
}

// DecodeNodeName reverses EncodeNodeName.
func DecodeNodeName(name string) string {
	if name == nodepath.ArrayMarker {
		return name
	}
	return strings.TrimPrefix(name, namePrefix)
}

// Data serializes the schema and the parent aliases as
// {"data": {...}, "parent_aliases": {...}}. Keys are written in tree order.
func (s *Structure) Data() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + snapshotData + `":{`)
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, name); err != nil {
			return nil, err
		}
		if err := writeNode(&buf, s.roots[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"` + snapshotAliases + `":{`)
	for i, name := range s.aliasOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, name); err != nil {
			return nil, err
		}
		if err := writeString(&buf, s.parentAliases[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (s *Structure) MarshalJSON() ([]byte, error) { return s.Data() }

func writeNode(buf *bytes.Buffer, n *Node) error {
	buf.WriteByte('{')
	if err := writeKey(buf, PropNodeType); err != nil {
		return err
	}
	if err := writeString(buf, string(n.Type)); err != nil {
		return err
	}
	if n.HeaderName != "" {
		buf.WriteByte(',')
		_ = writeKey(buf, PropHeaderNames)
		if err := writeString(buf, n.HeaderName); err != nil {
			return err
		}
	}
	if n.Parent {
		buf.WriteByte(',')
		_ = writeKey(buf, PropType)
		_ = writeString(buf, parentMarker)
	}
	if n.Element != nil {
		buf.WriteByte(',')
		_ = writeKey(buf, nodepath.ArrayMarker)
		if err := writeNode(buf, n.Element); err != nil {
			return err
		}
	}
	for _, name := range n.names {
		buf.WriteByte(',')
		if err := writeKey(buf, EncodeNodeName(name)); err != nil {
			return err
		}
		if err := writeNode(buf, n.children[name]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	if err := writeString(buf, key); err != nil {
		return err
	}
	buf.WriteByte(':')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// Load replaces the schema with a snapshot produced by Data. Every node is
// validated against the property and type vocabulary; on error the
// structure is left untouched.
func (s *Structure) Load(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	loaded := New(s.opts)
	if err := expectDelim(dec, '{'); err != nil {
		return malformed("", err)
	}
	for dec.More() {
		key, err := readString(dec)
		if err != nil {
			return malformed("", err)
		}
		switch key {
		case snapshotData:
			err = loaded.loadRoots(dec)
		case snapshotAliases:
			err = loaded.loadAliases(dec)
		default:
			err = malformed("", fmt.Errorf("unknown key %q", key))
		}
		if err != nil {
			return err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return malformed("", err)
	}
	if dec.More() {
		return malformed("", errors.New("trailing data after snapshot"))
	}

	s.roots = loaded.roots
	s.order = loaded.order
	s.parentAliases = loaded.parentAliases
	s.aliasOrder = loaded.aliasOrder
	return nil
}

func (s *Structure) loadRoots(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return malformed(snapshotData, err)
	}
	for dec.More() {
		name, err := readString(dec)
		if err != nil {
			return malformed(snapshotData, err)
		}
		if _, dup := s.roots[name]; dup {
			return malformed(name, errors.New("duplicate type"))
		}
		n, err := loadNode(dec, nodepath.New(name))
		if err != nil {
			return err
		}
		s.roots[name] = n
		s.order = append(s.order, name)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return malformed(snapshotData, err)
	}
	return nil
}

func (s *Structure) loadAliases(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return malformed(snapshotAliases, err)
	}
	switch tok {
	case json.Delim('{'):
	case json.Delim('['):
		// An empty alias table may be written as a list.
		if err := expectDelim(dec, ']'); err != nil {
			return malformed(snapshotAliases, err)
		}
		return nil
	default:
		return malformed(snapshotAliases, fmt.Errorf("unexpected token %v", tok))
	}
	for dec.More() {
		name, err := readString(dec)
		if err != nil {
			return malformed(snapshotAliases, err)
		}
		target, err := readString(dec)
		if err != nil {
			return malformed(snapshotAliases, err)
		}
		s.SetParentTargetName(name, target)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return malformed(snapshotAliases, err)
	}
	return nil
}

func loadNode(dec *json.Decoder, path nodepath.NodePath) (*Node, error) {
	label := pathLabel(path)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, malformed(label, err)
	}
	n := &Node{}
	for dec.More() {
		key, err := readString(dec)
		if err != nil {
			return nil, malformed(label, err)
		}
		switch {
		case key == PropNodeType:
			v, err := readString(dec)
			if err != nil {
				return nil, malformed(label, err)
			}
			if !NodeType(v).Valid() {
				return nil, malformed(label, fmt.Errorf("invalid node type %q", v))
			}
			n.Type = NodeType(v)
		case key == PropHeaderNames:
			v, err := readString(dec)
			if err != nil {
				return nil, malformed(label, err)
			}
			n.HeaderName = v
		case key == PropType:
			v, err := readString(dec)
			if err != nil {
				return nil, malformed(label, err)
			}
			if v != parentMarker {
				return nil, malformed(label, fmt.Errorf("invalid type marker %q", v))
			}
			n.Parent = true
		case key == nodepath.ArrayMarker:
			if n.Element != nil {
				return nil, malformed(label, errors.New("duplicate array element"))
			}
			elem, err := loadNode(dec, path.Child(nodepath.ArrayMarker))
			if err != nil {
				return nil, err
			}
			n.Element = elem
		case strings.HasPrefix(key, namePrefix):
			name := DecodeNodeName(key)
			if n.Child(name) != nil {
				return nil, malformed(label, fmt.Errorf("duplicate property %q", name))
			}
			child, err := loadNode(dec, path.Child(name))
			if err != nil {
				return nil, err
			}
			n.setChild(name, child)
		default:
			return nil, malformed(label, fmt.Errorf("unknown property %q", key))
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, malformed(label, err)
	}
	if err := validateNode(n); err != nil {
		return nil, malformed(label, err)
	}
	return n, nil
}

func validateNode(n *Node) error {
	switch {
	case n.Type == "":
		return errors.New("missing nodeType")
	case n.Type == TypeArray && n.Element == nil:
		return errors.New("array node without element")
	case n.Type == TypeArray && len(n.names) > 0:
		return errors.New("array node with properties")
	case n.Type != TypeArray && n.Element != nil:
		return fmt.Errorf("%s node with array element", n.Type)
	case n.Parent && (!n.Type.IsScalar() || len(n.names) > 0):
		return errors.New("parent column must be a scalar leaf")
	}
	if n.Type != TypeObject {
		for _, name := range n.names {
			if !n.children[name].Parent {
				return fmt.Errorf("%s node with data property %q", n.Type, name)
			}
		}
	}
	return nil
}

func malformed(where string, err error) error {
	if where == "" {
		return fmt.Errorf("%w: malformed snapshot: %v", ErrSchemaConflict, err)
	}
	return fmt.Errorf("%w: malformed snapshot at %q: %v", ErrSchemaConflict, where, err)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readString(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %v", tok)
	}
	return s, nil
}
