package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/agentic-research/jsontab/internal/analyzer"
	"github.com/agentic-research/jsontab/internal/nodepath"
	"github.com/agentic-research/jsontab/internal/structure"
	"github.com/agentic-research/jsontab/internal/table"
)

// parse writes rows, the members of the array at path, into the table for
// path. links are merged onto every row.
func (p *Parser) parse(rows []any, path nodepath.NodePath, links []linkColumn) error {
	elemPath := path.Child(nodepath.ArrayMarker)
	elem, err := p.structure.Node(elemPath)
	if err != nil {
		return err
	}

	parents := make(table.Row, len(links))
	for _, l := range links {
		name, err := p.structure.RegisterParentColumn(elemPath, l.name)
		if err != nil {
			return err
		}
		parents[elem.Child(name).HeaderName] = renderLink(l.value)
	}

	out, err := p.tableFor(path, elem)
	if err != nil {
		return err
	}

	for _, row := range rows {
		rec := make(table.Row, len(out.header))
		for k, v := range parents {
			rec[k] = v
		}
		if elem.Type == structure.TypeObject {
			switch obj := row.(type) {
			case map[string]any:
				if err := p.parseRow(obj, elem, elemPath, rec, parents, "", out.primaryKey); err != nil {
					return err
				}
			case nil:
			default:
				p.log.Error("unexpected value in array of objects", map[string]any{
					"path": path.String(), "value": fmt.Sprintf("%v", row),
				})
			}
		} else {
			rec[elem.HeaderName] = p.render(row, elem.Type, elemPath)
		}
		if err := out.write(rec); err != nil {
			return err
		}
	}
	return nil
}

// parseRow flattens obj, stored at path with schema node n, into rec.
// Nested objects share the row; arrays are written to child tables and
// represented here by the row's link value.
func (p *Parser) parseRow(obj map[string]any, n *structure.Node, path nodepath.NodePath,
	rec, parents table.Row, outerHash string, primaryKey []string) error {

	var link string
	linkValue := func() string {
		if link == "" {
			link = p.linkValue(obj, parents, path, outerHash, primaryKey)
		}
		return link
	}

	for _, name := range n.Names() {
		c := n.Child(name)
		if c.Parent {
			continue
		}
		v := obj[name]
		childPath := path.Child(name)

		switch c.Type {
		case structure.TypeObject:
			sub, ok := v.(map[string]any)
			if !ok {
				if v != nil {
					p.log.Error("unexpected value for object column", map[string]any{
						"path": childPath.String(), "value": fmt.Sprintf("%v", v),
					})
				}
				continue
			}
			if err := p.parseRow(sub, c, childPath, rec, nil, linkValue(), nil); err != nil {
				return err
			}

		case structure.TypeArray:
			items := arrayItems(v)
			if len(items) == 0 {
				rec[c.HeaderName] = nil
				continue
			}
			id := linkValue()
			rec[c.HeaderName] = id
			child := []linkColumn{{name: structure.ParentColumn, value: id}}
			if err := p.parse(items, childPath, child); err != nil {
				return err
			}

		default:
			rec[c.HeaderName] = p.render(v, c.Type, childPath)
		}
	}
	return nil
}

// arrayItems returns the members of an array column. A single value stored
// under a widened column counts as one member.
func arrayItems(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

// linkValue identifies obj for the rows of its child tables. With a primary
// key it is built from the key values, otherwise from a content hash.
func (p *Parser) linkValue(obj map[string]any, parents table.Row, path nodepath.NodePath,
	outerHash string, primaryKey []string) string {

	prefix := path.String() + "_"
	if len(primaryKey) > 0 {
		vals := make([]string, 0, len(primaryKey))
		for _, col := range primaryKey {
			v, ok := obj[col]
			s, _ := scalarString(v)
			if !ok || s == "" {
				p.log.Warning("primary key column missing, falling back to content hash", map[string]any{
					"path": path.String(), "column": col,
				})
				return prefix + contentHash(obj, parents, outerHash)
			}
			vals = append(vals, s)
		}
		return prefix + strings.Join(vals, ";")
	}
	return prefix + contentHash(obj, parents, outerHash)
}

// contentHash hashes the canonical JSON of the row and its parent columns.
// Map keys are encoded in sorted order.
func contentHash(obj map[string]any, parents table.Row, outerHash string) string {
	payload, err := json.Marshal(struct {
		Row     map[string]any `json:"row"`
		Parents table.Row      `json:"parents,omitempty"`
	}{obj, parents})
	if err != nil {
		payload = []byte(fmt.Sprintf("%v|%v", obj, parents))
	}
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(outerHash))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// render converts a value for a column of type declared. Values that do not
// fit the declared type are logged and written as JSON.
func (p *Parser) render(v any, declared structure.NodeType, path nodepath.NodePath) any {
	if v == nil {
		return nil
	}
	if arr, ok := v.([]any); ok && p.opts.NestedArraysAsJSON && path.IsArray() {
		return toJSON(arr)
	}
	if s, ok := scalarString(v); ok && p.fits(v, declared) {
		return s
	}
	p.log.Error("value does not match column type, writing JSON", map[string]any{
		"path": path.String(), "type": string(declared), "value": fmt.Sprintf("%v", v),
	})
	return toJSON(v)
}

func (p *Parser) fits(v any, declared structure.NodeType) bool {
	// Spilled values come back as json.Number; 2.0 reads back as "2".
	if _, ok := v.(json.Number); ok && declared == structure.TypeDouble {
		return true
	}
	t, ok := analyzer.ScalarType(v, declared != structure.TypeScalar)
	return ok && t == declared
}

func renderLink(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := scalarString(v); ok {
		return s
	}
	return toJSON(v)
}

// scalarString renders a JSON scalar: strings as-is, booleans as 1/0 and
// numbers as their JSON literal.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		if val {
			return "1", true
		}
		return "0", true
	case json.Number:
		return val.String(), true
	}
	if _, ok := analyzer.ScalarType(v, false); !ok {
		return "", false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return string(b), true
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
