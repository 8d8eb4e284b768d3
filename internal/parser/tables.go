package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/jsontab/internal/nodepath"
	"github.com/agentic-research/jsontab/internal/structure"
	"github.com/agentic-research/jsontab/internal/table"
)

// AttrSourcePath is attached to every table and holds the node path the
// table was flattened from.
const AttrSourcePath = "source_path"

// outTable is an output table plus the column index used to pad rows.
type outTable struct {
	name       string
	table      table.Table
	header     []string
	index      map[string]uint32
	all        *roaring.Bitmap
	primaryKey []string // property names
}

// tableFor returns the table for the array at path, creating it on first
// use with the header derived from the element node.
func (p *Parser) tableFor(path nodepath.NodePath, elem *structure.Node) (*outTable, error) {
	key := strings.Join(path.Segments(), ".")
	if t, ok := p.tables[key]; ok {
		return t, nil
	}

	name := p.uniqueTableName(p.structure.TypeFromNodePath(path))
	header := Headers(elem)

	t := &outTable{
		name:   name,
		header: header,
		index:  make(map[string]uint32, len(header)),
		all:    roaring.New(),
	}
	for i, h := range header {
		t.index[h] = uint32(i)
	}
	t.all.AddRange(0, uint64(len(header)))

	var pkHeaders []string
	if cols, ok := p.primaryKeys[name]; ok && len(cols) > 0 {
		for _, col := range cols {
			c := elem.Child(col)
			switch {
			case c != nil && c.IsColumn():
				pkHeaders = append(pkHeaders, c.HeaderName)
			case c == nil && col == structure.DataColumn && elem.IsColumn():
				pkHeaders = append(pkHeaders, elem.HeaderName)
			default:
				return nil, fmt.Errorf("%w: %q is not a column of table %q", ErrPrimaryKey, col, name)
			}
		}
		t.primaryKey = append([]string(nil), cols...)
	}

	tbl, err := p.sink.Create(name, header)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}
	if len(pkHeaders) > 0 {
		if err := tbl.SetPrimaryKey(pkHeaders); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrimaryKey, err)
		}
	}
	if err := tbl.AddAttributes(map[string]string{AttrSourcePath: path.String()}); err != nil {
		return nil, fmt.Errorf("attributes of %s: %w", name, err)
	}
	t.table = tbl

	p.tables[key] = t
	p.order = append(p.order, t)
	return t, nil
}

// uniqueTableName suffixes base with _uN when another path already produced
// the same table name.
func (p *Parser) uniqueTableName(base string) string {
	name := base
	for i := 0; p.tableNames[name]; i++ {
		suffix := fmt.Sprintf("_u%d", i)
		trimmed := base
		if len(trimmed)+len(suffix) > structure.MaxNameLength {
			trimmed = trimmed[:structure.MaxNameLength-len(suffix)]
		}
		name = trimmed + suffix
	}
	p.tableNames[name] = true
	return name
}

// write pads the columns rec does not set and writes it.
func (t *outTable) write(rec table.Row) error {
	present := roaring.New()
	var unknown []string
	for col := range rec {
		i, ok := t.index[col]
		if !ok {
			unknown = append(unknown, col)
			continue
		}
		present.Add(i)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("table %q: columns %v appeared after the table was created", t.name, unknown)
	}
	missing := roaring.AndNot(t.all, present)
	it := missing.Iterator()
	for it.HasNext() {
		rec[t.header[it.Next()]] = nil
	}
	if err := t.table.WriteRow(rec); err != nil {
		return fmt.Errorf("write row to %s: %w", t.name, err)
	}
	return nil
}

// Headers lists the column names of the table whose element node is elem:
// the element itself when it is a column, then every column child in tree
// order with object children flattened in place. Array children contribute
// their link column.
func Headers(elem *structure.Node) []string {
	var out []string
	if elem.IsColumn() {
		out = append(out, elem.HeaderName)
	}
	var walk func(n *structure.Node)
	walk = func(n *structure.Node) {
		for _, name := range n.Names() {
			c := n.Child(name)
			if c.Type == structure.TypeObject {
				walk(c)
				continue
			}
			out = append(out, c.HeaderName)
		}
	}
	walk(elem)
	return out
}
