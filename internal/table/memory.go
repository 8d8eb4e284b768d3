package table

import (
	"fmt"
	"io"
	"sync"
)

// MemoryTable keeps its rows in memory.
type MemoryTable struct {
	name       string
	header     []string
	primaryKey []string
	attrs      map[string]string
	rows       []Row
}

func (t *MemoryTable) Name() string { return t.name }

func (t *MemoryTable) Header() []string { return append([]string(nil), t.header...) }

func (t *MemoryTable) WriteRow(row Row) error {
	if err := checkRow(t.name, t.header, row); err != nil {
		return err
	}
	cp := make(Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	t.rows = append(t.rows, cp)
	return nil
}

func (t *MemoryTable) SetPrimaryKey(columns []string) error {
	t.primaryKey = append([]string(nil), columns...)
	return nil
}

func (t *MemoryTable) AddAttributes(attrs map[string]string) error {
	if t.attrs == nil {
		t.attrs = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		t.attrs[k] = v
	}
	return nil
}

// Rows returns the written rows.
func (t *MemoryTable) Rows() []Row { return t.rows }

// PrimaryKey returns the declared key columns.
func (t *MemoryTable) PrimaryKey() []string { return t.primaryKey }

// Attributes returns the attached metadata.
func (t *MemoryTable) Attributes() map[string]string { return t.attrs }

// Column returns the values of one column in row order.
func (t *MemoryTable) Column(name string) []any {
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[name]
	}
	return out
}

// WriteCSV renders the table as CSV.
func (t *MemoryTable) WriteCSV(w io.Writer) error { return WriteCSV(w, t.header, t.rows) }

// Memory is a sink that keeps every table in memory.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
	order  []string
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*MemoryTable)}
}

func (m *Memory) Create(name string, header []string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; ok {
		return nil, fmt.Errorf("table %q already exists", name)
	}
	t := &MemoryTable{name: name, header: append([]string(nil), header...)}
	m.tables[name] = t
	m.order = append(m.order, name)
	return t, nil
}

// Table returns the table called name, or nil.
func (m *Memory) Table(name string) *MemoryTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[name]
}

// Tables returns the tables in creation order.
func (m *Memory) Tables() []*MemoryTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MemoryTable, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.tables[name])
	}
	return out
}

func (m *Memory) Close() error { return nil }
