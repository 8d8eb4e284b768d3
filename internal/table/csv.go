package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/goccy/go-json"
)

// Manifest describes a CSV table next to its data file.
type Manifest struct {
	Columns    []string          `json:"columns"`
	PrimaryKey []string          `json:"primary_key"`
	Attributes map[string]string `json:"attributes"`
}

// CSVSink writes <table>.csv and <table>.csv.manifest into a filesystem.
type CSVSink struct {
	fs     billy.Filesystem
	mu     sync.Mutex
	tables []*csvTable
	names  map[string]bool
}

// NewCSVSink writes into the root of fs.
func NewCSVSink(fs billy.Filesystem) *CSVSink {
	return &CSVSink{fs: fs, names: make(map[string]bool)}
}

func (s *CSVSink) Create(name string, header []string) (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[name] {
		return nil, fmt.Errorf("table %q already exists", name)
	}
	f, err := s.fs.Create(name + ".csv")
	if err != nil {
		return nil, fmt.Errorf("create %s.csv: %w", name, err)
	}
	t := &csvTable{
		name:   name,
		header: append([]string(nil), header...),
		file:   f,
		w:      csv.NewWriter(f),
		attrs:  make(map[string]string),
	}
	if err := t.w.Write(t.header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header of %s: %w", name, err)
	}
	s.names[name] = true
	s.tables = append(s.tables, t)
	return t, nil
}

// Close flushes every table and writes the manifests.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, t := range s.tables {
		if err := t.close(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.writeManifest(t); err != nil {
			errs = append(errs, err)
		}
	}
	s.tables = nil
	return errors.Join(errs...)
}

func (s *CSVSink) writeManifest(t *csvTable) error {
	m := Manifest{Columns: t.header, PrimaryKey: t.primaryKey, Attributes: t.attrs}
	if m.PrimaryKey == nil {
		m.PrimaryKey = []string{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest of %s: %w", t.name, err)
	}
	f, err := s.fs.Create(t.name + ".csv.manifest")
	if err != nil {
		return fmt.Errorf("create manifest of %s: %w", t.name, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest of %s: %w", t.name, err)
	}
	return f.Close()
}

type csvTable struct {
	name       string
	header     []string
	primaryKey []string
	attrs      map[string]string

	file billy.File
	w    *csv.Writer
}

func (t *csvTable) Name() string     { return t.name }
func (t *csvTable) Header() []string { return append([]string(nil), t.header...) }

func (t *csvTable) WriteRow(row Row) error {
	if err := checkRow(t.name, t.header, row); err != nil {
		return err
	}
	rec, err := record(t.header, row)
	if err != nil {
		return fmt.Errorf("table %q: %w", t.name, err)
	}
	return t.w.Write(rec)
}

func (t *csvTable) SetPrimaryKey(columns []string) error {
	for _, c := range columns {
		if !slices.Contains(t.header, c) {
			return fmt.Errorf("table %q: primary key column %q not in header", t.name, c)
		}
	}
	t.primaryKey = append([]string(nil), columns...)
	return nil
}

func (t *csvTable) AddAttributes(attrs map[string]string) error {
	for k, v := range attrs {
		t.attrs[k] = v
	}
	return nil
}

func (t *csvTable) close() error {
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		_ = t.file.Close()
		return fmt.Errorf("flush %s.csv: %w", t.name, err)
	}
	return t.file.Close()
}
