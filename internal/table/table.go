// Package table defines the output table collaborator and its sinks.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"sort"
)

// Row maps header names to cell values. A value is a string or nil.
type Row map[string]any

// Table receives the flattened rows of one output table.
type Table interface {
	Name() string
	Header() []string
	WriteRow(row Row) error
	SetPrimaryKey(columns []string) error
	AddAttributes(attrs map[string]string) error
}

// Sink creates tables and finalizes them on Close.
type Sink interface {
	Create(name string, header []string) (Table, error)
	Close() error
}

// record orders row values by header. Nil cells become "".
func record(header []string, row Row) ([]string, error) {
	out := make([]string, len(header))
	for i, col := range header {
		s, err := cell(row[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[i] = s
	}
	return out, nil
}

func cell(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	default:
		return "", fmt.Errorf("unexpected cell value of type %T", v)
	}
}

// checkRow rejects columns the header does not know.
func checkRow(name string, header []string, row Row) error {
	var unknown []string
	for col := range row {
		if !slices.Contains(header, col) {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("table %q: columns %v not in header", name, unknown)
}

// WriteCSV renders header and rows as CSV.
func WriteCSV(w io.Writer, header []string, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec, err := record(header, row)
		if err != nil {
			return err
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
