// Package ingest reads input files into record batches for the parser.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/ohler55/ojg/oj"
)

// Input formats.
const (
	FormatJSON      = "json"
	FormatJSONLines = "jsonl"
	FormatYAML      = "yaml"
	FormatSQLite    = "sqlite"
)

// DefaultPageSize is the batch size used when none is configured.
const DefaultPageSize = 1000

// ErrUnsupportedFormat is returned for inputs whose format cannot be
// determined from the file extension.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// BatchFunc receives one batch of records. Returning an error stops loading.
type BatchFunc func(batch []any) error

// FormatOf maps a file name to its input format.
func FormatOf(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONLines, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// Loader reads files from fs and hands their records to a BatchFunc in
// pages of at most pageSize records.
type Loader struct {
	fs       billy.Filesystem
	selector *Selector
	pageSize int
}

// NewLoader returns a loader over fs. selector is a JSONPath expression
// applied to every document; it may be empty.
func NewLoader(fs billy.Filesystem, selector string, pageSize int) (*Loader, error) {
	sel, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{fs: fs, selector: sel, pageSize: pageSize}, nil
}

// Load reads the file at name, relative to the loader's filesystem.
func (l *Loader) Load(name string, fn BatchFunc) error {
	format, err := FormatOf(name)
	if err != nil {
		return err
	}
	if format == FormatSQLite {
		return StreamSQLite(filepath.Join(l.fs.Root(), name), l.pageSize, func(page []any) error {
			return l.emit(page, fn)
		})
	}
	f, err := l.fs.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }() // read-only
	if err := l.Read(f, format, fn); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

// Read decodes a stream in the given text format. JSON streams may hold
// any number of concatenated or newline-separated documents.
func (l *Loader) Read(r io.Reader, format string, fn BatchFunc) error {
	p := newPager(l.pageSize, fn)
	var err error
	switch format {
	case FormatJSON, FormatJSONLines:
		err = l.readJSON(r, p)
	case FormatYAML:
		err = l.readYAML(r, p)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return err
	}
	return p.flush()
}

func (l *Loader) readJSON(r io.Reader, p *pager) error {
	// The parser keeps reading after the callback returns true, so only the
	// first batch error is kept and later documents are skipped.
	var cbErr error
	_, err := (&oj.Parser{}).ParseReader(r, func(doc any) bool {
		if cbErr == nil {
			cbErr = p.add(l.selector.Records(doc))
		}
		return cbErr != nil
	})
	if cbErr != nil {
		return cbErr
	}
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// emit sends the selected records of one page as a single batch.
func (l *Loader) emit(page []any, fn BatchFunc) error {
	var batch []any
	for _, doc := range page {
		batch = append(batch, l.selector.Records(doc)...)
	}
	if len(batch) == 0 {
		return nil
	}
	return fn(batch)
}

// pager groups records into batches of a fixed size.
type pager struct {
	size int
	buf  []any
	fn   BatchFunc
}

func newPager(size int, fn BatchFunc) *pager {
	return &pager{size: size, fn: fn}
}

func (p *pager) add(records []any) error {
	for _, r := range records {
		p.buf = append(p.buf, r)
		if len(p.buf) >= p.size {
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pager) flush() error {
	if len(p.buf) == 0 {
		return nil
	}
	batch := p.buf
	p.buf = nil
	return p.fn(batch)
}
