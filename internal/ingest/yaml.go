package ingest

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

func (l *Loader) readYAML(r io.Reader, p *pager) error {
	dec := yaml.NewDecoder(r)
	for {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
		if err := p.add(l.selector.Records(normalizeYAML(doc))); err != nil {
			return err
		}
	}
}

// normalizeYAML rewrites the YAML-only shapes into JSON ones: maps with
// non-string keys get stringified keys and timestamps become RFC 3339
// strings.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}
