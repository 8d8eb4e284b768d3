package ingest

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Selector picks the records out of a decoded document.
type Selector struct {
	expr jp.Expr
}

// NewSelector compiles a JSONPath expression. An empty expression selects
// the document itself.
func NewSelector(expr string) (*Selector, error) {
	if expr == "" {
		return &Selector{}, nil
	}
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return &Selector{expr: x}, nil
}

// Records returns the records of doc. A top-level array is a list of
// records and anything else is a single record. With an expression the
// matches are the records, and a single array match is unwrapped so that
// "$.data" and "$.data[*]" select the same rows.
func (s *Selector) Records(doc any) []any {
	if s.expr == nil {
		if arr, ok := doc.([]any); ok {
			return arr
		}
		return []any{doc}
	}
	got := s.expr.Get(doc)
	if len(got) == 1 {
		if arr, ok := got[0].([]any); ok {
			return arr
		}
	}
	return got
}

// String returns the source expression.
func (s *Selector) String() string {
	if s.expr == nil {
		return ""
	}
	return s.expr.String()
}
