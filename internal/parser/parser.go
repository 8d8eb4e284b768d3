// Package parser is the flattening engine. Process infers the schema of each
// submitted batch and buffers it; OutputTables replays the buffered batches
// against the final schema and writes linked rows into a table sink.
package parser

import (
	"errors"
	"fmt"
	"sort"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/jsontab/api"
	"github.com/agentic-research/jsontab/internal/analyzer"
	"github.com/agentic-research/jsontab/internal/cache"
	"github.com/agentic-research/jsontab/internal/logging"
	"github.com/agentic-research/jsontab/internal/nodepath"
	"github.com/agentic-research/jsontab/internal/structure"
	"github.com/agentic-research/jsontab/internal/table"
)

// DefaultType is the base type name used when Process is given none.
const DefaultType = "root"

var (
	// ErrNoData is returned for an empty or all-null batch of a type with no
	// known schema.
	ErrNoData = errors.New("no data")

	// ErrLinkage is returned for parent links that are not a scalar or a flat
	// map of scalars.
	ErrLinkage = errors.New("invalid parent link")

	// ErrPrimaryKey is returned for primary keys that do not match the schema
	// or are registered too late.
	ErrPrimaryKey = errors.New("invalid primary key")
)

// Parser owns the schema, the batch cache and the output tables of one
// processing session. It is not safe for concurrent use.
type Parser struct {
	opts      api.Options
	structure *structure.Structure
	analyzer  *analyzer.Analyzer
	cache     *cache.Cache
	sink      table.Sink
	log       logging.Logger

	primaryKeys map[string][]string
	tables      map[string]*outTable // keyed by node path label
	tableNames  map[string]bool
	order       []*outTable
	drained     bool
}

// Option configures a Parser.
type Option func(*parserConfig)

type parserConfig struct {
	log       logging.Logger
	spillFS   billy.Filesystem
	structure *structure.Structure
	pressure  cache.Pressure
}

// WithLogger sets the logger for degraded conditions.
func WithLogger(l logging.Logger) Option { return func(c *parserConfig) { c.log = l } }

// WithSpillFS lets the batch cache spill into fs under memory pressure.
func WithSpillFS(fs billy.Filesystem) Option { return func(c *parserConfig) { c.spillFS = fs } }

// WithStructure continues from a previously inferred schema.
func WithStructure(s *structure.Structure) Option {
	return func(c *parserConfig) { c.structure = s }
}

// WithPressure replaces the cache's memory pressure policy.
func WithPressure(p cache.Pressure) Option { return func(c *parserConfig) { c.pressure = p } }

// New creates a parser writing into sink.
func New(sink table.Sink, opts api.Options, options ...Option) *Parser {
	cfg := parserConfig{log: logging.NewStd("Parser", nil)}
	for _, o := range options {
		o(&cfg)
	}
	s := cfg.structure
	if s == nil {
		s = structure.New(structure.Options{
			AutoUpgradeToArray: opts.AutoUpgradeToArray,
			Strict:             opts.Strict,
		})
	}
	var cacheOpts []cache.Option
	if opts.CacheMemoryLimit > 0 {
		cacheOpts = append(cacheOpts, cache.WithLimit(opts.CacheMemoryLimit))
	}
	if cfg.pressure != nil {
		cacheOpts = append(cacheOpts, cache.WithPressure(cfg.pressure))
	}

	p := &Parser{
		opts:        opts,
		structure:   s,
		analyzer:    analyzer.New(s, cfg.log, opts.NestedArraysAsJSON),
		cache:       cache.New(cfg.spillFS, cacheOpts...),
		sink:        sink,
		log:         cfg.log,
		primaryKeys: make(map[string][]string),
		tables:      make(map[string]*outTable),
		tableNames:  make(map[string]bool),
	}
	for name, cols := range opts.PrimaryKeys {
		p.primaryKeys[name] = append([]string(nil), cols...)
	}
	return p
}

// Structure returns the inferred schema.
func (p *Parser) Structure() *structure.Structure { return p.structure }

// Process infers the schema of rows, registers the parent-link columns and
// buffers the batch for OutputTables. parentLink is nil, a scalar, or a map
// of column names to scalars.
func (p *Parser) Process(rows []any, typeName string, parentLink any) error {
	if typeName == "" {
		typeName = DefaultType
	}
	if allNull(rows) {
		if !p.structure.HasType(typeName) {
			return fmt.Errorf("%w: empty batch for unknown type %q", ErrNoData, typeName)
		}
		return nil
	}
	links, err := normalizeLink(parentLink)
	if err != nil {
		return err
	}
	if err := p.analyzer.AnalyzeData(rows, typeName); err != nil {
		return err
	}
	elem := nodepath.New(typeName, nodepath.ArrayMarker)
	for _, l := range links {
		if _, err := p.structure.RegisterParentColumn(elem, l.name); err != nil {
			return err
		}
	}
	p.structure.GenerateHeaderNames()
	return p.cache.Store(cache.Batch{Type: typeName, ParentLink: parentLink, Rows: rows})
}

// OutputTables flattens every buffered batch in submission order and returns
// the tables written so far.
func (p *Parser) OutputTables() ([]table.Table, error) {
	p.drained = true
	for {
		b, ok, err := p.cache.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		links, err := normalizeLink(b.ParentLink)
		if err != nil {
			return nil, err
		}
		if err := p.parse(b.Rows, nodepath.New(b.Type), links); err != nil {
			return nil, err
		}
	}
	out := make([]table.Table, len(p.order))
	for i, t := range p.order {
		out[i] = t.table
	}
	return out, nil
}

// AddPrimaryKeys declares the key columns of output tables. It must be
// called before the first OutputTables.
func (p *Parser) AddPrimaryKeys(keys map[string][]string) error {
	if p.drained {
		return fmt.Errorf("%w: primary keys must be added before output tables are produced", ErrPrimaryKey)
	}
	for name, cols := range keys {
		p.primaryKeys[name] = append([]string(nil), cols...)
	}
	return nil
}

// SetCacheMemoryLimit overrides the heap size at which buffered batches
// spill to disk.
func (p *Parser) SetCacheMemoryLimit(bytes int64) { p.cache.SetMemoryLimit(bytes) }

// Close releases the batch cache.
func (p *Parser) Close() error { return p.cache.Close() }

func allNull(rows []any) bool {
	for _, r := range rows {
		if r != nil {
			return false
		}
	}
	return true
}

// linkColumn is one parent-link column requested by the caller.
type linkColumn struct {
	name  string
	value any
}

func normalizeLink(v any) ([]linkColumn, error) {
	switch link := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		names := make([]string, 0, len(link))
		for k := range link {
			names = append(names, k)
		}
		sort.Strings(names)
		out := make([]linkColumn, 0, len(link))
		for _, k := range names {
			val := link[k]
			if val != nil {
				if _, ok := analyzer.ScalarType(val, false); !ok {
					return nil, fmt.Errorf("%w: parent id %q must be a scalar, got %T", ErrLinkage, k, val)
				}
			}
			out = append(out, linkColumn{name: k, value: val})
		}
		return out, nil
	default:
		if _, ok := analyzer.ScalarType(v, false); !ok {
			return nil, fmt.Errorf("%w: parent id must be a scalar or a map of scalars, got %T", ErrLinkage, v)
		}
		return []linkColumn{{name: structure.ParentColumn, value: v}}, nil
	}
}
