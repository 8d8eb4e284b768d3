package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/jsontab/internal/config"
	"github.com/agentic-research/jsontab/internal/ingest"
	"github.com/agentic-research/jsontab/internal/logging"
	"github.com/agentic-research/jsontab/internal/parser"
	"github.com/agentic-research/jsontab/internal/structure"
	"github.com/agentic-research/jsontab/internal/table"
)

// stdinName is the input argument that reads JSON from standard input.
const stdinName = "-"

// newParser builds a parser for cfg, continuing from the configured schema
// snapshot if there is one. Buffered batches spill into the OS temp dir.
func newParser(cfg config.Config, sink table.Sink, logger logging.Logger) (*parser.Parser, error) {
	opts := []parser.Option{
		parser.WithLogger(logger),
		parser.WithSpillFS(osfs.New(os.TempDir())),
	}
	if cfg.Schema != "" {
		s, err := loadSchema(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, parser.WithStructure(s))
	}
	return parser.New(sink, cfg.Options, opts...), nil
}

func loadSchema(cfg config.Config) (*structure.Structure, error) {
	data, err := os.ReadFile(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s := structure.New(structure.Options{
		Strict:             cfg.Options.Strict,
		AutoUpgradeToArray: cfg.Options.AutoUpgradeToArray,
	})
	if err := s.Load(data); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", cfg.Schema, err)
	}
	return s, nil
}

func saveSchema(cfg config.Config, p *parser.Parser) error {
	if cfg.SaveSchema == "" {
		return nil
	}
	data, err := p.Structure().Data()
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := os.WriteFile(cfg.SaveSchema, data, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

// processInputs feeds every input file, or stdin for "-", through Process
// one batch at a time.
func processInputs(p *parser.Parser, cfg config.Config, inputs []string, stdin io.Reader) error {
	process := func(batch []any) error {
		return p.Process(batch, cfg.Type, nil)
	}
	for _, in := range inputs {
		if in == stdinName {
			l, err := ingest.NewLoader(osfs.New("."), cfg.Select, cfg.PageSize)
			if err != nil {
				return err
			}
			if err := l.Read(stdin, ingest.FormatJSON, process); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			continue
		}
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", in, err)
		}
		l, err := ingest.NewLoader(osfs.New(filepath.Dir(abs)), cfg.Select, cfg.PageSize)
		if err != nil {
			return err
		}
		if err := l.Load(filepath.Base(abs), process); err != nil {
			return err
		}
	}
	return nil
}

func stderrLogger(w io.Writer) logging.Logger {
	return logging.NewStd("Parser", log.New(w, "", log.LstdFlags))
}
