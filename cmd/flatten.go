package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/jsontab/internal/config"
	"github.com/agentic-research/jsontab/internal/table"
)

var (
	outputFormat string
	outputPath   string
)

// defaultDBName is used for SQLite output when no --output is given.
const defaultDBName = "jsontab.db"

var flattenCmd = &cobra.Command{
	Use:   "flatten [inputs...]",
	Short: "Flatten JSON, JSON-lines, YAML or SQLite inputs into CSV files or a SQLite database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("format") {
			cfg.Format = outputFormat
		}
		if cmd.Flags().Changed("output") {
			cfg.Output = outputPath
		} else if cfg.Format == config.FormatSQLite && cfg.Output == config.Default().Output {
			cfg.Output = defaultDBName
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		sink, err := openSink(cfg)
		if err != nil {
			return err
		}
		p, err := newParser(cfg, sink, stderrLogger(cmd.ErrOrStderr()))
		if err != nil {
			_ = sink.Close()
			return err
		}

		start := time.Now()
		tables, runErr := func() ([]table.Table, error) {
			if err := processInputs(p, cfg, args, cmd.InOrStdin()); err != nil {
				return nil, err
			}
			return p.OutputTables()
		}()
		closeErr := errors.Join(p.Close(), sink.Close())
		if runErr != nil {
			return runErr
		}
		if closeErr != nil {
			return closeErr
		}
		if err := saveSchema(cfg, p); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, t := range tables {
			fmt.Fprintf(out, "%s\t%d columns\n", t.Name(), len(t.Header()))
		}
		fmt.Fprintf(out, "Wrote %d tables to %s in %v.\n", len(tables), cfg.Output, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	flattenCmd.Flags().StringVarP(&outputFormat, "format", "f", config.FormatCSV, "Output format: csv or sqlite")
	flattenCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory (csv) or database file (sqlite)")
	rootCmd.AddCommand(flattenCmd)
}

func openSink(cfg config.Config) (table.Sink, error) {
	switch cfg.Format {
	case config.FormatSQLite:
		_ = os.Remove(cfg.Output) // Overwrite
		return table.NewSQLiteSink(cfg.Output)
	default:
		if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		return table.NewCSVSink(osfs.New(cfg.Output)), nil
	}
}
