package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/jsontab/internal/table"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [inputs...]",
	Short: "Infer the schema of the inputs and print it as a JSON snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		if len(args) == 0 && cfg.Schema == "" {
			return fmt.Errorf("schema needs inputs or --schema")
		}

		// Nothing is drained, so the sink is never written.
		p, err := newParser(cfg, table.NewMemory(), stderrLogger(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		if err := processInputs(p, cfg, args, cmd.InOrStdin()); err != nil {
			return err
		}
		if err := saveSchema(cfg, p); err != nil {
			return err
		}
		data, err := p.Structure().Data()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
