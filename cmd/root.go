package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/jsontab/internal/config"
)

// version is overridden at link time.
var version = "dev"

var (
	configPath         string
	strict             bool
	nestedArraysAsJSON bool
	autoUpgrade        bool
	cacheMemoryLimit   int64
	typeName           string
	selectExpr         string
	pageSize           int
	primaryKeyFlags    []string
	schemaPath         string
	saveSchemaPath     string
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "Path to an HCL config file")
	f.BoolVar(&strict, "strict", false, "Distinguish integer, double, string and boolean values")
	f.BoolVar(&nestedArraysAsJSON, "nested-arrays-as-json", false, "Write arrays nested directly in arrays as JSON strings")
	f.BoolVar(&autoUpgrade, "auto-upgrade", true, "Widen scalar or object fields into arrays when an array is seen")
	f.Int64Var(&cacheMemoryLimit, "cache-memory-limit", 0, "Heap bytes above which buffered batches spill to disk (0 = derive)")
	f.StringVarP(&typeName, "type", "t", "", "Base type name of the input documents (default \"root\")")
	f.StringVar(&selectExpr, "select", "", "JSONPath selecting the records inside each document")
	f.IntVar(&pageSize, "page-size", 0, "Records per batch (default 1000)")
	f.StringArrayVar(&primaryKeyFlags, "primary-key", nil, "Primary key as table=col1,col2 (repeatable)")
	f.StringVarP(&schemaPath, "schema", "s", "", "Schema snapshot to continue from")
	f.StringVar(&saveSchemaPath, "save-schema", "", "Write the final schema snapshot to this file")
}

var rootCmd = &cobra.Command{
	Use:           "jsontab",
	Short:         "jsontab: flatten JSON documents into linked relational tables",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig loads the config file, if any, and applies the flags the
// user set on top of it.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}

	f := cmd.Flags()
	if f.Changed("strict") {
		cfg.Options.Strict = strict
	}
	if f.Changed("nested-arrays-as-json") {
		cfg.Options.NestedArraysAsJSON = nestedArraysAsJSON
	}
	if f.Changed("auto-upgrade") {
		cfg.Options.AutoUpgradeToArray = autoUpgrade
	}
	if f.Changed("cache-memory-limit") {
		cfg.Options.CacheMemoryLimit = cacheMemoryLimit
	}
	if f.Changed("type") {
		cfg.Type = typeName
	}
	if f.Changed("select") {
		cfg.Select = selectExpr
	}
	if f.Changed("page-size") {
		cfg.PageSize = pageSize
	}
	if f.Changed("schema") {
		cfg.Schema = schemaPath
	}
	if f.Changed("save-schema") {
		cfg.SaveSchema = saveSchemaPath
	}
	if f.Changed("primary-key") {
		keys, err := parsePrimaryKeys(primaryKeyFlags)
		if err != nil {
			return config.Config{}, err
		}
		if cfg.Options.PrimaryKeys == nil {
			cfg.Options.PrimaryKeys = make(map[string][]string, len(keys))
		}
		for name, cols := range keys {
			cfg.Options.PrimaryKeys[name] = cols
		}
	}
	return cfg, cfg.Validate()
}

// parsePrimaryKeys parses "table=col1,col2" args.
func parsePrimaryKeys(args []string) (map[string][]string, error) {
	out := make(map[string][]string, len(args))
	for _, arg := range args {
		name, cols, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid primary key %q: want table=col1,col2", arg)
		}
		var columns []string
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				columns = append(columns, c)
			}
		}
		if len(columns) == 0 {
			return nil, fmt.Errorf("invalid primary key %q: no columns", arg)
		}
		out[name] = columns
	}
	return out, nil
}
