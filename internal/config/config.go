// Package config loads jsontab settings from an HCL file.
//
// Example:
//
//	strict                = false
//	auto_upgrade_to_array = true
//	cache_memory_limit    = 268435456
//	primary_keys = {
//	  orders = ["id"]
//	}
//	type   = "orders"
//	format = "sqlite"
//	output = "orders.db"
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/jsontab/api"
)

// Output formats.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// DefaultPageSize is the number of records read per batch from SQLite inputs.
const DefaultPageSize = 1000

// Config is the resolved configuration of one run.
type Config struct {
	Options api.Options

	Type       string // base type name of the input documents
	Select     string // JSONPath selecting the records inside each input
	Format     string // csv or sqlite
	Output     string // directory (csv) or database file (sqlite)
	Schema     string // schema snapshot to continue from
	SaveSchema string // where to write the final schema snapshot
	PageSize   int
}

// file mirrors the HCL attributes. Pointers distinguish unset from zero.
type file struct {
	Strict             *bool               `hcl:"strict,optional"`
	NestedArraysAsJSON *bool               `hcl:"nested_arrays_as_json,optional"`
	AutoUpgradeToArray *bool               `hcl:"auto_upgrade_to_array,optional"`
	CacheMemoryLimit   *int64              `hcl:"cache_memory_limit,optional"`
	PrimaryKeys        map[string][]string `hcl:"primary_keys,optional"`

	Type       *string `hcl:"type,optional"`
	Select     *string `hcl:"select,optional"`
	Format     *string `hcl:"format,optional"`
	Output     *string `hcl:"output,optional"`
	Schema     *string `hcl:"schema,optional"`
	SaveSchema *string `hcl:"save_schema,optional"`
	PageSize   *int    `hcl:"page_size,optional"`
}

// Default returns loose mode with auto-upgrade, CSV output into the current
// directory and the "root" type.
func Default() Config {
	return Config{
		Options:  api.DefaultOptions(),
		Type:     "root",
		Format:   FormatCSV,
		Output:   ".",
		PageSize: DefaultPageSize,
	}
}

// Load reads the HCL file at path on top of the defaults.
func Load(path string) (Config, error) {
	var f file
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := Default()
	cfg.apply(f)
	return cfg, cfg.Validate()
}

// Parse decodes HCL source. filename is used in diagnostics and must end in
// .hcl.
func Parse(filename string, src []byte) (Config, error) {
	var f file
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", filename, err)
	}
	cfg := Default()
	cfg.apply(f)
	return cfg, cfg.Validate()
}

func (c *Config) apply(f file) {
	setBool(&c.Options.Strict, f.Strict)
	setBool(&c.Options.NestedArraysAsJSON, f.NestedArraysAsJSON)
	setBool(&c.Options.AutoUpgradeToArray, f.AutoUpgradeToArray)
	if f.CacheMemoryLimit != nil {
		c.Options.CacheMemoryLimit = *f.CacheMemoryLimit
	}
	if len(f.PrimaryKeys) > 0 {
		c.Options.PrimaryKeys = f.PrimaryKeys
	}
	setString(&c.Type, f.Type)
	setString(&c.Select, f.Select)
	setString(&c.Format, f.Format)
	setString(&c.Output, f.Output)
	setString(&c.Schema, f.Schema)
	setString(&c.SaveSchema, f.SaveSchema)
	if f.PageSize != nil {
		c.PageSize = *f.PageSize
	}
}

// Validate rejects unknown formats and non-positive sizes.
func (c Config) Validate() error {
	switch c.Format {
	case FormatCSV, FormatSQLite:
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", c.Format, FormatCSV, FormatSQLite)
	}
	if c.Type == "" {
		return fmt.Errorf("type must not be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.Options.CacheMemoryLimit < 0 {
		return fmt.Errorf("cache_memory_limit must not be negative, got %d", c.Options.CacheMemoryLimit)
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
