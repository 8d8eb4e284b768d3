package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentic-research/jsontab/api"
	"github.com/agentic-research/jsontab/internal/ingest"
	"github.com/agentic-research/jsontab/internal/logging"
	"github.com/agentic-research/jsontab/internal/parser"
	"github.com/agentic-research/jsontab/internal/table"
)

const flattenToolName = "flatten_json"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the flatten_json tool over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.ServeStdio(newMCPServer())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newMCPServer() *server.MCPServer {
	s := server.NewMCPServer("jsontab", version, server.WithToolCapabilities(false))
	s.AddTool(flattenTool(), handleFlatten)
	return s
}

func flattenTool() mcp.Tool {
	return mcp.NewTool(flattenToolName,
		mcp.WithDescription("Flatten JSON documents into linked relational tables. "+
			"Returns every table as CSV followed by the warnings logged while flattening."),
		mcp.WithString("documents", mcp.Required(),
			mcp.Description("JSON text: one document, an array of records, or newline-separated documents")),
		mcp.WithString("type", mcp.Description("Base type name; names the top-level table (default \"root\")")),
		mcp.WithBoolean("strict", mcp.Description("Distinguish integer, double, string and boolean values")),
		mcp.WithBoolean("nested_arrays_as_json", mcp.Description("Write arrays nested directly in arrays as JSON strings")),
		mcp.WithBoolean("auto_upgrade_to_array", mcp.Description("Widen scalar or object fields into arrays (default true)")),
		mcp.WithObject("primary_keys", mcp.Description("Map of table name to the list of key columns")),
	)
}

// flattenArgs are the tool arguments. The engine options share their JSON
// names with api.Options.
type flattenArgs struct {
	Documents string `json:"documents"`
	Type      string `json:"type"`
	api.Options
}

func handleFlatten(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := flattenArgs{Options: api.DefaultOptions()}
	raw, err := json.Marshal(req.GetArguments())
	if err == nil {
		err = json.Unmarshal(raw, &args)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Documents) == "" {
		return mcp.NewToolResultError("documents is required"), nil
	}

	text, err := flattenDocuments(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// flattenDocuments runs one in-memory session and renders its tables as
// CSV sections followed by the recorded warnings.
func flattenDocuments(args flattenArgs) (string, error) {
	typ := args.Type
	if typ == "" {
		typ = parser.DefaultType
	}
	rec := &logging.Recorder{}
	sink := table.NewMemory()
	p := parser.New(sink, args.Options, parser.WithLogger(rec))
	defer func() { _ = p.Close() }()

	l, err := ingest.NewLoader(memfs.New(), "", ingest.DefaultPageSize)
	if err != nil {
		return "", err
	}
	err = l.Read(strings.NewReader(args.Documents), ingest.FormatJSON, func(batch []any) error {
		return p.Process(batch, typ, nil)
	})
	if err != nil {
		return "", err
	}
	if _, err := p.OutputTables(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, t := range sink.Tables() {
		fmt.Fprintf(&b, "## %s (%s=%s)\n", t.Name(), parser.AttrSourcePath, t.Attributes()[parser.AttrSourcePath])
		if pk := t.PrimaryKey(); len(pk) > 0 {
			fmt.Fprintf(&b, "primary key: %s\n", strings.Join(pk, ", "))
		}
		if err := t.WriteCSV(&b); err != nil {
			return "", err
		}
		b.WriteString("\n")
	}
	if entries := rec.Entries(); len(entries) > 0 {
		b.WriteString("## warnings\n")
		for _, e := range entries {
			b.WriteString(e.String())
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
