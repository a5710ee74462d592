package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with the stepwise tools registered.
func NewServer(version string, h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(
		"stepwise",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("stepwise/validate",
			mcp.WithDescription("Validate a stepwise test file (YAML, JSON or exported script)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("stepwise/export",
			mcp.WithDescription("Render a test file as a runnable test script"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the YAML or JSON test file")),
		),
		h.HandleExport,
	)

	s.AddTool(
		mcp.NewTool("stepwise/import",
			mcp.WithDescription("Recover the test file embedded in an exported script, as YAML"),
			mcp.WithString("path", mcp.Description("Path to the exported script")),
			mcp.WithString("script", mcp.Description("Script source, when no path is given")),
		),
		h.HandleImport,
	)

	s.AddTool(
		mcp.NewTool("stepwise/actions",
			mcp.WithDescription("List the actions a step may use, with their parameters"),
		),
		h.HandleActions,
	)

	s.AddTool(
		mcp.NewTool("stepwise/schema",
			mcp.WithDescription("Export the test file JSON Schema"),
		),
		h.HandleSchema,
	)

	return s
}
