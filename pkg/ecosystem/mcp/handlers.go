package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	kschema "github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/stepwise/pkg/kernel/validate"
)

// Handlers holds what the tools need from the project configuration.
type Handlers struct {
	Registry *actions.Registry
	Codec    codec.Options
}

// NewHandlers returns handlers over registry. A nil registry means the
// builtin actions with default settings.
func NewHandlers(registry *actions.Registry, opts codec.Options) *Handlers {
	if registry == nil {
		registry = actions.NewBuiltinRegistry(actions.DefaultConfig())
	}
	return &Handlers{Registry: registry, Codec: opts}
}

// HandleValidate implements the stepwise/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	tf, errs := kvalidate.ValidateFile(path, h.Registry)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", tf.Name, tf.Len())
	if w := formatWarnings(errs); w != "" {
		msg += "\nwarnings: " + w
	}
	return textResult(msg), nil
}

// HandleExport implements the stepwise/export MCP tool.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	tf, errs := kvalidate.ValidateFile(path, h.Registry)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	script, err := codec.Encode(ctx, tf, h.Registry, h.Codec)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(script), nil
}

// HandleImport implements the stepwise/import MCP tool.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	script, _ := args["script"].(string)
	if path, _ := args["path"].(string); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		script = string(data)
	}
	if script == "" {
		return errorResult("path or script argument is required"), nil
	}
	tf, err := codec.Decode(script)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	data, err := kschema.Marshal(tf)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleActions implements the stepwise/actions MCP tool.
func (h *Handlers) HandleActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type param struct {
		Key     string   `json:"key"`
		Type    string   `json:"type"`
		Default string   `json:"default,omitempty"`
		Options []string `json:"options,omitempty"`
	}
	type entry struct {
		Action     string  `json:"action"`
		Label      string  `json:"label"`
		NoSelector bool    `json:"noSelector,omitempty"`
		Replayable bool    `json:"replayable"`
		Params     []param `json:"params,omitempty"`
	}
	var out []entry
	for _, d := range h.Registry.List() {
		e := entry{Action: d.Action, Label: d.Label, NoSelector: d.HideSelectorInput, Replayable: d.Runnable()}
		for _, p := range d.Params {
			pp := param{Key: p.Key, Type: p.Type, Default: p.DefaultValue}
			for _, o := range p.Options {
				pp.Options = append(pp.Options, o.Key)
			}
			e.Params = append(e.Params, pp)
		}
		out = append(out, e)
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(string(data)), nil
}

// HandleSchema implements the stepwise/schema MCP tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateTestFileJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func formatWarnings(errs []*kvalidate.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "warning" {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
