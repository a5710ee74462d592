// Package codec converts a test file to and from an executable Cypress
// script. The script ends with a module.exports statement carrying the test
// file as JSON, which is the only part Decode reads.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/eval"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// ExportMarker introduces the data payload of a script.
const ExportMarker = "module.exports"

// exportRe matches the assignment at the start of a line. JSON strings
// cannot hold a raw newline, so a marker inside the payload never matches.
var exportRe = regexp.MustCompile(`(?m)^[ \t]*module\.exports[ \t]*=`)

// CodeGenerator renders one step. *actions.Registry implements it.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, step schema.Step) (string, error)
}

// Options controls the script header.
type Options struct {
	BaseURL             string
	DefaultPathname     string
	HelpersModule       string
	ErrorBannerSelector string
}

// DefaultOptions returns the stock header settings.
func DefaultOptions() Options {
	return Options{
		BaseURL:             "http://localhost:3000",
		DefaultPathname:     "/",
		HelpersModule:       "@stepwise/helpers",
		ErrorBannerSelector: ".alert-danger",
	}
}

// Encode renders tf as a script. Each step becomes one block indented two
// tabs; with ChecksErrorsAfterEveryStep set, every block after the first is
// followed by an assertion that the error banner is absent.
func Encode(ctx context.Context, tf *schema.TestFile, gen CodeGenerator, opts Options) (string, error) {
	def := DefaultOptions()
	if opts.HelpersModule == "" {
		opts.HelpersModule = def.HelpersModule
	}
	if opts.ErrorBannerSelector == "" {
		opts.ErrorBannerSelector = def.ErrorBannerSelector
	}

	lines := []string{
		"/* eslint-disable */",
		"const helpers = require(" + eval.Quote(opts.HelpersModule) + ")",
		"",
		"describe(" + eval.Quote(tf.Name) + ", () => {",
		"\tit(" + eval.Quote(tf.Description) + ", () => {",
		"\t\tCypress.config('baseUrl', " + eval.Quote(opts.BaseURL) + ")",
		"\t\tcy.visit(" + eval.Quote(opts.DefaultPathname) + ")",
	}

	banner := "\t\tcy.get(" + eval.Quote(opts.ErrorBannerSelector) + ").should('not.exist')"
	for i, step := range tf.Steps {
		code, err := gen.GenerateCode(ctx, step)
		if err != nil {
			return "", failure.ForStep(err, step.ID, step.Action)
		}
		lines = append(lines, indent(code, "\t\t"))
		if tf.ChecksErrorsAfterEveryStep && i > 0 {
			lines = append(lines, banner)
		}
	}

	payload, err := marshalPayload(tf)
	if err != nil {
		return "", err
	}
	lines = append(lines,
		"\t})",
		"})",
		"",
		ExportMarker+" = "+payload,
		"",
	)
	return strings.Join(lines, "\n"), nil
}

// BlockCount returns how many step blocks Encode writes for tf and how many
// implicit error banner assertions follow them.
func BlockCount(tf *schema.TestFile) (blocks, banners int) {
	blocks = tf.Len()
	if tf.ChecksErrorsAfterEveryStep && blocks > 1 {
		banners = blocks - 1
	}
	return blocks, banners
}

func indent(code, prefix string) string {
	parts := strings.Split(code, "\n")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, "\n")
}

func marshalPayload(tf *schema.TestFile) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	if err := enc.Encode(tf); err != nil {
		return "", fmt.Errorf("encode test file payload: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Decode extracts the test file from a script's trailing module.exports
// payload. Nothing else in the script is read or run. Step ids are
// regenerated.
func Decode(script string) (*schema.TestFile, error) {
	locs := exportRe.FindAllStringIndex(script, -1)
	if len(locs) == 0 {
		return nil, failure.New(failure.KindMalformedScript, "no %s payload found", ExportMarker)
	}
	payload := strings.TrimSpace(script[locs[len(locs)-1][1]:])
	payload = strings.TrimSpace(strings.TrimSuffix(payload, ";"))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, failure.Wrap(failure.KindMalformedScript, err, "payload is not a JSON object")
	}
	raw, ok := fields["steps"]
	if !ok {
		return nil, failure.New(failure.KindMalformedScript, "payload has no steps")
	}
	var steps []json.RawMessage
	if err := json.Unmarshal(raw, &steps); err != nil || steps == nil {
		return nil, failure.New(failure.KindMalformedScript, "payload steps is not a list")
	}

	var tf schema.TestFile
	if err := json.Unmarshal([]byte(payload), &tf); err != nil {
		return nil, failure.Wrap(failure.KindMalformedScript, err, "payload does not describe a test file")
	}
	tf.RegenerateIDs()
	return &tf, nil
}

// DecodeFile picks a decoder from the file name: .js scripts go through
// Decode, .json and YAML files through the schema loaders.
func DecodeFile(name string, data []byte) (*schema.TestFile, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js", ".cjs", ".ts":
		return Decode(string(data))
	case ".json":
		return schema.LoadJSON(bytes.NewReader(data))
	default:
		return schema.Load(bytes.NewReader(data))
	}
}
