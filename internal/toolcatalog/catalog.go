// Package toolcatalog builds the non-executing tool catalog advertised
// to clients at connection time (§1 Non-goals: this module neither
// defines tool semantics nor executes them; only name/description/
// input-schema are advertised so a client knows what tool-result/
// tool-approval frames it may originate). Grounded on
// internal/mcp/service.go's mcp.NewToolWithRawSchema registration
// pattern, narrowed to catalog-only: every call site that would attach
// an execution handler (mcpServer.AddTool's second argument) is dropped.
package toolcatalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/mark3labs/mcp-go/mcp"
)

// Spec is one operator-configured tool entry before conversion to an
// mcp.Tool. InputSchema is raw JSON Schema, the same shape
// utils.ConverToInputSchema produces from a Go struct in the teacher;
// here it is supplied directly since there is no fixed Go argument type
// per tool (the catalog doesn't know or care how a client will satisfy
// it).
type Spec struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	InputSchema json.RawMessage `yaml:"input_schema"`
}

// File is the YAML document shape loaded from disk: a flat list of tool
// specs, mirroring the teacher's config-file-as-sub-document layering
// (ModelRouterConfig's YAML, here streamlog.TuningFile's).
type File struct {
	Tools []Spec `yaml:"tools"`
}

// Catalog is an immutable, ordered set of advertised tools.
type Catalog struct {
	tools []mcp.Tool
}

// Empty is the zero-tool catalog, used when no catalog file is
// configured.
func Empty() *Catalog {
	return &Catalog{}
}

// Build converts specs into mcp.Tool shapes without ever registering a
// handler for them.
func Build(specs []Spec) (*Catalog, error) {
	tools := make([]mcp.Tool, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("tool catalog: entry missing name")
		}
		schema := s.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		tools = append(tools, mcp.NewToolWithRawSchema(s.Name, s.Description, schema))
	}
	return &Catalog{tools: tools}, nil
}

// Load reads a YAML tool-catalog file from path and builds a Catalog
// from it. A missing file is not an error: it yields Empty().
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return Build(f.Tools)
}

// Tools returns the advertised tool list, safe to share across
// connections since it is never mutated after Build/Load.
func (c *Catalog) Tools() []mcp.Tool {
	return c.tools
}
