package toolcatalog_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/eternisai/chatcore/internal/toolcatalog"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	cat, err := toolcatalog.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cat.Tools()) != 0 {
		t.Fatalf("expected empty catalog, got %d tools", len(cat.Tools()))
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	body := `
tools:
  - name: get_weather
    description: Look up current weather for a location.
    input_schema:
      type: object
      properties:
        location:
          type: string
      required: [location]
  - name: ping
    description: No-op.
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat, err := toolcatalog.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tools := cat.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "get_weather" {
		t.Errorf("tools[0].Name = %q, want get_weather", tools[0].Name)
	}
	if tools[1].Name != "ping" {
		t.Errorf("tools[1].Name = %q, want ping", tools[1].Name)
	}
}

func TestBuild_RejectsMissingName(t *testing.T) {
	_, err := toolcatalog.Build([]toolcatalog.Spec{{Description: "no name"}})
	if err == nil {
		t.Fatal("expected error for a spec missing a name")
	}
}

func TestBuild_DefaultsEmptySchema(t *testing.T) {
	cat, err := toolcatalog.Build([]toolcatalog.Spec{{Name: "noop"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tools := cat.Tools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if got := string(tools[0].RawInputSchema); got != `{"type":"object"}` {
		t.Fatalf("expected defaulted schema {\"type\":\"object\"}, got %s", got)
	}
	raw, err := json.Marshal(tools[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty marshaled tool")
	}
}
