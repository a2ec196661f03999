package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistryDispatch(t *testing.T) {
	echo := &countingTool{name: "echo", output: ToolOutput{Content: "hi"}}
	reg := NewRegistry(echo)

	out, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "hi" || out.IsError {
		t.Errorf("out = %+v, want content %q", out, "hi")
	}
	if echo.executions() != 1 {
		t.Errorf("executions = %d, want 1", echo.executions())
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "rm", nil)
	var unknown *ErrUnknownTool
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *ErrUnknownTool", err)
	}
	if unknown.Tool != "rm" {
		t.Errorf("Tool = %q, want %q", unknown.Tool, "rm")
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	reg := NewRegistry(
		&countingTool{name: "bash"},
		&countingTool{name: "probe"},
	)
	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	if defs[0].Name != "bash" || defs[1].Name != "probe" {
		t.Errorf("order = %q, %q; want bash, probe", defs[0].Name, defs[1].Name)
	}
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	reg := NewRegistry(
		&countingTool{name: "bash", output: ToolOutput{Content: "old"}},
		&countingTool{name: "probe"},
	)
	reg.Add(&countingTool{name: "bash", output: ToolOutput{Content: "new"}})

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "bash" {
		t.Fatalf("definitions after replace = %+v", defs)
	}
	out, err := reg.Execute(context.Background(), "bash", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "new" {
		t.Errorf("Content = %q, want %q", out.Content, "new")
	}
}

func TestDefaultConstraints(t *testing.T) {
	c := DefaultConstraints()
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
	if c.MaxOutput != 1<<20 {
		t.Errorf("MaxOutput = %d, want %d", c.MaxOutput, 1<<20)
	}
}

func TestLoadDescriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.toml")
	data := "[bash]\ndescription = \"run things carefully\"\n\n[probe]\ndescription = \"\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	overrides, err := LoadDescriptions(path)
	if err != nil {
		t.Fatalf("LoadDescriptions: %v", err)
	}
	if got := overrides["bash"]; got != "run things carefully" {
		t.Errorf("bash override = %q, want %q", got, "run things carefully")
	}
	if _, ok := overrides["probe"]; ok {
		t.Error("empty description should not override")
	}
}

func TestLoadDescriptionsMissingFile(t *testing.T) {
	overrides, err := LoadDescriptions(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadDescriptions: %v", err)
	}
	if overrides != nil {
		t.Errorf("overrides = %v, want nil", overrides)
	}
}

func TestLoadDescriptionsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.toml")
	if err := os.WriteFile(path, []byte("not toml ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDescriptions(path); err == nil {
		t.Error("LoadDescriptions succeeded on malformed input")
	}
}
