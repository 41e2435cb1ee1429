//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// copyFilter copies its first argument to its second
const copyFilter = `#!/bin/sh
cat "$1" > "$2"
`

// Workspace is a temporary data, definitions and config layout for one test
type Workspace struct {
	Root        string
	Definitions string
	ConfigPath  string
}

// NewWorkspace creates the directories and a config file pointing into them
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws := &Workspace{
		Root:        root,
		Definitions: filepath.Join(root, "filters"),
		ConfigPath:  filepath.Join(root, "config.toml"),
	}
	if err := os.MkdirAll(ws.Definitions, 0755); err != nil {
		t.Fatalf("Failed to create definitions dir: %v", err)
	}

	config := `[general]
definitions_dir = "` + ws.Definitions + `"
data_dir = "` + root + `"
database_path = "` + filepath.Join(root, "history.db") + `"

[history]
limit = 20
record = true
persist = true

[console]
show = false
auto_close = true

[execution]
log_dir = "` + filepath.Join(root, "logs") + `"
temp_dir = "` + filepath.Join(root, "tmp") + `"

[arguments]
history_length = 5
history_file = "` + filepath.Join(root, "argvalues.yaml") + `"

[notifications]
desktop = false

[logging]
level = "debug"
file = "` + filepath.Join(root, "filter-runner.log") + `"
`
	if err := os.WriteFile(ws.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return ws
}

// AddCopyFilter writes a definition named name whose module copies IN to OUT
func (ws *Workspace) AddCopyFilter(t *testing.T, name string) string {
	t.Helper()
	return ws.AddCopyFilterWithParams(t, name, "", "")
}

// AddCopyFilterWithParams is AddCopyFilter with a parameter kind ("" or "temp")
// for the IN and the OUT argument
func (ws *Workspace) AddCopyFilterWithParams(t *testing.T, name, inParam, outParam string) string {
	t.Helper()
	dir := filepath.Join(ws.Definitions, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create definition dir: %v", err)
	}

	settings := `name = "` + name + `"

[module]
type = "exec"
path = "copy.sh"

[[args]]
type = "IN"
label = "input"
param = "` + inParam + `"

[[args]]
type = "OUT"
label = "output"
param = "` + outParam + `"
show_after_run = true
`
	if err := os.WriteFile(filepath.Join(dir, "filter.toml"), []byte(settings), 0644); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "copy.sh"), []byte(copyFilter), 0755); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}
	return dir
}

// WriteFile creates a data file below the workspace root
func (ws *Workspace) WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.Root, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}
