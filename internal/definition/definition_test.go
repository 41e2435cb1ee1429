package definition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/filter-runner/internal/domain"
)

const sortSettings = `
name = "sort"
description = "sorts rows"

[module]
type = "jar"
path = "sort.jar"
main_class = "org.example.Sort"

[[args]]
type = "IN"
label = "input"

[[args]]
type = "OUT"
label = "output"
param = "temp"
show_after_run = true

[[args]]
type = "STR"
label = "order"
fixed = true
value = "--desc"
`

func writeDefinition(t *testing.T, root, name, settings string, withJar bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if settings != "" {
		if err := os.WriteFile(filepath.Join(dir, domain.SettingsFileName), []byte(settings), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if withJar {
		if err := os.WriteFile(filepath.Join(dir, "sort.jar"), []byte("PK"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type fixedDefaults map[int]string

func (f fixedDefaults) Latest(_ string, i int) (string, bool) {
	v, ok := f[i]
	return v, ok
}

func TestStore_Load(t *testing.T) {
	root := t.TempDir()
	dir := writeDefinition(t, root, "sort", sortSettings, true)
	store := NewStore(root, nil)

	def, err := store.Load(domain.NewDefinitionRef(dir))
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "sort" {
		t.Errorf("Name = %q, want sort", def.Name)
	}
	if def.Module.MainClass != "org.example.Sort" {
		t.Errorf("MainClass = %q", def.Module.MainClass)
	}
	if len(def.Args) != 3 {
		t.Fatalf("Args count = %d, want 3", len(def.Args))
	}
	if def.Args[1].Param != domain.ParamTempFile {
		t.Errorf("arg 1 param = %q, want temp", def.Args[1].Param)
	}
	if def.ModuleModTime.IsZero() {
		t.Error("ModuleModTime should be set when the jar exists")
	}
}

func TestStore_LoadMissing(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)

	_, err := store.Load(domain.NewDefinitionRef(filepath.Join(root, "ghost")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing dir error = %v, want ErrNotFound", err)
	}

	dir := writeDefinition(t, root, "empty", "", false)
	_, err = store.Load(domain.NewDefinitionRef(dir))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing settings error = %v, want ErrNotFound", err)
	}
}

func TestStore_LoadInvalid(t *testing.T) {
	tests := []struct {
		name     string
		settings string
	}{
		{"unknown module type", "[module]\ntype = \"perl\"\npath = \"x\"\n"},
		{"jar without main class", "[module]\ntype = \"jar\"\npath = \"x.jar\"\n"},
		{"bad arg type", "[module]\ntype = \"exec\"\npath = \"x\"\n[[args]]\ntype = \"INOUT\"\n"},
		{"bad param kind", "[module]\ntype = \"exec\"\npath = \"x\"\n[[args]]\ntype = \"IN\"\nparam = \"pipe\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := writeDefinition(t, root, "bad", tt.settings, false)
			if _, err := NewStore(root, nil).Load(domain.NewDefinitionRef(dir)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefinition_NewRecord(t *testing.T) {
	root := t.TempDir()
	dir := writeDefinition(t, root, "sort", sortSettings, true)
	def, err := NewStore(root, nil).Load(domain.NewDefinitionRef(dir))
	if err != nil {
		t.Fatal(err)
	}

	rec, err := def.NewRecord([]string{"/data/in.csv", "", "--asc"}, fixedDefaults{1: "/tmp/last"})
	if err != nil {
		t.Fatal(err)
	}
	values := rec.Values()
	if values[0] != "/data/in.csv" {
		t.Errorf("value 0 = %q", values[0])
	}
	if values[1] != "/tmp/last" {
		t.Errorf("value 1 = %q, want last used value", values[1])
	}
	if values[2] != "--desc" {
		t.Errorf("value 2 = %q, fixed value must win", values[2])
	}
	if rec.ExitCode() != domain.NotRunExitCode {
		t.Error("new record should be unrun")
	}

	if _, err := def.NewRecord([]string{"a", "b", "c", "d"}, nil); err == nil {
		t.Error("expected error for too many values")
	}
}

func TestStore_ListAndResolve(t *testing.T) {
	root := t.TempDir()
	writeDefinition(t, root, "sort", sortSettings, true)
	writeDefinition(t, root, "notes", "", false)

	store := NewStore(root, nil)
	refs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Name() != "sort" {
		t.Errorf("List = %+v, want only sort", refs)
	}

	ref := store.Resolve("sort")
	if ref.Dir != filepath.Join(root, "sort") {
		t.Errorf("Resolve = %q", ref.Dir)
	}
}
