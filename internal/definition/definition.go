// Package definition loads filter execution definitions from disk.
//
// A definition is a directory holding a filter.toml settings file that declares
// the backing program and the argument schema:
//
//	name = "sort"
//
//	[module]
//	type = "jar"
//	path = "sort.jar"
//	main_class = "org.example.Sort"
//
//	[[args]]
//	type = "IN"
//	label = "input"
//	param = "temp"
package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/filter-runner/internal/domain"
)

// ErrNotFound is returned when a definition directory or settings file is missing
var ErrNotFound = errors.New("definition not found")

// ArgSpec is one argument declared by a definition
type ArgSpec struct {
	Type         domain.ArgType   `toml:"type"`
	Label        string           `toml:"label"`
	Param        domain.ParamKind `toml:"param"`
	Fixed        bool             `toml:"fixed"`
	Value        string           `toml:"value"`
	ShowAfterRun bool             `toml:"show_after_run"`
}

type settingsFile struct {
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Module      domain.ModuleFile `toml:"module"`
	Args        []ArgSpec         `toml:"args"`
}

// Definition is the current on-disk state of one filter
type Definition struct {
	Ref         domain.DefinitionRef
	Name        string
	Description string
	Module      domain.ModuleFile
	// ModuleModTime is the backing file timestamp, zero if the file does not exist
	ModuleModTime time.Time
	Args          []ArgSpec
}

// BackingFilePath resolves the module path against the definition directory
func (d *Definition) BackingFilePath() string {
	return domain.ResolveModulePath(d.Ref.Dir, d.Module.Path)
}

// BackingFileExists probes the current backing file
func (d *Definition) BackingFileExists(fs domain.FileSystem) bool {
	path := d.BackingFilePath()
	if path == "" {
		return false
	}
	return fs.FileExists(path) || fs.DirExists(path)
}

// Arguments converts the schema to argument bindings carrying the declared defaults
func (d *Definition) Arguments() []domain.Argument {
	args := make([]domain.Argument, len(d.Args))
	for i, a := range d.Args {
		args[i] = domain.Argument{
			Type:         a.Type,
			Label:        a.Label,
			Value:        a.Value,
			Fixed:        a.Fixed,
			Param:        a.Param,
			ShowAfterRun: a.ShowAfterRun,
		}
	}
	return args
}

// DefaultValues supplies previously used values for a definition's arguments
type DefaultValues interface {
	Latest(defDir string, argIndex int) (string, bool)
}

// NewRecord creates a fresh record from the definition. Values override the
// defaults in order; an empty value falls back to the last used one, then to the
// declared default. Fixed arguments always keep their declared value.
func (d *Definition) NewRecord(values []string, defaults DefaultValues) (*domain.RuntimeRecord, error) {
	if len(values) > len(d.Args) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", d.Name, len(d.Args), len(values))
	}
	args := d.Arguments()
	for i := range args {
		if args[i].Fixed {
			continue
		}
		if i < len(values) && values[i] != "" {
			args[i].Value = values[i]
			continue
		}
		if defaults != nil {
			if v, ok := defaults.Latest(d.Ref.Dir, i); ok {
				args[i].Value = v
			}
		}
	}
	return domain.NewRecord(d.Ref, d.Module, d.ModuleModTime, args), nil
}

// Loader reads definitions
type Loader interface {
	Load(ref domain.DefinitionRef) (*Definition, error)
}

// Store loads definitions from the filesystem. Nothing is cached; every Load
// reflects the current state on disk.
type Store struct {
	root string
	fs   domain.FileSystem
}

// NewStore creates a Store rooted at dir. Relative definition names passed to
// Resolve are looked up below it.
func NewStore(root string, fs domain.FileSystem) *Store {
	if fs == nil {
		fs = domain.OSFileSystem{}
	}
	return &Store{root: root, fs: fs}
}

// Root returns the definitions directory
func (s *Store) Root() string { return s.root }

// Resolve turns a name or path into a definition reference
func (s *Store) Resolve(nameOrPath string) domain.DefinitionRef {
	if filepath.IsAbs(nameOrPath) || s.fs.DirExists(nameOrPath) {
		abs, err := filepath.Abs(nameOrPath)
		if err == nil {
			nameOrPath = abs
		}
		return domain.NewDefinitionRef(nameOrPath)
	}
	return domain.NewDefinitionRef(filepath.Join(s.root, nameOrPath))
}

// Load reads the settings file referenced by ref
func (s *Store) Load(ref domain.DefinitionRef) (*Definition, error) {
	if !s.fs.DirExists(ref.Dir) {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, ref.Dir)
	}
	path := ref.SettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: settings %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var sf settingsFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validate(&sf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	def := &Definition{
		Ref:         ref,
		Name:        sf.Name,
		Description: sf.Description,
		Module:      sf.Module,
		Args:        sf.Args,
	}
	if def.Name == "" {
		def.Name = ref.Name()
	}
	if t, ok := s.fs.ModTime(def.BackingFilePath()); ok {
		def.ModuleModTime = t
	}
	return def, nil
}

// List returns the definition directories found directly below the root
func (s *Store) List() ([]domain.DefinitionRef, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var refs []domain.DefinitionRef
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ref := domain.NewDefinitionRef(filepath.Join(s.root, e.Name()))
		if s.fs.FileExists(ref.SettingsPath()) {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Dir < refs[j].Dir })
	return refs, nil
}

func validate(sf *settingsFile) error {
	switch sf.Module.Type {
	case domain.ModuleJar, domain.ModuleClass:
		if sf.Module.MainClass == "" {
			return fmt.Errorf("module type %s requires main_class", sf.Module.Type)
		}
	case domain.ModuleExec:
	default:
		return fmt.Errorf("unknown module type %q", sf.Module.Type)
	}
	if sf.Module.Path == "" {
		return fmt.Errorf("module path is required")
	}
	for i, a := range sf.Args {
		if !a.Type.Valid() {
			return fmt.Errorf("argument %d: unknown type %q", i, a.Type)
		}
		if a.Param != domain.ParamNone && a.Param != domain.ParamTempFile {
			return fmt.Errorf("argument %d: unknown param kind %q", i, a.Param)
		}
	}
	return nil
}
