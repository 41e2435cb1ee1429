package domain

import "path/filepath"

// ArgType is the direction of a filter argument
type ArgType string

const (
	ArgIn  ArgType = "IN"
	ArgOut ArgType = "OUT"
	ArgStr ArgType = "STR"
)

// Valid reports whether t is one of the known argument types
func (t ArgType) Valid() bool {
	switch t {
	case ArgIn, ArgOut, ArgStr:
		return true
	}
	return false
}

// ParamKind describes how an argument value is bound when it is not fixed
type ParamKind string

const (
	ParamNone     ParamKind = ""
	ParamTempFile ParamKind = "temp"
)

// ModuleType identifies how a backing file is launched
type ModuleType string

const (
	ModuleJar   ModuleType = "jar"
	ModuleClass ModuleType = "class"
	ModuleExec  ModuleType = "exec"
)

// NotRunExitCode is the exit code of a record that has not been executed
const NotRunExitCode = -1

// SettingsFileName is the name of the settings file inside a definition directory
const SettingsFileName = "filter.toml"

// DefinitionRef points at an execution definition on disk
type DefinitionRef struct {
	Dir          string `json:"dir" yaml:"dir"`
	SettingsFile string `json:"settings_file" yaml:"settings_file"`
}

// NewDefinitionRef returns a reference to dir using the default settings file name
func NewDefinitionRef(dir string) DefinitionRef {
	return DefinitionRef{Dir: dir, SettingsFile: SettingsFileName}
}

// SettingsPath returns the absolute path of the settings file
func (d DefinitionRef) SettingsPath() string {
	name := d.SettingsFile
	if name == "" {
		name = SettingsFileName
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Name is the base name of the definition directory
func (d DefinitionRef) Name() string {
	return filepath.Base(filepath.Clean(d.Dir))
}

// ModuleFile is the program backing a filter
type ModuleFile struct {
	Type      ModuleType `json:"type" toml:"type"`
	Path      string     `json:"path" toml:"path"`
	MainClass string     `json:"main_class,omitempty" toml:"main_class"`
}

// Equal reports whether both references point at the same program
func (m ModuleFile) Equal(o ModuleFile) bool {
	return m.Type == o.Type && filepath.Clean(m.Path) == filepath.Clean(o.Path) && m.MainClass == o.MainClass
}

// Argument is one bound argument of a filter invocation
type Argument struct {
	Type         ArgType   `json:"type"`
	Label        string    `json:"label,omitempty"`
	Value        string    `json:"value"`
	Fixed        bool      `json:"fixed"`
	Param        ParamKind `json:"param,omitempty"`
	ShowAfterRun bool      `json:"show_after_run"`
}

// IsTempFile reports whether the value is an intermediate file used for chaining
func (a Argument) IsTempFile() bool {
	return a.Param == ParamTempFile
}

// SameBinding reports whether two arguments share type, binding kind and fixed value.
// Parametrized values may differ; fixed values may not.
func (a Argument) SameBinding(o Argument) bool {
	if a.Type != o.Type || a.Param != o.Param || a.Fixed != o.Fixed {
		return false
	}
	if a.Fixed && a.Value != o.Value {
		return false
	}
	return true
}
