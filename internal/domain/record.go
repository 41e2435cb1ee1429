package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

var (
	// ErrAlreadyCompleted is returned when results are set on a record twice
	ErrAlreadyCompleted = errors.New("record already has results")
	// ErrFixedArgument is returned when a fixed argument value is overwritten
	ErrFixedArgument = errors.New("argument value is fixed")
	// ErrArgumentIndex is returned for an argument index outside the schema
	ErrArgumentIndex = errors.New("argument index out of range")
)

// Result holds the outcome of one child process run
type Result struct {
	StartedAt    time.Time
	Elapsed      time.Duration
	ExitCode     int
	UserCanceled bool
	// ModuleModTime is the backing file timestamp observed at execution; zero keeps the recorded one.
	ModuleModTime time.Time
}

// RuntimeRecord is one invocation of a filter with bound arguments and, once run, its result.
//
// The argument schema (count and types) is fixed at construction. The run number
// is only assigned by a Pipeline relation pass or a RecordBuilder.
type RuntimeRecord struct {
	def           DefinitionRef
	module        ModuleFile
	moduleModTime time.Time
	args          []Argument

	runNo     int
	startedAt time.Time
	elapsed   time.Duration
	exitCode  int
	canceled  bool
	completed bool
}

// NewRecord creates an unrun record
func NewRecord(def DefinitionRef, module ModuleFile, moduleModTime time.Time, args []Argument) *RuntimeRecord {
	cp := make([]Argument, len(args))
	copy(cp, args)
	return &RuntimeRecord{
		def:           def,
		module:        module,
		moduleModTime: moduleModTime,
		args:          cp,
		exitCode:      NotRunExitCode,
	}
}

// Definition returns the definition reference
func (r *RuntimeRecord) Definition() DefinitionRef { return r.def }

// Name returns the display name of the filter
func (r *RuntimeRecord) Name() string { return r.def.Name() }

// Module returns the backing file reference
func (r *RuntimeRecord) Module() ModuleFile { return r.module }

// ModuleModTime returns the backing file fingerprint captured on creation or last execution
func (r *RuntimeRecord) ModuleModTime() time.Time { return r.moduleModTime }

// NumArgs returns the number of argument bindings
func (r *RuntimeRecord) NumArgs() int { return len(r.args) }

// Arg returns the argument at index i
func (r *RuntimeRecord) Arg(i int) (Argument, bool) {
	if i < 0 || i >= len(r.args) {
		return Argument{}, false
	}
	return r.args[i], true
}

// Args returns a copy of all argument bindings
func (r *RuntimeRecord) Args() []Argument {
	cp := make([]Argument, len(r.args))
	copy(cp, r.args)
	return cp
}

// Values returns the current argument values in order
func (r *RuntimeRecord) Values() []string {
	values := make([]string, len(r.args))
	for i, a := range r.args {
		values[i] = a.Value
	}
	return values
}

// SetArgValue binds a new value to a parametrized argument
func (r *RuntimeRecord) SetArgValue(i int, value string) error {
	if i < 0 || i >= len(r.args) {
		return fmt.Errorf("%w: %d", ErrArgumentIndex, i)
	}
	if r.args[i].Fixed && r.args[i].Value != value {
		return fmt.Errorf("%w: argument %d of %s", ErrFixedArgument, i, r.Name())
	}
	r.args[i].Value = value
	return nil
}

func (r *RuntimeRecord) setShowAfterRun(i int, show bool) {
	r.args[i].ShowAfterRun = show
}

// tempValues returns the values of the parametrized temp-file arguments of type t
func (r *RuntimeRecord) tempValues(t ArgType) []string {
	var values []string
	for _, a := range r.args {
		if a.Type == t && a.IsTempFile() && !a.Fixed {
			values = append(values, a.Value)
		}
	}
	return values
}

// RunNo returns the 1-based position in the owning pipeline, 0 if unassigned
func (r *RuntimeRecord) RunNo() int { return r.runNo }

// StartedAt returns when the child process was started
func (r *RuntimeRecord) StartedAt() time.Time { return r.startedAt }

// Elapsed returns the processing time of the child process
func (r *RuntimeRecord) Elapsed() time.Duration { return r.elapsed }

// ExitCode returns the child exit code, NotRunExitCode if unrun
func (r *RuntimeRecord) ExitCode() int { return r.exitCode }

// UserCanceled reports whether the run was canceled by the user
func (r *RuntimeRecord) UserCanceled() bool { return r.canceled }

// Completed reports whether results have been populated
func (r *RuntimeRecord) Completed() bool { return r.completed }

// Succeeded reports a non-canceled run that exited with code 0
func (r *RuntimeRecord) Succeeded() bool {
	return !r.canceled && r.exitCode == 0
}

// Complete populates the result fields. It may only be called once per run.
func (r *RuntimeRecord) Complete(res Result) error {
	if r.completed {
		return fmt.Errorf("%w: %s #%d", ErrAlreadyCompleted, r.Name(), r.runNo)
	}
	r.startedAt = res.StartedAt
	r.elapsed = res.Elapsed
	r.exitCode = res.ExitCode
	r.canceled = res.UserCanceled
	if !res.ModuleModTime.IsZero() {
		r.moduleModTime = res.ModuleModTime
	}
	r.completed = true
	return nil
}

// ClearResults resets the record to "not yet run". Definition and arguments are kept.
func (r *RuntimeRecord) ClearResults() {
	r.startedAt = time.Time{}
	r.elapsed = 0
	r.exitCode = NotRunExitCode
	r.canceled = false
	r.completed = false
}

// Clone returns a deep copy, results included
func (r *RuntimeRecord) Clone() *RuntimeRecord {
	c := *r
	c.args = make([]Argument, len(r.args))
	copy(c.args, r.args)
	return &c
}

// AdoptModule replaces the backing file reference with the one of the current definition
func (r *RuntimeRecord) AdoptModule(module ModuleFile, modTime time.Time) {
	r.module = module
	r.moduleModTime = modTime
}

// BackingFilePath resolves the module path against the definition directory
func (r *RuntimeRecord) BackingFilePath() string {
	return ResolveModulePath(r.def.Dir, r.module.Path)
}

// ResolveModulePath resolves a module path relative to a definition directory
func ResolveModulePath(defDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(defDir, path)
}

// DefinitionDirExists probes the definition directory
func (r *RuntimeRecord) DefinitionDirExists(fs FileSystem) bool {
	return fs.DirExists(r.def.Dir)
}

// SettingsFileExists probes the definition settings file
func (r *RuntimeRecord) SettingsFileExists(fs FileSystem) bool {
	return fs.FileExists(r.def.SettingsPath())
}

// BackingFileExists probes the backing file recorded on this record
func (r *RuntimeRecord) BackingFileExists(fs FileSystem) bool {
	path := r.BackingFilePath()
	if path == "" {
		return false
	}
	return fs.FileExists(path) || fs.DirExists(path)
}

// BackingFileModifiedSinceRecorded compares the current backing file timestamp to the recorded one
func (r *RuntimeRecord) BackingFileModifiedSinceRecorded(fs FileSystem) bool {
	current, ok := fs.ModTime(r.BackingFilePath())
	if !ok {
		return false
	}
	return !current.Equal(r.moduleModTime)
}

// Summary is a display row for one record
type Summary struct {
	RunNo        int
	Name         string
	StartedAt    time.Time
	Elapsed      time.Duration
	ExitCode     int
	Succeeded    bool
	UserCanceled bool
	Values       []string
}

// Summary returns a display row for the record
func (r *RuntimeRecord) Summary() Summary {
	return Summary{
		RunNo:        r.runNo,
		Name:         r.Name(),
		StartedAt:    r.startedAt,
		Elapsed:      r.elapsed,
		ExitCode:     r.exitCode,
		Succeeded:    r.Succeeded(),
		UserCanceled: r.canceled,
		Values:       r.Values(),
	}
}
