// Package drift decides whether a pipeline built from history can still be run
// against the definitions currently on disk.
package drift

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/definition"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/logging"
)

// Code classifies a discrepancy between a record and its current definition
type Code string

const (
	FilterDirNotFound     Code = "FILTER_DIR_NOT_FOUND"
	FilterPrefsNotFound   Code = "FILTER_PREFS_NOT_FOUND"
	ArgumentsRestructured Code = "ARGUMENTS_RESTRUCTURED"
	ModuleNotFound        Code = "MODULE_NOT_FOUND"
	ModuleFileChanged     Code = "MODULE_FILE_CHANGED"
	ModuleFileUpdated     Code = "MODULE_FILE_UPDATED"
)

// Severity of a finding
type Severity int

const (
	Warning Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "warning"
}

// Severity returns how a code affects the batch
func (c Code) Severity() Severity {
	switch c {
	case ModuleFileChanged, ModuleFileUpdated:
		return Warning
	default:
		return Fatal
	}
}

// Finding is the single classification of one record
type Finding struct {
	Index  int
	Record *domain.RuntimeRecord
	Code   Code
	Detail string
}

func (f Finding) String() string {
	s := fmt.Sprintf("#%d %s: %s", f.Record.RunNo(), f.Record.Name(), f.Code)
	if f.Detail != "" {
		s += " (" + f.Detail + ")"
	}
	return s
}

// Report holds the findings of one inspection, in pipeline order
type Report struct {
	Findings []Finding
}

// Fatal returns the fatal findings
func (r Report) Fatal() []Finding { return r.filter(Fatal) }

// Warnings returns the recoverable findings
func (r Report) Warnings() []Finding { return r.filter(Warning) }

// HasFatal reports whether the batch is blocked
func (r Report) HasFatal() bool { return len(r.Fatal()) > 0 }

// Empty reports whether no record drifted
func (r Report) Empty() bool { return len(r.Findings) == 0 }

func (r Report) filter(s Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Code.Severity() == s {
			out = append(out, f)
		}
	}
	return out
}

// ErrWarningsDeclined is returned when the user refuses to adopt changed definitions
var ErrWarningsDeclined = errors.New("changed filter definitions were not accepted")

// BlockedError lists every fatal finding of a blocked pipeline
type BlockedError struct {
	Findings []Finding
	errs     *multierror.Error
}

func newBlockedError(findings []Finding) *BlockedError {
	var errs *multierror.Error
	for _, f := range findings {
		errs = multierror.Append(errs, errors.New(f.String()))
	}
	errs.ErrorFormat = func(es []error) string {
		msg := fmt.Sprintf("pipeline cannot be run, %d filter(s) are broken:", len(es))
		for _, e := range es {
			msg += "\n  " + e.Error()
		}
		return msg
	}
	return &BlockedError{Findings: findings, errs: errs}
}

func (e *BlockedError) Error() string { return e.errs.Error() }

func (e *BlockedError) Unwrap() []error { return e.errs.WrappedErrors() }

// Validator compares records against the current definitions
type Validator struct {
	loader definition.Loader
	fs     domain.FileSystem
	log    hclog.Logger
}

// New creates a Validator
func New(loader definition.Loader, fs domain.FileSystem, log hclog.Logger) *Validator {
	if fs == nil {
		fs = domain.OSFileSystem{}
	}
	return &Validator{loader: loader, fs: fs, log: logging.OrNull(log).Named("drift")}
}

// Inspect classifies every record without prompting. Each record gets at most
// one finding: checks stop at the first match.
func (v *Validator) Inspect(p *domain.Pipeline) Report {
	var report Report
	for i, rec := range p.Records() {
		if f, ok := v.inspectRecord(i, rec); ok {
			report.Findings = append(report.Findings, f)
		}
	}
	return report
}

func (v *Validator) inspectRecord(i int, rec *domain.RuntimeRecord) (Finding, bool) {
	finding := func(code Code, detail string) (Finding, bool) {
		return Finding{Index: i, Record: rec, Code: code, Detail: detail}, true
	}

	if !rec.DefinitionDirExists(v.fs) {
		return finding(FilterDirNotFound, rec.Definition().Dir)
	}
	if !rec.SettingsFileExists(v.fs) {
		return finding(FilterPrefsNotFound, rec.Definition().SettingsPath())
	}
	def, err := v.loader.Load(rec.Definition())
	if err != nil {
		return finding(FilterPrefsNotFound, err.Error())
	}

	current := def.Arguments()
	recorded := rec.Args()
	if len(current) != len(recorded) {
		return finding(ArgumentsRestructured, fmt.Sprintf("%d arguments, recorded %d", len(current), len(recorded)))
	}
	for j := range current {
		if !current[j].SameBinding(recorded[j]) {
			return finding(ArgumentsRestructured, fmt.Sprintf("argument %d", j+1))
		}
	}

	if !def.BackingFileExists(v.fs) && !rec.BackingFileExists(v.fs) {
		return finding(ModuleNotFound, def.BackingFilePath())
	}
	if !def.Module.Equal(rec.Module()) {
		return finding(ModuleFileChanged, def.BackingFilePath())
	}
	if rec.BackingFileModifiedSinceRecorded(v.fs) {
		return finding(ModuleFileUpdated, rec.BackingFilePath())
	}
	return Finding{}, false
}

// CheckExecutable decides whether p may run.
//
// Any fatal finding blocks the whole batch with a *BlockedError. Warnings ask c
// once: accepting adopts the current definition into every warned record,
// declining blocks the whole batch with ErrWarningsDeclined. A clean pipeline
// is runnable without asking.
func (v *Validator) CheckExecutable(p *domain.Pipeline, c confirm.Confirmer) (Report, error) {
	p.UpdateRelations()
	report := v.Inspect(p)

	if fatal := report.Fatal(); len(fatal) > 0 {
		v.log.Warn("pipeline blocked", "fatal", len(fatal), "records", p.Len())
		return report, newBlockedError(fatal)
	}

	warnings := report.Warnings()
	if len(warnings) == 0 {
		return report, nil
	}

	details := make([]string, len(warnings))
	for i, w := range warnings {
		details[i] = w.String()
	}
	prompt := confirm.Prompt{
		Kind:    confirm.AdoptDefinitions,
		Message: fmt.Sprintf("%d filter(s) changed since they were recorded. Use the current definitions and run?", len(warnings)),
		Details: details,
	}
	if !c.Confirm(prompt) {
		v.log.Info("changed definitions declined", "warnings", len(warnings))
		return report, ErrWarningsDeclined
	}

	// A failed reload leaves every record untouched.
	defs := make([]*definition.Definition, len(warnings))
	for i, w := range warnings {
		def, err := v.loader.Load(w.Record.Definition())
		if err != nil {
			return report, fmt.Errorf("reloading %s: %w", w.Record.Name(), err)
		}
		defs[i] = def
	}
	for i, w := range warnings {
		w.Record.AdoptModule(defs[i].Module, defs[i].ModuleModTime)
		v.log.Debug("adopted current definition", "filter", w.Record.Name(), "code", w.Code)
	}
	return report, nil
}
