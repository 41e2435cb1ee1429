package domain

import "time"

// Snapshot is the persisted form of a RuntimeRecord
type Snapshot struct {
	Definition    DefinitionRef `json:"definition"`
	Module        ModuleFile    `json:"module"`
	ModuleModTime time.Time     `json:"module_mod_time"`
	Args          []Argument    `json:"args"`
	RunNo         int           `json:"run_no"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
	ExitCode      int           `json:"exit_code"`
	UserCanceled  bool          `json:"user_canceled"`
	Completed     bool          `json:"completed"`
}

// Snapshot captures every field of the record
func (r *RuntimeRecord) Snapshot() Snapshot {
	return Snapshot{
		Definition:    r.def,
		Module:        r.module,
		ModuleModTime: r.moduleModTime,
		Args:          r.Args(),
		RunNo:         r.runNo,
		StartedAt:     r.startedAt,
		Elapsed:       r.elapsed,
		ExitCode:      r.exitCode,
		UserCanceled:  r.canceled,
		Completed:     r.completed,
	}
}

// FromSnapshot restores a record
func FromSnapshot(s Snapshot) *RuntimeRecord {
	r := NewRecord(s.Definition, s.Module, s.ModuleModTime, s.Args)
	r.runNo = s.RunNo
	r.startedAt = s.StartedAt
	r.elapsed = s.Elapsed
	r.exitCode = s.ExitCode
	r.canceled = s.UserCanceled
	r.completed = s.Completed
	return r
}
