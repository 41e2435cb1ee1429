package domain

import (
	"errors"
	"testing"
	"time"
)

type stubFS struct {
	dirs  map[string]bool
	files map[string]time.Time
}

func (s stubFS) DirExists(p string) bool { return s.dirs[p] }

func (s stubFS) FileExists(p string) bool {
	_, ok := s.files[p]
	return ok
}

func (s stubFS) ModTime(p string) (time.Time, bool) {
	t, ok := s.files[p]
	return t, ok
}

func sampleRecord() *RuntimeRecord {
	return NewRecord(
		NewDefinitionRef("/defs/sort"),
		ModuleFile{Type: ModuleJar, Path: "sort.jar", MainClass: "org.example.Sort"},
		time.Unix(1000, 0),
		[]Argument{
			{Type: ArgIn, Value: "/data/in.csv"},
			{Type: ArgOut, Value: "/tmp/x", Param: ParamTempFile, ShowAfterRun: true},
			{Type: ArgStr, Value: "--desc", Fixed: true},
		},
	)
}

func TestRecord_NewIsUnrun(t *testing.T) {
	r := sampleRecord()
	if r.ExitCode() != NotRunExitCode {
		t.Errorf("ExitCode = %d, want %d", r.ExitCode(), NotRunExitCode)
	}
	if r.Succeeded() {
		t.Error("new record should not be succeeded")
	}
	if r.RunNo() != 0 {
		t.Errorf("RunNo = %d, want 0", r.RunNo())
	}
	if r.Name() != "sort" {
		t.Errorf("Name = %q, want sort", r.Name())
	}
}

func TestRecord_Succeeded(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		canceled bool
		want     bool
	}{
		{"zero exit", 0, false, true},
		{"nonzero exit", 2, false, false},
		{"canceled zero exit", 0, true, false},
		{"canceled nonzero", 130, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRecord()
			if err := r.Complete(Result{ExitCode: tt.exitCode, UserCanceled: tt.canceled}); err != nil {
				t.Fatal(err)
			}
			if got := r.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_CompleteOnlyOnce(t *testing.T) {
	r := sampleRecord()
	if err := r.Complete(Result{ExitCode: 0}); err != nil {
		t.Fatal(err)
	}
	err := r.Complete(Result{ExitCode: 1})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second Complete error = %v, want ErrAlreadyCompleted", err)
	}
	if r.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", r.ExitCode())
	}
}

func TestRecord_CloneThenClearResults(t *testing.T) {
	orig := sampleRecord()
	orig.Complete(Result{
		StartedAt: time.Now(),
		Elapsed:   3 * time.Second,
		ExitCode:  0,
	})

	c := orig.Clone()
	if !c.Succeeded() {
		t.Error("clone should copy results as-is")
	}

	c.ClearResults()
	if c.Succeeded() || c.UserCanceled() || c.Completed() {
		t.Error("cleared clone should be unrun")
	}
	if c.ExitCode() != NotRunExitCode {
		t.Errorf("ExitCode = %d, want %d", c.ExitCode(), NotRunExitCode)
	}
	if c.Elapsed() != 0 || !c.StartedAt().IsZero() {
		t.Error("cleared clone should have no timing")
	}
	if c.Definition() != orig.Definition() {
		t.Errorf("Definition = %+v, want %+v", c.Definition(), orig.Definition())
	}
	for i, v := range orig.Values() {
		if c.Values()[i] != v {
			t.Errorf("value %d = %q, want %q", i, c.Values()[i], v)
		}
	}
	if !orig.Succeeded() {
		t.Error("ClearResults on clone must not touch the original")
	}

	c.SetArgValue(0, "/data/other.csv")
	if orig.Values()[0] != "/data/in.csv" {
		t.Error("clone arguments must be independent of the original")
	}
}

func TestRecord_SetArgValue(t *testing.T) {
	r := sampleRecord()
	if err := r.SetArgValue(0, "/data/b.csv"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetArgValue(2, "--asc"); !errors.Is(err, ErrFixedArgument) {
		t.Errorf("fixed arg error = %v, want ErrFixedArgument", err)
	}
	if err := r.SetArgValue(7, "x"); !errors.Is(err, ErrArgumentIndex) {
		t.Errorf("out of range error = %v, want ErrArgumentIndex", err)
	}
}

func TestRecord_Probes(t *testing.T) {
	r := sampleRecord()
	fs := stubFS{
		dirs: map[string]bool{"/defs/sort": true},
		files: map[string]time.Time{
			"/defs/sort/filter.toml": time.Unix(1, 0),
			"/defs/sort/sort.jar":    time.Unix(1000, 0),
		},
	}

	if !r.DefinitionDirExists(fs) || !r.SettingsFileExists(fs) || !r.BackingFileExists(fs) {
		t.Fatal("expected every probe to succeed")
	}
	if r.BackingFileModifiedSinceRecorded(fs) {
		t.Error("backing file should be unmodified")
	}

	fs.files["/defs/sort/sort.jar"] = time.Unix(2000, 0)
	if !r.BackingFileModifiedSinceRecorded(fs) {
		t.Error("backing file should be reported as modified")
	}

	r.AdoptModule(r.Module(), time.Unix(2000, 0))
	if r.BackingFileModifiedSinceRecorded(fs) {
		t.Error("adopted fingerprint should match")
	}
}

func TestRecordBuilder(t *testing.T) {
	tmpl := sampleRecord()
	tmpl.Complete(Result{ExitCode: 4})

	rec, err := NewRecordBuilder(tmpl).Fresh().WithRunNo(3).WithArgValue(0, "/data/new.csv").Build()
	if err != nil {
		t.Fatal(err)
	}
	if rec.RunNo() != 3 {
		t.Errorf("RunNo = %d, want 3", rec.RunNo())
	}
	if rec.Completed() {
		t.Error("fresh record should be unrun")
	}
	if rec.Values()[0] != "/data/new.csv" {
		t.Errorf("value = %q", rec.Values()[0])
	}
	if tmpl.ExitCode() != 4 || tmpl.Values()[0] != "/data/in.csv" {
		t.Error("template must not be mutated")
	}

	_, err = NewRecordBuilder(tmpl).WithArgValues([]string{"a"}).Build()
	if err == nil {
		t.Error("expected error for wrong value count")
	}

	rec, err = NewRecordBuilder(tmpl).WithArgValues([]string{"a", "b", "ignored"}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Values()[2] != "--desc" {
		t.Errorf("fixed value = %q, want --desc", rec.Values()[2])
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	r := sampleRecord()
	r.Complete(Result{ExitCode: 0, Elapsed: time.Second})
	NewPipeline(r).UpdateRelations()

	back := FromSnapshot(r.Snapshot())
	if back.RunNo() != 1 || !back.Succeeded() || back.Elapsed() != time.Second {
		t.Errorf("restored record = %+v", back.Summary())
	}
}
