package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func chainRecord(name string, args ...Argument) *RuntimeRecord {
	return NewRecord(NewDefinitionRef("/defs/"+name), ModuleFile{Type: ModuleExec, Path: name}, time.Time{}, args)
}

func TestPipeline_UpdateRelations(t *testing.T) {
	a := chainRecord("a",
		Argument{Type: ArgIn, Value: "/data/in.csv"},
		Argument{Type: ArgOut, Value: "x", Param: ParamTempFile, ShowAfterRun: true},
	)
	b := chainRecord("b",
		Argument{Type: ArgIn, Value: "x", Param: ParamTempFile},
		Argument{Type: ArgOut, Value: "y", Param: ParamTempFile, ShowAfterRun: true},
	)
	c := chainRecord("c",
		Argument{Type: ArgIn, Value: "y", Param: ParamTempFile},
		Argument{Type: ArgOut, Value: "z", ShowAfterRun: true},
	)

	p := NewPipeline(a, b, c)
	p.UpdateRelations()

	for i, r := range p.Records() {
		if r.RunNo() != i+1 {
			t.Errorf("record %d RunNo = %d, want %d", i, r.RunNo(), i+1)
		}
	}
	if arg, _ := a.Arg(1); arg.ShowAfterRun {
		t.Error("A's OUT should be hidden")
	}
	if arg, _ := b.Arg(1); arg.ShowAfterRun {
		t.Error("B's OUT should be hidden")
	}
	if arg, _ := c.Arg(1); !arg.ShowAfterRun {
		t.Error("C's OUT should keep its authored flag")
	}

	// Idempotent
	p.UpdateRelations()
	if c.RunNo() != 3 {
		t.Errorf("RunNo after second pass = %d, want 3", c.RunNo())
	}
	if arg, _ := c.Arg(1); !arg.ShowAfterRun {
		t.Error("second pass must not touch the last record")
	}

	outs := p.OutputsToShow()
	if len(outs) != 1 || outs[0] != "z" {
		t.Errorf("OutputsToShow = %v, want [z]", outs)
	}
}

func TestPipeline_HidesEveryOutputOfInnerRecords(t *testing.T) {
	a := chainRecord("a",
		Argument{Type: ArgOut, Value: "/data/report.txt", ShowAfterRun: true},
		Argument{Type: ArgOut, Value: "x", Param: ParamTempFile, ShowAfterRun: true},
	)
	b := chainRecord("b",
		Argument{Type: ArgIn, Value: "x", Param: ParamTempFile},
		Argument{Type: ArgOut, Value: "/data/final.txt", ShowAfterRun: false},
	)
	p := NewPipeline(a, b)
	p.UpdateRelations()

	for i, arg := range a.Args() {
		if arg.ShowAfterRun {
			t.Errorf("A arg %d still shown", i)
		}
	}
	if arg, _ := b.Arg(1); arg.ShowAfterRun {
		t.Error("B keeps its authored false flag")
	}
	if outs := p.OutputsToShow(); len(outs) != 0 {
		t.Errorf("OutputsToShow = %v, want none", outs)
	}
}

func TestPipeline_Empty(t *testing.T) {
	p := NewPipeline()
	p.UpdateRelations()
	if p.Len() != 0 || p.Last() != nil || p.OutputsToShow() != nil {
		t.Error("empty pipeline should be inert")
	}
}

func TestPipeline_AllocateTempFilesChainsEmptyValues(t *testing.T) {
	a := chainRecord("a",
		Argument{Type: ArgIn, Value: "/data/in.csv"},
		Argument{Type: ArgOut, Param: ParamTempFile, ShowAfterRun: true},
	)
	b := chainRecord("b",
		Argument{Type: ArgIn, Param: ParamTempFile},
		Argument{Type: ArgOut, Param: ParamTempFile, ShowAfterRun: true},
	)
	c := chainRecord("c",
		Argument{Type: ArgIn, Param: ParamTempFile},
		Argument{Type: ArgOut, Value: "z", ShowAfterRun: true},
	)
	p := NewPipeline(a, b, c)

	calls := 0
	err := p.AllocateTempFiles(func(rec *RuntimeRecord, arg int) (string, error) {
		calls++
		return fmt.Sprintf("/tmp/%s-%d.tmp", rec.Name(), arg), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	p.UpdateRelations()

	if calls != 2 {
		t.Errorf("allocated %d paths, want 2", calls)
	}
	want := [][]string{
		{"/data/in.csv", "/tmp/a-1.tmp"},
		{"/tmp/a-1.tmp", "/tmp/b-1.tmp"},
		{"/tmp/b-1.tmp", "z"},
	}
	for i, r := range p.Records() {
		got := r.Values()
		if len(got) != 2 || got[0] != want[i][0] || got[1] != want[i][1] {
			t.Errorf("%s values = %q, want %q", r.Name(), got, want[i])
		}
	}
	if arg, _ := a.Arg(1); arg.ShowAfterRun {
		t.Error("A's OUT should be hidden")
	}
	if arg, _ := b.Arg(1); arg.ShowAfterRun {
		t.Error("B's OUT should be hidden")
	}
	if outs := p.OutputsToShow(); len(outs) != 1 || outs[0] != "z" {
		t.Errorf("OutputsToShow = %v, want [z]", outs)
	}
}

func TestPipeline_AllocateTempFilesKeepsBoundValues(t *testing.T) {
	a := chainRecord("a", Argument{Type: ArgOut, Value: "/keep/a.tmp", Param: ParamTempFile})
	b := chainRecord("b", Argument{Type: ArgIn, Value: "/stale.tmp", Param: ParamTempFile})
	p := NewPipeline(a, b)

	err := p.AllocateTempFiles(func(*RuntimeRecord, int) (string, error) {
		t.Error("a bound output must not get a new path")
		return "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Values()[0]; got != "/keep/a.tmp" {
		t.Errorf("B's IN = %q, want the output of A", got)
	}
}

func TestPipeline_AllocateTempFilesError(t *testing.T) {
	p := NewPipeline(chainRecord("a", Argument{Type: ArgOut, Param: ParamTempFile}))
	boom := errors.New("disk full")
	err := p.AllocateTempFiles(func(*RuntimeRecord, int) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPipeline_UpdateRelationsLinksSecondTempOutput(t *testing.T) {
	a := chainRecord("a",
		Argument{Type: ArgOut, Value: "/t/1", Param: ParamTempFile},
		Argument{Type: ArgOut, Value: "/data/report.txt"},
		Argument{Type: ArgOut, Value: "/t/2", Param: ParamTempFile},
	)
	b := chainRecord("b",
		Argument{Type: ArgStr, Value: "--merge"},
		Argument{Type: ArgIn, Param: ParamTempFile},
		Argument{Type: ArgIn, Param: ParamTempFile},
	)
	NewPipeline(a, b).UpdateRelations()

	if got := b.Values(); got[1] != "/t/1" || got[2] != "/t/2" {
		t.Errorf("B values = %q", got)
	}
}
