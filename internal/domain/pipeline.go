package domain

import "fmt"

// TempPathFunc returns a fresh path for the temp-file OUT argument arg of rec
type TempPathFunc func(rec *RuntimeRecord, arg int) (string, error)

// Pipeline is an ordered chain of records. A temp-file OUT argument of one record
// feeds the matching IN argument of the next.
type Pipeline struct {
	records []*RuntimeRecord
}

// NewPipeline creates a pipeline from records in order
func NewPipeline(records ...*RuntimeRecord) *Pipeline {
	p := &Pipeline{}
	for _, r := range records {
		p.Add(r)
	}
	return p
}

// Add appends a record
func (p *Pipeline) Add(r *RuntimeRecord) {
	p.records = append(p.records, r)
}

// Len returns the number of records
func (p *Pipeline) Len() int { return len(p.records) }

// At returns the record at index i
func (p *Pipeline) At(i int) *RuntimeRecord { return p.records[i] }

// Records returns the records in order. The slice is a copy; the records are not.
func (p *Pipeline) Records() []*RuntimeRecord {
	cp := make([]*RuntimeRecord, len(p.records))
	copy(cp, p.records)
	return cp
}

// Last returns the final record, nil for an empty pipeline
func (p *Pipeline) Last() *RuntimeRecord {
	if len(p.records) == 0 {
		return nil
	}
	return p.records[len(p.records)-1]
}

// UpdateRelations numbers the records 1..N, feeds temp-file outputs into the
// next record and hides the outputs of every record but the last. The last
// record's display flags are left as authored.
func (p *Pipeline) UpdateRelations() {
	n := len(p.records)
	for i, r := range p.records {
		r.runNo = i + 1
		if i == n-1 {
			continue
		}
		for j, a := range r.args {
			if a.Type == ArgOut {
				r.setShowAfterRun(j, false)
			}
		}
	}
	p.linkTempFiles()
}

// AllocateTempFiles gives every temp-file OUT argument without a value a path
// from newPath and links the outputs to the next record. Bound values are kept.
func (p *Pipeline) AllocateTempFiles(newPath TempPathFunc) error {
	for _, r := range p.records {
		for j, a := range r.args {
			if a.Type != ArgOut || !a.IsTempFile() || a.Fixed || a.Value != "" {
				continue
			}
			path, err := newPath(r, j)
			if err != nil {
				return fmt.Errorf("temp file for %s argument %d: %w", r.Name(), j+1, err)
			}
			r.args[j].Value = path
		}
	}
	p.linkTempFiles()
	return nil
}

// linkTempFiles binds the k-th temp-file OUT value of each record to the k-th
// temp-file IN argument of the next one. Unset outputs leave the input alone.
func (p *Pipeline) linkTempFiles() {
	for i := 0; i+1 < len(p.records); i++ {
		outs := p.records[i].tempValues(ArgOut)
		next := p.records[i+1]
		k := 0
		for j, a := range next.args {
			if k == len(outs) {
				break
			}
			if a.Type != ArgIn || !a.IsTempFile() || a.Fixed {
				continue
			}
			if outs[k] != "" {
				next.args[j].Value = outs[k]
			}
			k++
		}
	}
}

// Names returns the record names in order
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.records))
	for i, r := range p.records {
		names[i] = r.Name()
	}
	return names
}

// OutputsToShow returns the last record's OUT values flagged for display
func (p *Pipeline) OutputsToShow() []string {
	last := p.Last()
	if last == nil {
		return nil
	}
	var out []string
	for _, a := range last.args {
		if a.Type == ArgOut && a.ShowAfterRun && a.Value != "" {
			out = append(out, a.Value)
		}
	}
	return out
}
