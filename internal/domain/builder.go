package domain

import "fmt"

// RecordBuilder constructs a new record from a template. The template is never
// touched; every builder works on its own copy.
type RecordBuilder struct {
	rec *RuntimeRecord
	err error
}

// NewRecordBuilder starts a builder from template
func NewRecordBuilder(template *RuntimeRecord) *RecordBuilder {
	return &RecordBuilder{rec: template.Clone()}
}

// Fresh drops the template's results so the built record is unrun
func (b *RecordBuilder) Fresh() *RecordBuilder {
	b.rec.ClearResults()
	return b
}

// WithRunNo assigns the run index of the new record
func (b *RecordBuilder) WithRunNo(n int) *RecordBuilder {
	b.rec.runNo = n
	return b
}

// WithArgValue binds a value to one parametrized argument
func (b *RecordBuilder) WithArgValue(i int, value string) *RecordBuilder {
	if b.err != nil {
		return b
	}
	b.err = b.rec.SetArgValue(i, value)
	return b
}

// WithArgValues rebinds every parametrized argument in order. Fixed arguments keep their value.
func (b *RecordBuilder) WithArgValues(values []string) *RecordBuilder {
	if b.err != nil {
		return b
	}
	if len(values) != len(b.rec.args) {
		b.err = fmt.Errorf("%s expects %d argument values, got %d", b.rec.Name(), len(b.rec.args), len(values))
		return b
	}
	for i, v := range values {
		if b.rec.args[i].Fixed {
			continue
		}
		b.rec.args[i].Value = v
	}
	return b
}

// Build returns the new record or the first error encountered
func (b *RecordBuilder) Build() (*RuntimeRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.rec.Clone(), nil
}
