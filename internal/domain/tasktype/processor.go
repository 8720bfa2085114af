package tasktype

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
)

// Processor turns a source record into an output row. An error rejects that
// record only.
type Processor interface {
	Process(rec source.Record) ([]string, error)
}

// Summarizer is implemented by processors that accumulate run-level data.
type Summarizer interface {
	Summary() map[string]int64
}

// ProcessFunc adapts a function to Processor.
type ProcessFunc func(rec source.Record) ([]string, error)

func (f ProcessFunc) Process(rec source.Record) ([]string, error) { return f(rec) }

func defaultProcessor(p Plan) Processor { return ProcessFunc(p.defaultRow) }

// defaultRow runs the record's own validation hook when it has one, then
// projects it onto the plan's columns.
func (p Plan) defaultRow(rec source.Record) ([]string, error) {
	if v, ok := rec.(source.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return p.project(rec.Values()), nil
}

func (p Plan) bookingRow(rec source.Record) ([]string, error) {
	if b, ok := rec.(*source.Booking); ok && !slices.Contains(source.BookingStatuses, b.Status) {
		return nil, fmt.Errorf("unknown booking status %q", b.Status)
	}
	return p.defaultRow(rec)
}

// cleanRow trims every value and lowercases email addresses.
func (p Plan) cleanRow(rec source.Record) ([]string, error) {
	row, err := p.defaultRow(rec)
	if err != nil {
		return nil, err
	}
	for i, col := range p.Columns {
		row[i] = strings.TrimSpace(row[i])
		if strings.HasSuffix(col, "email") {
			row[i] = strings.ToLower(row[i])
		}
	}
	return row, nil
}

func (p Plan) project(vals []string) []string {
	row := make([]string, len(p.index))
	for i, j := range p.index {
		if j < len(vals) {
			row[i] = vals[j]
		}
	}
	return row
}

// analysis counts processed records per value of the source's group field.
type analysis struct {
	plan  Plan
	group int
	hist  map[string]int64
}

func newAnalysis(p Plan) Processor {
	return &analysis{
		plan:  p,
		group: source.FieldIndex(p.Query.Source, source.GroupField(p.Query.Source)),
		hist:  make(map[string]int64),
	}
}

func (a *analysis) Process(rec source.Record) ([]string, error) {
	row, err := a.plan.defaultRow(rec)
	if err != nil {
		return nil, err
	}
	vals := rec.Values()
	key := ""
	if a.group >= 0 && a.group < len(vals) {
		key = vals[a.group]
	}
	a.hist[key]++
	return row, nil
}

func (a *analysis) Summary() map[string]int64 {
	out := make(map[string]int64, len(a.hist))
	for k, v := range a.hist {
		out[k] = v
	}
	return out
}
