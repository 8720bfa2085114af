package service

import (
	"context"
	"fmt"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/query"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
	sourceport "github.com/Dm1try555/banister-backend-sub000/internal/port/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/resilience"
)

// Paginator splits an id-ordered query into fixed-size batches. It reads one
// batch at a time and never holds more than one batch in memory.
//
// Consecutive calls (index, index+1, ...) continue from the last key seen.
// Any other access pattern falls back to an offset over the same order, so
// Batch(i) returns the same records regardless of how it is reached.
type Paginator struct {
	reader  sourceport.Reader
	query   query.Query
	size    int
	breaker *resilience.Breaker

	next   int
	lastID int64
}

// NewPaginator creates a paginator over q. A nil breaker calls the reader
// directly.
func NewPaginator(reader sourceport.Reader, q query.Query, size int, breaker *resilience.Breaker) *Paginator {
	return &Paginator{reader: reader, query: q, size: size, breaker: breaker}
}

// Size returns the batch size.
func (p *Paginator) Size() int { return p.size }

// Total counts the records matching the query.
func (p *Paginator) Total(ctx context.Context) (int64, error) {
	var n int64
	err := p.call(func() error {
		var err error
		n, err = p.reader.Count(ctx, p.query)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.query.Source, err)
	}
	return n, nil
}

// Batch returns the index-th batch (0-based). The last batch may be short and
// batches past the end are empty.
func (p *Paginator) Batch(ctx context.Context, index int) ([]source.Record, error) {
	if index < 0 {
		return nil, fmt.Errorf("batch index %d out of range", index)
	}

	page := sourceport.Page{Limit: p.size}
	switch {
	case index == 0:
	case index == p.next && p.lastID > 0:
		page.AfterID = p.lastID
	default:
		page.Offset = int64(index) * int64(p.size)
	}

	var recs []source.Record
	err := p.call(func() error {
		var err error
		recs, err = p.reader.Fetch(ctx, p.query, page)
		return err
	})
	if err != nil {
		p.next = -1
		return nil, fmt.Errorf("fetch %s batch %d: %w", p.query.Source, index, err)
	}

	if len(recs) > 0 {
		p.lastID = recs[len(recs)-1].Key()
		p.next = index + 1
	} else {
		p.next = -1
	}
	return recs, nil
}

func (p *Paginator) call(fn func() error) error {
	if p.breaker == nil {
		return fn()
	}
	return p.breaker.Execute(fn)
}
