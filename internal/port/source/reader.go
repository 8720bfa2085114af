// Package source defines the read port over marketplace source collections.
package source

import (
	"context"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/query"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
)

// Page selects one slice of a query's id-ordered result set. When AfterID is
// positive the page starts after that id (keyset); otherwise Offset rows are
// skipped.
type Page struct {
	AfterID int64
	Offset  int64
	Limit   int
}

// Reader counts and fetches source records. Implementations must return rows
// ordered by id ascending.
type Reader interface {
	Count(ctx context.Context, q query.Query) (int64, error)
	Fetch(ctx context.Context, q query.Query, p Page) ([]source.Record, error)
}
