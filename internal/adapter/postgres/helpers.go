package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullIfEmpty returns nil for empty strings (for nullable text columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime converts a nil or zero time to nil for nullable DB columns.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// wrapErr annotates err with the given message. pgx.ErrNoRows becomes
// domain.ErrNotFound and connectivity failures additionally wrap
// domain.ErrUnavailable so callers can retry them.
func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// wrapWriteErr is wrapErr for statements that modify rows. A write whose
// connection failed mid-flight may have committed, so only failures known to
// precede execution wrap domain.ErrUnavailable.
func wrapWriteErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if notApplied(err) {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// notApplied reports whether a failed write certainly did not take effect:
// the connection was never established, the request was never sent, or the
// server answered with a connection or shutdown error.
func notApplied(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return unavailableCode(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

// isUnavailable reports whether err means the database could not be reached,
// as opposed to a statement the database rejected.
func isUnavailable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return unavailableCode(pgErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// Class 08: connection exception. 57P0x: operator intervention.
func unavailableCode(code string) bool {
	return len(code) == 5 && (code[:2] == "08" || code[:4] == "57P0")
}
