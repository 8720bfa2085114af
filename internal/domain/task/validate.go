package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
)

const dateLayout = "2006-01-02"

// Validate checks the type, batch size and date window of a CreateRequest and
// returns the parsed window. Filter keys are checked by the query builder.
func (r *CreateRequest) Validate() (Window, error) {
	if _, err := ParseType(string(r.Type)); err != nil {
		return Window{}, err
	}
	if r.BatchSize < MinBatchSize || r.BatchSize > MaxBatchSize {
		return Window{}, fmt.Errorf("batch_size must be between %d and %d, got %d: %w",
			MinBatchSize, MaxBatchSize, r.BatchSize, domain.ErrValidation)
	}
	if r.DateWindow == nil {
		return Window{}, nil
	}
	return r.DateWindow.Parse()
}

// Parse converts the wire window into a Window. A date-only upper bound
// covers the whole day.
func (in WindowInput) Parse() (Window, error) {
	var w Window
	if s := strings.TrimSpace(in.From); s != "" {
		from, err := ParseBound(s, false)
		if err != nil {
			return Window{}, fmt.Errorf("date_window.from: %w", err)
		}
		w.From = &from
	}
	if s := strings.TrimSpace(in.To); s != "" {
		to, err := ParseBound(s, true)
		if err != nil {
			return Window{}, fmt.Errorf("date_window.to: %w", err)
		}
		w.To = &to
	}
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return Window{}, fmt.Errorf("date_window.from must not be after date_window.to: %w", domain.ErrValidation)
	}
	return w, nil
}

// ParseBound parses an RFC 3339 timestamp or a YYYY-MM-DD date in UTC.
// With endOfDay set, a plain date resolves to the last nanosecond of that day.
func ParseBound(s string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, domain.ErrValidation)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
