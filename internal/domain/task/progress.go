package task

import (
	"math"
	"time"
)

// StatusView is the derived progress report returned by the control surface.
type StatusView struct {
	ID              int64    `json:"id"`
	Type            Type     `json:"type"`
	State           State    `json:"state"`
	Total           int64    `json:"total"`
	Processed       int64    `json:"processed"`
	Failed          int64    `json:"failed"`
	ProgressPercent float64  `json:"progress_percent"`
	ETASeconds      *float64 `json:"eta_seconds"`
	CancelRequested bool     `json:"cancel_requested"`
	Error           string   `json:"error,omitempty"`
	ArtifactRef     string   `json:"artifact_ref,omitempty"`
}

// Status derives the status view of t at the given instant.
func (t *Task) Status(now time.Time) StatusView {
	v := StatusView{
		ID:              t.ID,
		Type:            t.Type,
		State:           t.State,
		Total:           t.TotalRecords,
		Processed:       t.ProcessedRecords,
		Failed:          t.FailedRecords,
		ProgressPercent: ProgressPercent(t.ProcessedRecords, t.TotalRecords),
		CancelRequested: t.CancelRequested,
		Error:           t.ErrorMessage,
		ArtifactRef:     t.ArtifactRef,
	}
	if t.State == StateProcessing && t.StartedAt != nil {
		v.ETASeconds = ETASeconds(t.ProcessedRecords, t.TotalRecords, now.Sub(*t.StartedAt))
	}
	return v
}

// ProgressPercent returns 100*processed/total rounded to two decimals, or 0
// when total is not known yet.
func ProgressPercent(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(100 * float64(processed) / float64(total))
}

// ETASeconds extrapolates the remaining time from the observed rate.
// Returns nil until at least one record has been processed.
func ETASeconds(processed, total int64, elapsed time.Duration) *float64 {
	if processed <= 0 || total <= 0 || elapsed < 0 {
		return nil
	}
	remaining := total - processed
	if remaining < 0 {
		remaining = 0
	}
	eta := round2(float64(remaining) * elapsed.Seconds() / float64(processed))
	return &eta
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
