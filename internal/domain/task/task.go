// Package task defines the Task domain entity for batch worker jobs.
package task

import (
	"fmt"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
)

// Type selects the source collection, processor hook and output schema of a task.
type Type string

const (
	TypeBookingsExport   Type = "bookings_export"
	TypePaymentsExport   Type = "payments_export"
	TypeUsersExport      Type = "users_export"
	TypeServicesExport   Type = "services_export"
	TypeDataCleanup      Type = "data_cleanup"
	TypeDataAnalysis     Type = "data_analysis"
	TypeReportGeneration Type = "report_generation"
)

// Types lists every supported task type in declaration order.
var Types = []Type{
	TypeBookingsExport,
	TypePaymentsExport,
	TypeUsersExport,
	TypeServicesExport,
	TypeDataCleanup,
	TypeDataAnalysis,
	TypeReportGeneration,
}

// ParseType converts s into a known Type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid task type %q: %w", s, domain.ErrValidation)
}

// State is the lifecycle state of a task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
// pending -> processing -> {completed, failed, cancelled}; terminal states are absorbing.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}

// Batch size bounds accepted at creation time.
const (
	MinBatchSize = 1
	MaxBatchSize = 10000
)

// Filters maps recognized filter keys to JSON values.
type Filters map[string]any

// Task is one end-to-end data-processing job.
type Task struct {
	ID               int64      `json:"id"`
	Type             Type       `json:"type"`
	State            State      `json:"state"`
	CreatedBy        string     `json:"created_by,omitempty"`
	BatchSize        int        `json:"batch_size"`
	Filters          Filters    `json:"filters"`
	DateFrom         *time.Time `json:"date_from,omitempty"`
	DateTo           *time.Time `json:"date_to,omitempty"`
	TotalRecords     int64      `json:"total_records"`
	ProcessedRecords int64      `json:"processed_records"`
	FailedRecords    int64      `json:"failed_records"`
	ArtifactRef      string     `json:"artifact_ref,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CancelRequested  bool       `json:"cancel_requested"`
	ClaimedBy        string     `json:"claimed_by,omitempty"`
	HeartbeatAt      *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Window returns the task's date window.
func (t *Task) Window() Window {
	return Window{From: t.DateFrom, To: t.DateTo}
}

// Window bounds the creation timestamp of source records. Either end may be nil.
type Window struct {
	From *time.Time
	To   *time.Time
}

// WindowInput is the wire form of a date window. Bounds accept RFC 3339
// timestamps or plain dates (YYYY-MM-DD).
type WindowInput struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// CreateRequest holds the fields needed to enqueue a new task.
type CreateRequest struct {
	Type       Type         `json:"type"`
	BatchSize  int          `json:"batch_size"`
	Filters    Filters      `json:"filters,omitempty"`
	DateWindow *WindowInput `json:"date_window,omitempty"`
	CreatedBy  string       `json:"-"`
}

// ListFilter narrows task listings. Zero values match everything.
type ListFilter struct {
	State State
	Type  Type
	Limit int
}
