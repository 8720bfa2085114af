package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "banister-workers"

// Metrics holds all worker metric instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksCancelled metric.Int64Counter
	RecordsWritten metric.Int64Counter
	RecordsFailed  metric.Int64Counter
	BatchesFailed  metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	BatchDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("banister.tasks.started",
		metric.WithDescription("Number of tasks claimed by a worker"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("banister.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("banister.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TasksCancelled, err = meter.Int64Counter("banister.tasks.cancelled",
		metric.WithDescription("Number of tasks cancelled"))
	if err != nil {
		return nil, err
	}

	m.RecordsWritten, err = meter.Int64Counter("banister.records.written",
		metric.WithDescription("Records appended to artifacts"))
	if err != nil {
		return nil, err
	}

	m.RecordsFailed, err = meter.Int64Counter("banister.records.failed",
		metric.WithDescription("Records rejected by a processor"))
	if err != nil {
		return nil, err
	}

	m.BatchesFailed, err = meter.Int64Counter("banister.batches.failed",
		metric.WithDescription("Batches skipped after a batch-level failure"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("banister.task.duration_seconds",
		metric.WithDescription("Task run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram("banister.batch.duration_seconds",
		metric.WithDescription("Batch fetch, process and append duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
