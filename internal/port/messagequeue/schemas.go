package messagequeue

// TaskCreatedPayload is the schema for workers.tasks.created messages.
type TaskCreatedPayload struct {
	TaskID int64  `json:"task_id"`
	Type   string `json:"type"`
}

// TaskCancelPayload is the schema for workers.tasks.cancel messages.
type TaskCancelPayload struct {
	TaskID int64 `json:"task_id"`
}
