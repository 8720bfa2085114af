package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var taskID int64
	switch subject {
	case SubjectTaskCreated:
		var p TaskCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		taskID = p.TaskID
	case SubjectTaskCancel:
		var p TaskCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		taskID = p.TaskID
	default:
		return nil
	}

	if taskID <= 0 {
		return fmt.Errorf("schema validation failed for %s: missing task_id", subject)
	}
	return nil
}
