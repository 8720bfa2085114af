package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/service"
)

const headerPrincipal = "X-Principal"

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks  *service.TaskService
	Checks map[string]HealthCheck
}

// createTaskResponse is the body of a successful enqueue.
type createTaskResponse struct {
	TaskID int64      `json:"task_id"`
	Task   *task.Task `json:"task"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	req.CreatedBy = r.Header.Get(headerPrincipal)

	t, err := h.Tasks.Enqueue(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.Header().Set("Location", "/api/v1/tasks/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, createTaskResponse{TaskID: t.ID, Task: t})
}

// ListTasks handles GET /api/v1/tasks?state=&type=&limit=.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	tasks, err := h.Tasks.List(r.Context(), task.ListFilter{
		State: task.State(q.Get("state")),
		Type:  task.Type(q.Get("type")),
		Limit: limit,
	})
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	t, err := h.Tasks.Detail(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetTaskStatus handles GET /api/v1/tasks/{id}/status.
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.Tasks.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel. Cancellation is
// cooperative, so success is 202 rather than 200.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "status": "cancellation_requested"})
}

// DownloadArtifact handles GET /api/v1/tasks/{id}/artifact.
func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	rc, t, err := h.Tasks.Artifact(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(t.ArtifactRef)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "artifact download interrupted", "task_id", id, "error", err)
	}
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health. Any failing dependency turns the response
// into a 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	writeJSON(w, code, status)
}

// errNotConnected is reported by queue health checks.
var errNotConnected = errors.New("not connected")

// ConnectedCheck adapts an IsConnected probe into a HealthCheck.
func ConnectedCheck(isConnected func() bool) HealthCheck {
	return func(context.Context) error {
		if !isConnected() {
			return errNotConnected
		}
		return nil
	}
}
