package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/reminder"
	"github.com/ramiqadoumi/go-task-reminder/internal/tasks"
)

// TaskService is the orchestrator surface the REST handler drives.
type TaskService interface {
	Create(ctx context.Context, req tasks.CreateRequest) (*domain.Task, error)
	Update(ctx context.Context, id string, req tasks.UpdateRequest) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) (*domain.Task, error)
	Complete(ctx context.Context, id string) (*domain.Task, error)
	Fail(ctx context.Context, id string) (*domain.Task, error)
	Reactivate(ctx context.Context, id string, req tasks.ReactivateRequest) (*domain.Task, error)
	DeleteAllCompleted(ctx context.Context) (int, error)
	DeleteAllFailed(ctx context.Context) (int, error)
	List(ctx context.Context, state domain.State) ([]*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	ReminderStatus(ctx context.Context, id string) (reminder.Status, error)
	Now() time.Time
}

// REST serves the task API over HTTP.
type REST struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(svc TaskService, logger *slog.Logger) *REST {
	return &REST{tasks: svc, logger: logger}
}

// Routes mounts the task endpoints on r.
func (h *REST) Routes(r chi.Router) {
	r.Get("/tasks", h.ListTasks)
	r.Post("/tasks", h.CreateTask)
	r.Delete("/tasks/completed", h.DeleteCompleted)
	r.Delete("/tasks/failed", h.DeleteFailed)
	r.Route("/tasks/{id}", func(r chi.Router) {
		r.Get("/", h.GetTask)
		r.Patch("/", h.UpdateTask)
		r.Delete("/", h.DeleteTask)
		r.Post("/activate", h.transition(domain.ActionActivate))
		r.Post("/complete", h.transition(domain.ActionComplete))
		r.Post("/fail", h.transition(domain.ActionFail))
		r.Post("/reactivate", h.ReactivateTask)
		r.Get("/reminder", h.ReminderStatus)
	})
}

// TaskResponse is a task with its display hints.
type TaskResponse struct {
	*domain.Task
	Overdue  bool           `json:"overdue"`
	Priority int            `json:"priority"`
	Badges   []domain.Badge `json:"badges"`
}

// ListResponse is the GET /tasks response body.
type ListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// DeletedResponse is returned by the bulk delete endpoints.
type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ListTasks handles GET /api/v1/tasks?state=.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	state := domain.State(r.URL.Query().Get("state"))
	switch state {
	case "", domain.StatePending, domain.StateActive, domain.StateCompleted, domain.StateFailed:
	default:
		writeError(w, http.StatusBadRequest, "InvalidState", "state must be pending, active, completed or failed")
		return
	}

	list, err := h.tasks.List(r.Context(), state)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	now := h.tasks.Now()
	resp := ListResponse{Tasks: make([]TaskResponse, 0, len(list)), Count: len(list)}
	for _, t := range list {
		resp.Tasks = append(resp.Tasks, present(t, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.create_task")
	defer span.End()

	var req tasks.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.Create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		h.writeDomainError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("task.id", task.ID))
	w.Header().Set("Location", "/api/v1/tasks/"+task.ID)
	writeJSON(w, http.StatusCreated, present(task, h.tasks.Now()))
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, present(task, h.tasks.Now()))
}

// UpdateTask handles PATCH /api/v1/tasks/{id}.
func (h *REST) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.update_task")
	defer span.End()
	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("task.id", id))

	var req tasks.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.Update(ctx, id, req)
	if err != nil {
		span.RecordError(err)
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, present(task, h.tasks.Now()))
}

// DeleteTask handles DELETE /api/v1/tasks/{id}.
func (h *REST) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition returns the handler for POST /api/v1/tasks/{id}/<action>.
func (h *REST) transition(action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("api").Start(r.Context(), "api."+string(action)+"_task")
		defer span.End()
		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("task.id", id))

		var (
			task *domain.Task
			err  error
		)
		switch action {
		case domain.ActionActivate:
			task, err = h.tasks.Activate(ctx, id)
		case domain.ActionComplete:
			task, err = h.tasks.Complete(ctx, id)
		case domain.ActionFail:
			task, err = h.tasks.Fail(ctx, id)
		}
		if err != nil {
			span.RecordError(err)
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, present(task, h.tasks.Now()))
	}
}

// ReactivateTask handles POST /api/v1/tasks/{id}/reactivate. The body is
// optional.
func (h *REST) ReactivateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.reactivate_task")
	defer span.End()
	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("task.id", id))

	var req tasks.ReactivateRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.Reactivate(ctx, id, req)
	if err != nil {
		span.RecordError(err)
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tasks/"+task.ID)
	writeJSON(w, http.StatusCreated, present(task, h.tasks.Now()))
}

// DeleteCompleted handles DELETE /api/v1/tasks/completed.
func (h *REST) DeleteCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.tasks.DeleteAllCompleted(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// DeleteFailed handles DELETE /api/v1/tasks/failed.
func (h *REST) DeleteFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.tasks.DeleteAllFailed(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// ReminderStatus handles GET /api/v1/tasks/{id}/reminder.
func (h *REST) ReminderStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tasks.ReminderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func present(t *domain.Task, now time.Time) TaskResponse {
	badges := domain.Badges(t, now)
	if badges == nil {
		badges = []domain.Badge{}
	}
	return TaskResponse{
		Task:     t,
		Overdue:  domain.IsOverdue(t, now),
		Priority: domain.Priority(t, now),
		Badges:   badges,
	}
}

// writeDomainError maps orchestrator errors onto HTTP statuses.
func (h *REST) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation    *domain.ValidationError
		notFound      *domain.TaskNotFoundError
		transition    *domain.InvalidTransitionError
		notEditable   *domain.TaskNotEditableError
		actionFailure *tasks.ActionError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, string(validation.Code), validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "NotFound", notFound.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "InvalidTransition", transition.Error())
	case errors.As(err, &notEditable):
		writeError(w, http.StatusConflict, "NotEditable", notEditable.Error())
	case errors.As(err, &actionFailure):
		writeError(w, http.StatusInternalServerError, "", actionFailure.Error())
	default:
		h.logger.Error("unhandled error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "", "internal error")
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "InvalidBody", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, Code: errCode})
}
