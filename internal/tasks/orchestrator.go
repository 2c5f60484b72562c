// Package tasks coordinates task mutations: domain validation, persistence
// and reminder scheduling, in that order.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-reminder/internal/clock"
	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/kafka"
	"github.com/ramiqadoumi/go-task-reminder/internal/reminder"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

// Scheduler is the subset of *reminder.Scheduler the orchestrator drives.
type Scheduler interface {
	ScheduleOne(task *domain.Task) bool
	ScheduleMany(tasks []*domain.Task) int
	UpdateOne(task *domain.Task) bool
	ClearOne(taskID string)
	HandleStateChange(task *domain.Task)
	Status(taskID string) reminder.Status
}

// Orchestrator runs every task mutation through validation, the repository
// and then the scheduler. Scheduler effects never fail a mutation.
type Orchestrator struct {
	repo      domain.Repository
	scheduler Scheduler
	clock     clock.Clock
	logger    *slog.Logger
	events    kafka.Producer // nil = lifecycle events disabled
	newID     func() string
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option         { return func(o *Orchestrator) { o.clock = c } }
func WithLogger(l *slog.Logger) Option       { return func(o *Orchestrator) { o.logger = l } }
func WithIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.newID = f } }

// WithEventProducer publishes a domain.TaskEvent to kafka.TopicTaskEvents
// after every successful mutation.
func WithEventProducer(p kafka.Producer) Option { return func(o *Orchestrator) { o.events = p } }

// NewOrchestrator creates an Orchestrator over repo and scheduler.
func NewOrchestrator(repo domain.Repository, scheduler Scheduler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		scheduler: scheduler,
		clock:     clock.Real(),
		logger:    slog.Default(),
		newID:     func() string { return uuid.New().String() },
		tracer:    otel.Tracer("tasks"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NotificationInput carries reminder settings in create and update requests.
type NotificationInput struct {
	Enabled         bool `json:"enabled"`
	ReminderMinutes *int `json:"reminder_minutes,omitempty"`
}

// CreateRequest is the input to Create. Type defaults to one-time.
type CreateRequest struct {
	Text         string             `json:"text"`
	Type         domain.TaskType    `json:"type"`
	DueAt        string             `json:"due_at"`
	Notification *NotificationInput `json:"notification,omitempty"`
}

// UpdateRequest changes the fields that are set. An empty DueAt clears the
// due date of a daily task.
type UpdateRequest struct {
	Text         *string            `json:"text,omitempty"`
	DueAt        *string            `json:"due_at,omitempty"`
	Notification *NotificationInput `json:"notification,omitempty"`
}

// ReactivateRequest optionally replaces the due date and text of the new cycle.
type ReactivateRequest struct {
	DueAt string `json:"due_at,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Create validates req, persists a new pending task and arms its reminder.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*domain.Task, error) {
	ctx, span := o.tracer.Start(ctx, "tasks.create")
	defer span.End()

	now := o.clock.Now()
	typ := req.Type
	if typ == "" {
		typ = domain.TypeOneTime
	}
	if !typ.Valid() {
		return nil, o.reject(span, "create", &domain.ValidationError{Field: "type", Code: domain.CodeInvalidType})
	}
	if err := domain.ValidateText(req.Text); err != nil {
		return nil, o.reject(span, "create", err)
	}
	dueAt, err := domain.ValidateDueDate(req.DueAt, typ, now)
	if err != nil {
		return nil, o.reject(span, "create", err)
	}
	notification, err := notificationFrom(req.Notification)
	if err != nil {
		return nil, o.reject(span, "create", err)
	}

	task := &domain.Task{
		ID:           o.newID(),
		Text:         strings.TrimSpace(req.Text),
		Type:         typ,
		State:        domain.StatePending,
		DueAt:        dueAt,
		Notification: notification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(attribute.String("task.id", task.ID))

	if err := o.repo.Create(ctx, task); err != nil {
		return nil, o.fail(span, "create", "create task", task.ID, err)
	}
	o.scheduler.ScheduleOne(task)
	o.succeed(ctx, "create", task)
	return task, nil
}

// Update applies req to an editable task and re-arms its reminder.
func (o *Orchestrator) Update(ctx context.Context, id string, req UpdateRequest) (*domain.Task, error) {
	ctx, span := o.tracer.Start(ctx, "tasks.update", trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	task, err := o.load(ctx, span, "update", id)
	if err != nil {
		return nil, err
	}
	if !domain.CanBeEdited(task) {
		return nil, o.reject(span, "update", &domain.TaskNotEditableError{TaskID: id, State: task.State})
	}

	now := o.clock.Now()
	if req.Text != nil {
		if err := domain.ValidateText(*req.Text); err != nil {
			return nil, o.reject(span, "update", err)
		}
		task.Text = strings.TrimSpace(*req.Text)
	}
	if req.DueAt != nil {
		dueAt, err := domain.ValidateDueDate(*req.DueAt, task.Type, now)
		if err != nil {
			return nil, o.reject(span, "update", err)
		}
		task.DueAt = dueAt
	}
	if req.Notification != nil {
		n, err := notificationFrom(req.Notification)
		if err != nil {
			return nil, o.reject(span, "update", err)
		}
		// A delivered reminder stays delivered until the task is reactivated.
		if task.Notification != nil {
			n.NotifiedAt = task.Notification.NotifiedAt
		}
		task.Notification = n
	}
	task.UpdatedAt = now

	if err := o.repo.Update(ctx, task); err != nil {
		return nil, o.fail(span, "update", "update task", id, err)
	}
	o.scheduler.UpdateOne(task)
	o.succeed(ctx, "update", task)
	return task, nil
}

// Delete clears the reminder and then removes the task.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	ctx, span := o.tracer.Start(ctx, "tasks.delete", trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	o.scheduler.ClearOne(id)
	if err := o.repo.Delete(ctx, id); err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return o.reject(span, "delete", err)
		}
		return o.fail(span, "delete", "delete task", id, err)
	}
	o.succeed(ctx, "delete", &domain.Task{ID: id})
	return nil
}

// Activate moves a pending task to active.
func (o *Orchestrator) Activate(ctx context.Context, id string) (*domain.Task, error) {
	return o.transition(ctx, id, domain.ActionActivate)
}

// Complete moves an active task to completed and clears its reminder.
func (o *Orchestrator) Complete(ctx context.Context, id string) (*domain.Task, error) {
	return o.transition(ctx, id, domain.ActionComplete)
}

// Fail moves an active task to failed and clears its reminder.
func (o *Orchestrator) Fail(ctx context.Context, id string) (*domain.Task, error) {
	return o.transition(ctx, id, domain.ActionFail)
}

func (o *Orchestrator) transition(ctx context.Context, id string, a domain.Action) (*domain.Task, error) {
	action := string(a)
	ctx, span := o.tracer.Start(ctx, "tasks."+action, trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	task, err := o.load(ctx, span, action, id)
	if err != nil {
		return nil, err
	}
	if err := task.Transition(a, o.clock.Now()); err != nil {
		return nil, o.reject(span, action, err)
	}
	if err := o.repo.Update(ctx, task); err != nil {
		return nil, o.fail(span, action, action+" task", id, err)
	}
	o.scheduler.HandleStateChange(task)
	o.succeed(ctx, action, task)
	return task, nil
}

// Reactivate starts a new pending cycle for a completed or failed task. The
// new task gets its own ID and links back through OriginalID; the closed task
// is kept unchanged.
func (o *Orchestrator) Reactivate(ctx context.Context, id string, req ReactivateRequest) (*domain.Task, error) {
	const action = "reactivate"
	ctx, span := o.tracer.Start(ctx, "tasks.reactivate", trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	source, err := o.load(ctx, span, action, id)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()
	task, err := source.Reactivated(o.newID(), now)
	if err != nil {
		return nil, o.reject(span, action, err)
	}
	if req.Text != "" {
		if err := domain.ValidateText(req.Text); err != nil {
			return nil, o.reject(span, action, err)
		}
		task.Text = strings.TrimSpace(req.Text)
	}
	if req.DueAt != "" {
		dueAt, err := domain.ValidateDueDate(req.DueAt, task.Type, now)
		if err != nil {
			return nil, o.reject(span, action, err)
		}
		task.DueAt = dueAt
	}

	if err := o.repo.Create(ctx, task); err != nil {
		return nil, o.fail(span, action, "reactivate task", id, err)
	}
	o.scheduler.HandleStateChange(task)
	o.succeed(ctx, action, task)
	return task, nil
}

// DeleteAllCompleted removes every completed task and returns how many were deleted.
func (o *Orchestrator) DeleteAllCompleted(ctx context.Context) (int, error) {
	return o.deleteByState(ctx, domain.StateCompleted)
}

// DeleteAllFailed removes every failed task and returns how many were deleted.
func (o *Orchestrator) DeleteAllFailed(ctx context.Context) (int, error) {
	return o.deleteByState(ctx, domain.StateFailed)
}

func (o *Orchestrator) deleteByState(ctx context.Context, state domain.State) (int, error) {
	action := "delete_" + string(state)
	ctx, span := o.tracer.Start(ctx, "tasks."+action)
	defer span.End()

	all, err := o.repo.FindAll(ctx)
	if err != nil {
		return 0, o.fail(span, action, "delete "+string(state)+" tasks", "", err)
	}
	for _, t := range all {
		if t.State == state {
			o.scheduler.ClearOne(t.ID)
		}
	}
	ids, err := o.repo.DeleteByState(ctx, state)
	if err != nil {
		return 0, o.fail(span, action, "delete "+string(state)+" tasks", "", err)
	}
	span.SetAttributes(attribute.Int("tasks.deleted", len(ids)))
	telemetry.TaskActions.WithLabelValues(action, "ok").Inc()
	for _, id := range ids {
		o.publish(ctx, action, &domain.Task{ID: id})
	}
	o.logger.Info("tasks deleted", slog.String("state", string(state)), slog.Int("count", len(ids)))
	return len(ids), nil
}

// List returns tasks in display order. An empty state returns every task.
func (o *Orchestrator) List(ctx context.Context, state domain.State) ([]*domain.Task, error) {
	all, err := o.repo.FindAll(ctx)
	if err != nil {
		o.logger.Error("failed to load tasks", slog.String("error", err.Error()))
		return nil, &ActionError{Action: "load tasks", Err: err}
	}
	out := make([]*domain.Task, 0, len(all))
	for _, t := range all {
		if state == "" || t.State == state {
			out = append(out, t)
		}
	}
	domain.SortByPriority(out, o.clock.Now())
	return out, nil
}

// Get returns one task.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Task, error) {
	task, err := o.repo.FindByID(ctx, id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		o.logger.Error("failed to load task", slog.String("task_id", id), slog.String("error", err.Error()))
		return nil, &ActionError{Action: "load task", Err: err}
	}
	return task, nil
}

// ReminderStatus reports the scheduler's view of an existing task.
func (o *Orchestrator) ReminderStatus(ctx context.Context, id string) (reminder.Status, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return reminder.Status{}, err
	}
	return o.scheduler.Status(id), nil
}

// Now returns the orchestrator's current time.
func (o *Orchestrator) Now() time.Time { return o.clock.Now() }

// MarkNotified records a delivered reminder. It is the scheduler's
// reminder.FiredFunc.
func (o *Orchestrator) MarkNotified(ctx context.Context, taskID string, firedAt time.Time) {
	err := o.repo.MarkNotified(ctx, taskID, firedAt)
	var already *domain.AlreadyNotifiedError
	var notFound *domain.TaskNotFoundError
	switch {
	case err == nil:
		o.publish(ctx, "notified", &domain.Task{ID: taskID})
	case errors.As(err, &already), errors.As(err, &notFound):
		o.logger.Debug("reminder not recorded", slog.String("task_id", taskID), slog.String("reason", err.Error()))
	default:
		o.logger.Error("failed to record reminder delivery",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// Bootstrap arms reminders for every persisted task and returns how many were armed.
func (o *Orchestrator) Bootstrap(ctx context.Context) (int, error) {
	all, err := o.repo.FindAll(ctx)
	if err != nil {
		return 0, &ActionError{Action: "load tasks", Err: err}
	}
	n := o.scheduler.ScheduleMany(all)
	o.logger.Info("reminders restored", slog.Int("tasks", len(all)), slog.Int("armed", n))
	return n, nil
}

// load fetches id for a guarded action. Not-found passes through; anything
// else becomes an ActionError.
func (o *Orchestrator) load(ctx context.Context, span trace.Span, action, id string) (*domain.Task, error) {
	task, err := o.repo.FindByID(ctx, id)
	if err == nil {
		return task, nil
	}
	var notFound *domain.TaskNotFoundError
	if errors.As(err, &notFound) {
		return nil, o.reject(span, action, err)
	}
	return nil, o.fail(span, action, action+" task", id, err)
}

func (o *Orchestrator) reject(span trace.Span, action string, err error) error {
	span.SetStatus(codes.Error, "rejected")
	telemetry.TaskActions.WithLabelValues(action, "rejected").Inc()
	return err
}

func (o *Orchestrator) fail(span trace.Span, action, what, id string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "persistence failed")
	telemetry.TaskActions.WithLabelValues(action, "error").Inc()
	o.logger.Error("failed to "+what,
		slog.String("task_id", id),
		slog.String("error", err.Error()),
	)
	return &ActionError{Action: what, Err: err}
}

func (o *Orchestrator) succeed(ctx context.Context, action string, task *domain.Task) {
	telemetry.TaskActions.WithLabelValues(action, "ok").Inc()
	o.logger.Info("task "+action,
		slog.String("task_id", task.ID),
		slog.String("state", string(task.State)),
	)
	o.publish(ctx, action, task)
}

// publish is best-effort: a broker outage never fails a mutation.
func (o *Orchestrator) publish(ctx context.Context, action string, task *domain.Task) {
	if o.events == nil {
		return
	}
	ev := domain.TaskEvent{
		TaskID:     task.ID,
		Action:     action,
		State:      task.State,
		OccurredAt: o.clock.Now(),
	}
	if err := kafka.PublishJSON(ctx, o.events, kafka.TopicTaskEvents, task.ID, ev); err != nil {
		o.logger.Warn("failed to publish task event",
			slog.String("task_id", task.ID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func notificationFrom(in *NotificationInput) (*domain.Notification, error) {
	if in == nil {
		return nil, nil
	}
	if in.ReminderMinutes != nil && *in.ReminderMinutes < 0 {
		return nil, &domain.ValidationError{Field: "reminder_minutes", Code: domain.CodeInvalidReminder}
	}
	n := &domain.Notification{Enabled: in.Enabled}
	if in.ReminderMinutes != nil {
		m := *in.ReminderMinutes
		n.ReminderMinutes = &m
	}
	return n, nil
}
