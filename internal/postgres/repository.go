package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/postgres/migrations"
)

const taskColumns = `id, text, type, state, due_at,
	has_notification, notify_enabled, reminder_minutes, notified_at,
	created_at, updated_at, activated_at, completed_at, failed_at,
	is_reactivation, original_id`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the domain.Repository interface.
func NewRepository(pool *pgxpool.Pool) domain.Repository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations in order. It calls applied after
// each file when non-nil.
func Migrate(ctx context.Context, pool *pgxpool.Pool, applied func(name string)) error {
	for _, f := range migrations.Files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
		if applied != nil {
			applied(f)
		}
	}
	return nil
}

func (r *repository) FindAll(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *repository) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return task, err
}

func (r *repository) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, taskArgs(task)...)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, task *domain.Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET
			text = $2, type = $3, state = $4, due_at = $5,
			has_notification = $6, notify_enabled = $7, reminder_minutes = $8,
			created_at = $9, updated_at = $10, activated_at = $11, completed_at = $12, failed_at = $13,
			is_reactivation = $14, original_id = $15
		WHERE id = $1
	`, updateArgs(task)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: task.ID}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func (r *repository) DeleteByState(ctx context.Context, state domain.State) ([]string, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM tasks WHERE state = $1 RETURNING id`, string(state))
	if err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	return ids, nil
}

func (r *repository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET notified_at = $2, has_notification = TRUE
		WHERE id = $1 AND notified_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark task %s notified: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var notifiedAt *time.Time
	err = r.pool.QueryRow(ctx, `SELECT notified_at FROM tasks WHERE id = $1`, id).Scan(&notifiedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &domain.TaskNotFoundError{TaskID: id}
	case err != nil:
		return fmt.Errorf("mark task %s notified: %w", id, err)
	case notifiedAt != nil:
		return &domain.AlreadyNotifiedError{TaskID: id, NotifiedAt: notifiedAt.UTC()}
	}
	return fmt.Errorf("mark task %s notified: no row updated", id)
}

func taskArgs(t *domain.Task) []any {
	var (
		hasNotification, enabled bool
		minutes                  *int
		notifiedAt               *time.Time
		originalID               *string
	)
	if t.Notification != nil {
		hasNotification = true
		enabled = t.Notification.Enabled
		minutes = t.Notification.ReminderMinutes
		notifiedAt = t.Notification.NotifiedAt
	}
	if t.OriginalID != "" {
		originalID = &t.OriginalID
	}
	return []any{
		t.ID, t.Text, string(t.Type), string(t.State), t.DueAt,
		hasNotification, enabled, minutes, notifiedAt,
		t.CreatedAt, t.UpdatedAt, t.ActivatedAt, t.CompletedAt, t.FailedAt,
		t.IsReactivation, originalID,
	}
}

// updateArgs is taskArgs without notified_at, which only MarkNotified writes.
func updateArgs(t *domain.Task) []any {
	args := taskArgs(t)
	return append(args[:8:8], args[9:]...)
}

// scanTask reads a task row from any pgx row type. pgx.ErrNoRows is returned
// unwrapped so callers can map it.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		task                     domain.Task
		typ, state               string
		hasNotification, enabled bool
		minutes                  *int
		notifiedAt               *time.Time
		originalID               *string
	)
	err := row.Scan(
		&task.ID, &task.Text, &typ, &state, &task.DueAt,
		&hasNotification, &enabled, &minutes, &notifiedAt,
		&task.CreatedAt, &task.UpdatedAt, &task.ActivatedAt, &task.CompletedAt, &task.FailedAt,
		&task.IsReactivation, &originalID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Type = domain.TaskType(typ)
	task.State = domain.State(state)
	if hasNotification {
		task.Notification = &domain.Notification{Enabled: enabled, ReminderMinutes: minutes, NotifiedAt: notifiedAt}
	}
	if originalID != nil {
		task.OriginalID = *originalID
	}
	normalize(&task)
	return &task, nil
}

// normalize converts every timestamp to UTC.
func normalize(t *domain.Task) {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	for _, p := range []*time.Time{t.DueAt, t.ActivatedAt, t.CompletedAt, t.FailedAt} {
		if p != nil {
			*p = p.UTC()
		}
	}
	if t.Notification != nil && t.Notification.NotifiedAt != nil {
		*t.Notification.NotifiedAt = t.Notification.NotifiedAt.UTC()
	}
}
