package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

const taskColumns = `id, text, type, state, due_at,
	has_notification, notify_enabled, reminder_minutes, notified_at,
	created_at, updated_at, activated_at, completed_at, failed_at,
	is_reactivation, original_id`

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository implements domain.Repository on database/sql. Timestamps are
// stored as RFC 3339 text in UTC.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an opened database (see Open).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) FindAll(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
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

func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return task, err
}

func (r *Repository) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, taskArgs(task)...)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, task *domain.Task) error {
	all := taskArgs(task)
	// notified_at is left to MarkNotified; id moves last for the WHERE clause.
	args := append(append(all[1:8:8], all[9:]...), all[0])
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			text = ?, type = ?, state = ?, due_at = ?,
			has_notification = ?, notify_enabled = ?, reminder_minutes = ?,
			created_at = ?, updated_at = ?, activated_at = ?, completed_at = ?, failed_at = ?,
			is_reactivation = ?, original_id = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return expectOne(res, task.ID)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return expectOne(res, id)
}

func (r *Repository) DeleteByState(ctx context.Context, state domain.State) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE state = ? ORDER BY id`, string(state))
	if err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delete %s tasks: %w", state, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE state = ?`, string(state)); err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete %s tasks: %w", state, err)
	}
	return ids, nil
}

func (r *Repository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET notified_at = ?, has_notification = 1
		WHERE id = ? AND notified_at IS NULL
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark task %s notified: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var notifiedAt sql.NullString
	err = r.db.QueryRowContext(ctx, `SELECT notified_at FROM tasks WHERE id = ?`, id).Scan(&notifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	if err != nil {
		return fmt.Errorf("mark task %s notified: %w", id, err)
	}
	prev, err := parseNullTime(notifiedAt)
	if err != nil || prev == nil {
		return fmt.Errorf("mark task %s notified: no row updated", id)
	}
	return &domain.AlreadyNotifiedError{TaskID: id, NotifiedAt: *prev}
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for task %s: %w", id, err)
	}
	if n == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func taskArgs(t *domain.Task) []any {
	var (
		hasNotification, enabled bool
		minutes                  sql.NullInt64
		notifiedAt               sql.NullString
		originalID               sql.NullString
	)
	if t.Notification != nil {
		hasNotification = true
		enabled = t.Notification.Enabled
		if t.Notification.ReminderMinutes != nil {
			minutes = sql.NullInt64{Int64: int64(*t.Notification.ReminderMinutes), Valid: true}
		}
		notifiedAt = nullTime(t.Notification.NotifiedAt)
	}
	if t.OriginalID != "" {
		originalID = sql.NullString{String: t.OriginalID, Valid: true}
	}
	return []any{
		t.ID, t.Text, string(t.Type), string(t.State), nullTime(t.DueAt),
		hasNotification, enabled, minutes, notifiedAt,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		nullTime(t.ActivatedAt), nullTime(t.CompletedAt), nullTime(t.FailedAt),
		t.IsReactivation, originalID,
	}
}

func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		task                                  domain.Task
		typ, state, createdAt, updatedAt      string
		dueAt, notifiedAt, originalID         sql.NullString
		activatedAt, completedAt, failedAt    sql.NullString
		hasNotification, enabled, reactivated bool
		minutes                               sql.NullInt64
	)
	err := row.Scan(
		&task.ID, &task.Text, &typ, &state, &dueAt,
		&hasNotification, &enabled, &minutes, &notifiedAt,
		&createdAt, &updatedAt, &activatedAt, &completedAt, &failedAt,
		&reactivated, &originalID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Type = domain.TaskType(typ)
	task.State = domain.State(state)
	task.IsReactivation = reactivated
	task.OriginalID = originalID.String

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("scan task %s created_at: %w", task.ID, err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("scan task %s updated_at: %w", task.ID, err)
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{dueAt, &task.DueAt},
		{activatedAt, &task.ActivatedAt},
		{completedAt, &task.CompletedAt},
		{failedAt, &task.FailedAt},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, fmt.Errorf("scan task %s: %w", task.ID, err)
		}
	}

	if hasNotification {
		n := &domain.Notification{Enabled: enabled}
		if minutes.Valid {
			m := int(minutes.Int64)
			n.ReminderMinutes = &m
		}
		if n.NotifiedAt, err = parseNullTime(notifiedAt); err != nil {
			return nil, fmt.Errorf("scan task %s notified_at: %w", task.ID, err)
		}
		task.Notification = n
	}
	return &task, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return domain.ParseTimestamp(s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
