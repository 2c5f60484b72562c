package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the maximum task text length in characters, after trimming.
const MaxTextLength = 500

// dueSoonWindow is how close the due date must be for the due-soon badge.
const dueSoonWindow = 24 * time.Hour

// ValidateText checks the task text.
func ValidateText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Field: "text", Code: CodeEmptyText}
	}
	if utf8.RuneCountInString(trimmed) > MaxTextLength {
		return &ValidationError{Field: "text", Code: CodeTextTooLong}
	}
	return nil
}

// ValidateDueDate parses and checks a due date for a task of type typ.
// An empty dueAt returns (nil, nil) for daily tasks.
func ValidateDueDate(dueAt string, typ TaskType, now time.Time) (*time.Time, error) {
	dueAt = strings.TrimSpace(dueAt)
	if dueAt == "" {
		if typ == TypeOneTime {
			return nil, &ValidationError{Field: "due_at", Code: CodeDueDateRequired}
		}
		return nil, nil
	}
	t, err := ParseTimestamp(dueAt)
	if err != nil {
		return nil, &ValidationError{Field: "due_at", Code: CodeInvalidDateFormat}
	}
	if !t.After(now) {
		return nil, &ValidationError{Field: "due_at", Code: CodeDueDateInPast}
	}
	return &t, nil
}

// ParseTimestamp parses an ISO 8601 timestamp with a zone offset. Fractional
// seconds are optional.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// IsOverdue reports whether the task's due date is strictly before now.
func IsOverdue(t *Task, now time.Time) bool {
	return t.DueAt != nil && !t.DueAt.IsZero() && t.DueAt.Before(now)
}

// Priority ranks tasks for display within a state group; lower sorts first.
func Priority(t *Task, now time.Time) int {
	if IsOverdue(t, now) {
		return 1
	}
	switch t.State {
	case StateActive:
		return 2
	case StatePending:
		return 3
	case StateFailed:
		return 4
	case StateCompleted:
		return 5
	}
	return 6
}

// SortByPriority orders tasks by priority, then earliest due date (tasks
// without one last), then creation time.
func SortByPriority(tasks []*Task, now time.Time) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if pa, pb := Priority(a, now), Priority(b, now); pa != pb {
			return pa < pb
		}
		switch {
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt == nil && b.DueAt != nil:
			return false
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func CanBeActivated(t *Task) bool   { return t.State == StatePending }
func CanBeCompleted(t *Task) bool   { return t.State == StateActive }
func CanBeFailed(t *Task) bool      { return t.State == StateActive }
func CanBeReactivated(t *Task) bool { return t.State.IsClosed() }
func CanBeEdited(t *Task) bool      { return t.State.IsEditable() }

// HasNotifications reports whether reminders are enabled for the task.
func HasNotifications(t *Task) bool {
	return t.Notification != nil && t.Notification.Enabled
}

// IsNotificationScheduled reports whether a reminder is still outstanding.
func IsNotificationScheduled(t *Task) bool {
	return HasNotifications(t) && t.DueAt != nil && t.Notification.NotifiedAt == nil
}

// NotificationTime returns DueAt minus the reminder offset, or nil when
// reminders are disabled or either input is missing.
func NotificationTime(t *Task) *time.Time {
	if !HasNotifications(t) || t.DueAt == nil || t.DueAt.IsZero() || t.Notification.ReminderMinutes == nil {
		return nil
	}
	at := t.DueAt.Add(-time.Duration(*t.Notification.ReminderMinutes) * time.Minute)
	return &at
}

// IsNotificationDue reports whether the reminder time has been reached and
// the reminder has not been delivered yet.
func IsNotificationDue(t *Task, now time.Time) bool {
	at := NotificationTime(t)
	return at != nil && !at.After(now) && t.Notification.NotifiedAt == nil
}

// Badge is a display hint derived from a task.
type Badge string

const (
	BadgeOverdue     Badge = "overdue"
	BadgeDueSoon     Badge = "due-soon"
	BadgeReminder    Badge = "reminder"
	BadgeReactivated Badge = "reactivated"
	BadgeDaily       Badge = "daily"
)

// Badges returns the display badges for a task. Closed tasks never show
// overdue or due-soon.
func Badges(t *Task, now time.Time) []Badge {
	var out []Badge
	if !t.State.IsClosed() {
		switch {
		case IsOverdue(t, now):
			out = append(out, BadgeOverdue)
		case t.DueAt != nil && t.DueAt.Sub(now) <= dueSoonWindow:
			out = append(out, BadgeDueSoon)
		}
		if IsNotificationScheduled(t) {
			out = append(out, BadgeReminder)
		}
	}
	if t.IsReactivation {
		out = append(out, BadgeReactivated)
	}
	if t.Type == TypeDaily {
		out = append(out, BadgeDaily)
	}
	return out
}

// FormatDueTime renders a due time for notification bodies.
func FormatDueTime(t time.Time) string {
	return t.Format("Mon, 02 Jan 2006 15:04 MST")
}
