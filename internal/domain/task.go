package domain

import "time"

// TaskType is fixed at creation.
type TaskType string

const (
	TypeOneTime TaskType = "one-time"
	TypeDaily   TaskType = "daily"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t == TypeOneTime || t == TypeDaily
}

// State represents the lifecycle states a task can be in.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Action names a lifecycle transition.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionComplete   Action = "complete"
	ActionFail       Action = "fail"
	ActionReactivate Action = "reactivate"
)

// IsEditable returns true for the states whose text and due date may change.
func (s State) IsEditable() bool {
	return s == StatePending || s == StateActive
}

// IsClosed returns true for completed and failed. Closed tasks are edit-locked
// but can still be reactivated.
func (s State) IsClosed() bool {
	return s == StateCompleted || s == StateFailed
}

// Next returns the state reached by applying a to s, and false when the
// transition is not an edge of the lifecycle.
func (s State) Next(a Action) (State, bool) {
	switch {
	case s == StatePending && a == ActionActivate:
		return StateActive, true
	case s == StateActive && a == ActionComplete:
		return StateCompleted, true
	case s == StateActive && a == ActionFail:
		return StateFailed, true
	case s.IsClosed() && a == ActionReactivate:
		return StatePending, true
	}
	return s, false
}

// Notification holds the reminder settings of a task.
type Notification struct {
	Enabled         bool       `json:"enabled"`
	ReminderMinutes *int       `json:"reminder_minutes,omitempty"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
}

// Task is the core domain entity: a unit of work with a lifecycle and an
// optional due-date reminder.
type Task struct {
	ID             string        `json:"id"`
	Text           string        `json:"text"`
	Type           TaskType      `json:"type"`
	State          State         `json:"state"`
	DueAt          *time.Time    `json:"due_at,omitempty"`
	Notification   *Notification `json:"notification,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ActivatedAt    *time.Time    `json:"activated_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	FailedAt       *time.Time    `json:"failed_at,omitempty"`
	IsReactivation bool          `json:"is_reactivation"`
	OriginalID     string        `json:"original_id,omitempty"`
}

// Clone returns a deep copy so callers can mutate it without aliasing the
// pointer fields of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DueAt = cloneTime(t.DueAt)
	c.ActivatedAt = cloneTime(t.ActivatedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.FailedAt = cloneTime(t.FailedAt)
	if t.Notification != nil {
		n := *t.Notification
		if n.ReminderMinutes != nil {
			m := *n.ReminderMinutes
			n.ReminderMinutes = &m
		}
		n.NotifiedAt = cloneTime(n.NotifiedAt)
		c.Notification = &n
	}
	return &c
}

// Transition applies a to the task, stamping the matching timestamp.
// Reactivation is not handled here: it produces a new record (see Reactivated).
func (t *Task) Transition(a Action, now time.Time) error {
	if a == ActionReactivate {
		return &InvalidTransitionError{TaskID: t.ID, State: t.State, Action: a}
	}
	next, ok := t.State.Next(a)
	if !ok {
		return &InvalidTransitionError{TaskID: t.ID, State: t.State, Action: a}
	}
	stamp := now
	switch a {
	case ActionActivate:
		t.ActivatedAt = &stamp
	case ActionComplete:
		t.CompletedAt = &stamp
	case ActionFail:
		t.FailedAt = &stamp
	}
	t.State = next
	t.UpdatedAt = now
	return nil
}

// Reactivated returns the pending task that starts a new cycle for a closed
// task. The source is left untouched so its history survives.
func (t *Task) Reactivated(id string, now time.Time) (*Task, error) {
	next, ok := t.State.Next(ActionReactivate)
	if !ok {
		return nil, &InvalidTransitionError{TaskID: t.ID, State: t.State, Action: ActionReactivate}
	}
	n := t.Clone()
	n.ID = id
	n.State = next
	n.CreatedAt = now
	n.UpdatedAt = now
	n.ActivatedAt = nil
	n.CompletedAt = nil
	n.FailedAt = nil
	n.IsReactivation = true
	n.OriginalID = t.ID
	if n.Notification != nil {
		n.Notification.NotifiedAt = nil
	}
	return n, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
