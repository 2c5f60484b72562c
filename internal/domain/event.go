package domain

import "time"

// ReminderEvent is published when a task reminder fires and is consumed by
// the relay for delivery on an external channel.
type ReminderEvent struct {
	ID      string    `json:"id"`
	TaskID  string    `json:"task_id"`
	Channel string    `json:"channel"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	DueAt   time.Time `json:"due_at"`
	FireAt  time.Time `json:"fire_at"`
	SentAt  time.Time `json:"sent_at"`
}

// TaskEvent records a successful orchestrator mutation.
type TaskEvent struct {
	TaskID     string    `json:"task_id"`
	Action     string    `json:"action"`
	State      State     `json:"state,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
