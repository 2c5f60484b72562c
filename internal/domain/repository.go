package domain

import (
	"context"
	"time"
)

// Repository abstracts task persistence. Implementations return
// *TaskNotFoundError for unknown IDs.
type Repository interface {
	FindAll(ctx context.Context) ([]*Task, error)
	FindByID(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, task *Task) error
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id string) error
	// DeleteByState removes every task in state and returns their IDs.
	DeleteByState(ctx context.Context, state State) ([]string, error)
	// MarkNotified stamps Notification.NotifiedAt. It returns
	// *AlreadyNotifiedError when the stamp is already set.
	MarkNotified(ctx context.Context, id string, at time.Time) error
}
