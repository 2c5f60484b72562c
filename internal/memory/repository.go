// Package memory is a process-local task store. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

// Repository keeps tasks in a map. Every read and write copies the task so
// callers never share pointers with the store.
type Repository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{tasks: make(map[string]*domain.Task)}
}

// FindAll returns tasks ordered by creation time.
func (r *Repository) FindAll(_ context.Context) ([]*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) FindByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t.Clone(), nil
}

func (r *Repository) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *Repository) Update(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tasks[task.ID]
	if !ok {
		return &domain.TaskNotFoundError{TaskID: task.ID}
	}
	next := task.Clone()
	// notified_at is owned by MarkNotified.
	if next.Notification != nil {
		next.Notification.NotifiedAt = nil
		if old.Notification != nil && old.Notification.NotifiedAt != nil {
			at := *old.Notification.NotifiedAt
			next.Notification.NotifiedAt = &at
		}
	}
	r.tasks[task.ID] = next
	return nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	delete(r.tasks, id)
	return nil
}

func (r *Repository) DeleteByState(_ context.Context, state domain.State) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, t := range r.tasks {
		if t.State == state {
			ids = append(ids, id)
			delete(r.tasks, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) MarkNotified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	if t.Notification == nil {
		t.Notification = &domain.Notification{}
	}
	if t.Notification.NotifiedAt != nil {
		return &domain.AlreadyNotifiedError{TaskID: id, NotifiedAt: *t.Notification.NotifiedAt}
	}
	stamp := at.UTC()
	t.Notification.NotifiedAt = &stamp
	return nil
}
