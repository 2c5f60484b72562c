package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/memory"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, r *memory.Repository, id string, state domain.State, created time.Time) {
	t.Helper()
	require.NoError(t, r.Create(context.Background(), &domain.Task{
		ID: id, Text: id, Type: domain.TypeDaily, State: state,
		CreatedAt: created, UpdatedAt: created,
	}))
}

func TestRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRepository()
	seed(t, r, "a", domain.StatePending, base)

	got, err := r.FindByID(ctx, "a")
	require.NoError(t, err)
	got.Text = "mutated"

	again, _ := r.FindByID(ctx, "a")
	assert.Equal(t, "a", again.Text, "returned tasks must be copies")

	again.Text = "edited"
	require.NoError(t, r.Update(ctx, again))
	stored, _ := r.FindByID(ctx, "a")
	assert.Equal(t, "edited", stored.Text)

	require.NoError(t, r.Delete(ctx, "a"))
	_, err = r.FindByID(ctx, "a")
	var nf *domain.TaskNotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, r.Delete(ctx, "a"), &nf)
	assert.ErrorAs(t, r.Update(ctx, again), &nf)
}

func TestRepository_CreateDuplicate(t *testing.T) {
	r := memory.NewRepository()
	seed(t, r, "a", domain.StatePending, base)
	assert.Error(t, r.Create(context.Background(), &domain.Task{ID: "a"}))
}

func TestRepository_FindAllOrdered(t *testing.T) {
	r := memory.NewRepository()
	seed(t, r, "late", domain.StatePending, base.Add(time.Hour))
	seed(t, r, "early", domain.StatePending, base)

	all, err := r.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "early", all[0].ID)
	assert.Equal(t, "late", all[1].ID)
}

func TestRepository_DeleteByState(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRepository()
	seed(t, r, "c1", domain.StateCompleted, base)
	seed(t, r, "c2", domain.StateCompleted, base)
	seed(t, r, "f1", domain.StateFailed, base)

	ids, err := r.DeleteByState(ctx, domain.StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	all, _ := r.FindAll(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "f1", all[0].ID)
}

func TestRepository_MarkNotified(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRepository()
	seed(t, r, "a", domain.StatePending, base)

	require.NoError(t, r.MarkNotified(ctx, "a", base))
	got, _ := r.FindByID(ctx, "a")
	require.NotNil(t, got.Notification.NotifiedAt)
	assert.True(t, got.Notification.NotifiedAt.Equal(base))

	var already *domain.AlreadyNotifiedError
	assert.ErrorAs(t, r.MarkNotified(ctx, "a", base.Add(time.Minute)), &already)

	var nf *domain.TaskNotFoundError
	assert.ErrorAs(t, r.MarkNotified(ctx, "missing", base), &nf)
}

func TestRepository_UpdateKeepsNotifiedAt(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRepository()
	seed(t, r, "a", domain.StatePending, base)
	stale, _ := r.FindByID(ctx, "a")
	require.NoError(t, r.MarkNotified(ctx, "a", base))

	stale.Notification = &domain.Notification{Enabled: true}
	stale.State = domain.StateActive
	require.NoError(t, r.Update(ctx, stale))

	got, _ := r.FindByID(ctx, "a")
	assert.Equal(t, domain.StateActive, got.State)
	require.NotNil(t, got.Notification.NotifiedAt)
	assert.True(t, got.Notification.NotifiedAt.Equal(base))
}
