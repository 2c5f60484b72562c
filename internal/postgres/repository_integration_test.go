//go:build integration

package postgres_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/postgres"
)

var testPostgresDSN string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	pgCtr, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("taskreminder"),
		tcPostgres.WithUsername("taskreminder"),
		tcPostgres.WithPassword("taskreminder"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	defer pgCtr.Terminate(ctx) //nolint:errcheck

	dsn, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres connection string: %v", err)
	}
	testPostgresDSN = dsn

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	// Applied twice: migrations must be idempotent.
	for i := 0; i < 2; i++ {
		if err := postgres.Migrate(ctx, pool, nil); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
	}
	pool.Close()

	return m.Run()
}

// newRepo creates a repository connected to the test container and truncates
// the table on cleanup.
func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE tasks") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewRepository(pool)
}

func makeTask(state domain.State) *domain.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	due := now.Add(2 * time.Hour)
	minutes := 30
	return &domain.Task{
		ID:           uuid.New().String(),
		Text:         "Pay rent",
		Type:         domain.TypeOneTime,
		State:        state,
		DueAt:        &due,
		Notification: &domain.Notification{Enabled: true, ReminderMinutes: &minutes},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPostgres_Create_FindByID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	require.NoError(t, repo.Create(ctx, task))

	got, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestPostgres_NilNotificationRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	task.Type = domain.TypeDaily
	task.DueAt = nil
	task.Notification = nil
	task.IsReactivation = true
	task.OriginalID = uuid.New().String()
	require.NoError(t, repo.Create(ctx, task))

	got, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Notification)
	assert.Nil(t, got.DueAt)
	assert.Equal(t, task.OriginalID, got.OriginalID)
}

func TestPostgres_FindByID_NotFound(t *testing.T) {
	repo := newRepo(t)
	id := uuid.New().String()

	_, err := repo.FindByID(context.Background(), id)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.TaskID)
}

func TestPostgres_Update(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, task.Transition(domain.ActionActivate, task.CreatedAt.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, task))

	got, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, got.State)
	require.NotNil(t, got.ActivatedAt)
	assert.True(t, got.ActivatedAt.Equal(*task.ActivatedAt))

	missing := makeTask(domain.StatePending)
	var notFound *domain.TaskNotFoundError
	assert.ErrorAs(t, repo.Update(ctx, missing), &notFound)
}

func TestPostgres_Delete(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.Delete(ctx, task.ID))

	var notFound *domain.TaskNotFoundError
	assert.ErrorAs(t, repo.Delete(ctx, task.ID), &notFound)
}

func TestPostgres_DeleteByState(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	done1, done2 := makeTask(domain.StateCompleted), makeTask(domain.StateCompleted)
	keep := makeTask(domain.StateFailed)
	for _, tk := range []*domain.Task{done1, done2, keep} {
		require.NoError(t, repo.Create(ctx, tk))
	}

	ids, err := repo.DeleteByState(ctx, domain.StateCompleted)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{done1.ID, done2.ID}, ids)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)
}

func TestPostgres_MarkNotified(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	require.NoError(t, repo.Create(ctx, task))

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.MarkNotified(ctx, task.ID, at))

	got, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notification.NotifiedAt)
	assert.True(t, got.Notification.NotifiedAt.Equal(at))

	var already *domain.AlreadyNotifiedError
	require.ErrorAs(t, repo.MarkNotified(ctx, task.ID, at.Add(time.Minute)), &already)
	assert.True(t, already.NotifiedAt.Equal(at))

	var notFound *domain.TaskNotFoundError
	assert.ErrorAs(t, repo.MarkNotified(ctx, uuid.New().String(), at), &notFound)
}

func TestPostgres_UpdateKeepsNotifiedAt(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.StatePending)
	require.NoError(t, repo.Create(ctx, task))
	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.MarkNotified(ctx, task.ID, at))

	// task still carries the pre-delivery notification.
	task.State = domain.StateActive
	require.NoError(t, repo.Update(ctx, task))

	got, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, got.State)
	require.NotNil(t, got.Notification.NotifiedAt)
	assert.True(t, got.Notification.NotifiedAt.Equal(at))
}

func TestPostgres_FindAll_OrderedByCreation(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	second := makeTask(domain.StatePending)
	first := makeTask(domain.StatePending)
	first.CreatedAt = second.CreatedAt.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
}
