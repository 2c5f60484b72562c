package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-reminder/internal/memory"
	"github.com/ramiqadoumi/go-task-reminder/internal/notify"
	"github.com/ramiqadoumi/go-task-reminder/internal/reminder"
	"github.com/ramiqadoumi/go-task-reminder/internal/sqlite"
	"github.com/ramiqadoumi/go-task-reminder/internal/tasks"
	"github.com/ramiqadoumi/go-task-reminder/services/api/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestOpenStore_Memory(t *testing.T) {
	b, err := openStore(context.Background(), config.Config{Store: config.StoreMemory}, discardLogger())
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &memory.Repository{}, b.repo)
	assert.Nil(t, b.ready)
	assert.Nil(t, b.redis)
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Config{
		Store:      config.StoreSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "tasks.db"),
	}
	b, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &sqlite.Repository{}, b.repo)
	require.NotNil(t, b.ready)
	assert.NoError(t, b.ready(context.Background()))
}

func TestOpenStore_SQLiteBadPath(t *testing.T) {
	cfg := config.Config{
		Store:      config.StoreSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "missing", "dir", "tasks.db"),
	}
	_, err := openStore(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestBuildNotifier(t *testing.T) {
	logger := discardLogger()

	n := buildNotifier(config.Config{Notifier: config.NotifierLog}, nil, nil, logger)
	assert.IsType(t, &notify.LogNotifier{}, n)

	n = buildNotifier(config.Config{Notifier: config.NotifierKafka, ReminderChannel: "email"}, nil, nil, logger)
	assert.IsType(t, &notify.KafkaNotifier{}, n)

	// Throttling needs redis; without a client the limit is ignored.
	n = buildNotifier(config.Config{Notifier: config.NotifierLog, ThrottleLimit: 5}, nil, nil, logger)
	assert.IsType(t, &notify.LogNotifier{}, n)
}

func TestNewRouter_MountsAPI(t *testing.T) {
	logger := discardLogger()
	repo := memory.NewRepository()
	sched := reminder.New(notify.NewLogNotifier(logger), repo, reminder.WithLogger(logger))
	orch := tasks.NewOrchestrator(repo, sched, tasks.WithLogger(logger))

	srv := httptest.NewServer(newRouter(orch, logger))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json",
		strings.NewReader(`{"text":"Water plants","type":"daily"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
