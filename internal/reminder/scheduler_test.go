package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-reminder/internal/clock"
	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/notify"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu         sync.Mutex
	supported  bool
	permission notify.Permission
	showErr    error
	shown      []notify.Notification
	cancelled  []string
	cancelAll  int
	requested  int
	onShow     func() // runs after a successful Show, outside n.mu
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{supported: true, permission: notify.PermissionGranted}
}

func (n *fakeNotifier) Supported() bool { return n.supported }
func (n *fakeNotifier) Permission() notify.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}
func (n *fakeNotifier) RequestPermission(context.Context) (notify.Permission, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested++
	n.permission = notify.PermissionGranted
	return n.permission, nil
}
func (n *fakeNotifier) Show(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	if n.showErr != nil {
		n.mu.Unlock()
		return n.showErr
	}
	n.shown = append(n.shown, note)
	hook := n.onShow
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}
func (n *fakeNotifier) Cancel(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, id)
	return nil
}
func (n *fakeNotifier) CancelAll(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelAll++
	return nil
}

type fakeSource struct {
	tasks []*domain.Task
	err   error
	calls int
}

func (s *fakeSource) FindAll(context.Context) ([]*domain.Task, error) {
	s.calls++
	return s.tasks, s.err
}

// ── helpers ───────────────────────────────────────────────────────────────────

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestScheduler(n notify.Notifier, src TaskSource) (*Scheduler, *clock.Fake) {
	c := clock.NewFake(t0)
	s := New(n, src, WithClock(c), WithLogger(quietLogger()))
	return s, c
}

func reminderTask(id string, due time.Time, minutes int) *domain.Task {
	return &domain.Task{
		ID:           id,
		Text:         "task " + id,
		Type:         domain.TypeOneTime,
		State:        domain.StatePending,
		DueAt:        &due,
		Notification: &domain.Notification{Enabled: true, ReminderMinutes: &minutes},
	}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestScheduleOne_ArmsAtNotificationTime(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	task := reminderTask("a", t0.Add(2*time.Hour), 30)

	require.True(t, s.ScheduleOne(task))
	at, ok := s.FireTime("a")
	require.True(t, ok)
	assert.Equal(t, t0.Add(90*time.Minute), at)

	c.Advance(89 * time.Minute)
	assert.Empty(t, n.shown, "must not fire early")

	c.Advance(time.Minute)
	require.Len(t, n.shown, 1)
	assert.Equal(t, "a", n.shown[0].ID)
	assert.Contains(t, n.shown[0].Body, "task a")
	assert.False(t, s.Status("a").IsScheduled, "fired timer is no longer armed")
}

func TestScheduleOne_Idempotent(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	task := reminderTask("a", t0.Add(2*time.Hour), 30)

	assert.True(t, s.ScheduleOne(task))
	assert.False(t, s.ScheduleOne(task), "second call must not arm again")
	assert.Equal(t, 1, s.Armed())
	assert.Equal(t, 1, c.Pending())

	c.Advance(3 * time.Hour)
	assert.Len(t, n.shown, 1, "exactly one notification")
}

func TestScheduleOne_Ineligible(t *testing.T) {
	due := t0.Add(2 * time.Hour)
	notified := t0
	tests := []struct {
		name string
		mut  func(*domain.Task)
	}{
		{"disabled", func(tk *domain.Task) { tk.Notification.Enabled = false }},
		{"no settings", func(tk *domain.Task) { tk.Notification = nil }},
		{"no due date", func(tk *domain.Task) { tk.DueAt = nil }},
		{"zero due date", func(tk *domain.Task) { tk.DueAt = &time.Time{} }},
		{"completed", func(tk *domain.Task) { tk.State = domain.StateCompleted }},
		{"failed", func(tk *domain.Task) { tk.State = domain.StateFailed }},
		{"already notified", func(tk *domain.Task) { tk.Notification.NotifiedAt = &notified }},
		{"fire time passed", func(tk *domain.Task) { m := 180; tk.Notification.ReminderMinutes = &m }},
		{"fire time now", func(tk *domain.Task) { m := 120; tk.Notification.ReminderMinutes = &m }},
		{"no offset", func(tk *domain.Task) { tk.Notification.ReminderMinutes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(newFakeNotifier(), &fakeSource{})
			task := reminderTask("x", due, 30)
			tt.mut(task)
			assert.False(t, s.ScheduleOne(task))
			assert.Equal(t, 0, s.Armed())
		})
	}
}

func TestScheduleOne_ActiveTaskArmed(t *testing.T) {
	s, _ := newTestScheduler(newFakeNotifier(), &fakeSource{})
	task := reminderTask("a", t0.Add(time.Hour), 10)
	task.State = domain.StateActive
	assert.True(t, s.ScheduleOne(task))
}

func TestScheduleOne_DegradesWithoutPermission(t *testing.T) {
	n := newFakeNotifier()
	n.permission = notify.PermissionDenied
	s, _ := newTestScheduler(n, &fakeSource{})

	assert.False(t, s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 10)))
	st := s.Status("a")
	assert.False(t, st.IsScheduled)
	assert.True(t, st.Supported)
	assert.False(t, st.PermissionGranted)

	n.supported = false
	assert.False(t, s.Status("a").Supported)
}

func TestClearOne_CancelsTimer(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 10))

	s.ClearOne("a")
	s.ClearOne("a")
	s.ClearOne("never-armed")

	c.Advance(2 * time.Hour)
	assert.Empty(t, n.shown)
	assert.Equal(t, []string{"a"}, n.cancelled, "only armed ids reach the notifier")
}

func TestClearOne_AfterFireIsNoop(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 10))

	c.Advance(time.Hour)
	require.Len(t, n.shown, 1)
	s.ClearOne("a")
	assert.Empty(t, n.cancelled)
}

func TestRoundTrip_ScheduleClearSchedule(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	task := reminderTask("a", t0.Add(2*time.Hour), 30)

	s.ScheduleOne(task)
	s.ClearOne("a")
	s.ScheduleOne(task)

	assert.Equal(t, 1, s.Armed())
	assert.Equal(t, 1, c.Pending())
	assert.True(t, s.Status("a").IsScheduled)

	c.Advance(3 * time.Hour)
	assert.Len(t, n.shown, 1)
}

func TestUpdateOne_ReArmsAtNewTime(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	task := reminderTask("a", t0.Add(2*time.Hour), 30)
	s.ScheduleOne(task)

	later := t0.Add(5 * time.Hour)
	task.DueAt = &later
	require.True(t, s.UpdateOne(task))

	at, _ := s.FireTime("a")
	assert.Equal(t, t0.Add(270*time.Minute), at)

	c.Advance(2 * time.Hour)
	assert.Empty(t, n.shown, "old fire time must not fire")
	c.Advance(3 * time.Hour)
	assert.Len(t, n.shown, 1)
}

func TestHandleStateChange(t *testing.T) {
	s, _ := newTestScheduler(newFakeNotifier(), &fakeSource{})
	task := reminderTask("a", t0.Add(2*time.Hour), 30)

	task.State = domain.StateActive
	s.HandleStateChange(task)
	assert.True(t, s.Status("a").IsScheduled)

	for _, st := range []domain.State{domain.StateCompleted, domain.StateFailed} {
		task.State = domain.StateActive
		s.HandleStateChange(task)
		task.State = st
		s.HandleStateChange(task)
		assert.False(t, s.Status("a").IsScheduled, "state %s must clear the timer", st)
	}

	task.State = domain.StatePending
	s.HandleStateChange(task)
	assert.True(t, s.Status("a").IsScheduled, "reactivated task is re-armed")
}

func TestClearAll(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	s.ScheduleMany([]*domain.Task{
		reminderTask("a", t0.Add(time.Hour), 10),
		reminderTask("b", t0.Add(2*time.Hour), 10),
	})
	require.Equal(t, 2, s.Armed())

	s.ClearAll()
	c.Advance(3 * time.Hour)
	assert.Equal(t, 0, s.Armed())
	assert.Empty(t, n.shown)
	assert.Equal(t, 1, n.cancelAll)
}

func TestScheduleMany_CountsArmed(t *testing.T) {
	s, _ := newTestScheduler(newFakeNotifier(), &fakeSource{})
	disabled := reminderTask("c", t0.Add(time.Hour), 10)
	disabled.Notification.Enabled = false

	n := s.ScheduleMany([]*domain.Task{
		reminderTask("a", t0.Add(time.Hour), 10),
		reminderTask("b", t0.Add(time.Hour), 10),
		disabled,
		nil,
	})
	assert.Equal(t, 2, n)
}

func TestFire_CallsFiredFunc(t *testing.T) {
	var gotID string
	var gotAt time.Time
	s, c := newTestScheduler(newFakeNotifier(), &fakeSource{})
	s.SetFiredFunc(func(_ context.Context, id string, at time.Time) { gotID, gotAt = id, at })

	s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 15))
	c.Advance(time.Hour)

	assert.Equal(t, "a", gotID)
	assert.Equal(t, t0.Add(45*time.Minute), gotAt)
}

func TestFire_ShowErrorSkipsFiredFunc(t *testing.T) {
	n := newFakeNotifier()
	n.showErr = errors.New("broker down")
	called := false
	s, c := newTestScheduler(n, &fakeSource{})
	s.SetFiredFunc(func(context.Context, string, time.Time) { called = true })

	s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 15))
	c.Advance(time.Hour)
	assert.False(t, called, "failed delivery must not be persisted as notified")
}

func TestFire_UsesSnapshotText(t *testing.T) {
	n := newFakeNotifier()
	s, c := newTestScheduler(n, &fakeSource{})
	task := reminderTask("a", t0.Add(time.Hour), 15)
	task.Text = "Pay rent"
	s.ScheduleOne(task)
	task.Text = "mutated by caller"

	c.Advance(time.Hour)
	require.Len(t, n.shown, 1)
	assert.Contains(t, n.shown[0].Body, "Pay rent")
}

// ── lifecycle & sweep ─────────────────────────────────────────────────────────

func TestStart_IdempotentAndSweeps(t *testing.T) {
	n := newFakeNotifier()
	src := &fakeSource{tasks: []*domain.Task{reminderTask("a", t0.Add(time.Hour), 10)}}
	s, c := newTestScheduler(n, src)

	h1 := s.Start(context.Background())
	h2 := s.Start(context.Background())
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, src.calls, "one immediate sweep")
	assert.True(t, s.Status("a").IsScheduled)

	c.Advance(DefaultSweepInterval)
	assert.Equal(t, 2, src.calls)
	c.Advance(2 * DefaultSweepInterval)
	assert.Equal(t, 4, src.calls)

	h1.Stop()
	h1.Stop()
	c.Advance(time.Hour)
	assert.Equal(t, 4, src.calls, "no sweeps after Stop")

	h3 := s.Start(context.Background())
	assert.NotSame(t, h1, h3, "restart after Stop yields a fresh handle")
	h3.Stop()
}

func TestStart_RequestsDefaultPermission(t *testing.T) {
	n := newFakeNotifier()
	n.permission = notify.PermissionDefault
	s, _ := newTestScheduler(n, &fakeSource{})

	h := s.Start(context.Background())
	defer h.Stop()
	assert.Equal(t, 1, n.requested)
	assert.True(t, s.Status("x").PermissionGranted)
}

func TestStart_CustomSchedule(t *testing.T) {
	src := &fakeSource{}
	c := clock.NewFake(t0)
	s := New(newFakeNotifier(), src, WithClock(c), WithLogger(quietLogger()),
		WithSweepSchedule(cron.Every(time.Minute)))

	h := s.Start(context.Background())
	defer h.Stop()
	c.Advance(3 * time.Minute)
	assert.Equal(t, 4, src.calls)
}

func TestSweep_CorrectsDrift(t *testing.T) {
	n := newFakeNotifier()
	task := reminderTask("a", t0.Add(2*time.Hour), 30)
	src := &fakeSource{}
	s, c := newTestScheduler(n, src)
	s.ScheduleOne(task)

	// Due date changed underneath the scheduler.
	moved := reminderTask("a", t0.Add(4*time.Hour), 30)
	src.tasks = []*domain.Task{moved}
	require.NoError(t, s.Sweep(context.Background()))

	at, ok := s.FireTime("a")
	require.True(t, ok)
	assert.Equal(t, t0.Add(210*time.Minute), at)
	assert.Equal(t, 1, c.Pending())
}

func TestSweep_WithinToleranceKeepsTimer(t *testing.T) {
	task := reminderTask("a", t0.Add(2*time.Hour), 30)
	src := &fakeSource{}
	c := clock.NewFake(t0)
	s := New(newFakeNotifier(), src, WithClock(c), WithLogger(quietLogger()),
		WithDriftTolerance(time.Minute))
	s.ScheduleOne(task)

	nudged := reminderTask("a", t0.Add(2*time.Hour+30*time.Second), 30)
	src.tasks = []*domain.Task{nudged}
	require.NoError(t, s.Sweep(context.Background()))

	at, _ := s.FireTime("a")
	assert.Equal(t, t0.Add(90*time.Minute), at)
}

func TestSweep_DisarmsVanishedAndIneligible(t *testing.T) {
	n := newFakeNotifier()
	s, _ := newTestScheduler(n, &fakeSource{})
	a := reminderTask("a", t0.Add(time.Hour), 10)
	b := reminderTask("b", t0.Add(time.Hour), 10)
	s.ScheduleMany([]*domain.Task{a, b})

	closed := b.Clone()
	closed.State = domain.StateCompleted
	s.source = &fakeSource{tasks: []*domain.Task{closed}}

	require.NoError(t, s.Sweep(context.Background()))
	assert.Equal(t, 0, s.Armed())
	assert.ElementsMatch(t, []string{"a", "b"}, n.cancelled, "disarmed reminders are cancelled at the notifier")
}

func TestSweep_ArmsUnarmedTasks(t *testing.T) {
	src := &fakeSource{tasks: []*domain.Task{reminderTask("a", t0.Add(time.Hour), 10)}}
	s, _ := newTestScheduler(newFakeNotifier(), src)

	require.NoError(t, s.Sweep(context.Background()))
	assert.True(t, s.Status("a").IsScheduled)
}

func TestSweep_DeliversMissedReminder(t *testing.T) {
	n := newFakeNotifier()
	var fired []string
	// Reminder time passed 5 minutes ago, task due in 25 minutes.
	missed := reminderTask("late", t0.Add(25*time.Minute), 30)
	// Task already past due: its reminder is no longer useful.
	stale := reminderTask("stale", t0.Add(-time.Minute), 30)
	src := &fakeSource{tasks: []*domain.Task{missed, stale}}
	s, _ := newTestScheduler(n, src)
	s.SetFiredFunc(func(_ context.Context, id string, _ time.Time) { fired = append(fired, id) })

	require.NoError(t, s.Sweep(context.Background()))
	require.Len(t, n.shown, 1)
	assert.Equal(t, "late", n.shown[0].ID)
	assert.Equal(t, []string{"late"}, fired)
}

// hookSource runs during FindAll, after the snapshot was taken.
type hookSource struct {
	tasks []*domain.Task
	hook  func()
}

func (s *hookSource) FindAll(context.Context) ([]*domain.Task, error) {
	snapshot := make([]*domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		snapshot[i] = t.Clone()
	}
	if s.hook != nil {
		s.hook()
	}
	return snapshot, nil
}

func TestSweep_ClearedDuringLoadStaysCleared(t *testing.T) {
	n := newFakeNotifier()
	task := reminderTask("a", t0.Add(2*time.Hour), 30)
	src := &hookSource{tasks: []*domain.Task{task}}
	s, c := newTestScheduler(n, src)
	require.True(t, s.ScheduleOne(task))
	src.hook = func() { s.ClearOne("a") }

	require.NoError(t, s.Sweep(context.Background()))
	assert.False(t, s.Status("a").IsScheduled)

	c.Advance(3 * time.Hour)
	assert.Empty(t, n.shown)
}

func TestSweep_ArmedDuringLoadIsKept(t *testing.T) {
	n := newFakeNotifier()
	task := reminderTask("new", t0.Add(2*time.Hour), 30)
	src := &hookSource{}
	s, c := newTestScheduler(n, src)
	src.hook = func() { s.ScheduleOne(task) }

	require.NoError(t, s.Sweep(context.Background()))
	assert.True(t, s.Status("new").IsScheduled, "task created after the snapshot is not vanished")
	assert.Empty(t, n.cancelled)

	c.Advance(2 * time.Hour)
	assert.Len(t, n.shown, 1)
}

func TestSweep_DuringDeliveryDoesNotRedeliver(t *testing.T) {
	n := newFakeNotifier()
	task := reminderTask("a", t0.Add(2*time.Hour), 30)
	// The source never learns about the delivery.
	src := &fakeSource{tasks: []*domain.Task{task}}
	s, c := newTestScheduler(n, src)
	n.onShow = func() { require.NoError(t, s.Sweep(context.Background())) }
	s.SetFiredFunc(func(ctx context.Context, _ string, _ time.Time) {
		require.NoError(t, s.Sweep(ctx))
	})
	require.True(t, s.ScheduleOne(task))

	c.Advance(90 * time.Minute)
	assert.Len(t, n.shown, 1)
	assert.Equal(t, 2, src.calls)
}

func TestSweep_SourceErrorLeavesTimers(t *testing.T) {
	s, _ := newTestScheduler(newFakeNotifier(), &fakeSource{})
	s.ScheduleOne(reminderTask("a", t0.Add(time.Hour), 10))
	s.source = &fakeSource{err: errors.New("db down")}

	require.Error(t, s.Sweep(context.Background()))
	assert.Equal(t, 1, s.Armed())
}

func TestParseSweepSchedule(t *testing.T) {
	sched, err := ParseSweepSchedule("")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), sched.Next(t0))

	sched, err = ParseSweepSchedule("@every 30s")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Second), sched.Next(t0))

	_, err = ParseSweepSchedule("not a schedule")
	require.Error(t, err)
}

func TestEndToEnd_PayRentCompletedBeforeReminder(t *testing.T) {
	n := newFakeNotifier()
	c := clock.NewFake(time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC))
	s := New(n, &fakeSource{}, WithClock(c), WithLogger(quietLogger()))

	due := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	task := reminderTask("rent", due, 60)
	task.Text = "Pay rent"
	require.True(t, s.ScheduleOne(task))
	at, _ := s.FireTime("rent")
	assert.Equal(t, time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC), at)

	task.State = domain.StateActive
	s.HandleStateChange(task)
	c.Advance(12 * time.Hour)
	task.State = domain.StateCompleted
	s.HandleStateChange(task)

	c.Advance(48 * time.Hour)
	assert.Empty(t, n.shown, "completed task must not notify")
}
