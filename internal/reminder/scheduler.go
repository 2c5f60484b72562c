package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-task-reminder/internal/clock"
	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/notify"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

const (
	DefaultSweepInterval  = 5 * time.Minute
	DefaultDriftTolerance = time.Second
	notificationTitle     = "Task reminder"
)

// TaskSource lists every known task for the reconciliation sweep.
type TaskSource interface {
	FindAll(ctx context.Context) ([]*domain.Task, error)
}

// FiredFunc is called after a reminder was presented. Implementations persist
// the delivery so it is not repeated after a restart.
type FiredFunc func(ctx context.Context, taskID string, firedAt time.Time)

// Status is a read-only diagnostic for one task.
type Status struct {
	IsScheduled       bool `json:"is_scheduled"`
	Supported         bool `json:"supported"`
	PermissionGranted bool `json:"permission_granted"`
}

type entry struct {
	timer  clock.Timer
	fireAt time.Time
	gen    uint64
	task   *domain.Task
}

// Scheduler keeps exactly one armed timer per task that is eligible for a
// reminder, and periodically reconciles the armed set against the task source.
type Scheduler struct {
	notifier       notify.Notifier
	source         TaskSource
	clock          clock.Clock
	logger         *slog.Logger
	schedule       cron.Schedule
	driftTolerance time.Duration

	mu       sync.Mutex
	armed    map[string]*entry
	gen      uint64
	handle   *Handle
	baseCtx  context.Context
	onFired  FiredFunc
	inFlight map[string]struct{} // fired or missed, delivery not yet persisted

	// While a sweep is loading tasks, every arm, disarm and settled delivery
	// stamps the task with the next seq. A sweep ignores tasks stamped after
	// it started: its snapshot of them is older than the scheduler's view.
	seq      uint64
	touched  map[string]uint64
	sweeping int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c clock.Clock) Option            { return func(s *Scheduler) { s.clock = c } }
func WithLogger(l *slog.Logger) Option          { return func(s *Scheduler) { s.logger = l } }
func WithSweepSchedule(cs cron.Schedule) Option { return func(s *Scheduler) { s.schedule = cs } }
func WithDriftTolerance(d time.Duration) Option { return func(s *Scheduler) { s.driftTolerance = d } }
func WithFiredFunc(f FiredFunc) Option          { return func(s *Scheduler) { s.onFired = f } }

// New creates a Scheduler. Nothing is armed and no sweep runs until Start.
func New(notifier notify.Notifier, source TaskSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier:       notifier,
		source:         source,
		clock:          clock.Real(),
		logger:         slog.Default(),
		schedule:       cron.Every(DefaultSweepInterval),
		driftTolerance: DefaultDriftTolerance,
		armed:          make(map[string]*entry),
		inFlight:       make(map[string]struct{}),
		touched:        make(map[string]uint64),
		baseCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseSweepSchedule accepts a cron expression or descriptor such as
// "@every 5m". An empty spec yields the default interval.
func ParseSweepSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return cron.Every(DefaultSweepInterval), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return sched, nil
}

// SetFiredFunc replaces the delivery callback.
func (s *Scheduler) SetFiredFunc(f FiredFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFired = f
}

// ScheduleOne arms a timer for task when it is eligible and not armed yet.
// It reports whether a timer was armed.
func (s *Scheduler) ScheduleOne(task *domain.Task) bool {
	if task == nil {
		return false
	}
	now := s.clock.Now()
	fireAt, ok := eligible(task, now)
	if !ok {
		return false
	}
	if !s.deliverable() {
		s.logger.Debug("reminder not armed: notifications unavailable", slog.String("task_id", task.ID))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, armed := s.armed[task.ID]; armed {
		return false
	}
	if _, busy := s.inFlight[task.ID]; busy {
		return false
	}
	s.armLocked(task, fireAt, now)
	return true
}

// ScheduleMany calls ScheduleOne for every task and returns how many were armed.
func (s *Scheduler) ScheduleMany(tasks []*domain.Task) int {
	n := 0
	for _, t := range tasks {
		if s.ScheduleOne(t) {
			n++
		}
	}
	return n
}

// ClearOne cancels the timer for taskID. Unknown or already fired IDs are a no-op.
func (s *Scheduler) ClearOne(taskID string) {
	s.mu.Lock()
	s.touchLocked(taskID)
	ok := s.disarmLocked(taskID)
	telemetry.RemindersArmed.Set(float64(len(s.armed)))
	ctx := s.baseCtx
	s.mu.Unlock()

	if ok {
		s.cancel(ctx, taskID)
	}
}

// UpdateOne re-arms task after its due date or reminder offset changed.
func (s *Scheduler) UpdateOne(task *domain.Task) bool {
	s.ClearOne(task.ID)
	return s.ScheduleOne(task)
}

// HandleStateChange disarms closed tasks and (re)arms pending or active ones.
func (s *Scheduler) HandleStateChange(task *domain.Task) {
	switch task.State {
	case domain.StateCompleted, domain.StateFailed:
		s.ClearOne(task.ID)
	case domain.StatePending, domain.StateActive:
		s.ScheduleOne(task)
	}
}

// ClearAll cancels every armed timer.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	for id := range s.armed {
		s.disarmLocked(id)
	}
	telemetry.RemindersArmed.Set(0)
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := s.notifier.CancelAll(ctx); err != nil {
		s.logger.Warn("cancel all notifications", slog.String("error", err.Error()))
	}
}

// Status reports whether taskID is armed and whether notifications can be shown.
func (s *Scheduler) Status(taskID string) Status {
	s.mu.Lock()
	_, armed := s.armed[taskID]
	s.mu.Unlock()
	return Status{
		IsScheduled:       armed,
		Supported:         s.notifier.Supported(),
		PermissionGranted: s.notifier.Permission() == notify.PermissionGranted,
	}
}

// Armed returns the number of armed timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// FireTime returns the time the armed timer for taskID will fire.
func (s *Scheduler) FireTime(taskID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.armed[taskID]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

func (s *Scheduler) armLocked(task *domain.Task, fireAt, now time.Time) {
	s.gen++
	gen := s.gen
	id := task.ID
	e := &entry{fireAt: fireAt, gen: gen, task: task.Clone()}
	e.timer = s.clock.AfterFunc(fireAt.Sub(now), func() { s.fire(id, gen) })
	s.armed[id] = e
	s.touchLocked(id)
	telemetry.RemindersArmed.Set(float64(len(s.armed)))
	s.logger.Debug("reminder armed", slog.String("task_id", id), slog.Time("fire_at", fireAt))
}

// disarmLocked stops and forgets the timer for taskID. It reports whether one
// was armed; the caller cancels the notification once s.mu is released.
func (s *Scheduler) disarmLocked(taskID string) bool {
	e, ok := s.armed[taskID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.armed, taskID)
	s.touchLocked(taskID)
	return true
}

func (s *Scheduler) touchLocked(taskID string) {
	if s.sweeping == 0 {
		return
	}
	s.seq++
	s.touched[taskID] = s.seq
}

func (s *Scheduler) cancel(ctx context.Context, taskID string) {
	if err := s.notifier.Cancel(ctx, taskID); err != nil {
		s.logger.Warn("cancel notification", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}

// fire runs on timer expiry. An entry cleared or re-armed since the timer was
// created is treated as not armed.
func (s *Scheduler) fire(taskID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.armed[taskID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.armed, taskID)
	s.inFlight[taskID] = struct{}{}
	telemetry.RemindersArmed.Set(float64(len(s.armed)))
	ctx := s.baseCtx
	s.mu.Unlock()

	s.deliver(ctx, e.task, e.fireAt)
}

// deliver presents the reminder for a task the caller put in s.inFlight and
// takes it out again once the outcome is recorded.
func (s *Scheduler) deliver(ctx context.Context, task *domain.Task, fireAt time.Time) {
	defer s.settle(task.ID)

	note := notify.Notification{
		ID:     task.ID,
		Title:  notificationTitle,
		Body:   fmt.Sprintf("%s (due %s)", task.Text, domain.FormatDueTime(*task.DueAt)),
		DueAt:  *task.DueAt,
		FireAt: fireAt,
	}
	if err := s.notifier.Show(ctx, note); err != nil {
		telemetry.RemindersFired.WithLabelValues("error").Inc()
		s.logger.Warn("reminder delivery failed, next sweep retries",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.RemindersFired.WithLabelValues("ok").Inc()
	firedAt := s.clock.Now()
	s.logger.Info("reminder fired", slog.String("task_id", task.ID), slog.Time("fire_at", fireAt))

	s.mu.Lock()
	onFired := s.onFired
	s.mu.Unlock()
	if onFired != nil {
		onFired(ctx, task.ID, firedAt)
	}
}

func (s *Scheduler) settle(taskID string) {
	s.mu.Lock()
	delete(s.inFlight, taskID)
	s.touchLocked(taskID)
	s.mu.Unlock()
}

// deliverable reports whether the notifier can present reminders right now.
func (s *Scheduler) deliverable() bool {
	return s.notifier.Supported() && s.notifier.Permission() == notify.PermissionGranted
}

// eligible returns the fire time of task when a timer should be armed for it.
func eligible(task *domain.Task, now time.Time) (time.Time, bool) {
	if !domain.HasNotifications(task) || task.Notification.NotifiedAt != nil {
		return time.Time{}, false
	}
	if task.DueAt == nil || task.DueAt.IsZero() || !task.State.IsEditable() {
		return time.Time{}, false
	}
	at := domain.NotificationTime(task)
	if at == nil || !at.After(now) {
		return time.Time{}, false
	}
	return *at, true
}

// overdueReminder reports whether task's reminder time passed without a
// delivery while the task itself is not due yet.
func overdueReminder(task *domain.Task, now time.Time) bool {
	return task.State.IsEditable() &&
		domain.IsNotificationDue(task, now) &&
		task.DueAt.After(now)
}
