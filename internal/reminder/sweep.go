package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-task-reminder/internal/clock"
	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/notify"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

// Handle owns a running reconciliation loop. Stop ends it.
type Handle struct {
	s      *Scheduler
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// Start requests notification permission if it has not been decided, runs
// one sweep immediately and then one per tick of the sweep schedule.
// Calling Start while a loop is running returns the running loop's handle.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	s.mu.Lock()
	if s.handle != nil {
		h := s.handle
		s.mu.Unlock()
		return h
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{s: s, ctx: runCtx, cancel: cancel}
	s.handle = h
	s.baseCtx = runCtx
	s.mu.Unlock()

	if s.notifier.Supported() && s.notifier.Permission() == notify.PermissionDefault {
		if p, err := s.notifier.RequestPermission(runCtx); err != nil {
			s.logger.Warn("request notification permission", slog.String("error", err.Error()))
		} else {
			s.logger.Info("notification permission", slog.String("permission", string(p)))
		}
	}

	_ = s.Sweep(runCtx)
	h.next()
	return h
}

// Stop cancels the reconciliation loop. Armed timers are left alone; call
// ClearAll to drop them. Stop is idempotent.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.cancel()

	s := h.s
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
		s.baseCtx = context.Background()
	}
	s.mu.Unlock()
}

func (h *Handle) next() {
	now := h.s.clock.Now()
	wait := h.s.schedule.Next(now).Sub(now)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timer = h.s.clock.AfterFunc(wait, func() {
		_ = h.s.Sweep(h.ctx)
		h.next()
	})
}

// Sweep re-derives which tasks should be armed and corrects drift: timers for
// tasks that vanished or became ineligible are cancelled, timers whose fire
// time moved by more than the drift tolerance are re-armed, eligible unarmed
// tasks are armed, and reminders whose time passed unseen are delivered now.
// Tasks armed, cleared or delivered while the source was being read keep the
// scheduler's state, as do tasks whose delivery is still in flight.
func (s *Scheduler) Sweep(ctx context.Context) error {
	s.mu.Lock()
	s.sweeping++
	start := s.seq
	s.mu.Unlock()
	defer s.endSweep()

	tasks, err := s.source.FindAll(ctx)
	if err != nil {
		telemetry.ReminderSweeps.WithLabelValues("error").Inc()
		s.logger.Error("reminder sweep: load tasks", slog.String("error", err.Error()))
		return err
	}
	telemetry.ReminderSweeps.WithLabelValues("ok").Inc()

	now := s.clock.Now()
	canDeliver := s.deliverable()
	known := make(map[string]struct{}, len(tasks))
	var missed []*domain.Task
	var cancelled []string
	var armedNew, rearmed int

	s.mu.Lock()
	for _, t := range tasks {
		known[t.ID] = struct{}{}
		if s.staleLocked(t.ID, start) {
			continue
		}
		e, isArmed := s.armed[t.ID]
		fireAt, ok := eligible(t, now)

		switch {
		case isArmed && ok:
			if s.drifted(e.fireAt, fireAt) {
				e.timer.Stop()
				delete(s.armed, t.ID)
				s.armLocked(t, fireAt, now)
				rearmed++
			} else {
				e.task = t.Clone()
			}
		case isArmed && overdueReminder(t, now):
			// Timer is about to fire; leave it.
		case isArmed:
			s.disarmLocked(t.ID)
			cancelled = append(cancelled, t.ID)
		case ok && canDeliver:
			s.armLocked(t, fireAt, now)
			armedNew++
		case canDeliver && overdueReminder(t, now):
			s.inFlight[t.ID] = struct{}{}
			missed = append(missed, t.Clone())
		}
	}
	for id := range s.armed {
		if _, ok := known[id]; ok || s.staleLocked(id, start) {
			continue
		}
		s.disarmLocked(id)
		cancelled = append(cancelled, id)
	}
	telemetry.RemindersArmed.Set(float64(len(s.armed)))
	baseCtx := s.baseCtx
	s.mu.Unlock()

	for _, id := range cancelled {
		s.cancel(baseCtx, id)
	}
	telemetry.ReminderSweepCorrections.Add(float64(armedNew + len(cancelled) + rearmed + len(missed)))
	for _, t := range missed {
		s.deliver(ctx, t, *domain.NotificationTime(t))
	}

	s.logger.Debug("reminder sweep",
		slog.Int("tasks", len(tasks)),
		slog.Int("armed", armedNew),
		slog.Int("rearmed", rearmed),
		slog.Int("disarmed", len(cancelled)),
		slog.Int("missed", len(missed)),
	)
	return nil
}

// staleLocked reports whether the sweep that started at seq start must leave
// taskID alone.
func (s *Scheduler) staleLocked(taskID string, start uint64) bool {
	if _, busy := s.inFlight[taskID]; busy {
		return true
	}
	return s.touched[taskID] > start
}

func (s *Scheduler) endSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeping--
	if s.sweeping == 0 {
		clear(s.touched)
	}
}

func (s *Scheduler) drifted(armed, want time.Time) bool {
	d := armed.Sub(want)
	if d < 0 {
		d = -d
	}
	return d > s.driftTolerance
}
