package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	TaskActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "api",
		Name:      "task_actions_total",
		Help:      "Task mutations handled by the orchestrator, labelled by action and outcome.",
	}, []string{"action", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, labelled by method and status class.",
	}, []string{"method", "code"})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	RemindersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskreminder",
		Subsystem: "scheduler",
		Name:      "reminders_armed",
		Help:      "Reminder timers currently armed.",
	})

	RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "scheduler",
		Name:      "reminders_fired_total",
		Help:      "Reminders presented, labelled by result.",
	}, []string{"result"})

	ReminderSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "scheduler",
		Name:      "sweeps_total",
		Help:      "Reconciliation sweeps run, labelled by result.",
	}, []string{"result"})

	ReminderSweepCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "scheduler",
		Name:      "sweep_corrections_total",
		Help:      "Timers armed, re-armed, disarmed or delivered late by reconciliation sweeps.",
	})

	// ─── Relay ───────────────────────────────────────────────────────────────────

	RelayDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "relay",
		Name:      "deliveries_total",
		Help:      "Reminder deliveries, labelled by channel and terminal status.",
	}, []string{"channel", "status"})

	RelayDeliveryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskreminder",
		Subsystem: "relay",
		Name:      "delivery_duration_seconds",
		Help:      "End-to-end reminder delivery time in seconds, retries included.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"channel"})

	RelayInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskreminder",
		Subsystem: "relay",
		Name:      "deliveries_in_flight",
		Help:      "Reminders currently being delivered.",
	}, []string{"channel"})

	RelayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "relay",
		Name:      "retries_total",
		Help:      "Total delivery retry attempts.",
	}, []string{"channel"})

	RelayDLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "relay",
		Name:      "dlq_total",
		Help:      "Reminders forwarded to the dead-letter topic.",
	}, []string{"channel"})

	// ─── Kafka ───────────────────────────────────────────────────────────────────

	KafkaMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskreminder",
		Subsystem: "kafka",
		Name:      "messages_total",
		Help:      "Kafka messages by topic and outcome (published, publish_error, handled, handler_error, commit_error).",
	}, []string{"topic", "outcome"})
)
