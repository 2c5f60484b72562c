package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/kafka"
)

// KafkaNotifier publishes reminders as domain.ReminderEvent messages for the
// relay to deliver. The task ID is the message key.
type KafkaNotifier struct {
	producer kafka.Producer
	topic    string
	channel  string
	now      func() time.Time
}

// NewKafkaNotifier creates a notifier that publishes to topic, tagging every
// event with the delivery channel the relay should use.
func NewKafkaNotifier(producer kafka.Producer, topic, channel string) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		channel:  channel,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *KafkaNotifier) Supported() bool        { return n.producer != nil }
func (n *KafkaNotifier) Permission() Permission { return PermissionGranted }

func (n *KafkaNotifier) RequestPermission(_ context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (n *KafkaNotifier) Show(ctx context.Context, note Notification) error {
	ev := domain.ReminderEvent{
		ID:      reminderEventID(note),
		TaskID:  note.ID,
		Channel: n.channel,
		Title:   note.Title,
		Body:    note.Body,
		DueAt:   note.DueAt,
		FireAt:  note.FireAt,
		SentAt:  n.now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal reminder event: %w", err)
	}
	if err := n.producer.Publish(ctx, n.topic, note.ID, payload); err != nil {
		return fmt.Errorf("publish reminder for task %s: %w", note.ID, err)
	}
	return nil
}

// reminderEventID names one reminder occurrence, so a re-published reminder
// carries the ID the relay's delivery log already recorded.
func reminderEventID(note Notification) string {
	name := note.ID + "@" + note.FireAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Cancel is a no-op: published reminders cannot be recalled.
func (n *KafkaNotifier) Cancel(_ context.Context, _ string) error { return nil }

func (n *KafkaNotifier) CancelAll(_ context.Context) error { return nil }
