package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes reminders to a structured logger. It is always supported
// and always permitted.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Supported() bool        { return true }
func (n *LogNotifier) Permission() Permission { return PermissionGranted }

func (n *LogNotifier) RequestPermission(_ context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (n *LogNotifier) Show(ctx context.Context, note Notification) error {
	n.logger.InfoContext(ctx, "reminder",
		slog.String("task_id", note.ID),
		slog.String("title", note.Title),
		slog.String("body", note.Body),
		slog.Time("due_at", note.DueAt),
	)
	return nil
}

func (n *LogNotifier) Cancel(ctx context.Context, id string) error {
	n.logger.DebugContext(ctx, "reminder cancelled", slog.String("task_id", id))
	return nil
}

func (n *LogNotifier) CancelAll(ctx context.Context) error {
	n.logger.DebugContext(ctx, "all reminders cancelled")
	return nil
}
