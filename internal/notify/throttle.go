package notify

import (
	"context"
	"log/slog"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

// Limiter decides whether another event for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// Throttled wraps a Notifier and rejects Show calls over the limiter's rate.
type Throttled struct {
	Notifier
	limiter Limiter
	key     string
	logger  *slog.Logger
}

// NewThrottled wraps next; key names the limiter bucket (usually the channel).
func NewThrottled(next Notifier, limiter Limiter, key string, logger *slog.Logger) *Throttled {
	return &Throttled{Notifier: next, limiter: limiter, key: key, logger: logger}
}

func (t *Throttled) Show(ctx context.Context, n Notification) error {
	allowed, err := t.limiter.Allow(ctx, t.key)
	if err != nil {
		// Deliver on limiter failure rather than lose the reminder.
		t.logger.Error("reminder rate limiter error", slog.String("error", err.Error()))
	} else if !allowed {
		return &domain.RateLimitExceededError{Channel: t.key, Limit: t.limiter.Limit()}
	}
	return t.Notifier.Show(ctx, n)
}
