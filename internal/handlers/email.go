package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

// EmailConfig holds SMTP connection details and the reminder recipient.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Username string
	Password string
}

// EmailHandler mails reminders via SMTP.
type EmailHandler struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailHandler creates an EmailHandler from config.
func NewEmailHandler(cfg EmailConfig) *EmailHandler {
	return &EmailHandler{cfg: cfg, send: smtp.SendMail}
}

func (h *EmailHandler) Channel() string { return "email" }

func (h *EmailHandler) Handle(ctx context.Context, event *domain.ReminderEvent) error {
	ctx, span := otel.Tracer("relay").Start(ctx, "handler.email")
	defer span.End()

	if h.cfg.To == "" {
		err := errors.New("email handler missing recipient address")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing recipient")
		return err
	}

	span.SetAttributes(
		attribute.String("email.to", h.cfg.To),
		attribute.String("task.id", event.TaskID),
	)

	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)
	msg := buildMIME(h.cfg.From, h.cfg.To, event.Title, reminderText(event))

	var auth smtp.Auth
	if h.cfg.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Host)
	}

	// Run the blocking SMTP call in a goroutine so we respect ctx cancellation.
	done := make(chan error, 1)
	go func() {
		done <- h.send(addr, auth, h.cfg.From, []string{h.cfg.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "smtp send failed")
			return fmt.Errorf("smtp send to %s: %w", h.cfg.To, err)
		}
		return nil
	case <-ctx.Done():
		err := fmt.Errorf("email send timed out: %w", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "timeout")
		return err
	}
}

// reminderText renders the reminder body with its due time.
func reminderText(event *domain.ReminderEvent) string {
	var b strings.Builder
	b.WriteString(event.Body)
	if !event.DueAt.IsZero() {
		b.WriteString("\r\n\r\nDue: ")
		b.WriteString(event.DueAt.UTC().Format(time.RFC1123))
	}
	return b.String()
}

func buildMIME(from, to, subject, body string) []byte {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body,
	)
	return []byte(msg)
}
