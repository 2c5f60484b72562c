package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
)

// WebhookConfig describes the endpoint reminders are posted to.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string
}

// WebhookHandler posts each reminder event as JSON to an HTTP endpoint.
type WebhookHandler struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookHandler creates a WebhookHandler. Method defaults to POST.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	return &WebhookHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *WebhookHandler) Channel() string { return "webhook" }

func (h *WebhookHandler) Handle(ctx context.Context, event *domain.ReminderEvent) error {
	ctx, span := otel.Tracer("relay").Start(ctx, "handler.webhook")
	defer span.End()

	if h.cfg.URL == "" {
		err := errors.New("webhook handler missing url")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing url")
		return err
	}

	span.SetAttributes(
		attribute.String("webhook.url", h.cfg.URL),
		attribute.String("webhook.method", h.cfg.Method),
		attribute.String("task.id", event.TaskID),
	)

	body, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("marshal reminder event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook call to %s: %w", h.cfg.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", h.cfg.URL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
