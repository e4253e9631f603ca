package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// webhookPayload is the expected JSON structure for notify jobs.
type webhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// WebhookHandler makes an outbound HTTP call, e.g. pinging a CMS when a
// winning variant is scaled. Zero token usage and a flat per-call cost.
type WebhookHandler struct {
	agent   string
	jobType string
	client  *http.Client
}

// NewWebhookHandler creates a WebhookHandler registered for the given pair.
func NewWebhookHandler(agent, jobType string) *WebhookHandler {
	return &WebhookHandler{
		agent:   agent,
		jobType: jobType,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *WebhookHandler) AgentName() string { return h.agent }
func (h *WebhookHandler) JobType() string   { return h.jobType }

func (h *WebhookHandler) Execute(ctx context.Context, payload json.RawMessage) (domain.Outcome, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.webhook")
	defer span.End()

	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return domain.Outcome{}, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if p.URL == "" {
		err := errors.New("webhook payload missing required field 'url'")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing 'url' field")
		return domain.Outcome{}, err
	}
	if p.Method == "" {
		p.Method = http.MethodPost
	}

	span.SetAttributes(
		attribute.String("webhook.url", p.URL),
		attribute.String("webhook.method", p.Method),
	)

	var bodyReader io.Reader
	if p.Body != "" {
		bodyReader = strings.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bodyReader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return domain.Outcome{}, fmt.Errorf("build webhook request: %w", err)
	}

	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return domain.Outcome{}, fmt.Errorf("webhook call to %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", p.URL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return domain.Outcome{}, err
	}
	return domain.Outcome{TokensUsed: 0, CostUSD: 0}, nil
}
