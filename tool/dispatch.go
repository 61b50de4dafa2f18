package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/threadline-ai/threadline/ratelimit"
)

// Dispatcher delivers an outbound message to a validated address.
// Implementations decide the transport (SMTP relay, webhook, queue).
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, address, subject, body string) error
}

// DispatchTool sends outbound messages. Addresses are validated per
// channel before the dispatcher sees them: email addresses must parse
// under RFC 5322 and webhook addresses must be absolute HTTPS URLs.
type DispatchTool struct {
	dispatcher Dispatcher
	rateLimit  *ratelimit.Limit
}

// NewDispatchTool creates a dispatch tool over the given transport.
func NewDispatchTool(dispatcher Dispatcher, rateLimit *ratelimit.Limit) *DispatchTool {
	return &DispatchTool{dispatcher: dispatcher, rateLimit: rateLimit}
}

func (t *DispatchTool) Definition() Definition {
	return Definition{
		Name:        "dispatch",
		Description: "Send an outbound message to an email address or webhook.",
		Parameters: []Parameter{
			{Name: "channel", Type: "string", Description: "Delivery channel", Required: true, Enum: []string{"email", "webhook"}},
			{Name: "address", Type: "string", Description: "Destination address", Required: true},
			{Name: "subject", Type: "string", Description: "Message subject"},
			{Name: "body", Type: "string", Description: "Message body", Required: true},
		},
		RateLimit: t.rateLimit,
	}
}

func validateAddress(channel, address string) error {
	switch channel {
	case "email":
		if _, err := mail.ParseAddress(address); err != nil {
			return fmt.Errorf("invalid email address %q: %w", address, err)
		}
	case "webhook":
		u, err := url.Parse(address)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("invalid webhook URL %q", address)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("webhook URL must use https, got %q", u.Scheme)
		}
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	return nil
}

func (t *DispatchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	channel, _ := args["channel"].(string)
	address, _ := args["address"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)

	if strings.TrimSpace(body) == "" {
		return Result{}, fmt.Errorf("body cannot be empty")
	}
	if err := validateAddress(channel, address); err != nil {
		return Result{}, err
	}

	if err := t.dispatcher.Dispatch(ctx, channel, address, subject, body); err != nil {
		return Result{}, fmt.Errorf("dispatch failed: %w", err)
	}
	return Result{
		Success: true,
		Content: fmt.Sprintf("Message dispatched via %s to %s", channel, address),
	}, nil
}

var _ Tool = (*DispatchTool)(nil)

// WebhookDispatcher delivers webhook messages as JSON POSTs. Email
// delivery requires an external relay and is rejected here.
type WebhookDispatcher struct {
	client *http.Client
}

// NewWebhookDispatcher creates a webhook-only dispatcher.
func NewWebhookDispatcher() *WebhookDispatcher {
	return &WebhookDispatcher{client: &http.Client{Timeout: 15 * time.Second}}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, channel, address, subject, body string) error {
	if channel != "webhook" {
		return fmt.Errorf("channel %s is not configured", channel)
	}

	payload, err := json.Marshal(map[string]string{
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Dispatcher = (*WebhookDispatcher)(nil)
