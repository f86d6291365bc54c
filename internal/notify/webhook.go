// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
)

// HeaderSignature carries the hex HMAC-SHA256 of the body when a webhook
// secret is configured.
const HeaderSignature = "X-Sentinel-Signature"

// WebhookConfig is the stored config of a generic webhook channel.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers map[string]string `json:"headers,omitempty"`
	Secret  string            `json:"secret,omitempty"`
}

// WebhookPayload is the JSON body posted to generic webhooks.
type WebhookPayload struct {
	Event     models.EventKind        `json:"event"`
	EventID   int64                   `json:"eventId"`
	OrgID     string                  `json:"orgId"`
	Timestamp time.Time               `json:"timestamp"`
	Subject   string                  `json:"subject"`
	Text      string                  `json:"text"`
	Incident  models.IncidentSnapshot `json:"incident"`
}

// WebhookChannel posts events as JSON.
type WebhookChannel struct {
	client *http.Client
	now    func() time.Time
}

// NewWebhookChannel returns a webhook channel with the given request timeout.
func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{client: &http.Client{Timeout: timeout}, now: time.Now}
}

// Type implements Channel.
func (c *WebhookChannel) Type() models.ChannelType { return models.ChannelWebhook }

// Validate implements Channel.
func (c *WebhookChannel) Validate(raw json.RawMessage) error {
	var cfg WebhookConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return err
	}
	return ValidateWebhookURL(cfg.URL)
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, params *SendParams) (*DeliveryResult, error) {
	var cfg WebhookConfig
	if err := decodeConfig(params.Channel.Config, &cfg); err != nil {
		return failure(ErrorCodeInvalidConfig, "%v", err), nil
	}

	body, err := json.Marshal(WebhookPayload{
		Event:     params.Event.Kind,
		EventID:   params.Event.ID,
		OrgID:     params.Event.OrgID,
		Timestamp: c.now().UTC(),
		Subject:   params.Subject,
		Text:      params.Text,
		Incident:  params.Event.Snapshot,
	})
	if err != nil {
		return failure(ErrorCodeUnknown, "marshal payload: %v", err), nil
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return failure(ErrorCodeInvalidConfig, "build request: %v", err), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sentinel-Notify/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign([]byte(cfg.Secret), body))
	}

	return doHTTP(c.client, req, c.now, func(status int, _ []byte) bool {
		return status >= 200 && status < 300
	}), nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// doHTTP sends req and classifies the response. ok decides success from the
// status and the first 4 KiB of the body.
func doHTTP(client *http.Client, req *http.Request, now func() time.Time, ok func(status int, body []byte) bool) *DeliveryResult {
	resp, err := client.Do(req)
	if err != nil {
		return failure(classifyHTTPError(err), "send: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		body = []byte("(failed to read response)")
	}

	if ok(resp.StatusCode, body) {
		return &DeliveryResult{Success: true, ResponseCode: resp.StatusCode}
	}

	code := classifyHTTPStatusCode(resp.StatusCode)
	result := failure(code, "%s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(body)))
	result.ResponseCode = resp.StatusCode
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now())
		if result.RetryAfter != nil {
			result.ErrorMessage = fmt.Sprintf("%s (retry after %s)", result.ErrorMessage, *result.RetryAfter)
		}
	}
	return result
}
