// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
)

// SlackConfig is the stored config of a Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
	IconEmoji  string `json:"iconEmoji,omitempty"`
}

// SlackWebhookPayload is the Slack incoming-webhook message.
type SlackWebhookPayload struct {
	Channel   string       `json:"channel,omitempty"`
	Username  string       `json:"username,omitempty"`
	IconEmoji string       `json:"icon_emoji,omitempty"`
	Text      string       `json:"text"`
	Blocks    []SlackBlock `json:"blocks,omitempty"`
}

// SlackBlock is a Block Kit block.
type SlackBlock struct {
	Type   string            `json:"type"`
	Text   *SlackTextObject  `json:"text,omitempty"`
	Fields []SlackTextObject `json:"fields,omitempty"`
}

// SlackTextObject is a Block Kit text object.
type SlackTextObject struct {
	Type string `json:"type"` // plain_text or mrkdwn
	Text string `json:"text"`
}

// SlackChannel posts events to a Slack incoming webhook.
type SlackChannel struct {
	client *http.Client
	now    func() time.Time
}

// NewSlackChannel returns a Slack channel with the given request timeout.
func NewSlackChannel(timeout time.Duration) *SlackChannel {
	return &SlackChannel{client: &http.Client{Timeout: timeout}, now: time.Now}
}

// Type implements Channel.
func (c *SlackChannel) Type() models.ChannelType { return models.ChannelSlack }

// Validate implements Channel.
func (c *SlackChannel) Validate(raw json.RawMessage) error {
	var cfg SlackConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return err
	}
	return ValidateWebhookURL(cfg.WebhookURL)
}

// Send implements Channel. Slack answers a successful post with a bare
// "ok" body.
func (c *SlackChannel) Send(ctx context.Context, params *SendParams) (*DeliveryResult, error) {
	var cfg SlackConfig
	if err := decodeConfig(params.Channel.Config, &cfg); err != nil {
		return failure(ErrorCodeInvalidConfig, "%v", err), nil
	}

	body, err := json.Marshal(c.buildPayload(&cfg, params))
	if err != nil {
		return failure(ErrorCodeUnknown, "marshal payload: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return failure(ErrorCodeInvalidConfig, "build request: %v", err), nil
	}
	req.Header.Set("Content-Type", "application/json")

	return doHTTP(c.client, req, c.now, func(status int, respBody []byte) bool {
		return status == http.StatusOK && strings.TrimSpace(string(respBody)) == "ok"
	}), nil
}

func (c *SlackChannel) buildPayload(cfg *SlackConfig, params *SendParams) SlackWebhookPayload {
	s := params.Event.Snapshot
	return SlackWebhookPayload{
		Channel:   cfg.Channel,
		Username:  cfg.Username,
		IconEmoji: cfg.IconEmoji,
		Text:      params.Subject,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackTextObject{Type: "plain_text", Text: params.Subject}},
			{Type: "section", Text: &SlackTextObject{Type: "mrkdwn", Text: params.Text}},
			{Type: "section", Fields: []SlackTextObject{
				{Type: "mrkdwn", Text: "*Service*\n" + s.ServiceID},
				{Type: "mrkdwn", Text: "*Status*\n" + string(s.Status)},
			}},
		},
	}
}
