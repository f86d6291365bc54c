// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
)

// Discord embed limits.
const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
)

// Embed colours.
const (
	colorOpen     = 0xE01E5A
	colorResolved = 0x2EB67D
)

// DiscordConfig is the stored config of a Discord webhook.
type DiscordConfig struct {
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
}

// DiscordWebhookPayload is the Discord execute-webhook body.
type DiscordWebhookPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed is one rich embed.
type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
}

// DiscordEmbedField is a name/value row inside an embed.
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordChannel posts events to a Discord webhook.
type DiscordChannel struct {
	client *http.Client
	now    func() time.Time
}

// NewDiscordChannel returns a Discord channel with the given request timeout.
func NewDiscordChannel(timeout time.Duration) *DiscordChannel {
	return &DiscordChannel{client: &http.Client{Timeout: timeout}, now: time.Now}
}

// Type implements Channel.
func (c *DiscordChannel) Type() models.ChannelType { return models.ChannelDiscord }

// Validate implements Channel.
func (c *DiscordChannel) Validate(raw json.RawMessage) error {
	var cfg DiscordConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return err
	}
	return ValidateWebhookURL(cfg.WebhookURL)
}

// Send implements Channel.
func (c *DiscordChannel) Send(ctx context.Context, params *SendParams) (*DeliveryResult, error) {
	var cfg DiscordConfig
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

	return doHTTP(c.client, req, c.now, func(status int, _ []byte) bool {
		return status == http.StatusOK || status == http.StatusNoContent
	}), nil
}

func (c *DiscordChannel) buildPayload(cfg *DiscordConfig, params *SendParams) DiscordWebhookPayload {
	s := params.Event.Snapshot
	color := colorOpen
	if params.Event.Kind == models.EventIncidentResolved {
		color = colorResolved
	}
	username := cfg.Username
	if username == "" {
		username = "Sentinel"
	}
	return DiscordWebhookPayload{
		Username:  username,
		AvatarURL: cfg.AvatarURL,
		Embeds: []DiscordEmbed{{
			Title:       truncate(params.Subject, discordTitleLimit),
			Description: truncate(params.Text, discordDescriptionLimit),
			Color:       color,
			Timestamp:   c.now().UTC().Format(time.RFC3339),
			Fields: []DiscordEmbedField{
				{Name: "Service", Value: s.ServiceID, Inline: true},
				{Name: "Occurrences", Value: strconv.Itoa(s.OccurrenceCount), Inline: true},
			},
		}},
	}
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
