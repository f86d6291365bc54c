// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package notify drains the outbound notification queue.
//
// The dispatcher loads pending events oldest first, sends each one to every
// enabled channel of its organisation and records one DeliveryAttempt per
// try. Supported channel types:
//   - email: SMTP with optional STARTTLS
//   - slack: incoming webhook with blocks
//   - discord: webhook with an embed
//   - webhook: generic JSON POST, optionally HMAC signed
//
// Every channel sits behind its own circuit breaker and rate limiter so a
// slow or failing target only affects itself.
//
// An event is delivered once any one channel accepts it, and is then never
// loaded again. A channel that failed on that pass gets no retry, so each
// channel is at-most-once as soon as some other channel has succeeded.
// Events that no channel accepted stay queued and every channel is retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/validation"
)

// Channel sends one event to one configured target.
type Channel interface {
	// Type is the channel type this implementation serves.
	Type() models.ChannelType

	// Validate checks a stored channel config.
	Validate(config json.RawMessage) error

	// Send delivers the event. Failures are reported in the result; the
	// error return is reserved for programming errors.
	Send(ctx context.Context, params *SendParams) (*DeliveryResult, error)
}

// SendParams carries everything a channel needs for one attempt.
type SendParams struct {
	Channel *models.NotificationChannel
	Event   *models.NotificationEvent
	Subject string
	Text    string
}

// DeliveryResult describes the outcome of one attempt.
type DeliveryResult struct {
	Success      bool
	ErrorMessage string
	ErrorCode    string

	// IsTransient marks failures that count against the circuit breaker.
	IsTransient bool

	// RetryAfter is the delay the target asked for, if any.
	RetryAfter *time.Duration

	// ResponseCode is the HTTP status for webhook-based channels.
	ResponseCode int
}

// Error codes for delivery failures.
const (
	ErrorCodeInvalidConfig     = "INVALID_CONFIG"
	ErrorCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrorCodeAuthFailed        = "AUTH_FAILED"
	ErrorCodeRateLimited       = "RATE_LIMITED"
	ErrorCodeContentTooLarge   = "CONTENT_TOO_LARGE"
	ErrorCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	ErrorCodeServerError       = "SERVER_ERROR"
	ErrorCodeTimeout           = "TIMEOUT"
	ErrorCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrorCodeUnknownChannel    = "UNKNOWN_CHANNEL"
	ErrorCodeUnknown           = "UNKNOWN"
)

func failure(code, format string, args ...interface{}) *DeliveryResult {
	return &DeliveryResult{
		ErrorCode:    code,
		ErrorMessage: fmt.Sprintf(format, args...),
		IsTransient:  isTransient(code),
	}
}

// ChannelRegistry maps channel types to implementations.
type ChannelRegistry struct {
	channels map[models.ChannelType]Channel
}

// NewChannelRegistry returns a registry with every built-in channel.
func NewChannelRegistry(timeout time.Duration, smtp SMTPDefaults) *ChannelRegistry {
	r := &ChannelRegistry{channels: make(map[models.ChannelType]Channel)}
	r.Register(NewWebhookChannel(timeout))
	r.Register(NewSlackChannel(timeout))
	r.Register(NewDiscordChannel(timeout))
	r.Register(NewEmailChannel(timeout, smtp))
	return r
}

// Register adds or replaces a channel implementation.
func (r *ChannelRegistry) Register(ch Channel) {
	r.channels[ch.Type()] = ch
}

// Get returns the implementation for t.
func (r *ChannelRegistry) Get(t models.ChannelType) (Channel, bool) {
	ch, ok := r.channels[t]
	return ch, ok
}

// ValidateConfig validates config against the channel type t.
func (r *ChannelRegistry) ValidateConfig(t models.ChannelType, config json.RawMessage) error {
	ch, ok := r.Get(t)
	if !ok {
		return fmt.Errorf("unknown channel type: %s", t)
	}
	return ch.Validate(config)
}

// decodeConfig unmarshals a channel config and runs its struct tags.
func decodeConfig(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return errors.New("channel config is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode channel config: %w", err)
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		return verr
	}
	return nil
}

// ValidateWebhookURL checks that rawURL is an absolute http(s) URL.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("webhook URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return errors.New("webhook URL must have a host")
	}
	return nil
}

// classifyHTTPError maps a transport error onto an error code.
func classifyHTTPError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ErrorCodeTimeout
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCodeTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused") {
		return ErrorCodeConnectionFailed
	}
	return ErrorCodeUnknown
}

// classifyHTTPStatusCode maps a non-2xx status onto an error code.
func classifyHTTPStatusCode(code int) string {
	switch {
	case code == 401 || code == 403:
		return ErrorCodeAuthFailed
	case code == 404:
		return ErrorCodeRecipientNotFound
	case code == 429:
		return ErrorCodeRateLimited
	case code == 413:
		return ErrorCodeContentTooLarge
	case code >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

func isTransient(code string) bool {
	switch code {
	case ErrorCodeConnectionFailed, ErrorCodeTimeout, ErrorCodeRateLimited, ErrorCodeServerError:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header in either seconds or
// HTTP-date form.
func parseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if at, err := time.Parse(time.RFC1123, v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// Subject renders the one-line title of an event.
func Subject(ev *models.NotificationEvent) string {
	s := ev.Snapshot
	switch ev.Kind {
	case models.EventIncidentResolved:
		return fmt.Sprintf("[RESOLVED] %s on %s", s.RuleName, s.ServiceID)
	default:
		return fmt.Sprintf("[OPEN] %s on %s", s.RuleName, s.ServiceID)
	}
}

// Text renders the plain-text body of an event.
func Text(ev *models.NotificationEvent) string {
	s := ev.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %q on service %s is %s.\n", s.RuleName, s.ServiceID, s.Status)
	fmt.Fprintf(&b, "%s = %s (%s %s)\n", s.Field, formatValue(s.Field, s.Value), s.Comparator, formatValue(s.Field, s.Threshold))
	fmt.Fprintf(&b, "Incident %d, opened %s, %d occurrence(s).", s.IncidentID, s.OpenedAt.UTC().Format(time.RFC3339), s.OccurrenceCount)
	if s.ResolvedAt != nil {
		fmt.Fprintf(&b, "\nResolved %s.", s.ResolvedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func formatValue(field models.RuleField, v float64) string {
	if field == models.FieldErrorRate {
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
