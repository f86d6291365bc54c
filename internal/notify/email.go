// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/models"
)

// SMTPDefaults is the server-wide relay used when a channel does not name
// its own.
type SMTPDefaults struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailConfig is the stored config of an email channel.
type EmailConfig struct {
	To       []string `json:"to" validate:"required,min=1,dive,email"`
	From     string   `json:"from,omitempty" validate:"omitempty,email"`
	SMTPHost string   `json:"smtpHost,omitempty"`
	SMTPPort int      `json:"smtpPort,omitempty" validate:"omitempty,gte=1,lte=65535"`
	UseTLS   bool     `json:"useTls,omitempty"`
}

// EmailChannel sends events through an SMTP relay.
type EmailChannel struct {
	timeout  time.Duration
	defaults SMTPDefaults
	now      func() time.Time
}

// NewEmailChannel returns an email channel using defaults for any setting
// a channel leaves empty.
func NewEmailChannel(timeout time.Duration, defaults SMTPDefaults) *EmailChannel {
	return &EmailChannel{timeout: timeout, defaults: defaults, now: time.Now}
}

// Type implements Channel.
func (c *EmailChannel) Type() models.ChannelType { return models.ChannelEmail }

// Validate implements Channel.
func (c *EmailChannel) Validate(raw json.RawMessage) error {
	var cfg EmailConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return err
	}
	_, err := c.resolve(&cfg)
	return err
}

type smtpTarget struct {
	host, from string
	port       int
	useTLS     bool
}

func (c *EmailChannel) resolve(cfg *EmailConfig) (smtpTarget, error) {
	t := smtpTarget{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.From, useTLS: cfg.UseTLS}
	if t.host == "" {
		t.host = c.defaults.Host
	}
	if t.port == 0 {
		t.port = c.defaults.Port
	}
	if t.from == "" {
		t.from = c.defaults.From
	}
	switch {
	case t.host == "":
		return t, errors.New("no SMTP host configured")
	case t.port == 0:
		return t, errors.New("no SMTP port configured")
	case t.from == "":
		return t, errors.New("no sender address configured")
	}
	return t, nil
}

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, params *SendParams) (*DeliveryResult, error) {
	var cfg EmailConfig
	if err := decodeConfig(params.Channel.Config, &cfg); err != nil {
		return failure(ErrorCodeInvalidConfig, "%v", err), nil
	}
	target, err := c.resolve(&cfg)
	if err != nil {
		return failure(ErrorCodeInvalidConfig, "%v", err), nil
	}

	msg := c.buildMessage(target.from, cfg.To, params)
	if err := c.sendSMTP(ctx, target, cfg.To, msg); err != nil {
		return failure(classifyEmailError(err), "%v", err), nil
	}
	return &DeliveryResult{Success: true}, nil
}

func (c *EmailChannel) buildMessage(from string, to []string, params *SendParams) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: Sentinel <%s>\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", params.Subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", c.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "X-Sentinel-Event: %d\r\n", params.Event.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(params.Text, "\n", "\r\n"))
	msg.WriteString("\r\n")
	return msg.String()
}

func (c *EmailChannel) sendSMTP(ctx context.Context, t smtpTarget, to []string, msg string) error {
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if t.useTLS {
		if err := client.StartTLS(&tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if c.defaults.Username != "" && c.defaults.Password != "" && t.host == c.defaults.Host {
		auth := smtp.PlainAuth("", c.defaults.Username, c.defaults.Password, t.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(t.from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// The message is accepted once DATA closes.
	_ = client.Quit()
	return nil
}

// classifyEmailError prefers the SMTP reply code and falls back to the
// message text for dial and TLS failures.
func classifyEmailError(err error) string {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 535:
			return ErrorCodeAuthFailed
		case tpErr.Code == 552:
			return ErrorCodeContentTooLarge
		case tpErr.Code == 550 || tpErr.Code == 551 || tpErr.Code == 553:
			return ErrorCodeRecipientNotFound
		case tpErr.Code == 421 || tpErr.Code == 450 || tpErr.Code == 451 || tpErr.Code == 452:
			return ErrorCodeServerError
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "authentication"):
		return ErrorCodeAuthFailed
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ErrorCodeTimeout
	case strings.Contains(errStr, "connect"):
		return ErrorCodeConnectionFailed
	default:
		return ErrorCodeUnknown
	}
}
