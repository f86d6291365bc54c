// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package notify

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/models"
)

var openedAt = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type recordingAuditor struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *recordingAuditor) Log(_ context.Context, ev *audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

type harness struct {
	db       *database.DB
	store    *Store
	registry *ChannelRegistry
	auditor  *recordingAuditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{db: db, auditor: &recordingAuditor{}}
	h.registry = NewChannelRegistry(2*time.Second, SMTPDefaults{})
	h.store = NewStore(db, h.registry, h.auditor)
	return h
}

func (h *harness) dispatcher(failures uint32) *Dispatcher {
	guard := NewGuard(GuardSettings{Rate: 1000, Burst: 100, Failures: failures, OpenTimeout: time.Minute})
	return NewDispatcher(h.store, h.registry, guard, 10, 2*time.Second)
}

func (h *harness) enqueue(t *testing.T, orgID string, incidentID int64, createdAt time.Time) int64 {
	t.Helper()
	payload, err := json.Marshal(models.IncidentSnapshot{
		IncidentID:      incidentID,
		RuleID:          1,
		RuleName:        "checkout errors",
		ServiceID:       "checkout",
		Status:          models.IncidentOpen,
		Field:           models.FieldCount,
		Comparator:      models.CompareGT,
		Threshold:       3,
		Value:           4,
		OccurrenceCount: 1,
		OpenedAt:        openedAt,
	})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var id int64
	err = h.db.Conn().QueryRowContext(context.Background(), `INSERT INTO notification_events
		(org_id, incident_id, kind, status, attempts, payload, created_at, dedupe_key)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?) RETURNING id`,
		orgID, incidentID, string(models.EventIncidentOpened), string(payload), createdAt,
		strconv.FormatInt(incidentID, 10)+":"+string(models.EventIncidentOpened),
	).Scan(&id)
	if err != nil {
		t.Fatalf("enqueue event: %v", err)
	}
	return id
}

func (h *harness) channel(t *testing.T, orgID string, typ models.ChannelType, config string) *models.NotificationChannel {
	t.Helper()
	ch := &models.NotificationChannel{
		OrgID:   orgID,
		Type:    typ,
		Name:    string(typ) + "-" + orgID,
		Config:  json.RawMessage(config),
		Enabled: true,
	}
	if err := h.store.UpsertChannel(context.Background(), ch); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}
	return ch
}

func (h *harness) event(t *testing.T, id int64) *models.NotificationEvent {
	t.Helper()
	ev, err := h.store.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("get event %d: %v", id, err)
	}
	return ev
}

// statusServer answers every request with status and body and counts hits.
func statusServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDispatchDeliveredWhenOneChannelSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	failing, _ := statusServer(t, http.StatusInternalServerError, "down")
	slack, slackHits := statusServer(t, http.StatusOK, "ok")
	h.channel(t, "org-1", models.ChannelWebhook, `{"url":"`+failing.URL+`"}`)
	h.channel(t, "org-1", models.ChannelSlack, `{"webhookUrl":"`+slack.URL+`"}`)
	id := h.enqueue(t, "org-1", 10, openedAt)

	res, err := h.dispatcher(5).Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := RunResult{EventsProcessed: 1, EventsDelivered: 1, DeliveriesSucceeded: 1, DeliveriesFailed: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if slackHits.Load() != 1 {
		t.Errorf("expected 1 slack post, got %d", slackHits.Load())
	}

	ev := h.event(t, id)
	if ev.Status != models.EventDelivered || ev.DeliveredAt == nil {
		t.Errorf("expected delivered event, got %+v", ev)
	}
	if ev.Attempts != 1 {
		t.Errorf("expected attempts 1, got %d", ev.Attempts)
	}

	attempts, err := h.store.Attempts(ctx, id)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Success || attempts[0].ErrorCode != ErrorCodeServerError || attempts[0].ResponseCode != 500 {
		t.Errorf("unexpected webhook attempt %+v", attempts[0])
	}
	if !attempts[1].Success || attempts[1].ChannelType != models.ChannelSlack {
		t.Errorf("unexpected slack attempt %+v", attempts[1])
	}

	// A delivered event is not picked up again.
	res, err = h.dispatcher(5).Dispatch(ctx)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if res.EventsProcessed != 0 {
		t.Errorf("expected delivered event to be skipped, got %+v", res)
	}
}

func TestDispatchAllChannelsFailStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv, _ := statusServer(t, http.StatusNotFound, "gone")
	h.channel(t, "org-1", models.ChannelDiscord, `{"webhookUrl":"`+srv.URL+`"}`)
	id := h.enqueue(t, "org-1", 11, openedAt)

	d := h.dispatcher(5)
	for run := 1; run <= 2; run++ {
		res, err := d.Dispatch(ctx)
		if err != nil {
			t.Fatalf("dispatch %d: %v", run, err)
		}
		if res.EventsDelivered != 0 || res.DeliveriesFailed != 1 {
			t.Errorf("run %d: unexpected result %+v", run, res)
		}
		ev := h.event(t, id)
		if ev.Status != models.EventPending {
			t.Errorf("run %d: expected pending, got %s", run, ev.Status)
		}
		if ev.Attempts != run {
			t.Errorf("run %d: expected attempts %d, got %d", run, run, ev.Attempts)
		}
	}

	attempts, _ := h.store.Attempts(ctx, id)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(attempts))
	}
	if attempts[0].ErrorCode != ErrorCodeRecipientNotFound {
		t.Errorf("expected %s, got %s", ErrorCodeRecipientNotFound, attempts[0].ErrorCode)
	}
}

func TestDispatchWithoutChannelsLeavesEventUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv, hits := statusServer(t, http.StatusOK, "ok")
	h.channel(t, "org-2", models.ChannelSlack, `{"webhookUrl":"`+srv.URL+`"}`)
	id := h.enqueue(t, "org-1", 12, openedAt)

	res, err := h.dispatcher(5).Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res != (RunResult{}) {
		t.Errorf("expected empty result, got %+v", res)
	}
	if hits.Load() != 0 {
		t.Error("another org's channel must not be used")
	}
	ev := h.event(t, id)
	if ev.Status != models.EventPending || ev.Attempts != 0 {
		t.Errorf("expected untouched pending event, got status=%s attempts=%d", ev.Status, ev.Attempts)
	}
}

func TestChannellessOrgDoesNotBlockBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv, hits := statusServer(t, http.StatusOK, "ok")
	h.channel(t, "org-2", models.ChannelSlack, `{"webhookUrl":"`+srv.URL+`"}`)
	stuck := h.enqueue(t, "org-1", 13, openedAt)
	id := h.enqueue(t, "org-2", 14, openedAt.Add(time.Second))

	d := h.dispatcher(5)
	d.batchSize = 1
	res, err := d.Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EventsDelivered != 1 || hits.Load() != 1 {
		t.Fatalf("expected org-2 event delivered, got %+v", res)
	}
	if ev := h.event(t, id); ev.Status != models.EventDelivered {
		t.Errorf("expected delivered, got %s", ev.Status)
	}
	if ev := h.event(t, stuck); ev.Status != models.EventPending || ev.Attempts != 0 {
		t.Errorf("expected org-1 event untouched, got status=%s attempts=%d", ev.Status, ev.Attempts)
	}
}

func TestDispatchOldestFirstWithinBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		seen = append(seen, p.Incident.IncidentID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	h.channel(t, "org-1", models.ChannelWebhook, `{"url":"`+srv.URL+`"}`)

	h.enqueue(t, "org-1", 3, openedAt.Add(2*time.Second))
	h.enqueue(t, "org-1", 1, openedAt)
	h.enqueue(t, "org-1", 2, openedAt.Add(time.Second))

	d := h.dispatcher(5)
	d.batchSize = 2
	res, err := d.Dispatch(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.EventsProcessed != 2 {
		t.Fatalf("expected batch of 2, got %+v", res)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected incidents [1 2], got %v", seen)
	}

	pending, _ := h.store.PendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].IncidentID != 3 {
		t.Errorf("expected incident 3 left pending, got %+v", pending)
	}
}

func TestDispatchOpenCircuitSkipsTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv, hits := statusServer(t, http.StatusBadGateway, "upstream")
	h.channel(t, "org-1", models.ChannelWebhook, `{"url":"`+srv.URL+`"}`)
	id := h.enqueue(t, "org-1", 20, openedAt)

	d := h.dispatcher(2)
	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(ctx); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	if hits.Load() != 2 {
		t.Errorf("expected the breaker to stop calls after 2 failures, got %d", hits.Load())
	}
	attempts, _ := h.store.Attempts(ctx, id)
	if len(attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(attempts))
	}
	if attempts[2].ErrorCode != ErrorCodeCircuitOpen {
		t.Errorf("expected third attempt %s, got %s", ErrorCodeCircuitOpen, attempts[2].ErrorCode)
	}
	if ev := h.event(t, id); ev.Attempts != 3 || ev.Status != models.EventPending {
		t.Errorf("unexpected event state %+v", ev)
	}
}

func TestGuardIgnoresPermanentFailures(t *testing.T) {
	t.Parallel()

	g := NewGuard(GuardSettings{Rate: 1000, Burst: 10, Failures: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := g.Do(ctx, 7, func() *DeliveryResult {
			return failure(ErrorCodeInvalidConfig, "bad config")
		})
		if res.ErrorCode != ErrorCodeInvalidConfig {
			t.Fatalf("call %d: expected %s, got %s", i, ErrorCodeInvalidConfig, res.ErrorCode)
		}
	}
	if g.State(7) != gobreaker.StateClosed {
		t.Errorf("permanent failures must not open the breaker, state=%s", g.State(7))
	}

	g.Do(ctx, 7, func() *DeliveryResult { return failure(ErrorCodeTimeout, "slow") })
	if g.State(7) != gobreaker.StateOpen {
		t.Errorf("expected open breaker after a transient failure, state=%s", g.State(7))
	}
	if g.State(8) != gobreaker.StateClosed {
		t.Error("breakers must be independent per channel")
	}
}

func TestGuardCancelledWhilePacing(t *testing.T) {
	t.Parallel()

	g := NewGuard(GuardSettings{Rate: 0.001, Burst: 1, Failures: 5, OpenTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	first := g.Do(ctx, 1, func() *DeliveryResult { return &DeliveryResult{Success: true} })
	if !first.Success {
		t.Fatalf("first send should use the burst, got %+v", first)
	}
	second := g.Do(ctx, 1, func() *DeliveryResult {
		t.Error("send must not run when pacing fails")
		return &DeliveryResult{Success: true}
	})
	if second.ErrorCode != ErrorCodeRateLimited {
		t.Errorf("expected %s, got %s", ErrorCodeRateLimited, second.ErrorCode)
	}
}

func TestWebhookSignatureAndRetryAfter(t *testing.T) {
	t.Parallel()

	var gotSig, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotCustom = r.Header.Get("X-Team")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ev := &models.NotificationEvent{ID: 5, OrgID: "org-1", Kind: models.EventIncidentOpened,
		Snapshot: models.IncidentSnapshot{IncidentID: 9, RuleName: "r", ServiceID: "s"}}
	ch := &models.NotificationChannel{ID: 1, Type: models.ChannelWebhook,
		Config: json.RawMessage(`{"url":"` + srv.URL + `","secret":"s3cret","headers":{"X-Team":"ops"}}`)}

	res, err := NewWebhookChannel(time.Second).Send(context.Background(), &SendParams{Channel: ch, Event: ev, Subject: Subject(ev), Text: Text(ev)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Success || res.ErrorCode != ErrorCodeRateLimited || !res.IsTransient {
		t.Errorf("unexpected result %+v", res)
	}
	if res.RetryAfter == nil || *res.RetryAfter != 30*time.Second {
		t.Errorf("expected retry after 30s, got %v", res.RetryAfter)
	}
	if !strings.Contains(res.ErrorMessage, "retry after 30s") {
		t.Errorf("expected retry hint in message, got %q", res.ErrorMessage)
	}
	if gotSig != Sign([]byte("s3cret"), gotBody) {
		t.Error("signature does not match body")
	}
	if gotCustom != "ops" {
		t.Errorf("expected custom header, got %q", gotCustom)
	}
}

func TestSlackRequiresOKBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "no_service")
	}))
	defer srv.Close()

	ev := &models.NotificationEvent{ID: 1, Kind: models.EventIncidentResolved}
	ch := &models.NotificationChannel{Type: models.ChannelSlack, Config: json.RawMessage(`{"webhookUrl":"` + srv.URL + `"}`)}
	res, _ := NewSlackChannel(time.Second).Send(context.Background(), &SendParams{Channel: ch, Event: ev, Subject: Subject(ev), Text: Text(ev)})
	if res.Success {
		t.Error("slack delivery without an ok body must fail")
	}
	if res.ResponseCode != http.StatusOK {
		t.Errorf("expected response code 200, got %d", res.ResponseCode)
	}
}

func TestInvalidConfigIsPermanent(t *testing.T) {
	t.Parallel()

	ch := &models.NotificationChannel{Type: models.ChannelDiscord, Config: json.RawMessage(`{"webhookUrl":"not a url"}`)}
	res, _ := NewDiscordChannel(time.Second).Send(context.Background(), &SendParams{Channel: ch, Event: &models.NotificationEvent{}})
	if res.ErrorCode != ErrorCodeInvalidConfig || res.IsTransient {
		t.Errorf("expected permanent %s, got %+v", ErrorCodeInvalidConfig, res)
	}
}

func TestUpsertChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := &models.NotificationChannel{OrgID: "org-1", Type: models.ChannelEmail, Name: "ops mail", Config: json.RawMessage(`{"to":[]}`), Enabled: true}
	if err := h.store.UpsertChannel(ctx, bad); err == nil {
		t.Error("expected empty recipient list to be rejected")
	}
	unknown := &models.NotificationChannel{OrgID: "org-1", Type: "pager", Name: "pager", Config: json.RawMessage(`{}`)}
	if err := h.store.UpsertChannel(ctx, unknown); err == nil {
		t.Error("expected unknown channel type to be rejected")
	}

	ch := h.channel(t, "org-1", models.ChannelWebhook, `{"url":"https://hooks.example.com/alerts"}`)
	ch.Enabled = false
	if err := h.store.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("disable channel: %v", err)
	}
	channels, err := h.store.EnabledChannels(ctx, "org-1")
	if err != nil {
		t.Fatalf("enabled channels: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("expected disabled channel to be filtered, got %d", len(channels))
	}

	ch.OrgID = "org-2"
	if err := h.store.UpsertChannel(ctx, ch); err == nil {
		t.Error("expected update from another org to fail")
	}

	if len(h.auditor.events) != 2 || h.auditor.events[0].Action != audit.ActionChannelUpserted {
		t.Errorf("expected 2 channel.upserted audit events, got %d", len(h.auditor.events))
	}
}

func TestRenderedText(t *testing.T) {
	t.Parallel()

	resolved := openedAt.Add(10 * time.Minute)
	ev := &models.NotificationEvent{Kind: models.EventIncidentResolved, Snapshot: models.IncidentSnapshot{
		IncidentID: 4, RuleName: "error ratio", ServiceID: "api", Status: models.IncidentResolved,
		Field: models.FieldErrorRate, Comparator: models.CompareGTE, Threshold: 0.25, Value: 0.1,
		OccurrenceCount: 3, OpenedAt: openedAt, ResolvedAt: &resolved,
	}}

	if got := Subject(ev); got != "[RESOLVED] error ratio on api" {
		t.Errorf("Subject() = %q", got)
	}
	text := Text(ev)
	for _, want := range []string{"error_rate = 10.00% (gte 25.00%)", "3 occurrence(s)", "Resolved 2026-07-01T12:10:00Z"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

// fakeSMTP accepts one message and hands its DATA section to got.
func fakeSMTP(t *testing.T, got chan<- string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }

		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				got <- body.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestEmailSend(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	host, port := fakeSMTP(t, got)

	ch := NewEmailChannel(2*time.Second, SMTPDefaults{Host: host, Port: port, From: "alerts@example.com"})
	ev := &models.NotificationEvent{ID: 42, Kind: models.EventIncidentOpened,
		Snapshot: models.IncidentSnapshot{RuleName: "checkout errors", ServiceID: "checkout", Status: models.IncidentOpen}}
	channel := &models.NotificationChannel{Type: models.ChannelEmail, Config: json.RawMessage(`{"to":["oncall@example.com"]}`)}

	res, err := ch.Send(context.Background(), &SendParams{Channel: channel, Event: ev, Subject: Subject(ev), Text: Text(ev)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	select {
	case msg := <-got:
		for _, want := range []string{"Subject: [OPEN] checkout errors on checkout", "To: oncall@example.com", "X-Sentinel-Event: 42"} {
			if !strings.Contains(msg, want) {
				t.Errorf("expected %q in message:\n%s", want, msg)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the server")
	}
}

func TestEmailValidateNeedsRelay(t *testing.T) {
	t.Parallel()

	ch := NewEmailChannel(time.Second, SMTPDefaults{})
	if err := ch.Validate(json.RawMessage(`{"to":["oncall@example.com"]}`)); err == nil {
		t.Error("expected missing relay to be rejected")
	}
	if err := ch.Validate(json.RawMessage(`{"to":["oncall@example.com"],"smtpHost":"mail.example.com","smtpPort":25,"from":"a@example.com"}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
