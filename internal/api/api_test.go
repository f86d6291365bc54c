// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/audit"
	"github.com/tomtom215/sentinel/internal/authz"
	"github.com/tomtom215/sentinel/internal/cron"
	"github.com/tomtom215/sentinel/internal/database"
	"github.com/tomtom215/sentinel/internal/ingest"
	"github.com/tomtom215/sentinel/internal/ledger"
	"github.com/tomtom215/sentinel/internal/models"
	"github.com/tomtom215/sentinel/internal/ratelimit"
)

const (
	cronSecret = "cron-secret-for-tests"
	jwtSecret  = "jwt-secret-for-tests-0123456789abcdef"
)

type fakeAcknowledger struct {
	orgID string
	id    int64
	actor string
	err   error
}

func (f *fakeAcknowledger) Acknowledge(_ context.Context, orgID string, id int64, actor string) (*models.Incident, error) {
	f.orgID, f.id, f.actor = orgID, id, actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.Incident{ID: id, OrgID: orgID, Status: models.IncidentAcknowledged}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type harness struct {
	handler  http.Handler
	entries  *ingest.DuckDBStore
	ledger   *ledger.Store
	audit    *audit.DuckDBStore
	ack      *fakeAcknowledger
	verifier *authz.Verifier
}

func newHarness(t *testing.T, mutate func(*Dependencies)) *harness {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	opts := ingest.Options{MaxEntries: 10, MaxBytes: 4096, RateLimit: 3, RateWindow: time.Minute}
	entries := ingest.NewDuckDBStore(db)
	gate := ingest.NewGate(entries, ratelimit.NewMemoryStore(ratelimit.Options{Limit: opts.RateLimit, Window: opts.RateWindow}), opts)

	runs := ledger.NewStore(db)
	registry := cron.NewRegistry()
	registry.Register("cleanup", cron.JobFunc{JobName: "logs.cleanup", Fn: func(context.Context) (cron.Summary, error) {
		return cron.Summary{"deleted": 0}, nil
	}})

	auditStore := audit.NewDuckDBStore(db)
	auditLogger := audit.NewLogger(auditStore, audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLogger.Close() })

	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{})
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	t.Cleanup(enforcer.Close)
	verifier := authz.NewVerifier(jwtSecret, "")

	h := &harness{entries: entries, ledger: runs, audit: auditStore, ack: &fakeAcknowledger{}, verifier: verifier}
	deps := Dependencies{
		Gate:         gate,
		Cron:         cron.NewGateway(registry, cron.NewRunner(runs, time.Minute), cronSecret),
		Audit:        auditLogger,
		Runs:         runs,
		Incidents:    h.ack,
		DB:           db,
		Authz:        authz.NewMiddleware(verifier, enforcer),
		MaxBodyBytes: opts.MaxBytes,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.handler = NewRouter(deps).Handler()
	return h
}

func (h *harness) token(t *testing.T, org string, roles ...string) string {
	t.Helper()
	tok, err := h.verifier.Issue("user-1", org, roles, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func scopeHeaders() map[string]string {
	return map[string]string{
		HeaderOrgID:         "org-1",
		HeaderServiceID:     "svc-api",
		HeaderEnvironmentID: "prod",
		"Content-Type":      "application/json",
	}
}

func logsBody(levels ...string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	parts := make([]string, len(levels))
	for i, level := range levels {
		parts[i] = fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":"request %d"}`, ts, level, i)
	}
	return `{"logs":[` + strings.Join(parts, ",") + `]}`
}

func (h *harness) stored(t *testing.T) int64 {
	t.Helper()
	n, err := h.entries.CountEntries(context.Background(), "org-1", "svc-api")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngestLogs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info", "error"), scopeHeaders())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env := decode(t, rec); !env.Success || string(env.Data) != `{"accepted":2}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on the response")
	}
	if got := h.stored(t); got != 2 {
		t.Errorf("stored = %d, want 2", got)
	}
}

func TestIngestRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info", "fatal", "warn"), scopeHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decode(t, rec)
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error %s", rec.Body.String())
	}
	if idx, _ := env.Error.Details["index"].(float64); idx != 1 {
		t.Errorf("details.index = %v, want 1", env.Error.Details["index"])
	}
	if got := h.stored(t); got != 0 {
		t.Errorf("stored = %d, want 0", got)
	}
}

func TestIngestNamesMistypedEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	ts := time.Now().UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"logs":[{"timestamp":%q,"level":"info","message":"ok"},{"timestamp":%q,"level":5,"message":"bad"}]}`, ts, ts)
	rec := h.do(http.MethodPost, "/api/v1/logs", body, scopeHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error %s", rec.Body.String())
	}
	if idx, _ := env.Error.Details["index"].(float64); idx != 1 {
		t.Errorf("details.index = %v, want 1", env.Error.Details["index"])
	}
	if field, _ := env.Error.Details["field"].(string); field != "level" {
		t.Errorf("details.field = %v, want level", env.Error.Details["field"])
	}
	if got := h.stored(t); got != 0 {
		t.Errorf("stored = %d, want 0", got)
	}
}

func TestIngestErrors(t *testing.T) {
	t.Parallel()

	noOrg := scopeHeaders()
	delete(noOrg, HeaderOrgID)

	tests := []struct {
		name    string
		method  string
		body    string
		headers map[string]string
		status  int
		code    string
	}{
		{"missing org header", http.MethodPost, logsBody("info"), noOrg, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not json", http.MethodPost, "logs=1", scopeHeaders(), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty batch", http.MethodPost, `{"logs":[]}`, scopeHeaders(), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"too large", http.MethodPost, `{"logs":[` + strings.Repeat(" ", 5000) + `]}`, scopeHeaders(), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"wrong method", http.MethodGet, "", scopeHeaders(), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			rec := h.do(tt.method, "/api/v1/logs", tt.body, tt.headers)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if env := decode(t, rec); env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("body = %s, want code %s", rec.Body.String(), tt.code)
			}
			if tt.status == http.StatusMethodNotAllowed && rec.Header().Get("Allow") != http.MethodPost {
				t.Errorf("Allow = %q", rec.Header().Get("Allow"))
			}
		})
	}
}

func TestIngestRateLimited(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info", "info"), scopeHeaders()); rec.Code != http.StatusAccepted {
		t.Fatalf("first batch status = %d", rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info", "info"), scopeHeaders())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second batch status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if env := decode(t, rec); env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := h.stored(t); got != 2 {
		t.Errorf("stored = %d, want 2", got)
	}
}

func TestIngestShield(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Dependencies) { d.Middleware.IngestRequestsPerMinute = 1 })

	if rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info"), scopeHeaders()); rec.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/v1/logs", logsBody("info"), scopeHeaders())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if env := decode(t, rec); env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCronRoute(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/cron/cleanup", "", map[string]string{
		cron.HeaderSecret:    cronSecret,
		"X-Correlation-ID": "corr-123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want echo", got)
	}

	rec = h.do(http.MethodPost, "/api/cron/cleanup", "", map[string]string{cron.HeaderSecret: "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad secret status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("401 should still carry a correlation id")
	}

	runs, total, err := h.ledger.List(context.Background(), ledger.ListFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || runs[0].Status != models.RunSuccess {
		t.Errorf("expected one successful run, got %d %+v", total, runs)
	}
}

func TestAdminCronRuns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		started := time.Now().Add(time.Duration(-i) * time.Minute)
		id, err := h.ledger.Start(ctx, "rules.evaluate", started)
		if err != nil {
			t.Fatal(err)
		}
		status := models.RunSuccess
		if i == 2 {
			status = models.RunFailed
		}
		if err := h.ledger.Finish(ctx, id, "rules.evaluate", started, status, map[string]interface{}{"i": i}); err != nil {
			t.Fatal(err)
		}
	}
	auth := map[string]string{"Authorization": "Bearer " + h.token(t, "org-1", "auditor")}

	tests := []struct {
		name   string
		query  string
		status int
		total  int64
		items  int
		limit  int
	}{
		{"defaults", "", http.StatusOK, 3, 3, 50},
		{"by status", "?status=failed", http.StatusOK, 1, 1, 50},
		{"paged", "?limit=2&offset=2", http.StatusOK, 3, 1, 2},
		{"limit clamped", "?limit=1000", http.StatusOK, 3, 3, 500},
		{"bad limit", "?limit=abc", http.StatusBadRequest, 0, 0, 0},
		{"bad status", "?status=done", http.StatusBadRequest, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodGet, "/api/v1/admin/cron-runs"+tt.query, "", auth)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var page struct {
				Items  []models.CronRun `json:"items"`
				Total  int64            `json:"total"`
				Limit  int              `json:"limit"`
				Offset int              `json:"offset"`
			}
			if err := json.Unmarshal(decode(t, rec).Data, &page); err != nil {
				t.Fatal(err)
			}
			if page.Total != tt.total || len(page.Items) != tt.items || page.Limit != tt.limit {
				t.Errorf("total=%d items=%d limit=%d, want %d %d %d", page.Total, len(page.Items), page.Limit, tt.total, tt.items, tt.limit)
			}
		})
	}
}

func TestAdminRequiresRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"forged token", "Bearer " + mustForge(t), http.StatusUnauthorized},
		{"operator", "Bearer " + h.token(t, "org-1", "operator"), http.StatusForbidden},
		{"admin", "Bearer " + h.token(t, "org-1", "admin"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := h.do(http.MethodGet, "/api/v1/admin/audit-events", "", headers)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func mustForge(t *testing.T) string {
	t.Helper()
	tok, err := authz.NewVerifier("a-completely-different-secret-000000", "").Issue("mallory", "org-1", []string{"admin"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestAdminAuditEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, ev := range []*audit.Event{
		{ID: "a1", OrgID: "org-1", Action: audit.ActionRuleUpserted, TargetType: "rule", CreatedAt: time.Now()},
		{ID: "a2", OrgID: "org-1", Action: audit.ActionIncidentAcknowledged, TargetType: "incident", CreatedAt: time.Now()},
		{ID: "a3", OrgID: "org-2", Action: audit.ActionRuleUpserted, TargetType: "rule", CreatedAt: time.Now()},
	} {
		if err := h.audit.Save(ctx, ev); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	auth := map[string]string{"Authorization": "Bearer " + h.token(t, "org-1", "auditor")}

	rec := h.do(http.MethodGet, "/api/v1/admin/audit-events?org_id=org-1&action="+audit.ActionRuleUpserted, "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var page struct {
		Items []audit.Event `json:"items"`
		Total int64         `json:"total"`
	}
	if err := json.Unmarshal(decode(t, rec).Data, &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != "a1" {
		t.Errorf("unexpected page %+v", page)
	}

	if rec := h.do(http.MethodGet, "/api/v1/admin/audit-events?since=yesterday", "", auth); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}

func TestAcknowledgeIncident(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	operator := map[string]string{"Authorization": "Bearer " + h.token(t, "org-1", "operator")}
	rec := h.do(http.MethodPost, "/api/v1/incidents/7/acknowledge", "", operator)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if h.ack.orgID != "org-1" || h.ack.id != 7 || h.ack.actor != "user-1" {
		t.Errorf("acknowledger got %+v", h.ack)
	}

	if rec := h.do(http.MethodPost, "/api/v1/incidents/x/acknowledge", "", operator); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}

	auditor := map[string]string{"Authorization": "Bearer " + h.token(t, "org-1", "auditor")}
	if rec := h.do(http.MethodPost, "/api/v1/incidents/7/acknowledge", "", auditor); rec.Code != http.StatusForbidden {
		t.Errorf("auditor status = %d, want 403", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if rec := h.do(http.MethodGet, "/api/v1/health/live", "", nil); rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/api/v1/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d (%s)", rec.Code, rec.Body.String())
	}

	down := newHarness(t, func(d *Dependencies) { d.DB = failingPinger{} })
	rec := down.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing db status = %d, want 503", rec.Code)
	}
}

func TestUnknownRouteAndMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/v1/nothing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env := decode(t, rec); env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("body = %s", rec.Body.String())
	}

	if rec := h.do(http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
