package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"metricline/internal/cache"
	"metricline/internal/dashboard"
	"metricline/internal/db"
	"metricline/internal/domain"
	"metricline/internal/ingest"
	"metricline/internal/metrics"
	"metricline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	summaries, err := cache.New[dashboard.Summary](64)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	svc := metrics.NewService(conn, summaries)
	dash := dashboard.New(conn, svc, nil, summaries)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := ingest.NewBroker()
	dispatcher := ingest.NewDispatcher(logger, ingest.Handlers(svc), ingest.Options{Backoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Run(ctx, broker)

	handler, err := New(Config{
		DB:        conn,
		Metrics:   svc,
		Dashboard: dash,
		Broker:    broker,
		BasePath:  "/v1",
		Auth:      AuthConfig{JWTSecret: testSecret, AllowTenantHeader: true, Logger: logger},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			cancel()
			broker.Close()
			dispatcher.Wait()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func tenantHeaders(tenant string) map[string]string {
	return map[string]string{"X-Tenant-Id": tenant}
}

func TestIngestDecisionAndReadBack(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	body := map[string]any{
		"decision_id": "d1",
		"created_at":  "2025-06-10T08:00:00Z",
		"resolved_at": "2025-06-10T10:30:15Z",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/ingest/decisions/resolved", body, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var ackBody IngestAck
	if err := json.Unmarshal(data, &ackBody); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ackBody.Status != "recorded" {
		t.Fatalf("expected recorded, got %q", ackBody.Status)
	}

	// Redelivery acknowledges as duplicate with the same 200.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/ingest/decisions/resolved", body, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replay status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &ackBody)
	if ackBody.Status != "duplicate" {
		t.Fatalf("expected duplicate, got %q", ackBody.Status)
	}

	res, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/v1/metrics/DECISION_VELOCITY?from=2025-06-10&to=2025-06-10", nil, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("snapshots status %d: %s", res.StatusCode, string(data))
	}
	var snaps []domain.MetricSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		t.Fatalf("unmarshal snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Value != 2.5 {
		t.Fatalf("expected one snapshot with value 2.5, got %+v", snaps)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/decisions/d1/cycle", nil, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cycle status %d: %s", res.StatusCode, string(data))
	}
	var cycle domain.DecisionCycle
	if err := json.Unmarshal(data, &cycle); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	if cycle.CycleTimeHours != 2.5 {
		t.Fatalf("expected cycle time 2.5, got %v", cycle.CycleTimeHours)
	}

	// Another tenant must not see the fact.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/decisions/d1/cycle", nil, tenantHeaders("t2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", res.StatusCode)
	}
}

func TestJWTTenant(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	claims := jwt.MapClaims{
		"sub":       "svc-core",
		"tenant_id": "t1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/ingest/outcomes/validated", map[string]any{
		"outcome_id":   "o1",
		"created_at":   "2025-06-10T08:00:00Z",
		"validated_at": "2025-06-10T09:00:00Z",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ingest with jwt status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil,
		map[string]string{"Authorization": "Bearer bad.token.here"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestUnknownMetricTypeRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/metrics/BURNDOWN", nil, tenantHeaders("t1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown metric, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request code, got %q", envelope.Error.Code)
	}
}

func TestPublishFeedsDispatcher(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/events/publish", map[string]any{
		"topic": "core.ticket.created",
		"payload": map[string]any{
			"tenant_id": "spoofed",
			"ticket_id": "tk1",
			"type":      "BUG",
			"timestamp": "2025-06-10T09:00:00Z",
		},
	}, tenantHeaders("t1"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status %d: %s", res.StatusCode, string(data))
	}

	deadline := time.Now().Add(5 * time.Second)
	var events []domain.AnalyticsEvent
	for time.Now().Before(deadline) {
		res, data = doJSON(t, client, http.MethodGet,
			srv.URL+"/v1/events?event_type=TICKET_CREATED", nil, tenantHeaders("t1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list events status %d: %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &events); err != nil {
			t.Fatalf("unmarshal events: %v", err)
		}
		if len(events) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(events) != 1 {
		t.Fatalf("expected the published event to be consumed, got %d events", len(events))
	}
	if events[0].TenantID != "t1" {
		t.Fatalf("payload tenant must be overridden by the caller's, got %q", events[0].TenantID)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/events/publish", map[string]any{
		"topic":   "core.unknown.topic",
		"payload": map[string]any{},
	}, tenantHeaders("t1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown topic, got %d", res.StatusCode)
	}
}

func TestDashboardSummary(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/ingest/decisions/resolved", map[string]any{
		"decision_id":   "d1",
		"was_escalated": true,
		"created_at":    time.Now().UTC().Add(-4 * time.Hour).Format(time.RFC3339),
		"resolved_at":   time.Now().UTC().Format(time.RFC3339),
	}, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard", nil, tenantHeaders("t1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var sum dashboard.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if sum.AvgCycleTimeHours != 4 {
		t.Fatalf("expected avg cycle time 4, got %v", sum.AvgCycleTimeHours)
	}
	if sum.EscalatedCount != 1 {
		t.Fatalf("expected 1 escalation, got %d", sum.EscalatedCount)
	}
	if sum.CoreAvailable {
		t.Fatalf("core must be reported unavailable when unconfigured")
	}
}

func TestDateRangeDefaultTrailsEnd(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Only "to", far in the past: the default start must precede it.
	start, end, apiErr := parseDateRange("", "2020-01-01", now)
	if apiErr != nil {
		t.Fatalf("past to-only range must be valid, got %v", apiErr)
	}
	if got := end.Format("2006-01-02"); got != "2020-01-01" {
		t.Fatalf("expected end 2020-01-01, got %s", got)
	}
	if got := start.Format("2006-01-02"); got != "2019-12-03" {
		t.Fatalf("expected start 29 days before end, got %s", got)
	}

	// No bounds: the window ends now.
	start, end, apiErr = parseDateRange("", "", now)
	if apiErr != nil {
		t.Fatalf("default range must be valid, got %v", apiErr)
	}
	if got := end.Format("2006-01-02"); got != "2025-06-10" {
		t.Fatalf("expected end 2025-06-10, got %s", got)
	}
	if got := start.Format("2006-01-02"); got != "2025-05-12" {
		t.Fatalf("expected start 2025-05-12, got %s", got)
	}

	if _, _, apiErr = parseDateRange("2025-06-11", "2025-06-10", now); apiErr == nil {
		t.Fatalf("inverted range must be rejected")
	}
}
