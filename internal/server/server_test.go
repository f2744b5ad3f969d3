package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

type fixture struct {
	store   *requests.Store
	history *history.MemoryStore
	metrics *observability.Metrics
	server  *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		store:   requests.NewStore(),
		history: history.NewMemoryStore(10),
		metrics: observability.NewMetrics(reg),
	}
	opts = append([]Option{
		WithHistory(f.history),
		WithGatherer(reg),
		WithMetrics(f.metrics),
	}, opts...)
	srv := New("127.0.0.1:0", f.store, opts...)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	var unhealthy atomic.Bool
	f := newFixture(t, WithHealthCheck("platform", func(context.Context) error {
		if !unhealthy.Load() {
			return nil
		}
		return errors.New("not connected")
	}))

	var body map[string]any
	if code := f.get(t, "/healthz", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, body)
	}

	unhealthy.Store(true)
	body = nil
	if code := f.get(t, "/healthz", &body); code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", code)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["platform"] != "not connected" {
		t.Fatalf("checks = %v", body["checks"])
	}
}

func TestListRequests(t *testing.T) {
	f := newFixture(t)
	f.store.Admit(requests.JoinRequest{GroupID: "100", RequesterID: "11", DisplayName: "Ann"})
	f.store.Admit(requests.JoinRequest{GroupID: "100", RequesterID: "12", DisplayName: "Bob"})

	var body struct {
		Requests []requests.JoinRequest `json:"requests"`
		Count    int                    `json:"count"`
	}
	if code := f.get(t, "/api/requests", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 2 || len(body.Requests) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Requests[0].Status != requests.StatusPending {
		t.Fatalf("status = %s", body.Requests[0].Status)
	}
}

func TestGetRequest(t *testing.T) {
	f := newFixture(t)
	f.store.Admit(requests.JoinRequest{GroupID: "100", RequesterID: "11"})
	f.store.Admit(requests.JoinRequest{GroupID: "200", RequesterID: "42"})
	f.store.Admit(requests.JoinRequest{GroupID: "300", RequesterID: "42"})
	_ = f.history.Append(context.Background(), history.Record{
		RequestID: "100:99", GroupID: "100", RequesterID: "99",
		Status: requests.StatusApproved, ResolvedBy: "7", ResolvedAt: time.Now(),
	})

	var req requests.JoinRequest
	if code := f.get(t, "/api/requests/100:11", &req); code != http.StatusOK || req.RequesterID != "11" {
		t.Fatalf("pending lookup = %d %+v", code, req)
	}

	var rec history.Record
	if code := f.get(t, "/api/requests/100:99", &rec); code != http.StatusOK || rec.ResolvedBy != "7" {
		t.Fatalf("history lookup = %d %+v", code, rec)
	}

	if code := f.get(t, "/api/requests/42", nil); code != http.StatusConflict {
		t.Fatalf("ambiguous lookup = %d, want 409", code)
	}
	if code := f.get(t, "/api/requests/nope", nil); code != http.StatusNotFound {
		t.Fatalf("missing lookup = %d, want 404", code)
	}
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	base := time.Now()
	for i, id := range []string{"100:1", "100:2", "100:3"} {
		_ = f.history.Append(context.Background(), history.Record{
			RequestID:  id,
			Status:     requests.StatusRejected,
			ResolvedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	var body struct {
		Records []history.Record `json:"records"`
		Count   int              `json:"count"`
	}
	if code := f.get(t, "/api/history?limit=2&offset=1", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 2 || body.Records[0].RequestID != "100:2" || body.Records[1].RequestID != "100:1" {
		t.Fatalf("records = %+v", body.Records)
	}

	for _, bad := range []string{"limit=0", "limit=x", "offset=-1"} {
		if code := f.get(t, "/api/history?"+bad, nil); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, code)
		}
	}
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/api/requests", nil)
	f.get(t, "/api/requests/100:1", nil)
	f.get(t, "/api/requests/100:2", nil)

	// Observations land after the response is written. Raw paths collapse
	// into one series per route pattern.
	deadline := time.Now().Add(time.Second)
	for testutil.CollectAndCount(f.metrics.HTTPRequestDuration) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("http series = %d, want 2", testutil.CollectAndCount(f.metrics.HTTPRequestDuration))
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `route="/api/requests/{id}"`) {
		t.Fatalf("metrics output is missing the route label:\n%s", buf.String())
	}
}

func TestStartAndShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", requests.NewStore())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
