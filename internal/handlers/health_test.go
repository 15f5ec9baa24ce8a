package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/services"
)

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["commit_sha"] != "abc123" || body["version"] != "1.0.0" {
		t.Fatalf("unexpected build info: %v", body)
	}
	if body["uptime_seconds"] != float64(30) {
		t.Fatalf("expected uptime 30, got %v", body["uptime_seconds"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name   string
		svc    *stubSystemService
		status int
	}{
		{
			name: "ok",
			svc: &stubSystemService{report: services.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
					"pubsub":    {Status: domain.HealthStatusOK, CheckedAt: now},
				},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded still ready",
			svc: &stubSystemService{report: services.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{"redis": {Status: domain.HealthStatusDegraded, Detail: "slow"}},
			}},
			status: http.StatusOK,
		},
		{
			name: "error",
			svc: &stubSystemService{report: services.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusError, Detail: "deadline exceeded"}},
			}},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "report failure",
			svc:    &stubSystemService{err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthSystemService(tc.svc), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHealthHandlersReadyzSortsChecks(t *testing.T) {
	svc := &stubSystemService{report: services.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.HealthCheck{
			"stripe":    {Status: domain.HealthStatusOK, Latency: 40 * time.Millisecond},
			"firestore": {Status: domain.HealthStatusOK},
			"kafka":     {Status: domain.HealthStatusOK},
		},
	}}
	handlers := NewHealthHandlers(WithHealthSystemService(svc))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Checks []struct {
			Name      string `json:"name"`
			LatencyMS int64  `json:"latency_ms"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Checks) != 3 || body.Checks[0].Name != "firestore" || body.Checks[2].Name != "stripe" {
		t.Fatalf("unexpected check order: %+v", body.Checks)
	}
	if body.Checks[2].LatencyMS != 40 {
		t.Fatalf("expected latency 40ms, got %d", body.Checks[2].LatencyMS)
	}
}
